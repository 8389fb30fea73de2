//go:build !linux || netmux_poll

package poller

import (
	"sort"
)

// pollFd mirrors the native pollfd layout used by poll(2) and WSAPoll.
type pollFd struct {
	Fd      int32
	Events  int16
	Revents int16
}

// EventLoop drives non-blocking socket activity from a single goroutine.
// poll(2) cannot carry a user pointer per entry, so this backend keeps two
// vectors sorted by fd: pollset holds the native entries, shadow holds the
// handler for the entry at the same index.
type EventLoop struct {
	loopState
	pollset []pollFd
	shadow  []EventHandler
	ready   []readyEvent
}

type readyEvent struct {
	fd   int
	mask int
	ptr  EventHandler
}

func Create() (*EventLoop, error) {
	e := &EventLoop{}
	e.initState()
	sysInit()
	rd, wr, err := createPipe()
	if err != nil {
		return nil, err
	}
	e.pipe = [2]int{rd, wr}
	e.pipeRd = newPipeReader(e)
	e.pipeRd.init(rd)
	e.pipeRd.SetEventbf(InputMask)
	e.pollset = append(e.pollset, pollFd{Fd: int32(rd), Events: int16(InputMask)})
	e.shadow = append(e.shadow, e.pipeRd)
	return e, nil
}

// Run blocks until the pollset is empty. All callbacks and registration
// changes execute on the calling goroutine.
func (e *EventLoop) Run() {
	for len(e.pollset) > 0 {
		n, err := doPoll(e.pollset)
		if err != nil {
			if isTransientPollError(err) {
				continue
			}
			log.Fatal("[poller] poll failed: ", err)
		}
		// snapshot first: callbacks may queue registration changes and the
		// pollset must stay untouched while they run
		e.ready = e.ready[:0]
		for i := 0; i < len(e.pollset) && n > 0; i++ {
			pfd := &e.pollset[i]
			if pfd.Revents != 0 {
				e.ready = append(e.ready, readyEvent{
					fd:   int(pfd.Fd),
					mask: int(pfd.Revents),
					ptr:  e.shadow[i],
				})
				pfd.Revents = 0
				n--
			}
		}
		for _, ev := range e.ready {
			e.handleSocketEvent(ev.fd, ev.mask, ev.ptr)
		}
		e.applyPendingEvents()
	}
}

func (e *EventLoop) handle(pe *PendingEvent) {
	i := sort.Search(len(e.pollset), func(i int) bool {
		return e.pollset[i].Fd >= int32(pe.fd)
	})
	old := kPollNull
	if pe.ptr != nil {
		old = pe.ptr.Eventbf()
		pe.ptr.SetEventbf(pe.mask)
	}
	if i == len(e.pollset) || e.pollset[i].Fd != int32(pe.fd) {
		if pe.mask != kPollNull {
			e.pollset = append(e.pollset, pollFd{})
			copy(e.pollset[i+1:], e.pollset[i:])
			e.pollset[i] = pollFd{Fd: int32(pe.fd), Events: int16(pe.mask & (kPollIn | kPollOut))}
			e.shadow = append(e.shadow, nil)
			copy(e.shadow[i+1:], e.shadow[i:])
			e.shadow[i] = pe.ptr
		}
		return
	}
	if pe.mask == kPollNull {
		e.pollset = append(e.pollset[:i], e.pollset[i+1:]...)
		e.shadow = append(e.shadow[:i], e.shadow[i+1:]...)
	} else {
		e.pollset[i].Events = int16(pe.mask & (kPollIn | kPollOut))
	}
	if pe.ptr != nil {
		removedIfNeeded := func(flag int, flagOp Operation) {
			if old&flag != 0 && pe.mask&flag == 0 {
				pe.ptr.RemovedFromLoop(flagOp)
			}
		}
		removedIfNeeded(InputMask, OpRead)
		removedIfNeeded(OutputMask, OpWrite)
	}
}

// Registered reports the number of fds currently installed with the kernel.
func (e *EventLoop) Registered() int { return len(e.pollset) }

func (e *EventLoop) forEachHandler(f func(fd int, h EventHandler)) {
	for i := range e.pollset {
		f(int(e.pollset[i].Fd), e.shadow[i])
	}
}

// Close releases the wakeup pipe. Call only after Run has returned.
func (e *EventLoop) Close() error {
	e.teardownPipe()
	sysCleanup()
	return nil
}
