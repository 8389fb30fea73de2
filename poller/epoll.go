//go:build linux && !netmux_poll

package poller

import (
	"golang.org/x/sys/unix"
)

// EventLoop drives non-blocking socket activity from a single goroutine.
// This backend reconciles interest masks with epoll; shadow counts the
// number of registered fds and the loop exits when it reaches zero.
type EventLoop struct {
	loopState
	epollfd  int
	shadow   int
	pollset  []unix.EpollEvent
	handlers map[int32]EventHandler
	ready    []readyEvent
}

type readyEvent struct {
	fd   int
	mask int
	ptr  EventHandler
}

func Create() (*EventLoop, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	e := &EventLoop{
		epollfd:  epfd,
		pollset:  make([]unix.EpollEvent, kPollsetSize),
		handlers: make(map[int32]EventHandler, kEpollSize),
	}
	e.initState()
	sysInit()
	rd, wr, err := createPipe()
	if err != nil {
		unix.Close(epfd)
		return nil, err
	}
	e.pipe = [2]int{rd, wr}
	e.pipeRd = newPipeReader(e)
	e.pipeRd.init(rd)
	e.pipeRd.SetEventbf(InputMask)
	e.handlers[int32(rd)] = e.pipeRd
	e.shadow = 1
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, rd, &unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(rd),
	}); err != nil {
		e.teardownPipe()
		unix.Close(epfd)
		return nil, err
	}
	return e, nil
}

// Run blocks until no handler is registered anymore. All callbacks and
// registration changes execute on the calling goroutine.
func (e *EventLoop) Run() {
	for e.shadow > 0 {
		n, err := unix.EpollWait(e.epollfd, e.pollset, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			log.Fatal("[poller] epoll_wait failed: ", err)
		}
		// snapshot first: callbacks may queue registration changes and the
		// native structures must stay untouched while they run
		e.ready = e.ready[:0]
		for i := 0; i < n; i++ {
			ev := e.pollset[i]
			e.ready = append(e.ready, readyEvent{
				fd:   int(ev.Fd),
				mask: maskFromEpoll(ev.Events),
				ptr:  e.handlers[ev.Fd],
			})
		}
		for _, ev := range e.ready {
			e.handleSocketEvent(ev.fd, ev.mask, ev.ptr)
		}
		e.applyPendingEvents()
	}
}

func (e *EventLoop) handle(pe *PendingEvent) {
	if pe.ptr != nil && pe.ptr.Eventbf() == pe.mask {
		return
	}
	old := InputMask
	if pe.ptr != nil {
		old = pe.ptr.Eventbf()
		pe.ptr.SetEventbf(pe.mask)
	}
	var op int
	switch {
	case pe.mask == kPollNull:
		op = unix.EPOLL_CTL_DEL
		e.shadow--
		delete(e.handlers, int32(pe.fd))
	case old == kPollNull:
		op = unix.EPOLL_CTL_ADD
		e.shadow++
		e.handlers[int32(pe.fd)] = pe.ptr
	default:
		op = unix.EPOLL_CTL_MOD
	}
	ee := unix.EpollEvent{Events: maskToEpoll(pe.mask), Fd: int32(pe.fd)}
	if err := unix.EpollCtl(e.epollfd, op, pe.fd, &ee); err != nil {
		switch err {
		case unix.EEXIST:
			log.Error("[poller] socket registered twice: ", pe.fd)
			e.shadow--
		case unix.ENOENT:
			log.Error("[poller] cannot modify unregistered socket: ", pe.fd)
			if pe.mask == kPollNull {
				e.shadow++
			}
		default:
			log.Fatal("[poller] epoll_ctl failed: ", err)
		}
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
func (e *EventLoop) Registered() int { return e.shadow }

func (e *EventLoop) forEachHandler(f func(fd int, h EventHandler)) {
	for fd, h := range e.handlers {
		f(int(fd), h)
	}
}

// Close releases the readiness set and the wakeup pipe. Call only after Run
// has returned.
func (e *EventLoop) Close() error {
	if e.epollfd != InvalidSocket {
		unix.Close(e.epollfd)
		e.epollfd = InvalidSocket
	}
	e.teardownPipe()
	sysCleanup()
	return nil
}

func maskToEpoll(bf int) uint32 {
	var ev uint32
	if bf&kPollIn != 0 {
		ev |= unix.EPOLLIN
	}
	if bf&kPollOut != 0 {
		ev |= unix.EPOLLOUT
	}
	return ev
}

func maskFromEpoll(ev uint32) int {
	bf := kPollNull
	if ev&(unix.EPOLLIN|unix.EPOLLPRI) != 0 {
		bf |= kPollIn
	}
	if ev&unix.EPOLLOUT != 0 {
		bf |= kPollOut
	}
	if ev&unix.EPOLLERR != 0 {
		bf |= kPollErr
	}
	if ev&unix.EPOLLHUP != 0 {
		bf |= kPollHup
	}
	return bf
}
