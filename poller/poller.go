package poller

import (
	"encoding/binary"
	"os"
	"sync"

	nested "github.com/antonfisher/nested-logrus-formatter"
	"github.com/eapache/queue"
	"github.com/sirupsen/logrus"
)

var log = logrus.New()

func init() {
	log.SetFormatter(&nested.Formatter{
		HideKeys:    true,
		FieldsOrder: []string{"component", "category"},
	})
	log.SetOutput(os.Stdout)
}

const (
	kEpollSize         = 1024
	kPollsetSize       = 64
	kDefaultThroughput = 300
)

// interest mask bits; the error bits are reported by the OS regardless of
// what was registered
const (
	kPollNull = 0x00
	kPollIn   = 0x01
	kPollOut  = 0x04
	kPollErr  = 0x08
	kPollHup  = 0x10
	kPollNval = 0x20
)

const (
	InputMask  = kPollIn
	OutputMask = kPollOut
	ErrorMask  = kPollErr | kPollHup | kPollNval
)

// InvalidSocket is the sentinel for a handle that names no kernel object.
const InvalidSocket = -1

// Operation tags the direction of a socket event delivered to a handler.
type Operation int

const (
	OpRead Operation = iota
	OpWrite
	OpPropagateError
)

func (o Operation) String() string {
	switch o {
	case OpRead:
		return "read"
	case OpWrite:
		return "write"
	default:
		return "propagate_error"
	}
}

// EventHandler is the capability set shared by every socket participant of
// the loop: streams, acceptors and the wakeup pipe reader.
type EventHandler interface {
	HandleEvent(op Operation)
	RemovedFromLoop(op Operation)
	Fd() int
	Eventbf() int
	SetEventbf(bf int)
	ReadChannelClosed() bool
}

// Handler carries the state common to all event handlers. Embed it and
// implement HandleEvent/RemovedFromLoop on the outer type.
type Handler struct {
	fd                int
	eventbf           int
	readChannelClosed bool
	loop              *EventLoop
}

func NewHandler(loop *EventLoop, fd int) Handler {
	return Handler{fd: fd, loop: loop}
}

func (h *Handler) Fd() int                 { return h.fd }
func (h *Handler) Eventbf() int            { return h.eventbf }
func (h *Handler) SetEventbf(bf int)       { h.eventbf = bf }
func (h *Handler) ReadChannelClosed() bool { return h.readChannelClosed }

// Backend returns the owning multiplexer. The loop outlives its handlers,
// so the back-reference is a plain borrow.
func (h *Handler) Backend() *EventLoop { return h.loop }

// CloseReadChannel shuts down the read direction at the OS level; further
// read readiness on the fd is ignored by the loop.
func (h *Handler) CloseReadChannel() {
	if h.fd == InvalidSocket || h.readChannelClosed {
		return
	}
	sysShutdownRead(h.fd)
	h.readChannelClosed = true
}

// ResumeResult is the outcome of a single resume invocation.
type ResumeResult int

const (
	ResumeLater ResumeResult = iota
	ResumeDone
	ResumeAwaiting
)

// ResumableKind selects the dispatch path taken by ExecLater.
type ResumableKind int

const (
	IOActor ResumableKind = iota
	FunctionObject
	ScheduledActor
)

// Resumable is a unit of work submitted for a single resume invocation.
// Submitting transfers one reference; it is released when the work is done
// or when the pipe is torn down with the frame still in flight.
type Resumable interface {
	Subtype() ResumableKind
	Resume(loop *EventLoop, maxThroughput int) ResumeResult
	Ref()
	Deref()
}

// Scheduler receives resumables that are not I/O bound and therefore bypass
// the wakeup pipe.
type Scheduler interface {
	Enqueue(r Resumable)
}

// PendingEvent is a queued registration change. ptr may be nil only for the
// read end of the wakeup pipe.
type PendingEvent struct {
	fd   int
	mask int
	ptr  EventHandler
}

// loopState holds the backend-independent pieces of an EventLoop.
type loopState struct {
	pipe          [2]int
	pipeRd        *pipeReader
	events        *queue.Queue
	disp          dispatchTable
	sched         Scheduler
	maxThroughput int
}

func (e *EventLoop) initState() {
	e.events = queue.New()
	e.disp.items = make(map[uint64]Resumable)
	e.maxThroughput = kDefaultThroughput
}

// SetScheduler installs the target for non-I/O resumables. Call before Run.
func (e *EventLoop) SetScheduler(s Scheduler) { e.sched = s }

func (e *EventLoop) SetMaxThroughput(n int) { e.maxThroughput = n }

func (e *EventLoop) MaxThroughput() int { return e.maxThroughput }

func addFlag(op Operation, bf int) int {
	switch op {
	case OpRead:
		return bf | InputMask
	case OpWrite:
		return bf | OutputMask
	}
	log.Error("[poller] unexpected operation: ", op)
	return kPollNull
}

func delFlag(op Operation, bf int) int {
	switch op {
	case OpRead:
		return bf &^ InputMask
	case OpWrite:
		return bf &^ OutputMask
	}
	log.Error("[poller] unexpected operation: ", op)
	return kPollNull
}

// Add queues interest in op for fd. Takes effect at the end of the current
// loop iteration. Loop goroutine only.
func (e *EventLoop) Add(op Operation, fd int, ptr EventHandler) {
	e.newEvent(addFlag, op, fd, ptr)
}

// Del queues removal of interest in op for fd. ptr may be nil only for the
// pipe read end.
func (e *EventLoop) Del(op Operation, fd int, ptr EventHandler) {
	e.newEvent(delFlag, op, fd, ptr)
}

func (e *EventLoop) newEvent(f func(Operation, int) int, op Operation, fd int, ptr EventHandler) {
	// coalesce with a change already queued for this fd so that any number
	// of submissions within one iteration yields a single reconciliation
	for i := 0; i < e.events.Length(); i++ {
		pe := e.events.Get(i).(*PendingEvent)
		if pe.fd == fd {
			pe.mask = f(op, pe.mask)
			return
		}
	}
	oldBf := InputMask
	if ptr != nil {
		oldBf = ptr.Eventbf()
	}
	newBf := f(op, oldBf)
	if newBf == oldBf {
		return
	}
	e.events.Add(&PendingEvent{fd: fd, mask: newBf, ptr: ptr})
}

// applyPendingEvents reconciles every queued registration change with the
// kernel, in FIFO order.
func (e *EventLoop) applyPendingEvents() {
	for e.events.Length() > 0 {
		pe := e.events.Peek().(*PendingEvent)
		e.events.Remove()
		e.handle(pe)
	}
}

// handleSocketEvent delivers one readiness report to its handler: read
// first, then write; the error path only runs when neither data direction
// fired.
func (e *EventLoop) handleSocketEvent(fd, mask int, ptr EventHandler) {
	if ptr == nil {
		// no handler was on record for fd when the ready list was taken
		log.Debug("[poller] dropped event for unknown socket: ", fd)
		return
	}
	checkError := true
	if mask&InputMask != 0 {
		checkError = false
		if !ptr.ReadChannelClosed() {
			ptr.HandleEvent(OpRead)
		}
	}
	if mask&OutputMask != 0 {
		checkError = false
		ptr.HandleEvent(OpWrite)
	}
	if checkError && mask&ErrorMask != 0 {
		ptr.HandleEvent(OpPropagateError)
		e.Del(OpRead, fd, ptr)
		e.Del(OpWrite, fd, ptr)
	}
}

// ExecLater schedules r for exactly one resume invocation. Thread-safe; the
// caller transfers one reference. I/O bound subtypes travel through the
// wakeup pipe to the loop goroutine, everything else goes to the scheduler.
func (e *EventLoop) ExecLater(r Resumable) {
	switch r.Subtype() {
	case IOActor, FunctionObject:
		e.wrDispatchRequest(r)
	default:
		if e.sched == nil {
			log.Warn("[poller] no scheduler attached, dropping resumable")
			r.Deref()
			return
		}
		e.sched.Enqueue(r)
	}
}

func (e *EventLoop) wrDispatchRequest(r Resumable) {
	tok := e.disp.put(r)
	var frame [8]byte
	binary.LittleEndian.PutUint64(frame[:], tok)
	n, err := sysWriteFrame(e.pipe[1], frame[:])
	if err != nil || n <= 0 {
		// pipe closed, discard resumable
		e.disp.take(tok)
		r.Deref()
		return
	}
	if n < len(frame) {
		log.Fatal("[poller] wrote invalid data to pipe")
	}
}

// Dispatch posts f for execution on the loop goroutine.
func (e *EventLoop) Dispatch(f func(*EventLoop)) {
	e.ExecLater(NewFuncResumable(f))
}

func (e *EventLoop) closePipe() {
	e.Del(OpRead, e.pipe[0], nil)
	// shed everything else still registered so the loop can terminate; each
	// handler observes RemovedFromLoop for every direction it held
	e.forEachHandler(func(fd int, h EventHandler) {
		if fd == e.pipe[0] || h == nil {
			return
		}
		e.Del(OpRead, fd, h)
		e.Del(OpWrite, fd, h)
	})
}

// Supervisor keeps the loop alive; closing it shuts the loop down cleanly.
type Supervisor struct {
	once sync.Once
	loop *EventLoop
}

// MakeSupervisor returns a handle whose Close drives Run to return.
func (e *EventLoop) MakeSupervisor() *Supervisor {
	return &Supervisor{loop: e}
}

// Close posts the pipe shutdown through the dispatch entry. Idempotent and
// safe from any goroutine.
func (s *Supervisor) Close() {
	s.once.Do(func() {
		s.loop.Dispatch(func(l *EventLoop) {
			l.closePipe()
		})
	})
}

// teardownPipe closes the write end first, then drains the remaining frames
// so every in-flight resumable releases its reference, then closes the read
// end.
func (e *EventLoop) teardownPipe() {
	sysClose(e.pipe[1])
	sysSetNonblock(e.pipe[0])
	for cb := e.pipeRd.tryReadNext(); cb != nil; cb = e.pipeRd.tryReadNext() {
		cb.Deref()
	}
	sysClose(e.pipe[0])
	e.pipeRd.init(InvalidSocket)
}

// dispatchTable maps in-flight pipe frames to their resumables. One entry
// exists per frame; the pipe owns the reference while the entry lives.
type dispatchTable struct {
	mu    sync.Mutex
	next  uint64
	items map[uint64]Resumable
}

func (d *dispatchTable) put(r Resumable) uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.next++
	d.items[d.next] = r
	return d.next
}

func (d *dispatchTable) take(tok uint64) Resumable {
	d.mu.Lock()
	defer d.mu.Unlock()
	r := d.items[tok]
	delete(d.items, tok)
	return r
}
