package poller

import (
	"encoding/binary"
	"sync/atomic"
)

// pipeReader drains the read end of the wakeup pipe. Each frame is a single
// pointer-sized token naming a resumable held by the loop's dispatch table;
// reading a frame transfers the reference out of the pipe.
type pipeReader struct {
	Handler
}

func newPipeReader(loop *EventLoop) *pipeReader {
	return &pipeReader{Handler: NewHandler(loop, InvalidSocket)}
}

func (p *pipeReader) init(fd int) {
	p.fd = fd
}

// tryReadNext performs one read of exactly one frame. A short read yields
// nil, meaning no data or a partial frame.
func (p *pipeReader) tryReadNext() Resumable {
	var frame [8]byte
	n, err := sysReadFrame(p.fd, frame[:])
	if err != nil || n != len(frame) {
		return nil
	}
	return p.loop.disp.take(binary.LittleEndian.Uint64(frame[:]))
}

func (p *pipeReader) HandleEvent(op Operation) {
	if op != OpRead {
		// never registered for output; pipe errors surface on the read path
		return
	}
	cb := p.tryReadNext()
	if cb == nil {
		return
	}
	switch cb.Resume(p.loop, p.loop.maxThroughput) {
	case ResumeLater:
		p.loop.ExecLater(cb)
	case ResumeDone:
		cb.Deref()
	default:
		// awaiting: ownership moved elsewhere
	}
}

func (p *pipeReader) RemovedFromLoop(Operation) {}

// funcResumable adapts a plain function to the resumable contract with an
// intrusive reference count starting at one.
type funcResumable struct {
	refs int32
	f    func(*EventLoop)
}

// NewFuncResumable wraps f as a function_object resumable carrying one
// reference, which the caller transfers on submit.
func NewFuncResumable(f func(*EventLoop)) Resumable {
	return &funcResumable{refs: 1, f: f}
}

func (r *funcResumable) Subtype() ResumableKind { return FunctionObject }

func (r *funcResumable) Resume(loop *EventLoop, _ int) ResumeResult {
	r.f(loop)
	return ResumeDone
}

func (r *funcResumable) Ref() { atomic.AddInt32(&r.refs, 1) }

func (r *funcResumable) Deref() {
	if atomic.AddInt32(&r.refs, -1) < 0 {
		log.Error("[poller] resumable reference count dropped below zero")
	}
}
