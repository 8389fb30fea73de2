package netmux

import (
	"github.com/rocinan/netmux/poller"
)

// ReceivePolicyFlag selects how a stream batches incoming bytes before
// delivering them.
type ReceivePolicyFlag int

const (
	ReceiveExactly ReceivePolicyFlag = iota
	ReceiveAtMost
	ReceiveAtLeast
)

type ReceivePolicy struct {
	Flag ReceivePolicyFlag
	Size int
}

func Exactly(n int) ReceivePolicy { return ReceivePolicy{Flag: ReceiveExactly, Size: n} }
func AtMost(n int) ReceivePolicy  { return ReceivePolicy{Flag: ReceiveAtMost, Size: n} }
func AtLeast(n int) ReceivePolicy { return ReceivePolicy{Flag: ReceiveAtLeast, Size: n} }

// Stream is the per-connection read/write state machine. Reads batch into
// rdBuf according to the configured policy; writes accumulate in the
// offline buffer and swap into the draining buffer one flush at a time.
type Stream struct {
	poller.Handler
	rdFlag        ReceivePolicyFlag
	maxSize       int
	readThreshold int
	collected     int
	rdBuf         []byte
	written       int
	ackWrites     bool
	writing       bool
	wrBuf         []byte
	wrOfflineBuf  []byte
	reader        StreamManager
	writer        StreamManager
}

func NewStream(loop *poller.EventLoop, fd int) *Stream {
	PrepareSocket(fd)
	s := &Stream{Handler: poller.NewHandler(loop, fd)}
	s.ConfigureRead(AtMost(1024))
	return s
}

// Start stores mgr as the read sink and registers read interest.
func (s *Stream) Start(mgr StreamManager) {
	s.reader = mgr
	s.Backend().Add(poller.OpRead, s.Fd(), s)
	s.readLoop()
}

func (s *Stream) ConfigureRead(p ReceivePolicy) {
	s.rdFlag = p.Flag
	s.maxSize = p.Size
}

func (s *Stream) AckWrites(x bool) { s.ackWrites = x }

// Write appends to the offline buffer without issuing a syscall; the bytes
// go on the wire once a flush cycle picks them up.
func (s *Stream) Write(p []byte) {
	s.wrOfflineBuf = append(s.wrOfflineBuf, p...)
}

func (s *Stream) WrBuf() *[]byte { return &s.wrOfflineBuf }

func (s *Stream) RdBuf() *[]byte { return &s.rdBuf }

// Flush starts draining the offline buffer. No-op while a previous flush is
// still in flight or when there is nothing to send.
func (s *Stream) Flush(mgr StreamManager) {
	if len(s.wrOfflineBuf) == 0 || s.writing {
		return
	}
	s.Backend().Add(poller.OpWrite, s.Fd(), s)
	s.writer = mgr
	s.writing = true
	s.writeLoop()
}

// StopReading closes the read channel at the OS level and deregisters read
// interest.
func (s *Stream) StopReading() {
	s.CloseReadChannel()
	s.Backend().Del(poller.OpRead, s.Fd(), s)
}

func (s *Stream) RemovedFromLoop(op poller.Operation) {
	switch op {
	case poller.OpRead:
		s.reader = nil
	case poller.OpWrite:
		s.writer = nil
	}
}

func (s *Stream) HandleEvent(op poller.Operation) {
	switch op {
	case poller.OpRead:
		n, ok := readSome(s.Fd(), s.rdBuf[s.collected:])
		if !ok {
			s.reader.IOFailure(s.Backend(), poller.OpRead)
			s.Backend().Del(poller.OpRead, s.Fd(), s)
		} else if n > 0 {
			s.collected += n
			if s.collected >= s.readThreshold {
				s.reader.Consume(s.Backend(), s.rdBuf[:s.collected])
				s.readLoop()
			}
		}
	case poller.OpWrite:
		n, ok := writeSome(s.Fd(), s.wrBuf[s.written:])
		if !ok {
			s.writer.IOFailure(s.Backend(), poller.OpWrite)
			s.Backend().Del(poller.OpWrite, s.Fd(), s)
		} else if n > 0 {
			s.written += n
			remaining := len(s.wrBuf) - s.written
			if s.ackWrites {
				s.writer.DataTransferred(s.Backend(), n, remaining+len(s.wrOfflineBuf))
			}
			// prepare next send, or stop sending
			if remaining == 0 {
				s.writeLoop()
			}
		}
	case poller.OpPropagateError:
		if s.reader != nil {
			s.reader.IOFailure(s.Backend(), poller.OpRead)
		}
		if s.writer != nil {
			s.writer.IOFailure(s.Backend(), poller.OpWrite)
		}
		// the backend drops this handler right after, no Del needed here
	}
}

func (s *Stream) readLoop() {
	s.collected = 0
	switch s.rdFlag {
	case ReceiveExactly:
		s.rdBuf = resizeBuf(s.rdBuf, s.maxSize)
		s.readThreshold = s.maxSize
	case ReceiveAtMost:
		s.rdBuf = resizeBuf(s.rdBuf, s.maxSize)
		s.readThreshold = 1
	case ReceiveAtLeast:
		// allow up to 10% more, but at least 100 bytes more
		size := s.maxSize + maxInt(100, s.maxSize/10)
		s.rdBuf = resizeBuf(s.rdBuf, size)
		s.readThreshold = s.maxSize
	}
}

func (s *Stream) writeLoop() {
	s.written = 0
	s.wrBuf = s.wrBuf[:0]
	if len(s.wrOfflineBuf) == 0 {
		s.writing = false
		s.Backend().Del(poller.OpWrite, s.Fd(), s)
	} else {
		s.wrBuf, s.wrOfflineBuf = s.wrOfflineBuf, s.wrBuf
	}
}

func resizeBuf(buf []byte, n int) []byte {
	if cap(buf) < n {
		grown := make([]byte, n)
		copy(grown, buf)
		return grown
	}
	return buf[:n]
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
