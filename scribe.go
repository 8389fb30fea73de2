package netmux

import (
	"github.com/rocinan/netmux/poller"
)

// Scribe manages one connected byte-stream socket on behalf of a broker.
// It is the stream's manager, translating stream callbacks into broker
// callbacks tagged with its connection handle.
type Scribe struct {
	hdl      ConnectionHandle
	broker   Broker
	launched bool
	stream   *Stream
}

func newScribe(broker Broker, m *Multiplexer, fd int) *Scribe {
	return &Scribe{
		hdl:    ConnectionHandleFromInt(int64(fd)),
		broker: broker,
		stream: NewStream(m.loop, fd),
	}
}

func (s *Scribe) Hdl() ConnectionHandle { return s.hdl }

// ConfigureRead installs the receive policy and launches the scribe on its
// first call.
func (s *Scribe) ConfigureRead(p ReceivePolicy) {
	s.stream.ConfigureRead(p)
	if !s.launched {
		s.launched = true
		s.stream.Start(s)
	}
}

func (s *Scribe) AckWrites(enable bool) { s.stream.AckWrites(enable) }

func (s *Scribe) Write(p []byte) { s.stream.Write(p) }

func (s *Scribe) WrBuf() *[]byte { return s.stream.WrBuf() }

func (s *Scribe) RdBuf() *[]byte { return s.stream.RdBuf() }

func (s *Scribe) Flush() { s.stream.Flush(s) }

func (s *Scribe) StopReading() { s.stream.StopReading() }

func (s *Scribe) Addr() (string, error) { return RemoteAddrOfFd(s.stream.Fd()) }

func (s *Scribe) Port() (uint16, error) { return RemotePortOfFd(s.stream.Fd()) }

func (s *Scribe) Consume(_ *poller.EventLoop, data []byte) {
	s.broker.Consume(s.hdl, data)
}

func (s *Scribe) DataTransferred(_ *poller.EventLoop, written, remaining int) {
	s.broker.DataTransferred(s.hdl, written, remaining)
}

func (s *Scribe) IOFailure(_ *poller.EventLoop, op poller.Operation) {
	s.broker.IOFailure(s.hdl, op)
}
