package netmux

import (
	"github.com/rocinan/netmux/poller"
)

// StreamManager is the per-direction callback sink a stream reports to.
// IOFailure is terminal for the affected direction; the manager must not
// assume the handler is still registered afterwards.
type StreamManager interface {
	Consume(loop *poller.EventLoop, data []byte)
	DataTransferred(loop *poller.EventLoop, written, remaining int)
	IOFailure(loop *poller.EventLoop, op poller.Operation)
}

// AcceptManager is notified when an acceptor has a new socket latched.
type AcceptManager interface {
	NewConnection()
}

// Broker is the upper layer the multiplexer's factories attach scribes and
// doormen to. Every callback fires on the loop goroutine.
type Broker interface {
	AddScribe(s *Scribe)
	AddDoorman(d *Doorman)
	Consume(hdl ConnectionHandle, data []byte)
	DataTransferred(hdl ConnectionHandle, written, remaining int)
	IOFailure(hdl ConnectionHandle, op poller.Operation)
	NewConnection(listener AcceptHandle, conn ConnectionHandle)
}
