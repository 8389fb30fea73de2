package netmux

import (
	"github.com/rocinan/netmux/poller"
)

// Acceptor is the passive socket state machine. A freshly accepted socket
// sits in a latch until the manager's NewConnection callback adopts it.
type Acceptor struct {
	poller.Handler
	mgr  AcceptManager
	sock int
}

func NewAcceptor(loop *poller.EventLoop, fd int) *Acceptor {
	PrepareSocket(fd)
	return &Acceptor{Handler: poller.NewHandler(loop, fd), sock: poller.InvalidSocket}
}

func (a *Acceptor) Start(mgr AcceptManager) {
	a.mgr = mgr
	a.Backend().Add(poller.OpRead, a.Fd(), a)
}

func (a *Acceptor) StopReading() {
	a.CloseReadChannel()
	a.Backend().Del(poller.OpRead, a.Fd(), a)
}

func (a *Acceptor) HandleEvent(op poller.Operation) {
	if a.mgr == nil || op != poller.OpRead {
		return
	}
	sock, err := tryAccept(a.Fd())
	if err != nil {
		log.Warn("[acceptor] accept failed: ", err)
		return
	}
	if sock != poller.InvalidSocket {
		a.sock = sock
		a.mgr.NewConnection()
	}
}

func (a *Acceptor) RemovedFromLoop(op poller.Operation) {
	if op == poller.OpRead {
		a.mgr = nil
	}
}

// AcceptedSocket consumes the latch.
func (a *Acceptor) AcceptedSocket() int {
	sock := a.sock
	a.sock = poller.InvalidSocket
	return sock
}
