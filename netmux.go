// Package netmux is the I/O multiplexer core of an actor framework's
// networking layer: a readiness-driven event loop plus the stream and
// acceptor state machines brokers attach to.
package netmux

import (
	"os"

	nested "github.com/antonfisher/nested-logrus-formatter"
	"github.com/rocinan/netmux/interfaces"
	"github.com/rocinan/netmux/poller"
	"github.com/rocinan/netmux/pool"
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

// Multiplexer owns one event loop and the scheduler that takes non-I/O
// work. Brokers obtain scribes and doormen through its factories.
type Multiplexer struct {
	loop  *poller.EventLoop
	sched *pool.Scheduler
}

func NewMultiplexer(cfg *Config) (*Multiplexer, error) {
	loop, err := poller.Create()
	if err != nil {
		return nil, err
	}
	sched := pool.NewScheduler(cfg.SchedulerWorkers, cfg.SchedulerQueue)
	sched.MaxThroughput = cfg.MaxThroughput
	sched.Run()
	loop.SetScheduler(sched)
	loop.SetMaxThroughput(cfg.MaxThroughput)
	return &Multiplexer{loop: loop, sched: sched}, nil
}

// Run drives the loop until the supervisor shuts it down. Blocking; all
// handler callbacks fire on the calling goroutine.
func (m *Multiplexer) Run() { m.loop.Run() }

func (m *Multiplexer) Loop() *poller.EventLoop { return m.loop }

// ExecLater schedules r from any goroutine. Takes one reference.
func (m *Multiplexer) ExecLater(r poller.Resumable) { m.loop.ExecLater(r) }

// MakeSupervisor returns the handle whose Close makes Run return.
func (m *Multiplexer) MakeSupervisor() *poller.Supervisor { return m.loop.MakeSupervisor() }

// Close releases the loop's resources. Call after Run has returned.
func (m *Multiplexer) Close() error {
	m.sched.Stop()
	return m.loop.Close()
}

// AddTCPScribe adopts fd as a connected TCP stream under broker. The scribe
// launches on its first ConfigureRead. Loop goroutine only.
func (m *Multiplexer) AddTCPScribe(broker Broker, fd int) ConnectionHandle {
	s := newScribe(broker, m, fd)
	broker.AddScribe(s)
	return s.Hdl()
}

// ConnectTCPScribe resolves and connects host:port, then adopts the socket.
func (m *Multiplexer) ConnectTCPScribe(broker Broker, host string, port uint16) (ConnectionHandle, error) {
	fd, err := NewTCPConnection(host, port, nil)
	if err != nil {
		return 0, err
	}
	return m.AddTCPScribe(broker, fd), nil
}

// NewTCPScribe resolves and connects without adoption; pair it with a later
// AssignTCPScribe.
func (m *Multiplexer) NewTCPScribe(host string, port uint16) (ConnectionHandle, error) {
	fd, err := NewTCPConnection(host, port, nil)
	if err != nil {
		return 0, err
	}
	return ConnectionHandleFromInt(int64(fd)), nil
}

// AssignTCPScribe adopts a handle previously returned by NewTCPScribe.
func (m *Multiplexer) AssignTCPScribe(broker Broker, hdl ConnectionHandle) {
	m.AddTCPScribe(broker, int(hdl.ID()))
}

// AddTCPDoorman adopts fd as a listening socket under broker and launches
// it. Loop goroutine only.
func (m *Multiplexer) AddTCPDoorman(broker Broker, fd int) AcceptHandle {
	d := newDoorman(broker, m, fd)
	broker.AddDoorman(d)
	d.Launch()
	return d.Hdl()
}

// OpenTCPDoorman binds and listens on port (0 means ephemeral), adopts the
// passive socket, and reports the actually bound port.
func (m *Multiplexer) OpenTCPDoorman(broker Broker, port uint16, addr string, reuseAddr bool) (AcceptHandle, uint16, error) {
	fd, bound, err := NewTCPAcceptorImpl(port, addr, reuseAddr)
	if err != nil {
		return 0, 0, err
	}
	return m.AddTCPDoorman(broker, fd), bound, nil
}

// NewTCPDoorman binds and listens without adoption; pair it with a later
// AssignTCPDoorman.
func (m *Multiplexer) NewTCPDoorman(port uint16, addr string, reuseAddr bool) (AcceptHandle, uint16, error) {
	fd, bound, err := NewTCPAcceptorImpl(port, addr, reuseAddr)
	if err != nil {
		return 0, 0, err
	}
	return AcceptHandleFromInt(int64(fd)), bound, nil
}

// AssignTCPDoorman adopts a handle previously returned by NewTCPDoorman.
func (m *Multiplexer) AssignTCPDoorman(broker Broker, hdl AcceptHandle) {
	m.AddTCPDoorman(broker, int(hdl.ID()))
}

// Protocol aliases keep the oracle's types at the factory surface.
type Protocol = interfaces.Protocol

const (
	IPv4 = interfaces.IPv4
	IPv6 = interfaces.IPv6
)
