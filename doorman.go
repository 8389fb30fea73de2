package netmux

// Doorman manages one listening socket on behalf of a broker. When the
// acceptor latches a socket, the doorman adopts it as a scribe under the
// same broker and reports the pairing.
type Doorman struct {
	hdl      AcceptHandle
	broker   Broker
	mx       *Multiplexer
	acceptor *Acceptor
}

func newDoorman(broker Broker, m *Multiplexer, fd int) *Doorman {
	return &Doorman{
		hdl:      AcceptHandleFromInt(int64(fd)),
		broker:   broker,
		mx:       m,
		acceptor: NewAcceptor(m.loop, fd),
	}
}

func (d *Doorman) Hdl() AcceptHandle { return d.hdl }

func (d *Doorman) Launch() { d.acceptor.Start(d) }

// NewConnection moves the latched socket into a fresh scribe and notifies
// the broker.
func (d *Doorman) NewConnection() {
	conn := d.mx.AddTCPScribe(d.broker, d.acceptor.AcceptedSocket())
	d.broker.NewConnection(d.hdl, conn)
}

func (d *Doorman) StopReading() { d.acceptor.StopReading() }

func (d *Doorman) Addr() (string, error) { return LocalAddrOfFd(d.acceptor.Fd()) }

func (d *Doorman) Port() (uint16, error) { return LocalPortOfFd(d.acceptor.Fd()) }
