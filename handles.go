package netmux

// ConnectionHandle names one connected stream; the value encodes the
// underlying socket.
type ConnectionHandle int64

func ConnectionHandleFromInt(v int64) ConnectionHandle { return ConnectionHandle(v) }

func (h ConnectionHandle) ID() int64 { return int64(h) }

// AcceptHandle names one listening socket; the value encodes the underlying
// socket.
type AcceptHandle int64

func AcceptHandleFromInt(v int64) AcceptHandle { return AcceptHandle(v) }

func (h AcceptHandle) ID() int64 { return int64(h) }
