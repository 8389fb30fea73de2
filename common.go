package netmux

import (
	"fmt"

	"github.com/rocinan/netmux/interfaces"
	"github.com/rocinan/netmux/poller"
)

const INVALID_SOCKET = poller.InvalidSocket

// CheckError logs err under prefix and reports whether the call succeeded.
func CheckError(prefix string, err error) bool {
	if err != nil {
		log.Warn(prefix, err)
		return false
	}
	return true
}

// socketGuard closes its socket unless released, so factories leak nothing
// when a later step fails.
type socketGuard struct {
	fd int
}

func newSocketGuard(fd int) *socketGuard { return &socketGuard{fd: fd} }

func (g *socketGuard) Release() int {
	fd := g.fd
	g.fd = INVALID_SOCKET
	return fd
}

func (g *socketGuard) Close() {
	if g.fd != INVALID_SOCKET {
		CloseSocket(g.fd)
		g.fd = INVALID_SOCKET
	}
}

// NewTCPConnection resolves host and connects. When the resolved protocol
// is ipv6 and the connect fails, one retry with an explicit ipv4
// preference follows before giving up; a call that already carried the
// ipv4 preference gives up at once.
func NewTCPConnection(host string, port uint16, preferred *Protocol) (int, error) {
	addr, proto, err := interfaces.NativeAddress(host, preferred)
	if err != nil {
		return INVALID_SOCKET, fmt.Errorf("no such host: %s", host)
	}
	fd, err := tcpSocket(proto)
	if err != nil {
		return INVALID_SOCKET, fmt.Errorf("socket creation failed: %w", err)
	}
	guard := newSocketGuard(fd)
	defer guard.Close()
	if proto == IPv6 {
		err := ipConnect(fd, IPv6, addr, port)
		if err == nil {
			return guard.Release(), nil
		}
		if preferred != nil && *preferred == IPv4 {
			// this already was the ipv4 retry
			return INVALID_SOCKET, fmt.Errorf("could not connect to %s:%d: %w", host, port, err)
		}
		guard.Close()
		// IPv4 fallback
		pref := IPv4
		return NewTCPConnection(host, port, &pref)
	}
	if err := ipConnect(fd, IPv4, addr, port); err != nil {
		return INVALID_SOCKET, fmt.Errorf("could not connect to %s:%d: %w", host, port, err)
	}
	return guard.Release(), nil
}

// NewTCPAcceptorImpl creates a bound, listening socket and reads back the
// actually bound port, since port 0 asks for an ephemeral one. An empty
// addr binds the wildcard address of an ipv6 socket that also accepts
// ipv4-mapped requests.
func NewTCPAcceptorImpl(port uint16, addr string, reuseAddr bool) (int, uint16, error) {
	proto := IPv6
	if addr != "" {
		_, p, err := interfaces.NativeAddress(addr, nil)
		if err != nil {
			return INVALID_SOCKET, 0, fmt.Errorf("invalid IP address: %s", addr)
		}
		proto = p
	}
	fd, err := tcpSocket(proto)
	if err != nil {
		return INVALID_SOCKET, 0, fmt.Errorf("could not create server socket: %w", err)
	}
	guard := newSocketGuard(fd)
	defer guard.Close()
	if reuseAddr {
		if err := setReuseAddr(fd); err != nil {
			return INVALID_SOCKET, 0, fmt.Errorf("unable to set SO_REUSEADDR: %w", err)
		}
	}
	bound, err := bindAndReadPort(fd, proto, addr, port)
	if err != nil {
		return INVALID_SOCKET, 0, err
	}
	if err := listenSocket(fd); err != nil {
		return INVALID_SOCKET, 0, fmt.Errorf("listen failed: %w", err)
	}
	return guard.Release(), bound, nil
}

// PrepareSocket applies the flags every socket adopted into the loop needs:
// non-blocking I/O, Nagle off, SIGPIPE suppressed.
func PrepareSocket(fd int) {
	if fd == INVALID_SOCKET {
		return
	}
	CheckError("[socket] set nonblock err: ", SetNoBlock(fd))
	CheckError("[socket] set nodelay err: ", setTCPNoDelay(fd))
	allowSigpipe(fd, false)
}

// readSome reads into buf. ok is false on hard failure or orderly peer
// shutdown; a would-block condition reports (0, true).
func readSome(fd int, buf []byte) (int, bool) {
	n, err := BufferRecv(fd, buf)
	if err != nil {
		return 0, wouldBlock(err)
	}
	if n == 0 {
		// the peer performed an orderly shutdown
		return 0, false
	}
	return n, true
}

// writeSome sends from buf with the same error contract as readSome.
func writeSome(fd int, buf []byte) (int, bool) {
	n, err := BufferSend(fd, buf)
	if err != nil {
		return 0, wouldBlock(err)
	}
	return n, true
}

// tryAccept accepts one pending connection. A would-block condition yields
// (InvalidSocket, nil).
func tryAccept(fd int) (int, error) {
	sock, err := acceptSocket(fd)
	if err != nil {
		if wouldBlock(err) {
			return INVALID_SOCKET, nil
		}
		return INVALID_SOCKET, err
	}
	return sock, nil
}
