package netmux

import (
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAcceptorImplBindsEphemeralPort(t *testing.T) {
	fd, port, err := NewTCPAcceptorImpl(0, "127.0.0.1", true)
	require.NoError(t, err)
	defer CloseSocket(fd)
	require.NotZero(t, port)

	bound, err := LocalPortOfFd(fd)
	require.NoError(t, err)
	require.Equal(t, port, bound)

	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	require.NoError(t, err)
	conn.Close()
}

func TestAcceptorImplRejectsInvalidAddr(t *testing.T) {
	_, _, err := NewTCPAcceptorImpl(0, "not an address", false)
	require.Error(t, err)
}

func TestConnectionIPv6FallsBackToIPv4(t *testing.T) {
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	port := uint16(ln.Addr().(*net.TCPAddr).Port)

	pref := IPv6
	fd, err := NewTCPConnection("localhost", port, &pref)
	require.NoError(t, err)
	defer CloseSocket(fd)

	peer, err := RemotePortOfFd(fd)
	require.NoError(t, err)
	require.Equal(t, port, peer)
}

func TestConnectionUnknownHost(t *testing.T) {
	_, err := NewTCPConnection("host.invalid", 1, nil)
	require.Error(t, err)
}

func TestAddrOfFdHelpers(t *testing.T) {
	fd0, fd1 := tcpPair(t)

	localPort, err := LocalPortOfFd(fd0)
	require.NoError(t, err)
	remotePort, err := RemotePortOfFd(fd1)
	require.NoError(t, err)
	require.Equal(t, localPort, remotePort)

	addr, err := RemoteAddrOfFd(fd0)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1", addr)
}

func TestHandleRoundTrip(t *testing.T) {
	ch := ConnectionHandleFromInt(42)
	require.Equal(t, int64(42), ch.ID())
	ah := AcceptHandleFromInt(7)
	require.Equal(t, int64(7), ah.ID())
}
