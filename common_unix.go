//go:build unix

package netmux

import (
	"fmt"
	"net"

	"github.com/rocinan/netmux/interfaces"
	"golang.org/x/sys/unix"
)

func tcpSocket(proto Protocol) (int, error) {
	family := unix.AF_INET
	if proto == interfaces.IPv6 {
		family = unix.AF_INET6
	}
	return unix.Socket(family, unix.SOCK_STREAM, 0)
}

func ipConnect(fd int, proto Protocol, addr string, port uint16) error {
	ip := net.ParseIP(addr)
	if ip == nil {
		return fmt.Errorf("invalid IP address: %s", addr)
	}
	if proto == interfaces.IPv4 {
		sa := &unix.SockaddrInet4{Port: int(port)}
		copy(sa.Addr[:], ip.To4())
		return unix.Connect(fd, sa)
	}
	sa := &unix.SockaddrInet6{Port: int(port)}
	copy(sa.Addr[:], ip.To16())
	return unix.Connect(fd, sa)
}

func setReuseAddr(fd int) error {
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
}

func bindAndReadPort(fd int, proto Protocol, addr string, port uint16) (uint16, error) {
	var ip net.IP
	if addr != "" {
		ip = net.ParseIP(addr)
		if ip == nil {
			return 0, fmt.Errorf("invalid IP address: %s", addr)
		}
	}
	if proto == interfaces.IPv4 {
		sa := &unix.SockaddrInet4{Port: int(port)}
		if ip != nil {
			copy(sa.Addr[:], ip.To4())
		}
		if err := unix.Bind(fd, sa); err != nil {
			return 0, fmt.Errorf("cannot bind socket: %w", err)
		}
	} else {
		// also accept ipv4 requests on this socket
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, 0); err != nil {
			return 0, fmt.Errorf("unable to unset IPV6_V6ONLY: %w", err)
		}
		sa := &unix.SockaddrInet6{Port: int(port)}
		if ip != nil {
			copy(sa.Addr[:], ip.To16())
		}
		if err := unix.Bind(fd, sa); err != nil {
			return 0, fmt.Errorf("cannot bind socket: %w", err)
		}
	}
	return LocalPortOfFd(fd)
}

func listenSocket(fd int) error {
	return unix.Listen(fd, unix.SOMAXCONN)
}

func acceptSocket(fd int) (int, error) {
	nfd, _, err := unix.Accept(fd)
	if err != nil {
		return INVALID_SOCKET, err
	}
	return nfd, nil
}

func wouldBlock(err error) bool {
	return err == unix.EAGAIN || err == unix.EWOULDBLOCK
}

func SetNoBlock(fd int) error {
	return unix.SetNonblock(fd, true)
}

func setTCPNoDelay(fd int) error {
	return unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
}

func BufferSend(fd int, p []byte) (int, error) {
	return unix.SendmsgN(fd, p, nil, nil, noSigpipeFlag)
}

func BufferRecv(fd int, p []byte) (int, error) {
	return unix.Read(fd, p)
}

func CloseSocket(fd int) error {
	return unix.Close(fd)
}

// LocalAddrOfFd reports the address the socket is bound to.
func LocalAddrOfFd(fd int) (string, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return "", fmt.Errorf("getsockname failed: %w", err)
	}
	return addrOfSockaddr(sa)
}

// LocalPortOfFd reports the port the socket is bound to.
func LocalPortOfFd(fd int) (uint16, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return 0, fmt.Errorf("getsockname failed: %w", err)
	}
	return portOfSockaddr(sa)
}

// RemoteAddrOfFd reports the peer address of a connected socket.
func RemoteAddrOfFd(fd int) (string, error) {
	sa, err := unix.Getpeername(fd)
	if err != nil {
		return "", fmt.Errorf("getpeername failed: %w", err)
	}
	return addrOfSockaddr(sa)
}

// RemotePortOfFd reports the peer port of a connected socket.
func RemotePortOfFd(fd int) (uint16, error) {
	sa, err := unix.Getpeername(fd)
	if err != nil {
		return 0, fmt.Errorf("getpeername failed: %w", err)
	}
	return portOfSockaddr(sa)
}

func addrOfSockaddr(sa unix.Sockaddr) (string, error) {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		return net.IP(v.Addr[:]).String(), nil
	case *unix.SockaddrInet6:
		return net.IP(v.Addr[:]).String(), nil
	}
	return "", fmt.Errorf("invalid protocol family")
}

func portOfSockaddr(sa unix.Sockaddr) (uint16, error) {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		return uint16(v.Port), nil
	case *unix.SockaddrInet6:
		return uint16(v.Port), nil
	}
	return 0, fmt.Errorf("invalid protocol family")
}
