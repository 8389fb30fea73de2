//go:build windows

package netmux

import (
	"fmt"
	"net"

	"github.com/rocinan/netmux/interfaces"
	"golang.org/x/sys/windows"
)

// SIGPIPE does not exist on Windows.
const noSigpipeFlag = 0

func allowSigpipe(int, bool) {}

func tcpSocket(proto Protocol) (int, error) {
	family := windows.AF_INET
	if proto == interfaces.IPv6 {
		family = windows.AF_INET6
	}
	h, err := windows.Socket(family, windows.SOCK_STREAM, 0)
	if err != nil {
		return INVALID_SOCKET, err
	}
	return int(h), nil
}

func ipConnect(fd int, proto Protocol, addr string, port uint16) error {
	ip := net.ParseIP(addr)
	if ip == nil {
		return fmt.Errorf("invalid IP address: %s", addr)
	}
	if proto == interfaces.IPv4 {
		sa := &windows.SockaddrInet4{Port: int(port)}
		copy(sa.Addr[:], ip.To4())
		return windows.Connect(windows.Handle(fd), sa)
	}
	sa := &windows.SockaddrInet6{Port: int(port)}
	copy(sa.Addr[:], ip.To16())
	return windows.Connect(windows.Handle(fd), sa)
}

func setReuseAddr(fd int) error {
	return windows.SetsockoptInt(windows.Handle(fd), windows.SOL_SOCKET, windows.SO_REUSEADDR, 1)
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
		sa := &windows.SockaddrInet4{Port: int(port)}
		if ip != nil {
			copy(sa.Addr[:], ip.To4())
		}
		if err := windows.Bind(windows.Handle(fd), sa); err != nil {
			return 0, fmt.Errorf("cannot bind socket: %w", err)
		}
	} else {
		// also accept ipv4 requests on this socket
		if err := windows.SetsockoptInt(windows.Handle(fd), windows.IPPROTO_IPV6, windows.IPV6_V6ONLY, 0); err != nil {
			return 0, fmt.Errorf("unable to unset IPV6_V6ONLY: %w", err)
		}
		sa := &windows.SockaddrInet6{Port: int(port)}
		if ip != nil {
			copy(sa.Addr[:], ip.To16())
		}
		if err := windows.Bind(windows.Handle(fd), sa); err != nil {
			return 0, fmt.Errorf("cannot bind socket: %w", err)
		}
	}
	return LocalPortOfFd(fd)
}

func listenSocket(fd int) error {
	return windows.Listen(windows.Handle(fd), windows.SOMAXCONN)
}

var (
	modws2_32  = windows.NewLazySystemDLL("ws2_32.dll")
	procAccept = modws2_32.NewProc("accept")
)

func acceptSocket(fd int) (int, error) {
	r, _, errno := procAccept.Call(uintptr(fd), 0, 0)
	if windows.Handle(r) == windows.InvalidHandle {
		return INVALID_SOCKET, errno
	}
	return int(r), nil
}

func wouldBlock(err error) bool {
	return err == windows.WSAEWOULDBLOCK
}

func SetNoBlock(fd int) error {
	return windows.SetNonblock(windows.Handle(fd), true)
}

func setTCPNoDelay(fd int) error {
	return windows.SetsockoptInt(windows.Handle(fd), windows.IPPROTO_TCP, windows.TCP_NODELAY, 1)
}

func BufferSend(fd int, p []byte) (int, error) {
	var sent uint32
	buf := windows.WSABuf{Len: uint32(len(p)), Buf: &p[0]}
	if err := windows.WSASend(windows.Handle(fd), &buf, 1, &sent, 0, nil, nil); err != nil {
		return 0, err
	}
	return int(sent), nil
}

func BufferRecv(fd int, p []byte) (int, error) {
	n, _, err := windows.Recvfrom(windows.Handle(fd), p, 0)
	if err != nil {
		return 0, err
	}
	return n, nil
}

func CloseSocket(fd int) error {
	return windows.Closesocket(windows.Handle(fd))
}

// LocalAddrOfFd reports the address the socket is bound to.
func LocalAddrOfFd(fd int) (string, error) {
	sa, err := windows.Getsockname(windows.Handle(fd))
	if err != nil {
		return "", fmt.Errorf("getsockname failed: %w", err)
	}
	return addrOfSockaddr(sa)
}

// LocalPortOfFd reports the port the socket is bound to.
func LocalPortOfFd(fd int) (uint16, error) {
	sa, err := windows.Getsockname(windows.Handle(fd))
	if err != nil {
		return 0, fmt.Errorf("getsockname failed: %w", err)
	}
	return portOfSockaddr(sa)
}

// RemoteAddrOfFd reports the peer address of a connected socket.
func RemoteAddrOfFd(fd int) (string, error) {
	sa, err := windows.Getpeername(windows.Handle(fd))
	if err != nil {
		return "", fmt.Errorf("getpeername failed: %w", err)
	}
	return addrOfSockaddr(sa)
}

// RemotePortOfFd reports the peer port of a connected socket.
func RemotePortOfFd(fd int) (uint16, error) {
	sa, err := windows.Getpeername(windows.Handle(fd))
	if err != nil {
		return 0, fmt.Errorf("getpeername failed: %w", err)
	}
	return portOfSockaddr(sa)
}

func addrOfSockaddr(sa windows.Sockaddr) (string, error) {
	switch v := sa.(type) {
	case *windows.SockaddrInet4:
		return net.IP(v.Addr[:]).String(), nil
	case *windows.SockaddrInet6:
		return net.IP(v.Addr[:]).String(), nil
	}
	return "", fmt.Errorf("invalid protocol family")
}

func portOfSockaddr(sa windows.Sockaddr) (uint16, error) {
	switch v := sa.(type) {
	case *windows.SockaddrInet4:
		return uint16(v.Port), nil
	case *windows.SockaddrInet6:
		return uint16(v.Port), nil
	}
	return 0, fmt.Errorf("invalid protocol family")
}
