//go:build windows

package poller

import (
	"golang.org/x/sys/windows"
)

// createPipe yields the (read, write) halves of the wakeup channel. Windows
// has no pipe usable with socket readiness APIs, so a self-connected TCP
// loopback pair is synthesized: bind a listener to 127.0.0.1:0, connect a
// client to the ephemeral port, accept the server side, drop the listener.
func createPipe() (int, int, error) {
	listener := windows.InvalidHandle
	readFd := windows.InvalidHandle
	writeFd := windows.InvalidHandle
	failed := true
	defer func() {
		if failed {
			if listener != windows.InvalidHandle {
				windows.Closesocket(listener)
			}
			if readFd != windows.InvalidHandle {
				windows.Closesocket(readFd)
			}
			if writeFd != windows.InvalidHandle {
				windows.Closesocket(writeFd)
			}
		}
	}()
	listener, err := windows.Socket(windows.AF_INET, windows.SOCK_STREAM, windows.IPPROTO_TCP)
	if err != nil {
		return InvalidSocket, InvalidSocket, err
	}
	if err = windows.SetsockoptInt(listener, windows.SOL_SOCKET, windows.SO_REUSEADDR, 1); err != nil {
		return InvalidSocket, InvalidSocket, err
	}
	sa := &windows.SockaddrInet4{Addr: [4]byte{127, 0, 0, 1}}
	if err = windows.Bind(listener, sa); err != nil {
		return InvalidSocket, InvalidSocket, err
	}
	// read the port in use: the bind above asked for an ephemeral one
	bound, err := windows.Getsockname(listener)
	if err != nil {
		return InvalidSocket, InvalidSocket, err
	}
	port := bound.(*windows.SockaddrInet4).Port
	if err = windows.Listen(listener, 1); err != nil {
		return InvalidSocket, InvalidSocket, err
	}
	readFd, err = windows.Socket(windows.AF_INET, windows.SOCK_STREAM, windows.IPPROTO_TCP)
	if err != nil {
		return InvalidSocket, InvalidSocket, err
	}
	if err = windows.Connect(readFd, &windows.SockaddrInet4{Addr: [4]byte{127, 0, 0, 1}, Port: port}); err != nil {
		return InvalidSocket, InvalidSocket, err
	}
	writeFd, err = sysAccept(listener)
	if err != nil {
		return InvalidSocket, InvalidSocket, err
	}
	windows.Closesocket(listener)
	failed = false
	return int(readFd), int(writeFd), nil
}

var (
	modws2_32  = windows.NewLazySystemDLL("ws2_32.dll")
	procAccept = modws2_32.NewProc("accept")
)

func sysAccept(fd windows.Handle) (windows.Handle, error) {
	r, _, errno := procAccept.Call(uintptr(fd), 0, 0)
	if windows.Handle(r) == windows.InvalidHandle {
		return windows.InvalidHandle, errno
	}
	return windows.Handle(r), nil
}
