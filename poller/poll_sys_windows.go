//go:build windows

package poller

import (
	"unsafe"

	"golang.org/x/sys/windows"
)

var procWSAPoll = modws2_32.NewProc("WSAPoll")

// wsaPollFd mirrors WSAPOLLFD; the socket field is pointer-sized on Windows
// so the portable pollset cannot be passed through as-is.
type wsaPollFd struct {
	fd      uintptr
	events  int16
	revents int16
}

func doPoll(fds []pollFd) (int, error) {
	native := make([]wsaPollFd, len(fds))
	for i := range fds {
		native[i] = wsaPollFd{fd: uintptr(fds[i].Fd), events: fds[i].Events}
	}
	r, _, errno := procWSAPoll.Call(
		uintptr(unsafe.Pointer(&native[0])),
		uintptr(len(native)),
		^uintptr(0), // no timeout
	)
	n := int(int32(r))
	if n < 0 {
		return 0, errno
	}
	for i := range fds {
		fds[i].Revents = native[i].revents
	}
	return n, nil
}

func isTransientPollError(err error) bool {
	return err == windows.WSAEINTR
}
