//go:build unix && (!linux || netmux_poll)

package poller

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

func doPoll(fds []pollFd) (int, error) {
	// pollFd matches the layout of unix.PollFd exactly
	native := *(*[]unix.PollFd)(unsafe.Pointer(&fds))
	return unix.Poll(native, -1)
}

func isTransientPollError(err error) bool {
	// a caught signal or transient memory pressure both warrant a retry
	return err == unix.EINTR || err == unix.ENOMEM
}
