//go:build unix

package poller

import (
	"golang.org/x/sys/unix"
)

// createPipe yields the (read, write) halves of the wakeup channel; on
// POSIX a plain anonymous pipe suffices.
func createPipe() (int, int, error) {
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		return InvalidSocket, InvalidSocket, err
	}
	return fds[0], fds[1], nil
}
