//go:build unix

package poller

import (
	"golang.org/x/sys/unix"
)

func sysInit()    {}
func sysCleanup() {}

func sysWriteFrame(fd int, p []byte) (int, error) {
	return unix.Write(fd, p)
}

func sysReadFrame(fd int, p []byte) (int, error) {
	return unix.Read(fd, p)
}

func sysClose(fd int) {
	if fd != InvalidSocket {
		unix.Close(fd)
	}
}

func sysSetNonblock(fd int) {
	unix.SetNonblock(fd, true)
}

func sysShutdownRead(fd int) {
	// 0 identifies the read channel on Windows and UNIX alike
	unix.Shutdown(fd, 0)
}
