//go:build darwin

package netmux

import (
	"golang.org/x/sys/unix"
)

const noSigpipeFlag = 0

func allowSigpipe(fd int, allow bool) {
	value := 1
	if allow {
		value = 0
	}
	CheckError("[socket] set SO_NOSIGPIPE err: ",
		unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_NOSIGPIPE, value))
}
