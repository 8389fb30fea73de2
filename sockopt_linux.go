//go:build linux

package netmux

import (
	"golang.org/x/sys/unix"
)

// Linux has no SO_NOSIGPIPE; every send carries MSG_NOSIGNAL instead.
const noSigpipeFlag = unix.MSG_NOSIGNAL

func allowSigpipe(int, bool) {}
