//go:build unix && !linux && !darwin

package netmux

// MSG_NOSIGNAL is POSIX.1-2008; the BSDs that lack SO_NOSIGPIPE still honor
// the per-send flag.
const noSigpipeFlag = 0x20000

func allowSigpipe(int, bool) {}
