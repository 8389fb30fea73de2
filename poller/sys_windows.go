//go:build windows

package poller

import (
	"golang.org/x/sys/windows"
)

func sysInit() {
	var data windows.WSAData
	if err := windows.WSAStartup(uint32(0x202), &data); err != nil {
		log.Fatal("[poller] WSAStartup failed: ", err)
	}
}

func sysCleanup() {
	windows.WSACleanup()
}

func sysWriteFrame(fd int, p []byte) (int, error) {
	var sent uint32
	buf := windows.WSABuf{Len: uint32(len(p)), Buf: &p[0]}
	err := windows.WSASend(windows.Handle(fd), &buf, 1, &sent, 0, nil, nil)
	if err != nil {
		return -1, err
	}
	return int(sent), nil
}

func sysReadFrame(fd int, p []byte) (int, error) {
	n, _, err := windows.Recvfrom(windows.Handle(fd), p, 0)
	return n, err
}

func sysClose(fd int) {
	if fd != InvalidSocket {
		windows.Closesocket(windows.Handle(fd))
	}
}

func sysSetNonblock(fd int) {
	windows.SetNonblock(windows.Handle(fd), true)
}

func sysShutdownRead(fd int) {
	// 0 identifies the read channel on Windows and UNIX alike
	windows.Shutdown(windows.Handle(fd), 0)
}
