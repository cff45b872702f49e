//go:build windows

package hook

import (
	"time"

	"golang.org/x/sys/windows"
)

// RawSockaddr is the platform socket address type accepted/returned by
// Accept and Connect.
type RawSockaddr = windows.Sockaddr

// PollFD mirrors the platform poll(2) pollfd structure. Windows has no
// native poll(2); WSAPoll exists but this build targets the IOCP path
// ioloop.poller_windows.go already uses, so Poll/Select report
// ErrNotSupported here rather than re-deriving WSAPoll bindings.
type PollFD struct {
	Fd      int
	Events  int16
	Revents int16
}

const (
	pollIn  int16 = 0x0001
	pollOut int16 = 0x0004
)

func rawRead(fd int, buf []byte) (int, error) {
	var n uint32
	err := windows.ReadFile(windows.Handle(fd), buf, &n, nil)
	return int(n), err
}

func rawWrite(fd int, buf []byte) (int, error) {
	var n uint32
	err := windows.WriteFile(windows.Handle(fd), buf, &n, nil)
	return int(n), err
}

func rawAccept(fd int) (int, RawSockaddr, error) {
	return -1, nil, ErrNotSupported
}

func rawConnect(fd int, sa RawSockaddr) error {
	return ErrNotSupported
}

func rawShutdown(fd int, how ShutdownHow) error {
	var h int
	switch how {
	case ShutdownRead:
		h = windows.SHUT_RD
	case ShutdownWrite:
		h = windows.SHUT_WR
	default:
		h = windows.SHUT_RDWR
	}
	return windows.Shutdown(windows.Handle(fd), h)
}

func rawClose(fd int) error {
	return windows.CloseHandle(windows.Handle(fd))
}

// rawSetNonblocking is a no-op on Windows: ioloop's Windows poller
// (poller_windows.go) drives readiness through IOCP/overlapped I/O rather
// than a non-blocking-fd-plus-select model, so there is no FIONBIO
// equivalent to apply here.
func rawSetNonblocking(fd int) error {
	return nil
}

func rawCheckConnectError(fd int) error {
	return ErrNotSupported
}

func rawPoll(fds []PollFD, timeout time.Duration) (int, error) {
	return -1, ErrNotSupported
}

func isAgain(err error) bool {
	return err == windows.WSAEWOULDBLOCK
}

func isInProgress(err error) bool {
	return err == windows.WSAEINPROGRESS
}
