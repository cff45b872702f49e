//go:build linux || darwin

package hook

import (
	"time"

	"golang.org/x/sys/unix"
)

// RawSockaddr is the platform socket address type accepted/returned by
// Accept and Connect.
type RawSockaddr = unix.Sockaddr

// PollFD mirrors the platform poll(2) pollfd structure.
type PollFD = unix.PollFd

const (
	pollIn  = unix.POLLIN
	pollOut = unix.POLLOUT
)

func rawRead(fd int, buf []byte) (int, error) {
	return unix.Read(fd, buf)
}

func rawWrite(fd int, buf []byte) (int, error) {
	return unix.Write(fd, buf)
}

func rawAccept(fd int) (int, RawSockaddr, error) {
	return unix.Accept(fd)
}

func rawConnect(fd int, sa RawSockaddr) error {
	return unix.Connect(fd, sa)
}

func rawShutdown(fd int, how ShutdownHow) error {
	switch how {
	case ShutdownRead:
		return unix.Shutdown(fd, unix.SHUT_RD)
	case ShutdownWrite:
		return unix.Shutdown(fd, unix.SHUT_WR)
	default:
		return unix.Shutdown(fd, unix.SHUT_RDWR)
	}
}

func rawClose(fd int) error {
	return unix.Close(fd)
}

func rawSetNonblocking(fd int) error {
	return unix.SetNonblock(fd, true)
}

func rawCheckConnectError(fd int) error {
	errno, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return err
	}
	if errno != 0 {
		return unix.Errno(errno)
	}
	return nil
}

func rawPoll(fds []PollFD, timeout time.Duration) (int, error) {
	ms := -1
	if timeout >= 0 {
		ms = int(timeout.Milliseconds())
	}
	return unix.Poll(fds, ms)
}

func isAgain(err error) bool {
	return err == unix.EAGAIN || err == unix.EWOULDBLOCK
}

func isInProgress(err error) bool {
	return err == unix.EINPROGRESS
}
