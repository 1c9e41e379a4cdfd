package server

import (
	"errors"
	"fmt"
	"io"
	"net/netip"

	"github.com/danmuck/rosterd/internal/protocol/session"
	"golang.org/x/sys/unix"
)

var errShuttingDown = errors.New("server: shutting down")

// fdReader adapts a non-blocking descriptor to the reader contract of
// session.Conn.Step.
type fdReader struct {
	fd int
}

func (r fdReader) Read(p []byte) (int, error) {
	for {
		n, err := unix.Read(r.fd, p)
		switch {
		case err == nil && n == 0 && len(p) > 0:
			return 0, io.EOF
		case err == nil:
			return n, nil
		case errors.Is(err, unix.EINTR):
		case errors.Is(err, unix.EAGAIN):
			return 0, session.ErrWouldBlock
		default:
			return 0, err
		}
	}
}

// fdWriter writes all of p, parking in poll for POLLOUT on this descriptor
// when the socket buffer is full. A readable wake pipe aborts the wait.
type fdWriter struct {
	fd   int
	wake int
}

func (w fdWriter) Write(p []byte) (int, error) {
	written := 0
	for written < len(p) {
		n, err := unix.Write(w.fd, p[written:])
		switch {
		case err == nil && n > 0:
			written += n
		case err == nil:
			return written, io.ErrShortWrite
		case errors.Is(err, unix.EINTR):
		case errors.Is(err, unix.EAGAIN):
			if err := w.waitWritable(); err != nil {
				return written, err
			}
		default:
			return written, err
		}
	}
	return written, nil
}

func (w fdWriter) waitWritable() error {
	fds := []unix.PollFd{
		{Fd: int32(w.fd), Events: unix.POLLOUT},
		{Fd: int32(w.wake), Events: unix.POLLIN},
	}
	for {
		_, err := unix.Poll(fds, -1)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return fmt.Errorf("poll for write: %w", err)
		}
		if fds[1].Revents != 0 {
			return errShuttingDown
		}
		return nil
	}
}

func sockaddrString(sa unix.Sockaddr) string {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return netip.AddrPortFrom(netip.AddrFrom4(a.Addr), uint16(a.Port)).String()
	case *unix.SockaddrInet6:
		return netip.AddrPortFrom(netip.AddrFrom16(a.Addr), uint16(a.Port)).String()
	default:
		return "unknown"
	}
}
