package server

import (
	"fmt"
	"io"
	"net"
	"strconv"

	"golang.org/x/sys/unix"

	"github.com/gonzalop/minidrive/internal/protocol"
)

// listen opens a raw, non-blocking IPv4 TCP listening socket on port. The
// reactor drives everything through golang.org/x/sys/unix poll() rather
// than the runtime's own (hidden) netpoller, so the readiness primitive the
// single-threaded event loop relies on is the one actually in control:
// there is no second, invisible event loop underneath.
func listen(port uint16) (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, fmt.Errorf("socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("setsockopt(SO_REUSEADDR): %w", err)
	}
	addr := &unix.SockaddrInet4{Port: int(port)}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("bind :%d: %w", port, err)
	}
	if err := unix.Listen(fd, 128); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("listen: %w", err)
	}
	// Non-blocking so acceptReady can drain every pending connection in one
	// reactor iteration without ever blocking the single event loop.
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("set listen socket non-blocking: %w", err)
	}
	return fd, nil
}

// acceptOne accepts a single pending connection from listenFd. The
// accepted socket is itself non-blocking: a client that sends a length
// prefix and then pauses must never be able to stall the reactor's single
// thread inside one session's read, so every session fd observes the same
// non-blocking discipline as the listening socket.
func acceptOne(listenFd int) (fd int, remoteAddr string, err error) {
	nfd, sa, err := unix.Accept4(listenFd, unix.SOCK_NONBLOCK)
	if err != nil {
		return -1, "", err
	}
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		ip := net.IP(a.Addr[:])
		remoteAddr = net.JoinHostPort(ip.String(), strconv.Itoa(a.Port))
	default:
		remoteAddr = "unknown"
	}
	return nfd, remoteAddr, nil
}

// fdConn adapts a raw, non-blocking file descriptor to io.ReadWriteCloser.
// Read and Write report protocol.ErrWouldBlock instead of blocking when
// the kernel has nothing to offer (EAGAIN), which is exactly what lets
// the reactor's Framer and chunked transfer code retry on the next
// readiness notification instead of stalling the one thread every other
// session also depends on.
type fdConn struct {
	fd int
}

func (c *fdConn) Read(p []byte) (int, error) {
	for {
		n, err := unix.Read(c.fd, p)
		if err == unix.EINTR {
			continue
		}
		if err == unix.EAGAIN {
			return 0, protocol.ErrWouldBlock
		}
		if err != nil {
			return 0, err
		}
		if n == 0 {
			return 0, io.EOF
		}
		return n, nil
	}
}

// Write loops until every byte of p is written or the kernel's send
// buffer is full. A partial write followed by EAGAIN returns the count
// actually written plus protocol.ErrWouldBlock, so the caller knows
// precisely how much of p still needs sending rather than silently
// losing the remainder.
func (c *fdConn) Write(p []byte) (int, error) {
	total := 0
	for total < len(p) {
		n, err := unix.Write(c.fd, p[total:])
		if n > 0 {
			total += n
		}
		if err == unix.EINTR {
			continue
		}
		if err == unix.EAGAIN {
			return total, protocol.ErrWouldBlock
		}
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, io.EOF
		}
	}
	return total, nil
}

func (c *fdConn) Close() error {
	return unix.Close(c.fd)
}
