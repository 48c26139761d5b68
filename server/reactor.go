package server

import (
	"math"
	"time"

	"golang.org/x/sys/unix"

	"github.com/gonzalop/minidrive/internal/apperr"
	"github.com/gonzalop/minidrive/internal/protocol"
)

// Run is the Reactor: a single-threaded, event-driven loop. It accepts
// connections, watches readability (always) and writability (only for
// sessions mid-download), and drives each session's state machine by
// exactly one bounded step per ready event — one message or one transfer
// chunk — so one slow transfer can never starve the others.
//
// This is the only place in the whole server that blocks on I/O readiness;
// every session handler it calls does a single non-blocking-ish unit of
// work and returns.
func (srv *Server) Run() error {
	fd, err := listen(srv.port)
	if err != nil {
		return err
	}
	srv.listenFd = fd
	defer unix.Close(fd)

	srv.logger.Info("reactor listening", "port", srv.port, "root", srv.root)

	for {
		pollFds := srv.buildPollSet()

		n, err := unix.Poll(pollFds, srv.pollTimeout())
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return err
		}
		if n == 0 {
			continue
		}

		var toClose []int
		for _, pfd := range pollFds {
			if pfd.Revents == 0 {
				continue
			}
			if int(pfd.Fd) == srv.listenFd {
				srv.acceptReady()
				continue
			}
			if srv.stepSession(int(pfd.Fd), pfd.Revents) {
				toClose = append(toClose, int(pfd.Fd))
			}
		}

		for _, fd := range toClose {
			srv.closeSession(fd)
		}
	}
}

// pollTimeout returns how long Run's next unix.Poll call should wait: -1
// (block indefinitely) unless a session is sitting on a bandwidth-limited
// chunk, in which case it wakes just after that chunk's token bucket is
// due to refill, even though no file descriptor became ready. This is
// what lets WithBandwidthLimit pace transfers without ever calling
// time.Sleep on the reactor's one thread.
func (srv *Server) pollTimeout() int {
	if srv.nextWake.IsZero() {
		return -1
	}
	d := time.Until(srv.nextWake)
	srv.nextWake = time.Time{}
	if d <= 0 {
		return 0
	}
	ms := d.Milliseconds()
	if ms > math.MaxInt32 {
		ms = math.MaxInt32
	}
	return int(ms)
}

// buildPollSet assembles the descriptor set for one reactor iteration: the
// listening socket plus every session (read-interest always, write-interest
// only while downloading).
func (srv *Server) buildPollSet() []unix.PollFd {
	pollFds := make([]unix.PollFd, 0, len(srv.sessions)+1)
	pollFds = append(pollFds, unix.PollFd{Fd: int32(srv.listenFd), Events: unix.POLLIN})
	for fd, sess := range srv.sessions {
		events := int16(unix.POLLIN)
		if sess.wantsWrite() {
			events |= unix.POLLOUT
		}
		pollFds = append(pollFds, unix.PollFd{Fd: int32(fd), Events: events})
	}
	return pollFds
}

// acceptReady accepts every connection currently pending on the listening
// socket. Accept failures are logged and otherwise non-fatal to the server.
func (srv *Server) acceptReady() {
	for {
		fd, remoteAddr, err := acceptOne(srv.listenFd)
		if err != nil {
			if err != unix.EAGAIN {
				srv.logger.Warn("accept failed", "error", err)
			}
			return
		}
		sess := newSession(srv, fd, remoteAddr)
		srv.sessions[fd] = sess
		srv.logger.Info("session accepted", "remote", remoteAddr, "fd", fd)
		protocol.SendMsg(sess.conn, sess.srv.welcome())
	}
}

// welcome is the banner sent to a freshly accepted connection. It carries
// no protocol meaning of its own; it exists so a client can confirm it
// reached a minidrive server before issuing AUTH.
func (srv *Server) welcome() string {
	return "minidrive 1"
}

// stepSession performs exactly one bounded unit of work for fd and reports
// whether the session should now be torn down.
func (srv *Server) stepSession(fd int, revents int16) bool {
	sess, ok := srv.sessions[fd]
	if !ok {
		return true
	}

	if revents&unix.POLLOUT != 0 && sess.st == downloadingFile {
		sess.downloadChunk()
	} else if revents&unix.POLLIN != 0 && sess.st == awaitingFile {
		sess.uploadChunk()
	} else if revents&unix.POLLIN != 0 {
		msg, ok, err := sess.framer.TryMessage()
		if err != nil {
			if apperr.As(err).Kind == apperr.KindConnectionClosed {
				return true
			}
			sess.replyError(err)
		} else if ok {
			sess.handleMessage(msg)
		}
		// !ok with no error means the frame isn't fully buffered yet (or
		// the read would have blocked); wait for the next readiness event.
	} else if revents&(unix.POLLHUP|unix.POLLERR) != 0 {
		return true
	}

	return sess.closed
}

// closeSession tears down one session: releases its download lock and
// stream if it was mid-transfer, closes the socket, and drops it from the
// reactor's poll set. A disconnect implicitly cancels any in-flight
// transfer for that session; the .part file and journal entry are left on
// disk so a later session can resume within TRANSFER_TIMEOUT.
func (srv *Server) closeSession(fd int) {
	sess, ok := srv.sessions[fd]
	if !ok {
		return
	}
	sess.finishDownload()
	sess.conn.Close()
	delete(srv.sessions, fd)
	srv.logger.Info("session closed", "remote", sess.remoteAddr, "fd", fd)
}
