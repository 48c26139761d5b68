package server

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gonzalop/minidrive/internal/apperr"
	"github.com/gonzalop/minidrive/internal/journal"
	"github.com/gonzalop/minidrive/internal/pathguard"
	"github.com/gonzalop/minidrive/internal/protocol"
)

// state is the session's position in its control-message state machine.
type state int

const (
	awaitingMessage state = iota
	awaitingRegistrationChoice
	awaitingRegistrationPassword
	awaitingPassword
	awaitingResumeChoice
	awaitingFile
	downloadingFile
)

// session is one accepted connection: its socket, its state tag, its user
// root and working directory, and whatever transfer is currently in
// flight. A session mutates only its own fields plus the server's shared
// FileLocks table; everything else about it is serialized by the reactor
// never running two sessions' handlers concurrently.
type session struct {
	srv        *Server
	fd         int
	conn       *fdConn
	framer     *protocol.Framer
	remoteAddr string

	st state

	clientDirectory  string // user root ("client_directory")
	workingDirectory string
	username         string

	authInitiated bool

	currentTransfer journal.Transfer // upload in flight, or the one offered for resume

	downloadPath    string
	downloadFile    *os.File
	downloadTotal   int64
	downloadSent    int64
	downloadPending []byte // unsent suffix of the last chunk read, if the socket blocked mid-write

	closed bool
}

func newSession(srv *Server, fd int, remoteAddr string) *session {
	c := &fdConn{fd: fd}
	s := &session{
		srv:             srv,
		fd:              fd,
		conn:            c,
		framer:          protocol.NewFramer(c),
		remoteAddr:      remoteAddr,
		st:              awaitingMessage,
		clientDirectory: filepath.Join(srv.root, "public"),
	}
	s.workingDirectory = s.clientDirectory
	_ = os.MkdirAll(s.clientDirectory, 0o755)
	_ = journal.Clear(s.clientDirectory)
	return s
}

// wantsWrite reports whether the reactor should poll this session's socket
// for writability (only true mid-download).
func (s *session) wantsWrite() bool {
	return s.st == downloadingFile
}

// verifyPath runs PathGuard against the session's user root.
func (s *session) verifyPath(path string, typ pathguard.Type, existence pathguard.Existence) (string, error) {
	return pathguard.Verify(s.clientDirectory, path, typ, existence, pathguard.OSStat)
}

// resolve anchors a client-supplied path argument: absolute paths are
// anchored at the user root, relative paths at the working directory.
func (s *session) resolve(p string) string {
	if p == "" {
		return s.workingDirectory
	}
	if strings.HasPrefix(p, "/") {
		return filepath.Join(s.clientDirectory, p)
	}
	return filepath.Join(s.workingDirectory, p)
}

// handleMessage is the single entry point the reactor calls once it has
// read one complete framed control message for this session.
func (s *session) handleMessage(msg string) {
	switch s.st {
	case awaitingRegistrationChoice:
		s.processRegisterChoice(msg)
		return
	case awaitingRegistrationPassword:
		s.registerUser(msg)
		return
	case awaitingPassword:
		s.authenticateUser(msg)
		return
	case awaitingResumeChoice:
		s.processResumeChoice(msg)
		return
	}

	parts := splitCommand(msg)
	cmd := parts[0]
	arg := func(i int) string {
		if i < len(parts) {
			return parts[i]
		}
		return ""
	}

	var err error
	switch cmd {
	case "AUTH":
		err = s.cmdAuth(arg(1))
	case "LIST":
		err = s.cmdList(arg(1))
	case "CD":
		err = s.cmdCD(arg(1))
	case "MKDIR":
		err = s.cmdMkdir(arg(1))
	case "RMDIR":
		err = s.cmdRmdir(arg(1))
	case "DELETE":
		err = s.cmdDelete(arg(1))
	case "MOVE":
		err = s.cmdMove(arg(1), arg(2))
	case "COPY":
		err = s.cmdCopy(arg(1), arg(2))
	case "UPLOAD":
		err = s.cmdUpload(arg(1), arg(2), arg(3))
	case "DOWNLOAD":
		err = s.cmdDownload(arg(1))
	case "RESUME":
		err = s.cmdResumeDownload(arg(1), arg(2))
	case "EXIT":
		s.closed = true
		return
	default:
		err = apperr.New(apperr.KindUnknownCommand, "unknown command: %s", cmd)
	}

	if err != nil {
		s.replyError(err)
	}
}

// splitCommand splits on whitespace but always returns at least one element.
func splitCommand(msg string) []string {
	fields := strings.Fields(msg)
	if len(fields) == 0 {
		return []string{""}
	}
	return fields
}

func (s *session) send(msg string) {
	if err := protocol.SendMsg(s.conn, msg); err != nil {
		s.closed = true
	}
}

func (s *session) replyOK(body string) {
	if body == "" {
		s.send("OK\n")
	} else {
		s.send("OK\n" + body)
	}
}

func (s *session) replyError(err error) {
	ae := apperr.As(err)
	s.send(fmt.Sprintf("ERROR %s:\n%s", ae.Kind, ae.Message))
	if ae.Kind.IsTransport() {
		s.closed = true
		return
	}
	s.st = awaitingMessage
}

