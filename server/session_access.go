package server

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/gonzalop/minidrive/internal/apperr"
	"github.com/gonzalop/minidrive/internal/journal"
)

// cmdAuth starts authentication. Auth is one-shot per session: a second
// AUTH on the same connection is rejected rather than silently restarting
// the flow, since client_directory and working_directory would otherwise
// need to be unwound.
func (s *session) cmdAuth(username string) error {
	if s.authInitiated {
		return apperr.New(apperr.KindPermissionDenied, "already authenticated this session")
	}
	s.authInitiated = true
	s.username = username

	if username == "" {
		// public mode: client_directory is already <root>/public
		s.offerResume()
		return nil
	}

	exists, err := s.srv.credentials.Exists(username)
	if err != nil {
		return err
	}
	if !exists {
		s.send("User " + username + " not found. Register? (y/n)")
		s.st = awaitingRegistrationChoice
		return nil
	}
	s.send("Password for " + username + ":")
	s.st = awaitingPassword
	return nil
}

func (s *session) processRegisterChoice(choice string) {
	if choice == "y" {
		s.send("Password for " + s.username + ":")
		s.st = awaitingRegistrationPassword
		return
	}
	s.send("Registration cancelled.")
	s.st = awaitingMessage
}

func (s *session) registerUser(password string) {
	if err := s.srv.credentials.Register(s.username, password); err != nil {
		s.replyError(err)
		return
	}
	s.send("User " + s.username + " registered successfully.")
	s.closed = true
}

func (s *session) authenticateUser(password string) {
	ok, err := s.srv.credentials.Verify(s.username, password)
	if err != nil {
		s.replyError(err)
		return
	}
	if !ok {
		s.send("Authentication failed: Incorrect password.")
		s.st = awaitingMessage
		return
	}

	s.clientDirectory = filepath.Join(s.srv.root, s.username)
	if err := os.MkdirAll(s.clientDirectory, 0o755); err != nil {
		s.replyError(apperr.New(apperr.KindDirectoryCreateFail, "create home directory: %v", err))
		return
	}
	s.workingDirectory = s.clientDirectory

	s.send("Logged as " + s.username + ".")
	s.st = awaitingMessage
	s.offerResume()
}

// offerResume examines the user's transfer journal and, if an upload is
// in flight, offers to resume it before returning control to the client.
func (s *session) offerResume() {
	if err := journal.Clear(s.clientDirectory); err != nil {
		s.send("RESUME")
		return
	}
	transfers, err := journal.Active(s.clientDirectory)
	if err != nil || len(transfers) == 0 {
		s.send("RESUME")
		return
	}
	pending := transfers[0]
	s.currentTransfer = pending
	s.send("RESUME " + pending.LocalPath + " " + pending.RemotePath + " " + strconv.FormatInt(pending.BytesCompleted, 10))
	s.st = awaitingResumeChoice
}

func (s *session) processResumeChoice(choice string) {
	if choice == "y" {
		s.st = awaitingFile
		return
	}
	_ = journal.Remove(s.clientDirectory, s.currentTransfer.LocalPath)
	s.st = awaitingMessage
}
