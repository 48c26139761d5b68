package server

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gonzalop/minidrive/internal/apperr"
	"github.com/gonzalop/minidrive/internal/journal"
	"github.com/gonzalop/minidrive/internal/pathguard"
	"github.com/gonzalop/minidrive/internal/protocol"
)

// cmdUpload begins an upload: it verifies the destination, journals the
// transfer, and tells the client to start streaming. Every byte lands in
// <remote>.part first; the suffix is only stripped once the whole file has
// arrived (see uploadChunk).
func (s *session) cmdUpload(sizeArg, local, remote string) error {
	if local == "" {
		return apperr.New(apperr.KindNoPath, "UPLOAD command requires a local path argument")
	}
	size, err := strconv.ParseInt(sizeArg, 10, 64)
	if err != nil || size < 0 {
		return apperr.New(apperr.KindInvalidCommand, "invalid size argument: %q", sizeArg)
	}

	name := remote
	if name == "" {
		name = filepath.Base(local)
	}
	partPath := filepath.Join(s.workingDirectory, name) + ".part"
	canonPart, err := s.verifyPath(partPath, pathguard.None, pathguard.MustNotExist)
	if err != nil {
		return err
	}

	s.currentTransfer = journal.Transfer{
		LocalPath:      local,
		RemotePath:     canonPart,
		BytesCompleted: 0,
		TotalBytes:     size,
		Timestamp:      time.Now().Unix(),
	}
	if err := journal.Add(s.clientDirectory, s.currentTransfer); err != nil {
		return err
	}

	s.st = awaitingFile
	s.send("READY")
	return nil
}

// uploadChunk performs one bounded step of receiving the current upload:
// one chunk of at most the server's chunk size (and at most whatever
// WithBandwidthLimit currently allows). Called by the reactor each time
// the session's socket is readable while in awaitingFile.
func (s *session) uploadChunk() {
	t := &s.currentTransfer
	remaining := t.TotalBytes - t.BytesCompleted
	want := int(min(remaining, int64(s.srv.chunkSize)))

	var n int
	if want > 0 {
		toRecv, wait := s.srv.limiter.Reserve(want)
		if toRecv == 0 {
			s.srv.scheduleRetry(wait)
			return
		}
		var err error
		n, err = protocol.RecvFileChunk(s.framer, t.RemotePath, t.BytesCompleted, toRecv)
		if err != nil {
			s.replyError(err)
			return
		}
		if n == 0 {
			return
		}
	}

	t.BytesCompleted += int64(n)
	if err := journal.Update(s.clientDirectory, t.RemotePath, t.BytesCompleted); err != nil {
		s.replyError(err)
		return
	}

	if t.BytesCompleted >= t.TotalBytes {
		finalPath := strings.TrimSuffix(t.RemotePath, ".part")
		if err := os.Rename(t.RemotePath, finalPath); err != nil {
			s.replyError(apperr.New(apperr.KindFileWriteFailed, "finalize upload: %v", err))
			return
		}
		if err := journal.Remove(s.clientDirectory, t.LocalPath); err != nil {
			s.replyError(err)
			return
		}
		s.send("OK\nUploaded file to " + finalPath)
		s.st = awaitingMessage
	}
}

// cmdDownload begins a download: verify, lock against concurrent deletion,
// open the file, and announce its size.
func (s *session) cmdDownload(path string) error {
	if path == "" {
		return apperr.New(apperr.KindNoPath, "DOWNLOAD command requires a path argument")
	}
	full := s.resolve(path)
	canon, err := s.verifyPath(full, pathguard.File, pathguard.MustExist)
	if err != nil {
		return err
	}

	f, err := os.Open(canon)
	if err != nil {
		return apperr.New(apperr.KindFileOpenFailed, "open %s for reading: %v", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return apperr.New(apperr.KindInternal, "stat %s: %v", path, err)
	}

	s.srv.locks.Lock(canon)
	s.downloadPath = canon
	s.downloadFile = f
	s.downloadTotal = info.Size()
	s.downloadSent = 0

	s.send(fmt.Sprintf("FILEINFO %s %d", canon, s.downloadTotal))
	s.st = downloadingFile
	return nil
}

// cmdResumeDownload resumes a client-driven download from offset: unlike
// DOWNLOAD it sends no FILEINFO, since the client already knows the path
// and (from its own local journal) how many bytes it already has.
func (s *session) cmdResumeDownload(path, offsetArg string) error {
	if path == "" {
		return apperr.New(apperr.KindNoPath, "RESUME command requires a path argument")
	}
	offset, err := strconv.ParseInt(offsetArg, 10, 64)
	if err != nil || offset < 0 {
		return apperr.New(apperr.KindInvalidCommand, "invalid offset argument: %q", offsetArg)
	}

	full := s.resolve(path)
	canon, err := s.verifyPath(full, pathguard.File, pathguard.MustExist)
	if err != nil {
		return err
	}

	f, err := os.Open(canon)
	if err != nil {
		return apperr.New(apperr.KindFileOpenFailed, "open %s for reading: %v", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return apperr.New(apperr.KindInternal, "stat %s: %v", path, err)
	}
	if offset > info.Size() {
		f.Close()
		return apperr.New(apperr.KindInvalidCommand, "resume offset %d beyond file size %d", offset, info.Size())
	}
	if _, err := f.Seek(offset, os.SEEK_SET); err != nil {
		f.Close()
		return apperr.New(apperr.KindInternal, "seek %s: %v", path, err)
	}

	s.srv.locks.Lock(canon)
	s.downloadPath = canon
	s.downloadFile = f
	s.downloadTotal = info.Size()
	s.downloadSent = offset

	s.st = downloadingFile
	return nil
}

// downloadChunk performs one bounded step of sending the current download.
// Called by the reactor each time the session's socket is writable while
// in downloadingFile.
func (s *session) downloadChunk() {
	// A previous step read bytes from disk but could not push all of them
	// onto the socket; retry sending exactly those bytes before reading
	// anything new, or the unsent suffix would be silently dropped.
	if len(s.downloadPending) > 0 {
		n, pending, err := protocol.SendPending(s.conn, s.downloadPending)
		s.downloadSent += int64(n)
		s.downloadPending = pending
		if err != nil {
			s.finishDownload()
			s.closed = true
			return
		}
		if len(s.downloadPending) == 0 && s.downloadSent >= s.downloadTotal {
			s.finishDownload()
			s.st = awaitingMessage
		}
		return
	}

	remaining := s.downloadTotal - s.downloadSent
	if remaining <= 0 {
		s.finishDownload()
		s.st = awaitingMessage
		return
	}
	want := int(min(remaining, int64(s.srv.chunkSize)))

	toSend, wait := s.srv.limiter.Reserve(want)
	if toSend == 0 {
		s.srv.scheduleRetry(wait)
		return
	}

	n, pending, err := protocol.SendFileChunk(s.conn, s.downloadFile, toSend)
	s.downloadSent += int64(n)

	if err != nil {
		s.finishDownload()
		s.closed = true
		return
	}
	if len(pending) > 0 {
		s.downloadPending = pending
		return
	}

	if s.downloadSent >= s.downloadTotal {
		s.finishDownload()
		s.st = awaitingMessage
	}
}

// finishDownload releases the file lock and closes the stream. Called both
// on normal completion and on abnormal session teardown mid-transfer.
func (s *session) finishDownload() {
	if s.downloadPath != "" {
		s.srv.locks.Unlock(s.downloadPath)
	}
	if s.downloadFile != nil {
		s.downloadFile.Close()
	}
	s.downloadPath = ""
	s.downloadFile = nil
	s.downloadPending = nil
}
