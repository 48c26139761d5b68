// Package client is the ClientDriver: the thin counterpart to server that
// issues commands over the framed protocol, drives the upload/download
// chunk dance, and handles the server's resume offers. It does not read
// lines from a terminal or render prompts — that is the interactive shell's
// job, out of scope here — but it does carry out whatever
// the shell decides via the Prompter interface.
package client

import (
	"bufio"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gonzalop/minidrive/internal/apperr"
	"github.com/gonzalop/minidrive/internal/journal"
	"github.com/gonzalop/minidrive/internal/protocol"
)

// Prompter lets the interactive shell answer registration/resume prompts
// without the Client needing to know how lines get read or rendered.
type Prompter interface {
	// Confirm asks a yes/no question (e.g. "Register? (y/n)") and returns
	// the user's choice.
	Confirm(prompt string) bool
	// Password asks for a password under the given prompt text.
	Password(prompt string) string
}

// Client is one control connection to a minidrive server.
type Client struct {
	conn        net.Conn
	reader      *bufio.Reader
	logger      *slog.Logger
	chunkSize   int
	timeout     time.Duration
	downloadDir string

	mu sync.Mutex
}

// Option configures a Client at Dial time.
type Option func(*Client)

// WithLogger sets the client's structured logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithChunkSize overrides the amount of file data moved per read/write call.
// Defaults to protocol.DefaultChunkSize.
func WithChunkSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.chunkSize = n
		}
	}
}

// WithTimeout sets a deadline applied to the whole connection.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithDownloadDir sets the directory holding the local transfer journal of
// in-progress downloads. Defaults to ".". The ".part" files and finished
// downloads are written in the process's current working directory, not here.
func WithDownloadDir(dir string) Option {
	return func(c *Client) {
		if dir != "" {
			c.downloadDir = dir
		}
	}
}

// Dial connects to a minidrive server at addr ("host:port") and reads its
// welcome banner.
func Dial(addr string, opts ...Option) (*Client, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", addr, err)
	}

	c := &Client{
		conn:        conn,
		reader:      bufio.NewReader(conn),
		logger:      slog.Default(),
		chunkSize:   protocol.DefaultChunkSize,
		downloadDir: ".",
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(c.timeout))
	}

	if _, err := protocol.RecvMsg(c.reader); err != nil {
		conn.Close()
		return nil, fmt.Errorf("read welcome banner: %w", err)
	}
	return c, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// sendCommand sends one framed command line and returns the raw reply.
func (c *Client) sendCommand(parts ...string) (string, error) {
	line := strings.Join(parts, " ")
	if err := protocol.SendMsg(c.conn, line); err != nil {
		return "", err
	}
	return protocol.RecvMsg(c.reader)
}

// parseReply splits a raw reply into "OK"/body or returns a *apperr.Error
// for an "ERROR <kind>:\n<msg>" reply.
func parseReply(reply string) (body string, err error) {
	if strings.HasPrefix(reply, "OK\n") {
		return strings.TrimPrefix(reply, "OK\n"), nil
	}
	if reply == "OK" {
		return "", nil
	}
	if strings.HasPrefix(reply, "ERROR ") {
		rest := strings.TrimPrefix(reply, "ERROR ")
		kindAndMsg := strings.SplitN(rest, ":\n", 2)
		kind := apperr.Kind(kindAndMsg[0])
		msg := ""
		if len(kindAndMsg) > 1 {
			msg = kindAndMsg[1]
		}
		return "", &apperr.Error{Kind: kind, Message: msg}
	}
	return "", apperr.New(apperr.KindUnknownResponse, "unrecognised server reply: %q", reply)
}

// ResumeOffer describes a server-offered upload resumption.
type ResumeOffer struct {
	LocalPath      string
	RemotePath     string
	BytesCompleted int64
}

// Authenticate runs the AUTH handshake. An empty username requests public
// mode. It returns any upload the server offers to resume; the caller
// decides (via Prompter) whether to accept it. Independently of any upload
// offer, the caller should also call PendingDownloads to find and resume
// any downloads this Client's own journal shows as unfinished.
func (c *Client) Authenticate(username string, p Prompter) (*ResumeOffer, error) {
	reply, err := c.sendCommand("AUTH", username)
	if err != nil {
		return nil, err
	}

	// In public mode the server answers AUTH with its RESUME frame directly.
	if reply == "RESUME" || strings.HasPrefix(reply, "RESUME ") {
		return parseResumeOffer(reply)
	}

	if strings.HasSuffix(reply, "Register? (y/n)") {
		if !p.Confirm(reply) {
			if _, err := c.sendCommand("n"); err != nil {
				return nil, err
			}
			return nil, nil
		}
		passPrompt, err := c.sendCommand("y")
		if err != nil {
			return nil, err
		}
		password := p.Password(passPrompt)
		final, err := c.sendCommand(password)
		if err != nil {
			return nil, err
		}
		c.logger.Info("registration complete", "reply", final)
		return nil, nil
	}

	if strings.HasSuffix(reply, "Incorrect password.") {
		return nil, apperr.New(apperr.KindAuthenticationFail, "%s", reply)
	}

	if strings.HasPrefix(reply, "Password for ") {
		password := p.Password(reply)
		authReply, err := c.sendCommand(password)
		if err != nil {
			return nil, err
		}
		if strings.Contains(authReply, "Incorrect password") {
			return nil, apperr.New(apperr.KindAuthenticationFail, "%s", authReply)
		}
	}

	return c.consumeResumeOffer()
}

// consumeResumeOffer reads the server's RESUME frame (sent right after a
// successful login) and returns the offered transfer, if any.
func (c *Client) consumeResumeOffer() (*ResumeOffer, error) {
	reply, err := protocol.RecvMsg(c.reader)
	if err != nil {
		return nil, err
	}
	return parseResumeOffer(reply)
}

// parseResumeOffer parses a "RESUME [<local> <remote> <bytes>]" frame.
func parseResumeOffer(reply string) (*ResumeOffer, error) {
	fields := strings.Fields(reply)
	if len(fields) == 1 {
		return nil, nil
	}
	if len(fields) != 4 {
		return nil, apperr.New(apperr.KindUnknownResponse, "malformed RESUME frame: %q", reply)
	}
	bytesCompleted, err := strconv.ParseInt(fields[3], 10, 64)
	if err != nil {
		return nil, apperr.New(apperr.KindUnknownResponse, "malformed RESUME byte count: %q", reply)
	}
	return &ResumeOffer{LocalPath: fields[1], RemotePath: fields[2], BytesCompleted: bytesCompleted}, nil
}

// AcceptResume tells the server to proceed with (true) or discard (false)
// an offered upload resumption.
func (c *Client) AcceptResume(accept bool) error {
	choice := "n"
	if accept {
		choice = "y"
	}
	return protocol.SendMsg(c.conn, choice)
}

// List lists path (empty for the working directory) and returns the raw
// "[DIR]  name" / "       name" lines.
func (c *Client) List(path string) (string, error) {
	reply, err := c.sendCommand("LIST", path)
	if err != nil {
		return "", err
	}
	return parseReply(reply)
}

// CD changes the working directory.
func (c *Client) CD(path string) error {
	_, err := c.simpleCommand("CD", path)
	return err
}

// Mkdir creates a directory recursively.
func (c *Client) Mkdir(path string) error {
	_, err := c.simpleCommand("MKDIR", path)
	return err
}

// Rmdir removes a directory recursively.
func (c *Client) Rmdir(path string) error {
	_, err := c.simpleCommand("RMDIR", path)
	return err
}

// Delete removes a file.
func (c *Client) Delete(path string) error {
	_, err := c.simpleCommand("DELETE", path)
	return err
}

// Move renames/moves src to dst.
func (c *Client) Move(src, dst string) error {
	_, err := c.simpleCommand("MOVE", src, dst)
	return err
}

// Copy recursively copies src to dst.
func (c *Client) Copy(src, dst string) error {
	_, err := c.simpleCommand("COPY", src, dst)
	return err
}

// Exit requests session teardown.
func (c *Client) Exit() error {
	return protocol.SendMsg(c.conn, "EXIT")
}

func (c *Client) simpleCommand(parts ...string) (string, error) {
	reply, err := c.sendCommand(parts...)
	if err != nil {
		return "", err
	}
	return parseReply(reply)
}

// Upload stats localPath, announces the transfer, and streams it in chunks
// once the server replies READY. remoteName may be empty to use localPath's
// base name.
func (c *Client) Upload(localPath, remoteName string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", localPath, err)
	}

	return c.uploadFrom(f, info.Size(), 0, localPath, remoteName)
}

// ResumeUpload continues an interrupted upload from the offset the server
// reported in a ResumeOffer.
func (c *Client) ResumeUpload(localPath string, offer *ResumeOffer) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", localPath, err)
	}
	if _, err := f.Seek(offer.BytesCompleted, os.SEEK_SET); err != nil {
		return "", fmt.Errorf("seek %s: %w", localPath, err)
	}

	if err := c.AcceptResume(true); err != nil {
		return "", err
	}
	return c.streamUpload(f, info.Size()-offer.BytesCompleted)
}

func (c *Client) uploadFrom(f *os.File, size, _ int64, localPath, remoteName string) (string, error) {
	reply, err := c.sendCommand("UPLOAD", strconv.FormatInt(size, 10), localPath, remoteName)
	if err != nil {
		return "", err
	}
	if reply != "READY" {
		return "", apperr.New(apperr.KindUnknownResponse, "expected READY, got %q", reply)
	}
	return c.streamUpload(f, size)
}

// streamUpload pushes the remainder of f to the wire in chunkSize pieces
// and returns the server's final reply body.
func (c *Client) streamUpload(f *os.File, remaining int64) (string, error) {
	buf := make([]byte, c.chunkSize)
	for remaining > 0 {
		toSend := int64(len(buf))
		if remaining < toSend {
			toSend = remaining
		}
		n, err := f.Read(buf[:toSend])
		if n > 0 {
			if _, werr := c.conn.Write(buf[:n]); werr != nil {
				return "", apperr.New(apperr.KindSendFailed, "send failed: %v", werr)
			}
			remaining -= int64(n)
		}
		if err != nil && remaining > 0 {
			return "", fmt.Errorf("read %s: %w", f.Name(), err)
		}
	}

	reply, err := protocol.RecvMsg(c.reader)
	if err != nil {
		return "", err
	}
	return parseReply(reply)
}

// Download requests remotePath and writes it to <base>.part locally,
// renaming to its final name on completion. It returns the local path
// written. The download is journaled locally so a later PendingDownloads
// call can resume it if this process never reaches completion.
func (c *Client) Download(remotePath string) (string, error) {
	reply, err := c.sendCommand("DOWNLOAD", remotePath)
	if err != nil {
		return "", err
	}
	remoteAbs, size, err := parseFileInfo(reply)
	if err != nil {
		return "", err
	}
	localName := baseName(remoteAbs)
	if err := journal.Add(c.downloadDir, journal.Transfer{
		LocalPath:      localName,
		RemotePath:     remoteAbs,
		BytesCompleted: 0,
		TotalBytes:     size,
		Timestamp:      time.Now().Unix(),
	}); err != nil {
		return "", err
	}
	return localName, c.receiveInto(localName, remoteAbs, size, 0)
}

// ResumeDownload asks the server to resume remotePath at offset bytes and
// appends the rest to the local ".part" file. offset normally comes from a
// server-side upload-resume offer's counterpart download, or from this
// Client's own journal via PendingDownloads.
func (c *Client) ResumeDownload(remotePath string, offset int64) error {
	if err := protocol.SendMsg(c.conn, "RESUME "+remotePath+" "+strconv.FormatInt(offset, 10)); err != nil {
		return err
	}
	return c.receiveInto(baseName(remotePath), remotePath, -1, offset)
}

// PendingDownloads reports downloads this Client's local journal still
// shows as unfinished, most likely left over from a process that exited or
// lost its connection mid-transfer. The caller issues ResumeDownload for
// whichever of these it wants to continue.
func (c *Client) PendingDownloads() ([]ResumeOffer, error) {
	transfers, err := journal.Active(c.downloadDir)
	if err != nil {
		return nil, err
	}
	offers := make([]ResumeOffer, 0, len(transfers))
	for _, t := range transfers {
		offers = append(offers, ResumeOffer{
			LocalPath:      t.LocalPath,
			RemotePath:     t.RemotePath,
			BytesCompleted: t.BytesCompleted,
		})
	}
	return offers, nil
}

// DiscardDownload drops offer from the local journal without resuming it,
// leaving its ".part" file in place for the caller to deal with directly.
func (c *Client) DiscardDownload(offer ResumeOffer) error {
	return journal.Remove(c.downloadDir, offer.LocalPath)
}

func parseFileInfo(reply string) (path string, size int64, err error) {
	fields := strings.Fields(reply)
	if len(fields) != 3 || fields[0] != "FILEINFO" {
		return "", 0, apperr.New(apperr.KindUnknownResponse, "expected FILEINFO, got %q", reply)
	}
	size, err = strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return "", 0, apperr.New(apperr.KindUnknownResponse, "malformed FILEINFO size: %q", reply)
	}
	return fields[1], size, nil
}

func baseName(p string) string {
	if i := strings.LastIndexAny(p, "/\\"); i >= 0 {
		return p[i+1:]
	}
	return p
}

// receiveInto streams raw bytes from the wire into <localName>.part at
// offset, renaming to localName when total reaches size (if known). It
// keeps this Client's local journal entry for remotePath up to date as
// bytes arrive, and removes it once the file lands at its final name.
func (c *Client) receiveInto(localName, remotePath string, size, offset int64) error {
	partPath := localName + ".part"
	f, err := os.OpenFile(partPath, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", partPath, err)
	}
	defer f.Close()

	buf := make([]byte, c.chunkSize)
	written := offset
	for size < 0 || written < size {
		n, err := c.reader.Read(buf)
		if n > 0 {
			if _, werr := f.WriteAt(buf[:n], written); werr != nil {
				return fmt.Errorf("write %s: %w", partPath, werr)
			}
			written += int64(n)
			if jerr := journal.Update(c.downloadDir, remotePath, written); jerr != nil {
				return jerr
			}
		}
		if err != nil {
			if size < 0 {
				break // unknown-length resume stream: EOF marks completion
			}
			return apperr.New(apperr.KindRecvFailed, "recv failed: %v", err)
		}
	}

	f.Close()
	if err := os.Rename(partPath, localName); err != nil {
		return err
	}
	return journal.Remove(c.downloadDir, localName)
}
