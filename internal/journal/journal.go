// Package journal implements the per-user transfer journal: a text file,
// one in-flight upload or download per line, colon-separated, that survives
// a disconnect so a later session can resume.
package journal

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gonzalop/minidrive/internal/apperr"
)

// Timeout is the age past which a journal entry is evicted (TRANSFER_TIMEOUT).
const Timeout = 60 * time.Minute

const stateFile = ".transfers_state"

// Transfer is one in-flight upload or download record.
type Transfer struct {
	LocalPath      string
	RemotePath     string
	BytesCompleted int64
	TotalBytes     int64
	Timestamp      int64 // unix seconds
}

func (t Transfer) line() string {
	return fmt.Sprintf("%s:%s:%d:%d:%d", t.LocalPath, t.RemotePath, t.BytesCompleted, t.TotalBytes, t.Timestamp)
}

func parseLine(line string) (Transfer, bool) {
	fields := strings.Split(line, ":")
	if len(fields) != 5 {
		return Transfer{}, false
	}
	bytesCompleted, err1 := strconv.ParseInt(fields[2], 10, 64)
	totalBytes, err2 := strconv.ParseInt(fields[3], 10, 64)
	ts, err3 := strconv.ParseInt(fields[4], 10, 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return Transfer{}, false
	}
	return Transfer{
		LocalPath:      fields[0],
		RemotePath:     fields[1],
		BytesCompleted: bytesCompleted,
		TotalBytes:     totalBytes,
		Timestamp:      ts,
	}, true
}

func path(userDir string) string {
	return filepath.Join(userDir, stateFile)
}

func readLines(userDir string) ([]string, error) {
	f, err := os.Open(path(userDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, apperr.New(apperr.KindFileOpenFailed, "open transfers journal: %v", err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, apperr.New(apperr.KindFileOpenFailed, "read transfers journal: %v", err)
	}
	return lines, nil
}

func writeLines(userDir string, lines []string) error {
	f, err := os.Create(path(userDir))
	if err != nil {
		return apperr.New(apperr.KindFileWriteFailed, "write transfers journal: %v", err)
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	for _, l := range lines {
		if _, err := w.WriteString(l + "\n"); err != nil {
			return apperr.New(apperr.KindFileWriteFailed, "write transfers journal: %v", err)
		}
	}
	return w.Flush()
}

// Add appends a transfer record, then evicts any already-stale entries.
// A per-add timer thread has nowhere safe to run in a single-threaded
// reactor without its own lock, so entries are instead garbage-collected
// here and on every session start (see Clear).
func Add(userDir string, t Transfer) error {
	f, err := os.OpenFile(path(userDir), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return apperr.New(apperr.KindFileOpenFailed, "open transfers journal: %v", err)
	}
	_, werr := f.WriteString(t.line() + "\n")
	cerr := f.Close()
	if werr != nil {
		return apperr.New(apperr.KindFileWriteFailed, "append transfer record: %v", werr)
	}
	if cerr != nil {
		return apperr.New(apperr.KindFileWriteFailed, "close transfers journal: %v", cerr)
	}
	return Clear(userDir)
}

// Update rewrites the BytesCompleted field of the record matching
// remotePath. Malformed lines are dropped rather than rewritten verbatim.
// Applying Update twice with the same arguments is idempotent.
func Update(userDir, remotePath string, bytes int64) error {
	lines, err := readLines(userDir)
	if err != nil {
		return err
	}
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		t, ok := parseLine(l)
		if !ok {
			continue
		}
		if t.RemotePath == remotePath {
			t.BytesCompleted = bytes
		}
		out = append(out, t.line())
	}
	return writeLines(userDir, out)
}

// Remove drops the record for localPath.
func Remove(userDir, localPath string) error {
	lines, err := readLines(userDir)
	if err != nil {
		return err
	}
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		t, ok := parseLine(l)
		if !ok {
			out = append(out, l) // keep unparsable lines verbatim, as Remove only filters by path
			continue
		}
		if t.LocalPath == localPath {
			continue
		}
		out = append(out, l)
	}
	return writeLines(userDir, out)
}

// Active returns every well-formed transfer record. It does not check
// expiry; stale entries are evicted by Clear.
func Active(userDir string) ([]Transfer, error) {
	lines, err := readLines(userDir)
	if err != nil {
		return nil, err
	}
	var transfers []Transfer
	for _, l := range lines {
		if t, ok := parseLine(l); ok {
			transfers = append(transfers, t)
		}
	}
	return transfers, nil
}

// Clear drops every entry whose Timestamp+Timeout has already passed.
func Clear(userDir string) error {
	lines, err := readLines(userDir)
	if err != nil {
		return err
	}
	if lines == nil {
		return nil
	}
	now := time.Now().Unix()
	timeoutSec := int64(Timeout / time.Second)

	out := make([]string, 0, len(lines))
	for _, l := range lines {
		t, ok := parseLine(l)
		if !ok {
			continue
		}
		if t.Timestamp+timeoutSec > now {
			out = append(out, t.line())
		}
	}
	return writeLines(userDir, out)
}
