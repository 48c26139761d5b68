// Package protocol implements the wire framing shared by every message on
// the control connection: an ASCII decimal length, one space, then exactly
// that many payload bytes. File bytes during a transfer are sent raw, with
// no length prefix of their own: the UPLOAD command's size argument or the
// FILEINFO reply announces how many bytes follow.
//
// Length-prefixing removes any delimiter-parsing ambiguity and lets payloads
// contain arbitrary bytes, including newlines; the "OK\n" convention used by
// session replies is a readability aid, not a second delimiter.
package protocol

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"os"
	"strconv"

	"github.com/gonzalop/minidrive/internal/apperr"
)

// MaxFrameLength caps a control message's declared length as a sanity
// bound; the protocol itself places no upper bound on frame size.
const MaxFrameLength = 64 << 20 // 64 MiB

// DefaultChunkSize is TMP_BUFF_SIZE: the bounded amount of file data moved
// per reactor iteration, in either direction.
const DefaultChunkSize = 64 * 1024

// ErrWouldBlock is returned by a non-blocking connection's Read or Write
// when no data is available, or no send-buffer space is available, right
// now. Framer and the chunk-transfer functions below treat it as "nothing
// to do this tick, try again once the reactor says this descriptor is
// ready" rather than as a reason to tear down the session.
var ErrWouldBlock = errors.New("protocol: would block")

// RecvMsg reads one framed message from r: decimal digits up to a single
// space, then exactly that many bytes. It blocks until the whole frame has
// arrived, which is fine for a synchronous, one-connection-per-process
// caller (the client) but not for a single-threaded reactor driving many
// sessions at once — that side uses Framer instead.
func RecvMsg(r *bufio.Reader) (string, error) {
	length, err := readLength(r)
	if err != nil {
		return "", err
	}
	if length > MaxFrameLength {
		return "", apperr.New(apperr.KindRecvFailed, "frame length %d exceeds maximum %d", length, MaxFrameLength)
	}

	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", wrapRecvErr(err)
	}
	return string(buf), nil
}

func readLength(r *bufio.Reader) (int, error) {
	var digits []byte
	for {
		b, err := r.ReadByte()
		if err != nil {
			return 0, wrapRecvErr(err)
		}
		if b == ' ' {
			break
		}
		if b < '0' || b > '9' {
			return 0, apperr.New(apperr.KindRecvFailed, "malformed frame length prefix")
		}
		digits = append(digits, b)
		if len(digits) > 20 {
			return 0, apperr.New(apperr.KindRecvFailed, "frame length prefix too long")
		}
	}
	if len(digits) == 0 {
		return 0, apperr.New(apperr.KindRecvFailed, "empty frame length prefix")
	}
	n, err := strconv.Atoi(string(digits))
	if err != nil {
		return 0, apperr.New(apperr.KindRecvFailed, "invalid frame length prefix: %v", err)
	}
	return n, nil
}

func wrapRecvErr(err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return apperr.New(apperr.KindConnectionClosed, "connection closed by peer")
	}
	return apperr.New(apperr.KindRecvFailed, "recv failed: %v", err)
}

// SendMsg writes a single framed message: decimal length, space, payload.
// Short writes are retried until the whole frame is on the wire.
func SendMsg(w io.Writer, s string) error {
	frame := append(strconv.AppendInt(nil, int64(len(s)), 10), ' ')
	frame = append(frame, s...)
	return writeFull(w, frame)
}

// writeFull writes all of buf to w, looping past short writes.
func writeFull(w io.Writer, buf []byte) error {
	for len(buf) > 0 {
		n, err := w.Write(buf)
		if err != nil {
			return apperr.New(apperr.KindSendFailed, "send failed: %v", err)
		}
		buf = buf[n:]
	}
	return nil
}

// Framer incrementally assembles length-prefixed control messages from a
// connection that reports ErrWouldBlock instead of blocking when no data
// is ready. Unlike RecvMsg, TryMessage performs at most one underlying
// Read per call and remembers whatever partial frame it has parsed so
// far, so a caller driven by a single-threaded reactor's readiness
// notifications never blocks past one bounded step. The same buffered
// bytes double as the source for raw chunk transfers via Read, since the
// start of a chunk stream (or the next frame) may already have arrived in
// the same underlying read as the frame that preceded it.
type Framer struct {
	r   io.Reader
	buf []byte
}

// NewFramer wraps r, which must return ErrWouldBlock instead of blocking
// when no bytes are currently available.
func NewFramer(r io.Reader) *Framer {
	return &Framer{r: r}
}

// TryMessage attempts to assemble one complete framed message. ok is false
// when the frame is not fully buffered yet (including when the connection
// simply has nothing to offer this tick); the caller should wait for the
// next readiness notification and call TryMessage again.
func (f *Framer) TryMessage() (msg string, ok bool, err error) {
	if msg, ok, err := f.extract(); ok || err != nil {
		return msg, ok, err
	}

	scratch := make([]byte, 4096)
	n, err := f.r.Read(scratch)
	if err != nil {
		if errors.Is(err, ErrWouldBlock) {
			return "", false, nil
		}
		return "", false, wrapRecvErr(err)
	}
	f.buf = append(f.buf, scratch[:n]...)
	return f.extract()
}

// extract pulls one complete frame out of the bytes buffered so far, if
// one is present.
func (f *Framer) extract() (string, bool, error) {
	sp := bytes.IndexByte(f.buf, ' ')
	if sp < 0 {
		if len(f.buf) > 20 {
			return "", false, apperr.New(apperr.KindRecvFailed, "frame length prefix too long")
		}
		return "", false, nil
	}
	digits := f.buf[:sp]
	if len(digits) == 0 {
		return "", false, apperr.New(apperr.KindRecvFailed, "empty frame length prefix")
	}
	for _, b := range digits {
		if b < '0' || b > '9' {
			return "", false, apperr.New(apperr.KindRecvFailed, "malformed frame length prefix")
		}
	}
	length, err := strconv.Atoi(string(digits))
	if err != nil {
		return "", false, apperr.New(apperr.KindRecvFailed, "invalid frame length prefix: %v", err)
	}
	if length > MaxFrameLength {
		return "", false, apperr.New(apperr.KindRecvFailed, "frame length %d exceeds maximum %d", length, MaxFrameLength)
	}

	need := sp + 1 + length
	if len(f.buf) < need {
		return "", false, nil
	}
	msg := string(f.buf[sp+1 : need])
	left := len(f.buf) - need
	copy(f.buf, f.buf[need:])
	f.buf = f.buf[:left]
	return msg, true, nil
}

// Read implements io.Reader for raw chunk transfer: it drains any bytes
// TryMessage already buffered before issuing a fresh read, so a chunk that
// arrived in the same packet as the frame announcing it isn't lost.
func (f *Framer) Read(p []byte) (int, error) {
	if len(f.buf) > 0 {
		n := copy(p, f.buf)
		left := len(f.buf) - n
		copy(f.buf, f.buf[n:])
		f.buf = f.buf[:left]
		return n, nil
	}
	return f.r.Read(p)
}

// SendFileChunk reads up to max bytes from stream and attempts to write
// them to w, returning the number of bytes confirmed written. If w
// reports ErrWouldBlock partway through, the unsent suffix of what was
// read is returned in pending: the caller must retry it via SendPending
// on the next writable notification rather than reading fresh bytes from
// stream, which would otherwise skip data.
func SendFileChunk(w io.Writer, stream io.Reader, max int) (sent int, pending []byte, err error) {
	buf := make([]byte, max)
	n, rerr := stream.Read(buf)
	if rerr != nil && rerr != io.EOF {
		return 0, nil, apperr.New(apperr.KindSendFailed, "read file for send: %v", rerr)
	}
	if n == 0 {
		return 0, nil, nil
	}
	return SendPending(w, buf[:n])
}

// SendPending writes a byte slice previously returned as SendFileChunk's
// pending value (or sends a chunk directly), tolerating ErrWouldBlock by
// returning whatever was written plus the still-unsent remainder.
func SendPending(w io.Writer, buf []byte) (sent int, pending []byte, err error) {
	n, werr := w.Write(buf)
	if werr != nil {
		if errors.Is(werr, ErrWouldBlock) {
			return n, buf[n:], nil
		}
		return n, nil, apperr.New(apperr.KindSendFailed, "send failed: %v", werr)
	}
	return n, nil, nil
}

// RecvFileChunk reads up to max raw bytes from r and appends them to path
// at byte offset, returning the count written. A would-block read reports
// zero bytes and no error: the caller simply has nothing to do this tick.
func RecvFileChunk(r io.Reader, path string, offset int64, max int) (int, error) {
	buf := make([]byte, max)
	n, err := r.Read(buf)
	if err != nil {
		if errors.Is(err, ErrWouldBlock) {
			return 0, nil
		}
		if n == 0 {
			return 0, wrapRecvErr(err)
		}
	}
	if n == 0 {
		return 0, nil
	}

	f, operr := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if operr != nil {
		return 0, apperr.New(apperr.KindFileOpenFailed, "open %s for writing: %v", path, operr)
	}
	defer f.Close()

	if _, werr := f.WriteAt(buf[:n], offset); werr != nil {
		return 0, apperr.New(apperr.KindFileWriteFailed, "write %s at offset %d: %v", path, offset, werr)
	}
	return n, nil
}
