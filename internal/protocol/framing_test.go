package protocol

import (
	"bufio"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gonzalop/minidrive/internal/apperr"
)

func TestSendRecvRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := SendMsg(&buf, "OK\nhello world"); err != nil {
		t.Fatalf("SendMsg: %v", err)
	}

	got, err := RecvMsg(bufio.NewReader(&buf))
	if err != nil {
		t.Fatalf("RecvMsg: %v", err)
	}
	if got != "OK\nhello world" {
		t.Fatalf("RecvMsg = %q, want %q", got, "OK\nhello world")
	}
}

func TestSendRecvPreservesEmbeddedNewlines(t *testing.T) {
	var buf bytes.Buffer
	payload := "line one\nline two\nline three"
	if err := SendMsg(&buf, payload); err != nil {
		t.Fatalf("SendMsg: %v", err)
	}
	got, err := RecvMsg(bufio.NewReader(&buf))
	if err != nil {
		t.Fatalf("RecvMsg: %v", err)
	}
	if got != payload {
		t.Fatalf("RecvMsg = %q, want %q", got, payload)
	}
}

func TestRecvMsgEmptyStreamIsConnectionClosed(t *testing.T) {
	_, err := RecvMsg(bufio.NewReader(strings.NewReader("")))
	if apperr.As(err).Kind != apperr.KindConnectionClosed {
		t.Fatalf("Kind = %v, want %v", apperr.As(err).Kind, apperr.KindConnectionClosed)
	}
}

func TestRecvMsgMalformedLengthPrefix(t *testing.T) {
	_, err := RecvMsg(bufio.NewReader(strings.NewReader("abc 123")))
	if apperr.As(err).Kind != apperr.KindRecvFailed {
		t.Fatalf("Kind = %v, want %v", apperr.As(err).Kind, apperr.KindRecvFailed)
	}
}

func TestRecvMsgExceedsMaxFrameLength(t *testing.T) {
	huge := "99999999999999 x"
	_, err := RecvMsg(bufio.NewReader(strings.NewReader(huge)))
	if apperr.As(err).Kind != apperr.KindRecvFailed {
		t.Fatalf("Kind = %v, want %v", apperr.As(err).Kind, apperr.KindRecvFailed)
	}
}

func TestSendFileChunkBoundsToMax(t *testing.T) {
	var out bytes.Buffer
	n, pending, err := SendFileChunk(&out, strings.NewReader("0123456789"), 4)
	if err != nil {
		t.Fatalf("SendFileChunk: %v", err)
	}
	if n != 4 {
		t.Fatalf("n = %d, want 4", n)
	}
	if len(pending) != 0 {
		t.Fatalf("pending = %q, want none", pending)
	}
	if out.String() != "0123" {
		t.Fatalf("out = %q, want %q", out.String(), "0123")
	}
}

// blockingOnceWriter returns ErrWouldBlock after writing n bytes, the one
// time wouldBlock is true; later writes succeed in full.
type blockingOnceWriter struct {
	out        bytes.Buffer
	n          int
	wouldBlock bool
	fired      bool
}

func (w *blockingOnceWriter) Write(p []byte) (int, error) {
	if w.wouldBlock && !w.fired {
		w.fired = true
		n := w.n
		if n > len(p) {
			n = len(p)
		}
		w.out.Write(p[:n])
		return n, ErrWouldBlock
	}
	return w.out.Write(p)
}

func TestSendFileChunkSurfacesUnsentSuffixOnWouldBlock(t *testing.T) {
	w := &blockingOnceWriter{n: 3, wouldBlock: true}
	n, pending, err := SendFileChunk(w, strings.NewReader("0123456789"), 6)
	if err != nil {
		t.Fatalf("SendFileChunk: %v", err)
	}
	if n != 3 {
		t.Fatalf("n = %d, want 3", n)
	}
	if string(pending) != "345" {
		t.Fatalf("pending = %q, want %q", pending, "345")
	}
	if w.out.String() != "012" {
		t.Fatalf("out = %q, want %q", w.out.String(), "012")
	}

	n2, pending2, err := SendPending(w, pending)
	if err != nil {
		t.Fatalf("SendPending: %v", err)
	}
	if n2 != 3 || len(pending2) != 0 {
		t.Fatalf("n2 = %d, pending2 = %q, want 3, none", n2, pending2)
	}
	if w.out.String() != "012345" {
		t.Fatalf("out after retry = %q, want %q", w.out.String(), "012345")
	}
}

// blockingOnceReader returns ErrWouldBlock on its first Read, then serves p.
type blockingOnceReader struct {
	data  []byte
	fired bool
}

func (r *blockingOnceReader) Read(p []byte) (int, error) {
	if !r.fired {
		r.fired = true
		return 0, ErrWouldBlock
	}
	n := copy(p, r.data)
	return n, io.EOF
}

func TestRecvFileChunkWouldBlockReportsZeroWithoutError(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "upload.part")
	r := &blockingOnceReader{}

	n, err := RecvFileChunk(r, target, 0, 5)
	if err != nil {
		t.Fatalf("RecvFileChunk: %v", err)
	}
	if n != 0 {
		t.Fatalf("n = %d, want 0", n)
	}
	if _, err := os.Stat(target); !os.IsNotExist(err) {
		t.Fatalf("expected no file to be created on a would-block read, stat err = %v", err)
	}
}

func TestFramerAssemblesMessageAcrossPartialReads(t *testing.T) {
	parts := [][]byte{[]byte("5 hel"), []byte("lo")}
	f := NewFramer(&scriptedReader{parts: parts})

	msg, ok, err := f.TryMessage()
	if err != nil {
		t.Fatalf("TryMessage (1): %v", err)
	}
	if ok {
		t.Fatal("expected ok=false before the whole frame has arrived")
	}

	msg, ok, err = f.TryMessage()
	if err != nil {
		t.Fatalf("TryMessage (2): %v", err)
	}
	if !ok || msg != "hello" {
		t.Fatalf("msg = %q, ok = %v, want %q, true", msg, ok, "hello")
	}
}

func TestFramerTryMessageNonBlockingOnWouldBlock(t *testing.T) {
	f := NewFramer(&blockingOnceReader{})
	msg, ok, err := f.TryMessage()
	if err != nil || ok || msg != "" {
		t.Fatalf("TryMessage = (%q, %v, %v), want (\"\", false, nil)", msg, ok, err)
	}
}

func TestFramerReadDrainsBufferedBytesBeforeUnderlyingReader(t *testing.T) {
	// Simulate a chunk's first bytes arriving in the same read as the frame
	// announcing it: TryMessage buffers "5 helloXY" but only consumes "5 hello".
	f := NewFramer(&scriptedReader{parts: [][]byte{[]byte("5 helloXY")}})
	if _, ok, err := f.TryMessage(); err != nil || !ok {
		t.Fatalf("TryMessage: ok=%v err=%v", ok, err)
	}

	buf := make([]byte, 2)
	n, err := f.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if n != 2 || string(buf) != "XY" {
		t.Fatalf("Read = %q, want %q", buf[:n], "XY")
	}
}

// scriptedReader serves one []byte per Read call, then io.EOF.
type scriptedReader struct {
	parts [][]byte
	i     int
}

func (r *scriptedReader) Read(p []byte) (int, error) {
	if r.i >= len(r.parts) {
		return 0, io.EOF
	}
	n := copy(p, r.parts[r.i])
	r.i++
	return n, nil
}

func TestRecvFileChunkWritesAtOffset(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "upload.part")

	n, err := RecvFileChunk(strings.NewReader("hello"), target, 0, 5)
	if err != nil {
		t.Fatalf("RecvFileChunk (first): %v", err)
	}
	if n != 5 {
		t.Fatalf("n = %d, want 5", n)
	}

	n, err = RecvFileChunk(strings.NewReader(" world"), target, 5, 6)
	if err != nil {
		t.Fatalf("RecvFileChunk (second): %v", err)
	}
	if n != 6 {
		t.Fatalf("n = %d, want 6", n)
	}

	data, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "hello world" {
		t.Fatalf("file contents = %q, want %q", string(data), "hello world")
	}
}
