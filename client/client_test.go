package client

import (
	"bufio"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/gonzalop/minidrive/internal/journal"
	"github.com/gonzalop/minidrive/internal/protocol"
)

// newTestServer accepts exactly one connection on a loopback port and hands
// it to handle; the listener and goroutine are cleaned up automatically.
func newTestServer(t *testing.T, handle func(net.Conn)) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { l.Close() })

	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		handle(conn)
	}()
	return l.Addr().String()
}

func TestDownloadJournalsAndClearsOnCompletion(t *testing.T) {
	dir := t.TempDir()
	wd := t.TempDir()
	t.Chdir(wd)

	addr := newTestServer(t, func(conn net.Conn) {
		r := bufio.NewReader(conn)
		if err := protocol.SendMsg(conn, "minidrive 1"); err != nil {
			t.Errorf("send welcome: %v", err)
			return
		}
		if _, err := protocol.RecvMsg(r); err != nil {
			t.Errorf("recv DOWNLOAD: %v", err)
			return
		}
		if err := protocol.SendMsg(conn, "FILEINFO /public/greeting.txt 5"); err != nil {
			t.Errorf("send FILEINFO: %v", err)
			return
		}
		if _, err := conn.Write([]byte("hello")); err != nil {
			t.Errorf("write file bytes: %v", err)
		}
	})

	c, err := Dial(addr, WithDownloadDir(dir))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	local, err := c.Download("greeting.txt")
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if local != "greeting.txt" {
		t.Fatalf("local path = %q, want %q", local, "greeting.txt")
	}

	data, err := os.ReadFile(filepath.Join(wd, "greeting.txt"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "hello" {
		t.Fatalf("downloaded contents = %q, want %q", data, "hello")
	}

	active, err := journal.Active(dir)
	if err != nil {
		t.Fatalf("Active: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("journal still has %d entries after a completed download, want 0", len(active))
	}
}

func TestPendingDownloadsAfterInterruptedTransfer(t *testing.T) {
	dir := t.TempDir()
	wd := t.TempDir()
	t.Chdir(wd)

	addr := newTestServer(t, func(conn net.Conn) {
		r := bufio.NewReader(conn)
		if err := protocol.SendMsg(conn, "minidrive 1"); err != nil {
			t.Errorf("send welcome: %v", err)
			return
		}
		if _, err := protocol.RecvMsg(r); err != nil {
			t.Errorf("recv DOWNLOAD: %v", err)
			return
		}
		if err := protocol.SendMsg(conn, "FILEINFO /public/partial.txt 10"); err != nil {
			t.Errorf("send FILEINFO: %v", err)
			return
		}
		// Write fewer bytes than announced, then drop the connection: the
		// client should be left with a journal entry reflecting exactly
		// what arrived.
		if _, err := conn.Write([]byte("hel")); err != nil {
			t.Errorf("write partial bytes: %v", err)
		}
	})

	c, err := Dial(addr, WithDownloadDir(dir))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	if _, err := c.Download("partial.txt"); err == nil {
		t.Fatal("expected an error from a connection dropped mid-transfer")
	}

	pending, err := c.PendingDownloads()
	if err != nil {
		t.Fatalf("PendingDownloads: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("len(pending) = %d, want 1", len(pending))
	}
	if pending[0].RemotePath != "/public/partial.txt" || pending[0].BytesCompleted != 3 {
		t.Fatalf("pending[0] = %+v, want RemotePath=/public/partial.txt BytesCompleted=3", pending[0])
	}

	if err := c.DiscardDownload(pending[0]); err != nil {
		t.Fatalf("DiscardDownload: %v", err)
	}
	pending, err = c.PendingDownloads()
	if err != nil {
		t.Fatalf("PendingDownloads after discard: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("len(pending) after discard = %d, want 0", len(pending))
	}
}
