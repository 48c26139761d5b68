package journal

import (
	"testing"
	"time"
)

func TestAddAndActive(t *testing.T) {
	dir := t.TempDir()
	tr := Transfer{LocalPath: "photo.jpg", RemotePath: "/srv/alice/photo.jpg.part", TotalBytes: 1024, Timestamp: time.Now().Unix()}

	if err := Add(dir, tr); err != nil {
		t.Fatalf("Add: %v", err)
	}

	active, err := Active(dir)
	if err != nil {
		t.Fatalf("Active: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("len(active) = %d, want 1", len(active))
	}
	if active[0] != tr {
		t.Fatalf("active[0] = %+v, want %+v", active[0], tr)
	}
}

func TestUpdateIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	tr := Transfer{LocalPath: "photo.jpg", RemotePath: "/srv/alice/photo.jpg.part", TotalBytes: 1024, Timestamp: time.Now().Unix()}
	if err := Add(dir, tr); err != nil {
		t.Fatalf("Add: %v", err)
	}

	if err := Update(dir, tr.RemotePath, 512); err != nil {
		t.Fatalf("first Update: %v", err)
	}
	if err := Update(dir, tr.RemotePath, 512); err != nil {
		t.Fatalf("second Update: %v", err)
	}

	active, err := Active(dir)
	if err != nil {
		t.Fatalf("Active: %v", err)
	}
	if len(active) != 1 || active[0].BytesCompleted != 512 {
		t.Fatalf("active = %+v, want one record with BytesCompleted=512", active)
	}
}

func TestRemoveDropsByLocalPath(t *testing.T) {
	dir := t.TempDir()
	tr := Transfer{LocalPath: "photo.jpg", RemotePath: "/srv/alice/photo.jpg.part", TotalBytes: 1024, Timestamp: time.Now().Unix()}
	if err := Add(dir, tr); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := Remove(dir, tr.LocalPath); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	active, err := Active(dir)
	if err != nil {
		t.Fatalf("Active: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("active = %+v, want none", active)
	}
}

func TestClearEvictsStaleEntries(t *testing.T) {
	dir := t.TempDir()
	stale := Transfer{
		LocalPath:  "old.jpg",
		RemotePath: "/srv/alice/old.jpg.part",
		TotalBytes: 100,
		Timestamp:  time.Now().Add(-2 * Timeout).Unix(),
	}
	fresh := Transfer{
		LocalPath:  "new.jpg",
		RemotePath: "/srv/alice/new.jpg.part",
		TotalBytes: 100,
		Timestamp:  time.Now().Unix(),
	}

	if err := Add(dir, stale); err != nil {
		t.Fatalf("Add stale: %v", err)
	}
	if err := Add(dir, fresh); err != nil {
		t.Fatalf("Add fresh: %v", err)
	}

	active, err := Active(dir)
	if err != nil {
		t.Fatalf("Active: %v", err)
	}
	if len(active) != 1 || active[0].LocalPath != fresh.LocalPath {
		t.Fatalf("active = %+v, want only the fresh entry", active)
	}
}

func TestActiveOnEmptyJournal(t *testing.T) {
	dir := t.TempDir()
	active, err := Active(dir)
	if err != nil {
		t.Fatalf("Active: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("active = %+v, want none", active)
	}
}
