package filelocks

import "testing"

func TestLockUnlockBasic(t *testing.T) {
	tbl := New()
	const p = "/srv/alice/report.txt"

	if tbl.IsLocked(p) {
		t.Fatal("fresh table should report unlocked")
	}
	tbl.Lock(p)
	if !tbl.IsLocked(p) {
		t.Fatal("expected locked after Lock")
	}
	tbl.Unlock(p)
	if tbl.IsLocked(p) {
		t.Fatal("expected unlocked after matching Unlock")
	}
}

func TestConcurrentReadersCoexist(t *testing.T) {
	tbl := New()
	const p = "/srv/alice/report.txt"

	tbl.Lock(p)
	tbl.Lock(p)
	tbl.Unlock(p)
	if !tbl.IsLocked(p) {
		t.Fatal("path should remain locked while one reader is still active")
	}
	tbl.Unlock(p)
	if tbl.IsLocked(p) {
		t.Fatal("path should unlock once every reader has released it")
	}
}

func TestUnlockWithoutLockIsSafe(t *testing.T) {
	tbl := New()
	tbl.Unlock("/never/locked")
	if tbl.IsLocked("/never/locked") {
		t.Fatal("unlocking an unlocked path should not lock it")
	}
}
