package fleet

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

func TestLockSingleInstance(t *testing.T) {
	t.Setenv("TMPDIR", t.TempDir())

	lock, err := AcquireLock()
	if err != nil {
		t.Fatalf("AcquireLock: %v", err)
	}
	defer lock.Release()

	if _, err := AcquireLock(); !errors.Is(err, ErrLockHeld) {
		t.Fatalf("second acquire must fail with ErrLockHeld, got %v", err)
	}

	data, err := os.ReadFile(filepath.Join(os.TempDir(), lockFileName))
	if err != nil {
		t.Fatalf("lock file unreadable: %v", err)
	}
	if string(data) != strconv.Itoa(os.Getpid()) {
		t.Errorf("lock file records pid %q, want ours", data)
	}
}

func TestLockReleaseAllowsReacquire(t *testing.T) {
	t.Setenv("TMPDIR", t.TempDir())

	lock, err := AcquireLock()
	if err != nil {
		t.Fatalf("AcquireLock: %v", err)
	}
	lock.Release()
	lock.Release() // idempotent

	again, err := AcquireLock()
	if err != nil {
		t.Fatalf("reacquire after release: %v", err)
	}
	again.Release()
}
