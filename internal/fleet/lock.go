package fleet

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const lockFileName = "paraglider-sim.lock"

// ErrLockHeld means another emulator instance is already running on
// this host. The wrapped message names the lock path and owner pid.
var ErrLockHeld = errors.New("another emulator instance holds the lock")

// Lock is a host-wide single-instance guard. Only one emulator may run
// per machine so accidental double launches cannot double the fleet.
type Lock struct {
	path string
}

// AcquireLock creates the lock file exclusively, recording our pid.
func AcquireLock() (*Lock, error) {
	path := filepath.Join(os.TempDir(), lockFileName)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			owner := "unknown"
			if data, readErr := os.ReadFile(path); readErr == nil {
				owner = strings.TrimSpace(string(data))
			}
			return nil, fmt.Errorf("%w: %s (pid %s); remove the file if that process is gone",
				ErrLockHeld, path, owner)
		}
		return nil, fmt.Errorf("create lock file: %w", err)
	}
	if _, err := f.WriteString(strconv.Itoa(os.Getpid())); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("write lock file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return nil, err
	}
	return &Lock{path: path}, nil
}

// Release removes the lock file. Safe to call more than once.
func (l *Lock) Release() {
	if l == nil || l.path == "" {
		return
	}
	os.Remove(l.path)
	l.path = ""
}
