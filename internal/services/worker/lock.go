package worker

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// ErrLockHeld means another worker process holds the single-instance lock
var ErrLockHeld = errors.New("another worker holds the lock file")

// AcquireLock takes the worker's single-instance lock. The returned function
// releases it.
func AcquireLock(path string) (func(), error) {
	if path == "" {
		return func() {}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	lock := flock.New(path)
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrLockHeld, path)
	}
	return func() { _ = lock.Unlock() }, nil
}

// LockHeld reports whether some process currently holds the lock at path
func LockHeld(path string) bool {
	if path == "" {
		return false
	}
	if _, err := os.Stat(path); err != nil {
		return false
	}
	candidate := flock.New(path)
	locked, err := candidate.TryLock()
	if err != nil {
		return false
	}
	if locked {
		_ = candidate.Unlock()
		return false
	}
	return true
}
