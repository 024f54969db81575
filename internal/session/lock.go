package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/Iron-Ham/sessiond/internal/errors"
	"github.com/Iron-Ham/sessiond/internal/logging"
)

// LockFileName is the name of the lock file within the store directory.
const LockFileName = ".lock"

// StoreLock marks a store directory as owned by one running server, so no two
// processes hold live sessions for the same records.
type StoreLock struct {
	PID       int       `json:"pid"`
	Hostname  string    `json:"hostname"`
	StartedAt time.Time `json:"started_at"`

	path   string
	logger *logging.Logger
}

// AcquireStoreLock takes the lock on dir. It fails with an error matching
// errors.ErrStoreLocked if a live process holds it. A lock left behind by a
// dead process is reclaimed. The logger may be nil.
func AcquireStoreLock(dir string, logger *logging.Logger) (*StoreLock, error) {
	if logger == nil {
		logger = logging.NopLogger()
	}
	path := filepath.Join(dir, LockFileName)

	if existing, err := ReadStoreLock(path); err == nil {
		if isProcessAlive(existing.PID) {
			return nil, fmt.Errorf("%w: PID %d on %s", errors.ErrStoreLocked, existing.PID, existing.Hostname)
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("remove stale store lock: %w", err)
		}
		logger.Warn("stale store lock cleaned", "dir", dir, "old_pid", existing.PID)
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	lock := &StoreLock{
		PID:       os.Getpid(),
		Hostname:  hostname,
		StartedAt: time.Now(),
		path:      path,
		logger:    logger,
	}
	data, err := json.MarshalIndent(lock, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal store lock: %w", err)
	}

	// O_EXCL loses the race cleanly if another process created the file
	// since the check above.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if os.IsExist(err) {
			if existing, readErr := ReadStoreLock(path); readErr == nil {
				return nil, fmt.Errorf("%w: PID %d on %s", errors.ErrStoreLocked, existing.PID, existing.Hostname)
			}
			return nil, errors.ErrStoreLocked
		}
		return nil, fmt.Errorf("create store lock: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("write store lock: %w", err)
	}

	logger.Info("store lock acquired", "dir", dir, "pid", lock.PID)
	return lock, nil
}

// Release removes the lock file if this process still owns it. Safe to call
// more than once.
func (l *StoreLock) Release() error {
	if l == nil || l.path == "" {
		return nil
	}
	existing, err := ReadStoreLock(l.path)
	if err != nil || existing.PID != l.PID {
		return nil
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	if l.logger != nil {
		l.logger.Info("store lock released", "path", l.path)
	}
	return nil
}

// ReadStoreLock reads a lock file.
func ReadStoreLock(path string) (*StoreLock, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var lock StoreLock
	if err := json.Unmarshal(data, &lock); err != nil {
		return nil, fmt.Errorf("parse store lock: %w", err)
	}
	lock.path = path
	return &lock, nil
}

// IsStoreLocked reports whether a live process holds the lock on dir. The
// lock info is returned even when it is stale.
func IsStoreLocked(dir string) (*StoreLock, bool) {
	lock, err := ReadStoreLock(filepath.Join(dir, LockFileName))
	if err != nil {
		return nil, false
	}
	return lock, isProcessAlive(lock.PID)
}

// isProcessAlive checks if a process with the given PID is still running.
func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// Signal 0 checks existence without affecting the process.
	return process.Signal(syscall.Signal(0)) == nil
}
