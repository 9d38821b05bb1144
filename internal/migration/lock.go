package migration

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

// LockInfo is the metadata stored in a project lock file.
type LockInfo struct {
	PID       int       `json:"pid"`
	CreatedAt time.Time `json:"created_at"`
	Cmd       string    `json:"cmd,omitempty"`
}

// LockedError indicates another live process holds the project lock.
type LockedError struct {
	Info *LockInfo // nil if the lock file is unreadable
	Path string
}

func (e *LockedError) Error() string {
	if e.Info != nil {
		return fmt.Sprintf("project is locked by pid %d since %s (lock file: %s)",
			e.Info.PID, e.Info.CreatedAt.Format(time.RFC3339), e.Path)
	}
	return fmt.Sprintf("project is locked (lock file: %s)", e.Path)
}

// Is makes errors.Is(err, ErrMigrationActive) match.
func (e *LockedError) Is(target error) bool { return target == ErrMigrationActive }

// ProjectLock is an exclusive, file-based lock for one project directory.
type ProjectLock struct {
	Path       string
	StaleAfter time.Duration
	Now        func() time.Time
	IsPIDAlive func(pid int) bool
}

// NewProjectLock returns a lock stored at path. Locks older than six hours
// or held by a dead process are considered stale.
func NewProjectLock(path string) *ProjectLock {
	return &ProjectLock{
		Path:       path,
		StaleAfter: 6 * time.Hour,
		Now:        time.Now,
		IsPIDAlive: isPIDAlive,
	}
}

// Lock acquires the lock and returns a function that releases it.
func (l *ProjectLock) Lock(cmd string) (unlock func() error, err error) {
	const maxRetries = 3

	for attempt := 0; attempt < maxRetries; attempt++ {
		if err := os.MkdirAll(filepath.Dir(l.Path), 0o755); err != nil {
			return nil, fmt.Errorf("create lock directory: %w", err)
		}

		f, err := os.OpenFile(l.Path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			data, _ := json.Marshal(LockInfo{PID: os.Getpid(), CreatedAt: l.Now(), Cmd: cmd})
			if _, writeErr := f.Write(data); writeErr != nil {
				f.Close()
				os.Remove(l.Path)
				return nil, fmt.Errorf("write lock file: %w", writeErr)
			}
			if closeErr := f.Close(); closeErr != nil {
				os.Remove(l.Path)
				return nil, fmt.Errorf("close lock file: %w", closeErr)
			}
			return func() error {
				if err := os.Remove(l.Path); err != nil && !os.IsNotExist(err) {
					return err
				}
				return nil
			}, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("create lock file: %w", err)
		}

		info, readErr := l.readInfo()
		if readErr != nil {
			stat, statErr := os.Stat(l.Path)
			if statErr != nil || l.Now().Sub(stat.ModTime()) <= l.StaleAfter {
				return nil, &LockedError{Path: l.Path}
			}
		} else if !l.isStale(info) {
			return nil, &LockedError{Info: info, Path: l.Path}
		}

		if removeErr := os.Remove(l.Path); removeErr != nil && !os.IsNotExist(removeErr) {
			return nil, &LockedError{Info: info, Path: l.Path}
		}
	}

	return nil, &LockedError{Path: l.Path}
}

func (l *ProjectLock) readInfo() (*LockInfo, error) {
	data, err := os.ReadFile(l.Path)
	if err != nil {
		return nil, err
	}
	var info LockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (l *ProjectLock) isStale(info *LockInfo) bool {
	return !l.IsPIDAlive(info.PID) || l.Now().Sub(info.CreatedAt) > l.StaleAfter
}

// isPIDAlive uses signal 0 to probe for a live process.
func isPIDAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = process.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	// EPERM means the process exists but belongs to someone else.
	return errors.Is(err, syscall.EPERM)
}
