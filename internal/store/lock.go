//go:build !windows

package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/skelly-dev/context-oracle/internal/oerrors"
)

const LockFile = ".lock"

// Lock is an exclusive advisory lock on the artifact directory.
type Lock struct {
	path string
	file *os.File
}

// Lock takes the writer lock without blocking. If another process holds it
// the error is a *oerrors.ContentionError carrying the holder's PID.
func (s *Store) Lock() (*Lock, error) {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return nil, fmt.Errorf("creating artifact directory: %w", err)
	}

	path := filepath.Join(s.dir, LockFile)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening lock file: %w", err)
	}

	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = file.Close()
		if !errors.Is(err, syscall.EWOULDBLOCK) {
			return nil, fmt.Errorf("locking %s: %w", path, err)
		}
		contention := &oerrors.ContentionError{LockPath: path}
		if content, readErr := os.ReadFile(path); readErr == nil {
			contention.HolderPID = strings.TrimSpace(string(content))
		}
		return nil, contention
	}

	// Write our PID to the lock file
	if err := file.Truncate(0); err != nil {
		_ = syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
		_ = file.Close()
		return nil, fmt.Errorf("truncating lock file: %w", err)
	}
	if _, err := file.WriteAt([]byte(strconv.Itoa(os.Getpid())), 0); err != nil {
		_ = syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
		_ = file.Close()
		return nil, fmt.Errorf("writing PID to lock file: %w", err)
	}

	return &Lock{path: path, file: file}, nil
}

// Release drops the lock. The file stays so a waiter that already opened it
// keeps locking the same inode.
func (l *Lock) Release() {
	if l == nil || l.file == nil {
		return
	}
	_ = l.file.Truncate(0)
	_ = syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	_ = l.file.Close()
	l.file = nil
}
