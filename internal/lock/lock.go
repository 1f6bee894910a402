// Package lock keeps a single dev server per data directory so two
// processes never migrate or write the same SQLite file.
package lock

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

const fileName = "LOCK"

// Holder describes the process recorded in a lock file.
type Holder struct {
	PID   int
	Owner string
	Since time.Time
}

// LockHeldError is returned when another process holds the lock.
type LockHeldError struct {
	Holder Holder
	Path   string
}

func (e *LockHeldError) Error() string {
	if e.Holder.Owner != "" {
		return fmt.Sprintf("%s already running as PID %d (%s)", e.Holder.Owner, e.Holder.PID, e.Path)
	}
	return fmt.Sprintf("lock held by PID %d (%s)", e.Holder.PID, e.Path)
}

// Lock represents an acquired lock file.
type Lock struct {
	file *os.File
	path string
}

// Acquire takes an exclusive lock on dir for owner, e.g.
// "chatsync-devserver". It returns LockHeldError if another process already
// holds it.
func Acquire(dir, owner string) (*Lock, error) {
	path := filepath.Join(dir, fileName)

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		holder, _ := Read(dir)
		_ = f.Close()
		return nil, &LockHeldError{Holder: holder, Path: path}
	}

	content := fmt.Sprintf("pid=%d\nowner=%s\ntime=%s\n", os.Getpid(), owner, time.Now().UTC().Format(time.RFC3339))
	if err := f.Truncate(0); err != nil {
		_ = f.Close()
		return nil, err
	}
	if _, err := f.WriteAt([]byte(content), 0); err != nil {
		_ = f.Close()
		return nil, err
	}
	return &Lock{file: f, path: path}, nil
}

// Read parses the lock file in dir without taking the lock.
func Read(dir string) (Holder, error) {
	data, err := os.ReadFile(filepath.Join(dir, fileName))
	if err != nil {
		return Holder{}, err
	}
	var h Holder
	for _, line := range strings.Split(string(data), "\n") {
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		switch key {
		case "pid":
			h.PID, _ = strconv.Atoi(val)
		case "owner":
			h.Owner = val
		case "time":
			h.Since, _ = time.Parse(time.RFC3339, val)
		}
	}
	return h, nil
}

// Release releases the lock. Safe to call on nil receiver and more than
// once.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	_ = os.Remove(l.path)
	err := l.file.Close()
	l.file = nil
	return err
}
