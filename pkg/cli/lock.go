//go:build !windows

package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"syscall"

	"github.com/castfetch/castfetch/pkg/logging"
)

// LockSuffix names the lock file kept next to a destination while it is being
// written.
const LockSuffix = ".lock"

// DestinationLock gives one process exclusive ownership of a destination
// file. Two castfetch processes resuming the same file would interleave
// appends.
type DestinationLock struct {
	path string
	file *os.File
	fd   int
}

func NewDestinationLock(dest string) (*DestinationLock, error) {
	l := &DestinationLock{path: dest + LockSuffix}
	if err := l.open(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *DestinationLock) open() error {
	file, err := os.OpenFile(l.path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return fmt.Errorf("error creating lock file: %w", err)
	}
	l.file = file
	l.fd = int(file.Fd())
	return nil
}

// Acquire takes the lock, waiting for another holder if there is one.
func (l *DestinationLock) Acquire() error {
	logger := logging.GetLogger()
	funcs := []func() error{
		func() error {
			err := l.flock(syscall.LOCK_EX | syscall.LOCK_NB)
			if errors.Is(err, syscall.EWOULDBLOCK) {
				logger.Warn().
					Str("lock", l.path).
					Msg("Another castfetch process is writing this destination, waiting")
				err = l.flock(syscall.LOCK_EX)
			}
			return err
		},
		l.writePID,
		l.sync,
	}
	return l.executeFuncs(funcs)
}

// TryAcquire takes the lock without waiting and reports whether it did.
func (l *DestinationLock) TryAcquire() (bool, error) {
	err := l.flock(syscall.LOCK_EX | syscall.LOCK_NB)
	if errors.Is(err, syscall.EWOULDBLOCK) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, l.executeFuncs([]func() error{l.writePID, l.sync})
}

// flock locks the open handle and then checks it still names the file at the
// lock path. A holder's Release unlinks the path before unlocking, so a
// waiter can wake up holding a lock on a file nobody else will open; it
// reopens the path and locks again.
func (l *DestinationLock) flock(how int) error {
	for {
		if err := syscall.Flock(l.fd, how); err != nil {
			return err
		}
		stale, err := l.stale()
		if err != nil {
			_ = syscall.Flock(l.fd, syscall.LOCK_UN)
			return err
		}
		if !stale {
			return nil
		}
		_ = syscall.Flock(l.fd, syscall.LOCK_UN)
		_ = l.file.Close()
		if err := l.open(); err != nil {
			return err
		}
	}
}

func (l *DestinationLock) stale() (bool, error) {
	held, err := l.file.Stat()
	if err != nil {
		return false, err
	}
	current, err := os.Stat(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return !os.SameFile(held, current), nil
}

func (l *DestinationLock) Release() error {
	funcs := []func() error{
		func() error {
			// a previous holder may already have removed the path
			if err := os.Remove(l.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return err
			}
			return nil
		},
		func() error { return syscall.Flock(l.fd, syscall.LOCK_UN) },
		l.file.Close,
	}
	return l.executeFuncs(funcs)
}

// Close gives up the handle without touching a lock held by someone else.
func (l *DestinationLock) Close() error {
	return l.file.Close()
}

func (l *DestinationLock) writePID() error {
	if err := l.file.Truncate(0); err != nil {
		return err
	}
	_, err := l.file.WriteAt([]byte(fmt.Sprintf("%d", os.Getpid())), 0)
	return err
}

// sync reads l.file at call time; flock may have reopened it.
func (l *DestinationLock) sync() error {
	return l.file.Sync()
}

func (l *DestinationLock) executeFuncs(funcs []func() error) error {
	for _, fn := range funcs {
		if err := fn(); err != nil {
			return err
		}
	}
	return nil
}
