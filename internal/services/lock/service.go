// Package lock keeps two runs from backing up the same target at once.
package lock

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fgeck/backup-database/internal/models"
	"github.com/gofrs/flock"
	"github.com/rs/zerolog"
)

// Service defines the interface for run locking.
type Service interface {
	Acquire(dir, targetID string) (*Lock, error)
}

// Impl implements the lock Service interface.
type Impl struct {
	logger zerolog.Logger
}

// New creates a new lock service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{logger: logger}
}

// Path returns the lock file of targetID in dir.
func Path(dir, targetID string) string {
	return filepath.Join(dir, "backup-database-"+targetID+".lock")
}

// Acquire takes the advisory lock of targetID without waiting. A lock held by
// another process fails with models.ErrLocked.
func (s *Impl) Acquire(dir, targetID string) (*Lock, error) {
	path := Path(dir, targetID)

	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, models.NewStepError(models.ErrLocked, "create lock dir", dir, err)
	}

	fl := flock.New(path, flock.SetPermissions(0o660))
	locked, err := fl.TryLock()
	if err != nil {
		return nil, models.NewStepError(models.ErrLocked, "lock", path, err)
	}
	if !locked {
		return nil, models.NewStepError(models.ErrLocked, "lock", path, fmt.Errorf("another backup of %s is running", targetID))
	}

	s.logger.Debug().Str("path", path).Msg("run lock acquired")

	return &Lock{fl: fl, logger: s.logger}, nil
}

// Lock is a held run lock.
type Lock struct {
	fl     *flock.Flock
	logger zerolog.Logger
}

// Release unlocks. The lock file stays in place for the next run.
func (l *Lock) Release() error {
	if l == nil {
		return nil
	}
	if err := l.fl.Unlock(); err != nil {
		return fmt.Errorf("releasing run lock %s: %w", l.fl.Path(), err)
	}
	l.logger.Debug().Str("path", l.fl.Path()).Msg("run lock released")
	return nil
}
