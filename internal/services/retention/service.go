// Package retention deletes backups older than the retention window.
package retention

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/fgeck/backup-database/internal/models"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

// Service defines the interface for retention operations.
type Service interface {
	Prune(ctx context.Context, dir, pattern string, maxAge time.Duration) (*models.PruneResult, error)
}

// Impl implements the retention Service interface.
type Impl struct {
	fs     afero.Fs
	now    func() time.Time
	logger zerolog.Logger
}

// New creates a new retention service on the OS filesystem.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		fs:     afero.NewOsFs(),
		now:    time.Now,
		logger: logger,
	}
}

// NewWithFs creates a new retention service with a custom filesystem and clock (for testing).
func NewWithFs(logger zerolog.Logger, fs afero.Fs, now func() time.Time) *Impl {
	if now == nil {
		now = time.Now
	}
	return &Impl{
		fs:     fs,
		now:    now,
		logger: logger,
	}
}

// Prune deletes every regular file in dir matching pattern whose age, measured
// from its status-change time, is strictly greater than maxAge. The sweep
// covers all targets sharing dir. Failures on single files are collected in
// result.Error and never stop the sweep.
func (s *Impl) Prune(ctx context.Context, dir, pattern string, maxAge time.Duration) (*models.PruneResult, error) {
	start := s.now()
	result := &models.PruneResult{}

	if _, err := filepath.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("%w: prune pattern %q: %w", models.ErrConfig, pattern, err)
	}

	s.logger.Info().
		Str("dir", dir).
		Str("pattern", pattern).
		Str("max_age", maxAge.String()).
		Msg("pruning old backups")

	matches, err := afero.Glob(s.fs, filepath.Join(dir, pattern))
	if err != nil {
		result.Error = models.NewStepError(models.ErrPrune, "glob", dir, err)
		result.Duration = s.now().Sub(start)
		return result, nil
	}
	sort.Strings(matches)

	var errs *multierror.Error
	for _, path := range matches {
		if err := ctx.Err(); err != nil {
			errs = multierror.Append(errs, models.NewStepError(models.ErrPrune, "sweep", dir, err))
			break
		}

		info, err := s.fs.Stat(path)
		if err != nil {
			errs = multierror.Append(errs, models.NewStepError(models.ErrPrune, "stat", path, err))
			continue
		}
		if !info.Mode().IsRegular() {
			continue
		}
		result.Scanned++

		age := start.Sub(changeTime(info))
		if age <= maxAge {
			result.Kept++
			continue
		}

		if err := s.fs.Remove(path); err != nil {
			s.logger.Warn().Err(err).Str("path", path).Msg("failed to delete old backup")
			errs = multierror.Append(errs, models.NewStepError(models.ErrPrune, "remove", path, err))
			continue
		}

		s.logger.Info().
			Str("path", path).
			Str("age", age.Round(time.Minute).String()).
			Msg("deleted old backup")
		result.Deleted = append(result.Deleted, path)
	}

	if errs != nil {
		result.Error = errs.ErrorOrNil()
	}
	result.Duration = s.now().Sub(start)

	s.logger.Info().
		Int("scanned", result.Scanned).
		Int("deleted", len(result.Deleted)).
		Int("kept", result.Kept).
		Msg("pruning completed")

	return result, nil
}
