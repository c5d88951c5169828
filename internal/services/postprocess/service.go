// Package postprocess restricts and compresses a finished dump.
package postprocess

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fgeck/backup-database/internal/models"
	"github.com/klauspost/pgzip"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

// ArtifactMode is the mode of dumps and compressed artifacts.
const ArtifactMode os.FileMode = 0o660

// Compression block settings for pgzip: 1 MiB blocks, one goroutine per block up to 8.
const (
	blockSize = 1 << 20
	blocks    = 8
)

// Service defines the interface for post-processing operations.
type Service interface {
	Restrict(path string) error
	Compress(path string, level int) (*models.CompressResult, error)
}

// Impl implements the postprocess Service interface.
type Impl struct {
	fs     afero.Fs
	logger zerolog.Logger
}

// New creates a new postprocess service on the OS filesystem.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		fs:     afero.NewOsFs(),
		logger: logger,
	}
}

// NewWithFs creates a new postprocess service on a custom filesystem (for testing).
func NewWithFs(logger zerolog.Logger, fs afero.Fs) *Impl {
	return &Impl{
		fs:     fs,
		logger: logger,
	}
}

// Restrict sets the dump file to owner and group read/write only.
func (s *Impl) Restrict(path string) error {
	if err := s.fs.Chmod(path, ArtifactMode); err != nil {
		return models.NewStepError(models.ErrPermission, "chmod", path, err)
	}

	s.logger.Debug().Str("path", path).Str("mode", ArtifactMode.String()).Msg("dump restricted")
	return nil
}

// Compress gzips path into path.gz and removes path. On failure path is left
// untouched and no .gz file remains.
func (s *Impl) Compress(path string, level int) (*models.CompressResult, error) {
	start := time.Now()
	dest := path + ".gz"
	tmp := dest + ".tmp"

	s.logger.Info().Str("path", path).Msg("compressing dump")

	srcInfo, err := s.fs.Stat(path)
	if err != nil {
		return nil, models.NewStepError(models.ErrCompression, "stat", path, err)
	}

	// A temp file left by an interrupted run is never a valid artifact.
	_ = s.fs.Remove(tmp)

	if err := s.writeGzip(path, tmp, level); err != nil {
		_ = s.fs.Remove(tmp)
		return nil, err
	}

	if err := s.fs.Rename(tmp, dest); err != nil {
		_ = s.fs.Remove(tmp)
		return nil, models.NewStepError(models.ErrCompression, "rename", tmp, err)
	}

	if err := s.fs.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		// Both copies exist now; keep the original and drop the artifact.
		_ = s.fs.Remove(dest)
		return nil, models.NewStepError(models.ErrCompression, "remove", path, err)
	}

	result := &models.CompressResult{OutputPath: dest, Duration: time.Since(start)}
	if info, err := s.fs.Stat(dest); err == nil {
		result.SizeBytes = info.Size()
	}
	if srcInfo.Size() > 0 {
		result.Ratio = float64(result.SizeBytes) / float64(srcInfo.Size())
	}

	s.logger.Info().
		Str("output", dest).
		Str("size", humanize.IBytes(uint64(result.SizeBytes))). //nolint:gosec // size is never negative
		Str("original", humanize.IBytes(uint64(srcInfo.Size()))). //nolint:gosec // size is never negative
		Str("ratio", fmt.Sprintf("%.1f%%", result.Ratio*100)).
		Dur("duration", result.Duration).
		Msg("dump compressed")

	return result, nil
}

func (s *Impl) writeGzip(src, tmp string, level int) error {
	in, err := s.fs.Open(src)
	if err != nil {
		return models.NewStepError(models.ErrCompression, "open", src, err)
	}
	defer func() { _ = in.Close() }()

	out, err := s.fs.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, ArtifactMode)
	if err != nil {
		return models.NewStepError(models.ErrCompression, "create", tmp, err)
	}
	defer func() { _ = out.Close() }()

	if err := s.fs.Chmod(tmp, ArtifactMode); err != nil {
		return models.NewStepError(models.ErrCompression, "chmod", tmp, err)
	}

	zw, err := pgzip.NewWriterLevel(out, level)
	if err != nil {
		return models.NewStepError(models.ErrCompression, "level", tmp, err)
	}
	if err := zw.SetConcurrency(blockSize, blocks); err != nil {
		return models.NewStepError(models.ErrCompression, "concurrency", tmp, err)
	}

	if _, err := io.Copy(zw, in); err != nil {
		_ = zw.Close()
		return models.NewStepError(models.ErrCompression, "write", tmp, err)
	}
	if err := zw.Close(); err != nil {
		return models.NewStepError(models.ErrCompression, "flush", tmp, err)
	}
	if err := out.Sync(); err != nil {
		return models.NewStepError(models.ErrCompression, "sync", tmp, err)
	}
	if err := out.Close(); err != nil {
		return models.NewStepError(models.ErrCompression, "close", tmp, err)
	}

	return nil
}
