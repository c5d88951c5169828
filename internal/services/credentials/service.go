// Package credentials stages the option file mysqldump reads its login from.
package credentials

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fgeck/backup-database/internal/models"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

// FileMode is set on the credentials file before anything is written to it.
const FileMode os.FileMode = 0o660

// Service defines the interface for credential staging.
type Service interface {
	Stage(target models.Target, dir string) (*Handle, error)
}

// Impl implements the credentials Service interface.
type Impl struct {
	fs     afero.Fs
	logger zerolog.Logger
}

// New creates a new credentials service on the OS filesystem.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		fs:     afero.NewOsFs(),
		logger: logger,
	}
}

// NewWithFs creates a new credentials service on a custom filesystem (for testing).
func NewWithFs(logger zerolog.Logger, fs afero.Fs) *Impl {
	return &Impl{
		fs:     fs,
		logger: logger,
	}
}

// Path returns the location of the credentials file of target id in dir.
func Path(dir, id string) string {
	return filepath.Join(dir, ".my."+id+".cnf")
}

// Stage writes the login of target to a private option file in dir.
// The caller must Release the returned handle on every exit path.
func (s *Impl) Stage(target models.Target, dir string) (*Handle, error) {
	path := Path(dir, target.ID)

	f, err := s.fs.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, FileMode)
	if err != nil {
		return nil, models.NewStepError(models.ErrCredentialIO, "create", path, err)
	}

	h := &Handle{fs: s.fs, path: path, logger: s.logger}

	// The file may predate this run with a wider mode; narrow it before writing.
	if err := s.fs.Chmod(path, FileMode); err != nil {
		_ = f.Close()
		return nil, errors.Join(models.NewStepError(models.ErrCredentialIO, "chmod", path, err), h.Release())
	}

	if _, err := f.WriteString(Render(target)); err != nil {
		_ = f.Close()
		return nil, errors.Join(models.NewStepError(models.ErrCredentialIO, "write", path, err), h.Release())
	}

	if err := f.Close(); err != nil {
		return nil, errors.Join(models.NewStepError(models.ErrCredentialIO, "close", path, err), h.Release())
	}

	s.logger.Debug().Str("path", path).Msg("credentials staged")

	return h, nil
}

// Render returns the option file content for target.
func Render(target models.Target) string {
	var b strings.Builder
	b.WriteString("[mysqldump]\n")
	fmt.Fprintf(&b, "user=%s\n", optionValue(target.User))
	fmt.Fprintf(&b, "password=%s\n", optionValue(target.Password))
	return b.String()
}

// optionValue quotes values the option file parser would otherwise cut short.
func optionValue(v string) string {
	if v == "" || !strings.ContainsAny(v, "#;\"'\\\n\t ") {
		return v
	}
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`, "\t", `\t`)
	return `"` + r.Replace(v) + `"`
}

// Handle represents a staged credentials file.
type Handle struct {
	fs     afero.Fs
	path   string
	logger zerolog.Logger

	mu       sync.Mutex
	released bool
}

// Path returns the location of the staged file.
func (h *Handle) Path() string {
	if h == nil {
		return ""
	}
	return h.path
}

// Release deletes the staged file. Calling it more than once is safe.
func (h *Handle) Release() error {
	if h == nil {
		return nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.released {
		return nil
	}

	if err := h.fs.Remove(h.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return models.NewStepError(models.ErrCredentialIO, "remove", h.path, err)
	}

	h.released = true
	h.logger.Debug().Str("path", h.path).Msg("credentials removed")

	return nil
}
