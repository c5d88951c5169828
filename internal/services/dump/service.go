// Package dump runs the vendor dump tool of a target and captures its output.
package dump

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fgeck/backup-database/internal/logging"
	"github.com/fgeck/backup-database/internal/models"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

// OutputMode is the mode of a freshly created dump file.
const OutputMode os.FileMode = 0o600

// killGrace is how long a terminated dump tool gets before it is killed.
const killGrace = 10 * time.Second

// Request describes one dump.
type Request struct {
	Target          models.Target
	Binaries        models.Binaries
	CredentialsPath string
	OutputPath      string
	Timeout         time.Duration // zero disables the timeout
}

// Service defines the interface for dump operations.
type Service interface {
	Dump(ctx context.Context, req Request) (*models.DumpResult, error)
}

// CommandExecutor allows mocking exec.Command in tests.
type CommandExecutor interface {
	Execute(ctx context.Context, env []string, stdout, stderr io.Writer, name string, args ...string) error
}

// DefaultExecutor is the default command executor using os/exec.
type DefaultExecutor struct{}

// Execute runs name with env added to the current environment. The process is
// sent SIGTERM when ctx is done and killed if it outlives the grace period.
func (e *DefaultExecutor) Execute(ctx context.Context, env []string, stdout, stderr io.Writer, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = append(os.Environ(), env...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = killGrace

	return cmd.Run()
}

// Impl implements the dump Service interface.
type Impl struct {
	executor CommandExecutor
	fs       afero.Fs
	logger   zerolog.Logger
}

// New creates a new dump service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		executor: &DefaultExecutor{},
		fs:       afero.NewOsFs(),
		logger:   logger,
	}
}

// NewWithExecutor creates a new dump service with a custom executor and filesystem (for testing).
func NewWithExecutor(logger zerolog.Logger, executor CommandExecutor, fs afero.Fs) *Impl {
	return &Impl{
		executor: executor,
		fs:       fs,
		logger:   logger,
	}
}

// Dump runs the dump tool of req.Target, writing its standard output to req.OutputPath.
// A partial output file is removed when the tool fails.
func (s *Impl) Dump(ctx context.Context, req Request) (*models.DumpResult, error) {
	start := time.Now()
	result := &models.DumpResult{
		OutputPath: req.OutputPath,
	}

	driver, err := DriverFor(req.Target.Engine)
	if err != nil {
		return nil, err
	}
	if driver.NeedsCredentialsFile() && req.CredentialsPath == "" {
		return nil, fmt.Errorf("%w: %s dump needs a credentials file", models.ErrConfig, driver.Engine())
	}

	binary := driver.Binary(req.Binaries)
	args := driver.Args(req.Target, req.CredentialsPath)
	result.Command = logging.NewRedactor(req.Target.Password).Redact(strings.Join(append([]string{binary}, args...), " "))

	s.logger.Info().
		Str("engine", string(driver.Engine())).
		Str("host", req.Target.Host).
		Uint16("port", req.Target.Port).
		Str("database", req.Target.Database).
		Str("output", req.OutputPath).
		Msgf("Starting dump of %s.", req.Target.Database)
	s.logger.Debug().Str("command", result.Command).Msg("dump command")

	out, err := s.fs.OpenFile(req.OutputPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, OutputMode)
	if err != nil {
		result.Error = models.NewStepError(models.ErrDumpFailed, "create", req.OutputPath, err)
		result.Duration = time.Since(start)
		return result, nil
	}

	runCtx := ctx
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	stderr := newLineLogger(s.logger, filepath.Base(binary))
	execErr := s.executor.Execute(runCtx, driver.Env(req.Target), out, stderr, binary, args...)
	stderr.Flush()

	if execErr == nil {
		if err := out.Sync(); err != nil {
			execErr = err
		}
	}
	if err := out.Close(); err != nil && execErr == nil {
		execErr = err
	}

	if execErr != nil {
		// Clean up partial file
		_ = s.fs.Remove(req.OutputPath)
		result.Error = s.classify(ctx, runCtx, req, result.Command, execErr)
		result.Duration = time.Since(start)
		return result, nil //nolint:nilerr // error is stored in result struct by design
	}

	if info, err := s.fs.Stat(req.OutputPath); err == nil {
		result.SizeBytes = info.Size()
	}

	result.Duration = time.Since(start)

	s.logger.Info().
		Str("output", req.OutputPath).
		Str("size", humanize.IBytes(uint64(result.SizeBytes))). //nolint:gosec // size is never negative
		Dur("duration", result.Duration).
		Msgf("Dump of %s completed.", req.Target.Database)

	return result, nil
}

func (s *Impl) classify(parent, runCtx context.Context, req Request, command string, err error) error {
	if parent.Err() == nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return &models.DumpTimeoutError{Command: command, Timeout: req.Timeout.String()}
	}
	if parent.Err() != nil {
		return models.NewStepError(models.ErrDumpFailed, "dump", req.OutputPath, parent.Err())
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &models.DumpFailedError{Command: command, ExitCode: exitErr.ExitCode(), Err: err}
	}
	return &models.DumpFailedError{Command: command, ExitCode: -1, Err: err}
}

// lineLogger forwards the diagnostic output of a dump tool to the logger, one event per line.
type lineLogger struct {
	mu     sync.Mutex
	logger zerolog.Logger
	tool   string
	buf    []byte
}

func newLineLogger(logger zerolog.Logger, tool string) *lineLogger {
	return &lineLogger{logger: logger, tool: tool}
}

func (l *lineLogger) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.buf = append(l.buf, p...)
	for {
		i := bytes.IndexByte(l.buf, '\n')
		if i < 0 {
			break
		}
		l.emit(l.buf[:i])
		l.buf = l.buf[i+1:]
	}
	return len(p), nil
}

// Flush logs a trailing line without newline.
func (l *lineLogger) Flush() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.buf) > 0 {
		l.emit(l.buf)
		l.buf = nil
	}
}

func (l *lineLogger) emit(line []byte) {
	text := strings.TrimRight(string(line), "\r")
	if strings.TrimSpace(text) == "" {
		return
	}
	l.logger.Info().Str("tool", l.tool).Msg(text)
}
