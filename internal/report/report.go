// Package report collects the lines of a run so they can be mailed afterwards.
package report

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/spf13/afero"
)

// FileMode is the mode of the side file mirroring the report.
const FileMode os.FileMode = 0o660

// Report is an append-only, ordered buffer of log lines. It implements io.Writer
// so a zerolog writer can feed it directly. When a side file path is set every
// line is mirrored to that file as well.
type Report struct {
	mu      sync.Mutex
	fs      afero.Fs
	path    string
	file    afero.File
	lines   []string
	partial []byte
	// detached stops mirroring once the report was discarded.
	detached bool
}

// New creates a report mirrored to path. An empty path keeps the report in memory only.
func New(fs afero.Fs, path string) *Report {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Report{fs: fs, path: path}
}

// Path returns the side file path, if any.
func (r *Report) Path() string {
	return r.path
}

// Reset clears the buffer and removes a side file left over by an earlier run.
func (r *Report) Reset() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.lines = nil
	r.partial = nil
	r.detached = false
	return r.removeFile()
}

// Write appends p, split on newlines. A trailing fragment without newline is
// kept until the next write completes it.
func (r *Report) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	buf := append(r.partial, p...) //nolint:gocritic // partial is owned by the report
	r.partial = nil

	for {
		i := bytes.IndexByte(buf, '\n')
		if i < 0 {
			break
		}
		r.lines = append(r.lines, string(buf[:i]))
		buf = buf[i+1:]
	}
	if len(buf) > 0 {
		r.partial = append([]byte(nil), buf...)
	}

	if r.path != "" && !r.detached {
		if err := r.mirror(p); err != nil {
			return 0, err
		}
	}

	return len(p), nil
}

func (r *Report) mirror(p []byte) error {
	if r.file == nil {
		f, err := r.fs.OpenFile(r.path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, FileMode)
		if err != nil {
			return fmt.Errorf("opening report file: %w", err)
		}
		if err := r.fs.Chmod(r.path, FileMode); err != nil {
			_ = f.Close()
			return fmt.Errorf("restricting report file: %w", err)
		}
		r.file = f
	}

	if _, err := r.file.Write(p); err != nil {
		return fmt.Errorf("writing report file: %w", err)
	}
	return nil
}

// Lines returns a copy of the complete lines collected so far.
func (r *Report) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, len(r.lines), len(r.lines)+1)
	copy(out, r.lines)
	if len(r.partial) > 0 {
		out = append(out, string(r.partial))
	}
	return out
}

// Body joins the collected lines into a mail body.
func (r *Report) Body() string {
	lines := r.Lines()
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}

// Discard clears the buffer and deletes the side file. Lines written
// afterwards stay in memory until the next Reset.
func (r *Report) Discard() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.lines = nil
	r.partial = nil
	r.detached = true
	return r.removeFile()
}

func (r *Report) removeFile() error {
	var closeErr error
	if r.file != nil {
		closeErr = r.file.Close()
		r.file = nil
	}
	if r.path == "" {
		return closeErr
	}
	if err := r.fs.Remove(r.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return errors.Join(closeErr, fmt.Errorf("removing report file: %w", err))
	}
	return closeErr
}
