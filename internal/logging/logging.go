// Package logging builds the zerolog logger of a backup run. Every sink
// (console, rotating file, run report) sees the same events with secrets
// masked.
package logging

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fgeck/backup-database/internal/models"
	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Log line layouts. The file and report sinks prefix every line with
// [YYYY.MM.DD HH:MM:SS].
const (
	ConsoleTimeFormat = "15:04:05"
	FileTimeFormat    = "2006.01.02 15:04:05"
)

// FileMode is applied to the log file after it is created.
const FileMode os.FileMode = 0o660

// Options configures the sinks of a logger.
type Options struct {
	Console io.Writer // nil disables console output
	JSON    bool      // raw JSON on the console instead of the console writer
	File    *models.LogSettings
	Report  io.Writer // run report collector, nil disables it
	Secrets []string
}

// Sinks owns the resources behind a logger built by New.
type Sinks struct {
	file *lumberjack.Logger
}

// Close closes the rotating log file.
func (s *Sinks) Close() error {
	if s == nil || s.file == nil {
		return nil
	}
	return s.file.Close()
}

// New builds a logger writing to every configured sink.
func New(opts Options) (zerolog.Logger, *Sinks, error) {
	redactor := NewRedactor(opts.Secrets...)
	sinks := &Sinks{}
	writers := make([]io.Writer, 0, 3)

	if opts.Console != nil {
		if opts.JSON {
			writers = append(writers, redactor.Wrap(opts.Console))
		} else {
			writers = append(writers, ConsoleWriter(redactor.Wrap(opts.Console), ConsoleTimeFormat, false))
		}
	}

	if opts.File != nil && opts.File.File != "" {
		sinks.file = &lumberjack.Logger{
			Filename:   opts.File.File,
			MaxSize:    opts.File.MaxSizeMB,
			MaxBackups: opts.File.MaxBackups,
			LocalTime:  true,
		}
		out := &chmodOnWrite{w: sinks.file, path: opts.File.File, mode: FileMode}
		writers = append(writers, ConsoleWriter(redactor.Wrap(out), FileTimeFormat, true))
	}

	if opts.Report != nil {
		writers = append(writers, ConsoleWriter(redactor.Wrap(opts.Report), FileTimeFormat, true))
	}

	if len(writers) == 0 {
		return zerolog.Nop(), sinks, nil
	}

	logger := zerolog.New(zerolog.MultiLevelWriter(writers...)).With().Timestamp().Logger()
	return logger, sinks, nil
}

// ConsoleWriter formats events the way the CLI prints them: upper case level,
// plain text, with the time wrapped in brackets for file sinks.
func ConsoleWriter(out io.Writer, timeFormat string, plain bool) zerolog.ConsoleWriter {
	w := zerolog.ConsoleWriter{Out: out, TimeFormat: timeFormat, NoColor: plain}
	w.FormatLevel = func(i interface{}) string {
		if s, ok := i.(string); ok {
			if plain {
				return strings.ToUpper(s) + ":"
			}
			return strings.ToUpper(s)
		}
		return ""
	}
	if plain {
		w.FormatTimestamp = func(i interface{}) string {
			s, _ := i.(string)
			t, err := time.Parse(zerolog.TimeFieldFormat, s)
			if err != nil {
				return "[" + s + "]"
			}
			return "[" + t.Local().Format(timeFormat) + "]"
		}
	}
	return w
}

// Level maps the CLI flags onto a zerolog level.
func Level(verbose, quiet bool) zerolog.Level {
	switch {
	case quiet:
		return zerolog.ErrorLevel
	case verbose:
		return zerolog.DebugLevel
	default:
		return zerolog.InfoLevel
	}
}

// chmodOnWrite restricts the log file once it exists. lumberjack keeps the
// mode of the current file when it rotates.
type chmodOnWrite struct {
	w    io.Writer
	path string
	mode os.FileMode
	once sync.Once
}

func (c *chmodOnWrite) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	if err != nil {
		return n, err
	}
	c.once.Do(func() {
		if chErr := os.Chmod(c.path, c.mode); chErr != nil && !errors.Is(chErr, os.ErrNotExist) {
			err = fmt.Errorf("restricting log file: %w", chErr)
		}
	})
	return n, err
}
