package models

import (
	"errors"
	"fmt"
)

// Error kinds. Every fatal failure of a run matches exactly one of them with errors.Is.
var (
	ErrConfig       = errors.New("configuration error")
	ErrCredentialIO = errors.New("credential file error")
	ErrDumpFailed   = errors.New("dump failed")
	ErrDumpTimeout  = errors.New("dump timed out")
	ErrCompression  = errors.New("compression failed")
	ErrPermission   = errors.New("permission change failed")
	ErrPrune        = errors.New("prune failed")
	ErrBackupDir    = errors.New("backup directory unavailable")
	ErrLocked       = errors.New("target is locked by another run")
	ErrConnection   = errors.New("database connection failed")
	ErrWake         = errors.New("wake-on-lan failed")
	ErrShutdown     = errors.New("remote shutdown failed")
)

// StepError ties a failure to its kind and the file it concerns.
type StepError struct {
	Kind error
	Op   string
	Path string
	Err  error
}

// NewStepError wraps err with a kind, an operation name and an optional path.
func NewStepError(kind error, op, path string, err error) *StepError {
	return &StepError{Kind: kind, Op: op, Path: path, Err: err}
}

func (e *StepError) Error() string {
	msg := e.Kind.Error() + ": " + e.Op
	if e.Path != "" {
		msg += " " + e.Path
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *StepError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// DumpFailedError reports a dump tool that exited non-zero.
// Command never contains secrets.
type DumpFailedError struct {
	Command  string
	ExitCode int
	Err      error
}

func (e *DumpFailedError) Error() string {
	return fmt.Sprintf("dump failed: command %q exited with status %d", e.Command, e.ExitCode)
}

// Is matches ErrDumpFailed.
func (e *DumpFailedError) Is(target error) bool { return target == ErrDumpFailed }

func (e *DumpFailedError) Unwrap() error { return e.Err }

// DumpTimeoutError reports a dump tool that was terminated after the dump timeout.
type DumpTimeoutError struct {
	Command string
	Timeout string
}

func (e *DumpTimeoutError) Error() string {
	return fmt.Sprintf("dump timed out after %s: command %q was terminated", e.Timeout, e.Command)
}

// Is matches ErrDumpTimeout.
func (e *DumpTimeoutError) Is(target error) bool { return target == ErrDumpTimeout }
