package models

import (
	"fmt"
	"path/filepath"
	"time"
)

// TimestampLayout formats the timestamp embedded in dump file names (YYYY.MM.DD-HH.MM).
const TimestampLayout = "2006.01.02-15.04"

// RunContext holds the mutable state of a single backup run.
type RunContext struct {
	Target          Target
	Timestamp       string
	StartTime       time.Time
	DumpPath        string
	CredentialsPath string // empty if the engine takes no credentials file
	ArtifactPath    string // compressed dump, set once compression succeeded
	ArtifactSize    int64
	Pruned          int
	ErrorCount      uint
	FailedStep      string
}

// NewRunContext creates the run state for target, naming its dump file.
func NewRunContext(cfg Config, target Target, now time.Time) *RunContext {
	ts := now.Format(TimestampLayout)
	name := fmt.Sprintf("%s-%s-%s.sql", cfg.Prefix, target.ID, ts)
	return &RunContext{
		Target:    target,
		Timestamp: ts,
		StartTime: now,
		DumpPath:  filepath.Join(cfg.BackupDirFor(target), name),
	}
}

// Fail records a fatal error in step.
func (rc *RunContext) Fail(step string) {
	rc.ErrorCount++
	if rc.FailedStep == "" {
		rc.FailedStep = step
	}
}

// Succeeded reports whether the run has not recorded any error.
func (rc *RunContext) Succeeded() bool {
	return rc.ErrorCount == 0
}

// DumpResult holds the result of a dump tool invocation.
type DumpResult struct {
	OutputPath string
	Command    string // redacted
	SizeBytes  int64
	Duration   time.Duration
	Error      error
}

// CompressResult holds the result of the compression step.
type CompressResult struct {
	OutputPath string
	SizeBytes  int64
	Ratio      float64
	Duration   time.Duration
}

// PruneResult holds the result of a retention sweep.
type PruneResult struct {
	Scanned  int
	Deleted  []string
	Kept     int
	Duration time.Duration
	Error    error // aggregated per-file failures, never fatal
}
