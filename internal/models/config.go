// Package models contains the data structures used throughout backup-database.
package models

import "time"

// Config holds the complete configuration for backup-database.
type Config struct {
	BackupDir      string        `validate:"required"`
	Prefix         string        `validate:"required"`
	MaxAgeDays     float64       `validate:"gt=0"`
	PrunePattern   string        `validate:"required"`
	CredentialsDir string        `validate:"required"`
	LockDir        string        `validate:"required"`
	DumpTimeout    time.Duration `validate:"gte=0"`
	Preflight      bool
	Binaries       Binaries
	Compression    CompressionSettings
	Log            LogSettings
	Mail           *MailConfig // nil if not configured
	Metrics        MetricsSettings
	Targets        map[string]Target `validate:"required,min=1,dive"`
}

// Binaries holds the filesystem paths of the external dump tools.
type Binaries struct {
	MySQLDump string `validate:"required"`
	PGDump    string `validate:"required"`
}

// CompressionSettings controls the gzip step.
type CompressionSettings struct {
	Level int `validate:"gte=-2,lte=9"` // -1 default, -2 huffman only
}

// LogSettings holds the rotating log file configuration.
type LogSettings struct {
	File       string `validate:"required"`
	MaxSizeMB  int    `validate:"gt=0"`
	MaxBackups int    `validate:"gte=0"`
}

// MetricsSettings holds the node_exporter textfile configuration.
type MetricsSettings struct {
	TextfileDir string // empty disables metrics
}

// MaxAge returns the retention threshold as a duration.
func (c Config) MaxAge() time.Duration {
	return time.Duration(c.MaxAgeDays * float64(24*time.Hour))
}

// BackupDirFor returns the backup directory of a target, honoring its override.
func (c Config) BackupDirFor(t Target) string {
	if t.BackupDir != "" {
		return t.BackupDir
	}
	return c.BackupDir
}

// TargetIDs returns the configured target identifiers in no particular order.
func (c Config) TargetIDs() []string {
	ids := make([]string, 0, len(c.Targets))
	for id := range c.Targets {
		ids = append(ids, id)
	}
	return ids
}
