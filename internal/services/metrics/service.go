// Package metrics exports the outcome of a run as a node_exporter textfile.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fgeck/backup-database/internal/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

const namespace = "backup_database"

// Service defines the interface for metrics export.
type Service interface {
	Write(dir string, run *models.RunContext) (string, error)
}

// Impl implements the metrics Service interface.
type Impl struct {
	now    func() time.Time
	logger zerolog.Logger
}

// New creates a new metrics service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{now: time.Now, logger: logger}
}

// Path returns the textfile of targetID in dir.
func Path(dir, targetID string) string {
	return filepath.Join(dir, namespace+"_"+targetID+".prom")
}

// Write replaces the textfile of the run's target with the run's outcome.
func (s *Impl) Write(dir string, run *models.RunContext) (string, error) {
	if run == nil {
		return "", fmt.Errorf("no run to export")
	}

	reg := prometheus.NewRegistry()
	labels := prometheus.Labels{"target": run.Target.ID, "engine": string(run.Target.Engine)}

	gauge := func(name, help string, value float64) {
		g := prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		})
		g.Set(value)
		reg.MustRegister(g)
	}

	success := 0.0
	if run.Succeeded() {
		success = 1
	}

	gauge("last_run_timestamp_seconds", "Unix time the last backup run started.", float64(run.StartTime.Unix()))
	gauge("last_run_success", "Whether the last backup run finished without errors.", success)
	gauge("last_run_duration_seconds", "Duration of the last backup run.", s.now().Sub(run.StartTime).Seconds())
	gauge("last_run_errors", "Number of fatal errors in the last backup run.", float64(run.ErrorCount))
	gauge("artifact_size_bytes", "Size of the compressed dump of the last run.", float64(run.ArtifactSize))
	gauge("pruned_files", "Number of backups deleted by the last retention sweep.", float64(run.Pruned))

	if err := os.MkdirAll(dir, 0o755); err != nil { //nolint:gosec // node_exporter must read the directory
		return "", fmt.Errorf("creating textfile dir: %w", err)
	}

	path := Path(dir, run.Target.ID)
	if err := prometheus.WriteToTextfile(path, reg); err != nil {
		return "", fmt.Errorf("writing textfile: %w", err)
	}

	s.logger.Debug().Str("path", path).Msg("metrics textfile written")
	return path, nil
}
