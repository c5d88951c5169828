// Package runner orchestrates the backup workflow.
package runner

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fgeck/backup-database/internal/models"
	"github.com/fgeck/backup-database/internal/services/credentials"
	"github.com/fgeck/backup-database/internal/services/dump"
	"github.com/fgeck/backup-database/internal/services/lock"
	"github.com/fgeck/backup-database/internal/services/mail"
	"github.com/fgeck/backup-database/internal/services/metrics"
	"github.com/fgeck/backup-database/internal/services/postprocess"
	"github.com/fgeck/backup-database/internal/services/preflight"
	"github.com/fgeck/backup-database/internal/services/retention"
	"github.com/fgeck/backup-database/internal/services/ssh"
	"github.com/fgeck/backup-database/internal/services/wol"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

// Step names recorded as the failed step of a run.
const (
	StepLock        = "lock"
	StepWake        = "wake"
	StepPreflight   = "preflight"
	StepPrepare     = "prepare"
	StepCredentials = "credentials"
	StepDump        = "dump"
	StepRestrict    = "restrict"
	StepCompress    = "compress"
	StepShutdown    = "shutdown"
)

// notifyTimeout bounds mail delivery, which also runs after cancellation.
const notifyTimeout = time.Minute

// Service defines the interface for the backup runner.
type Service interface {
	Run(ctx context.Context, cfg models.Config, target models.Target) error
}

// Reporter is the collected log of a run.
type Reporter interface {
	Body() string
	Discard() error
}

// Services bundles the steps of the workflow.
type Services struct {
	Lock        lock.Service
	WOL         wol.Service
	Preflight   preflight.Service
	Credentials credentials.Service
	Dump        dump.Service
	PostProcess postprocess.Service
	Retention   retention.Service
	SSH         ssh.Service
	Metrics     metrics.Service
	Mail        mail.Service
}

// Impl implements the runner Service interface.
type Impl struct {
	svc      Services
	report   Reporter
	fs       afero.Fs
	now      func() time.Time
	hostname string
	logger   zerolog.Logger
}

// New creates a new runner service.
func New(logger zerolog.Logger, report Reporter) *Impl {
	return NewWithServices(logger, report, Services{
		Lock:        lock.New(logger),
		WOL:         wol.New(logger),
		Preflight:   preflight.New(logger),
		Credentials: credentials.New(logger),
		Dump:        dump.New(logger),
		PostProcess: postprocess.New(logger),
		Retention:   retention.New(logger),
		SSH:         ssh.New(logger),
		Metrics:     metrics.New(logger),
		Mail:        mail.New(logger),
	}, afero.NewOsFs(), time.Now)
}

// NewWithServices creates a new runner service with custom services (for testing).
func NewWithServices(logger zerolog.Logger, report Reporter, svc Services, fs afero.Fs, now func() time.Time) *Impl {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "localhost"
	}
	return &Impl{
		svc:      svc,
		report:   report,
		fs:       fs,
		now:      now,
		hostname: hostname,
		logger:   logger,
	}
}

// Run backs up target. Every fatal failure is logged, counted and returned
// after the notification went out.
//
//nolint:gocognit,gocyclo // backup workflow has multiple steps by design
func (s *Impl) Run(ctx context.Context, cfg models.Config, target models.Target) (runErr error) {
	run := models.NewRunContext(cfg, target, s.now())

	s.logger.Info().
		Str("target", target.ID).
		Str("engine", string(target.Engine)).
		Str("address", target.Address()).
		Msgf("Starting backup of %s.", target.Database)

	defer func() {
		s.finish(ctx, cfg, run)
	}()

	fail := func(step string, err error) error {
		run.Fail(step)
		s.logger.Error().Err(err).Str("step", step).Msg("backup step failed")
		return err
	}

	// Step 1: Run lock
	lk, err := s.svc.Lock.Acquire(cfg.LockDir, target.ID)
	if err != nil {
		return fail(StepLock, err)
	}
	defer func() {
		if err := lk.Release(); err != nil {
			s.logger.Warn().Err(err).Msg("failed to release run lock")
		}
	}()

	// Step 2: Wake-on-LAN (if configured)
	if target.WOL != nil {
		if err := s.runWOL(ctx, *target.WOL, target.Address()); err != nil {
			return fail(StepWake, err)
		}
	}

	// Step 3: Connection preflight (if enabled)
	if cfg.Preflight {
		if err := s.svc.Preflight.Check(ctx, target); err != nil {
			return fail(StepPreflight, err)
		}
	}

	driver, err := dump.DriverFor(target.Engine)
	if err != nil {
		return fail(StepPrepare, err)
	}

	dir := cfg.BackupDirFor(target)
	if err := s.fs.MkdirAll(dir, 0o750); err != nil {
		return fail(StepPrepare, models.NewStepError(models.ErrBackupDir, "create", dir, err))
	}

	// Step 4: Stage credentials
	var creds *credentials.Handle
	releaseCreds := func() {
		if creds == nil {
			return
		}
		h := creds
		creds = nil
		if err := h.Release(); err != nil {
			runErr = errors.Join(runErr, fail(StepCredentials, err))
		}
	}
	defer releaseCreds()

	if driver.NeedsCredentialsFile() {
		creds, err = s.svc.Credentials.Stage(target, cfg.CredentialsDir)
		if err != nil {
			return fail(StepCredentials, err)
		}
		run.CredentialsPath = creds.Path()
	}

	// Step 5: Dump
	result, err := s.svc.Dump.Dump(ctx, dump.Request{
		Target:          target,
		Binaries:        cfg.Binaries,
		CredentialsPath: run.CredentialsPath,
		OutputPath:      run.DumpPath,
		Timeout:         cfg.DumpTimeout,
	})
	if err == nil {
		err = result.Error
	}
	if err != nil {
		return fail(StepDump, err)
	}

	releaseCreds()
	if runErr != nil {
		return runErr
	}

	// Step 6: Restrict and compress
	if err := s.svc.PostProcess.Restrict(run.DumpPath); err != nil {
		return fail(StepRestrict, err)
	}

	compressed, err := s.svc.PostProcess.Compress(run.DumpPath, cfg.Compression.Level)
	if err != nil {
		return fail(StepCompress, err)
	}
	run.ArtifactPath = compressed.OutputPath
	run.ArtifactSize = compressed.SizeBytes

	// Step 7: Retention, never fatal
	s.runPrune(ctx, cfg, dir, run)

	s.logger.Info().
		Str("artifact", run.ArtifactPath).
		Str("size", humanize.IBytes(uint64(run.ArtifactSize))). //nolint:gosec // size is never negative
		Msgf("Completed backup of %s.", target.Database)

	// Step 8: SSH shutdown (if configured)
	if target.SSHShutdown != nil {
		if err := s.runSSHShutdown(ctx, *target.SSHShutdown); err != nil {
			return fail(StepShutdown, err)
		}
	}

	return nil
}

func (s *Impl) runWOL(ctx context.Context, cfg models.WOLConfig, address string) error {
	result, err := s.svc.WOL.Wake(ctx, cfg, address)
	if err != nil {
		return err
	}
	if result.Error != nil {
		return result.Error
	}
	if !result.TargetReady {
		return models.NewStepError(models.ErrWake, "wait", address, errors.New("target did not become ready"))
	}

	s.logger.Info().
		Bool("packet_sent", result.PacketSent).
		Int("attempts", result.Attempts).
		Dur("wait_duration", result.WaitDuration).
		Msg("WOL completed")

	return nil
}

func (s *Impl) runPrune(ctx context.Context, cfg models.Config, dir string, run *models.RunContext) {
	result, err := s.svc.Retention.Prune(ctx, dir, cfg.PrunePattern, cfg.MaxAge())
	if err != nil {
		s.logger.Error().Err(err).Msg("pruning skipped")
		return
	}
	run.Pruned = len(result.Deleted)
	if result.Error != nil {
		s.logger.Warn().Err(result.Error).Msg("some old backups could not be deleted")
	}
}

func (s *Impl) runSSHShutdown(ctx context.Context, cfg models.SSHShutdownConfig) error {
	result, err := s.svc.SSH.Shutdown(ctx, cfg)
	if err != nil {
		return err
	}
	if result.Error != nil {
		// SSH shutdown might return error due to connection closing
		// Only treat as error if command wasn't run
		if !result.CommandRun {
			return result.Error
		}
		s.logger.Warn().
			Err(result.Error).
			Str("output", result.Output).
			Msg("shutdown command returned error (may be expected)")
	}

	s.logger.Info().
		Bool("command_run", result.CommandRun).
		Str("output", result.Output).
		Msg("SSH shutdown command sent")

	return nil
}

// finish exports metrics, mails the report when the policy asks for it and
// discards the report.
func (s *Impl) finish(ctx context.Context, cfg models.Config, run *models.RunContext) {
	if cfg.Metrics.TextfileDir != "" {
		if _, err := s.svc.Metrics.Write(cfg.Metrics.TextfileDir, run); err != nil {
			s.logger.Warn().Err(err).Msg("failed to write metrics textfile")
		}
	}

	if run.Succeeded() {
		s.logger.Info().
			Dur("duration", s.now().Sub(run.StartTime)).
			Msg("backup run completed successfully")
	} else {
		s.logger.Error().
			Uint("errors", run.ErrorCount).
			Str("failed_step", run.FailedStep).
			Dur("duration", s.now().Sub(run.StartTime)).
			Msg("backup run failed")
	}

	if mail.ShouldSend(cfg.Mail, run.ErrorCount) {
		s.sendNotification(ctx, *cfg.Mail, run)
	}

	if err := s.report.Discard(); err != nil {
		s.logger.Warn().Err(err).Msg("failed to discard run report")
	}
}

func (s *Impl) sendNotification(ctx context.Context, cfg models.MailConfig, run *models.RunContext) {
	msg := models.MailMessage{
		Success:   run.Succeeded(),
		Target:    run.Target.ID,
		Host:      s.hostname,
		Timestamp: run.Timestamp,
		Body:      s.report.Body(),
	}

	// Mail still goes out when the run was interrupted.
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()

	result, err := s.svc.Mail.Send(sendCtx, cfg, msg)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to send mail notification")
		return
	}
	if result.Error != nil {
		s.logger.Error().Err(result.Error).Msg("failed to send mail notification")
		return
	}

	s.logger.Info().Str("subject", result.Subject).Msg("mail notification sent")
}
