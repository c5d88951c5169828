package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/fgeck/backup-database/internal/config"
	"github.com/fgeck/backup-database/internal/logging"
	"github.com/fgeck/backup-database/internal/models"
	"github.com/fgeck/backup-database/internal/report"
	"github.com/fgeck/backup-database/internal/services/runner"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

var application string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Back up one database target",
	Long: `Execute the backup workflow for the target selected with --application:
1. Acquire the per-target run lock
2. Wake-on-LAN (if configured)
3. Connection preflight (if enabled)
4. Stage the credentials file (mysqldump only)
5. Dump the database
6. Restrict permissions and gzip the dump
7. Prune backups older than max_age_days
8. SSH shutdown (if configured)
9. Mail the run log (if configured)`,
	Example: "  backup-database run -a wiki",
	RunE:    runBackup,
}

func init() {
	runCmd.Flags().StringVarP(&application, "application", "a", "", "target to back up (required)")
}

func runBackup(cmd *cobra.Command, args []string) error {
	// Nothing is touched before the target is known.
	cfg, err := loadConfig()
	if err != nil {
		log.Error().Err(err).Str("file", configFile).Msg("failed to load config")
		return err
	}

	target, err := config.Resolve(cfg, application)
	if err != nil {
		log.Error().Err(err).Msg("invalid target")
		_ = cmd.Usage()
		return err
	}

	bodyFile := ""
	if cfg.Mail != nil {
		bodyFile = cfg.Mail.BodyFile
	}
	rep := report.New(afero.NewOsFs(), bodyFile)
	if err := rep.Reset(); err != nil {
		log.Warn().Err(err).Str("file", rep.Path()).Msg("failed to clear previous run report")
	}

	logger, sinks, err := logging.New(logging.Options{
		Console: os.Stdout,
		JSON:    jsonOutput,
		File:    &cfg.Log,
		Report:  rep,
		Secrets: secretsOf(target),
	})
	if err != nil {
		log.Error().Err(err).Str("file", cfg.Log.File).Msg("failed to open log file")
		return err
	}
	defer func() { _ = sinks.Close() }()
	log.Logger = logger

	log.Info().
		Str("config", configFile).
		Str("target", target.ID).
		Str("backup_dir", cfg.BackupDirFor(target)).
		Msg("configuration loaded")

	// Set up context with signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			log.Warn().Str("signal", sig.String()).Msg("received signal, shutting down")
			cancel()
		case <-ctx.Done():
		}
	}()

	runnerSvc := runner.New(logger, rep)
	if err := runnerSvc.Run(ctx, *cfg, target); err != nil {
		if errors.Is(err, context.Canceled) {
			log.Error().Msg("backup interrupted")
		}
		return err
	}

	return nil
}

func secretsOf(target models.Target) []string {
	return []string{target.Password}
}
