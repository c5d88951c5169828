package main

import (
	"fmt"
	"os"

	"github.com/fgeck/backup-database/internal/config"
	"github.com/fgeck/backup-database/internal/logging"
	"github.com/fgeck/backup-database/internal/models"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time.
	Version = "dev"

	// Configuration flags.
	configFile string
	verbose    bool
	quiet      bool
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "backup-database",
	Short: "Dump, compress and prune database backups",
	Long: `backup-database dumps one configured database target per invocation:
  - MySQL/MariaDB via mysqldump with a short-lived credentials file
  - PostgreSQL via pg_dump with the password in the environment
  - gzip compression and 0660 permissions on the result
  - age-based pruning of the backup directory
  - sendmail notification with the run log

Use as a one-shot command with an external scheduler (cron, systemd timer, etc.)`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging()
	},
	SilenceUsage: true,
	Version:      Version,
}

func init() {
	rootCmd.SetOut(os.Stdout)

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", config.DefaultPath(), "config file (default /etc/$MY_ORG/backup-database.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose (debug) output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "enable quiet mode (errors only)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output logs in JSON format")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(targetsCmd)
}

func setupLogging() {
	// Console only until a run attaches its file and report sinks.
	log.Logger, _, _ = logging.New(logging.Options{
		Console: os.Stdout,
		JSON:    jsonOutput,
	})
	zerolog.SetGlobalLevel(logging.Level(verbose, quiet))
}

// loadConfig parses and validates the configuration file.
func loadConfig() (*models.Config, error) {
	if configFile == "" {
		return nil, fmt.Errorf("%w: no config file given (use --config or set MY_ORG)", models.ErrConfig)
	}

	cfg, err := config.NewParser().LoadFile(configFile)
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
