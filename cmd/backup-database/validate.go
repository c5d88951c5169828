package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/fgeck/backup-database/internal/models"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long:  `Validate the configuration file without executing any backup operations.`,
	RunE:  validateConfig,
}

func validateConfig(cmd *cobra.Command, args []string) error {
	// Check if file exists
	if configFile != "" {
		if _, err := os.Stat(configFile); os.IsNotExist(err) {
			log.Error().Str("file", configFile).Msg("config file not found")
			return fmt.Errorf("config file not found: %s", configFile)
		}
	}

	cfg, err := loadConfig()
	if err != nil {
		log.Error().Err(err).Str("file", configFile).Msg("configuration validation failed")
		return err
	}

	printSummary(cmd, cfg)
	return nil
}

func printSummary(cmd *cobra.Command, cfg *models.Config) {
	out := cmd.OutOrStdout()

	fmt.Fprintln(out, "Configuration is valid!")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Summary:")
	fmt.Fprintf(out, "  Backup dir: %s\n", cfg.BackupDir)
	fmt.Fprintf(out, "  Prefix: %s\n", cfg.Prefix)
	fmt.Fprintf(out, "  Max age: %g day(s)\n", cfg.MaxAgeDays)
	fmt.Fprintf(out, "  Prune pattern: %s\n", cfg.PrunePattern)
	fmt.Fprintf(out, "  Log file: %s\n", cfg.Log.File)
	if cfg.DumpTimeout > 0 {
		fmt.Fprintf(out, "  Dump timeout: %s\n", cfg.DumpTimeout)
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Optional Features:")
	fmt.Fprintf(out, "  Preflight: %v\n", cfg.Preflight)
	fmt.Fprintf(out, "  Mail: %v\n", cfg.Mail != nil)
	fmt.Fprintf(out, "  Metrics: %v\n", cfg.Metrics.TextfileDir != "")

	if cfg.Mail != nil {
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Mail Configuration:")
		fmt.Fprintf(out, "  Recipients: %v\n", cfg.Mail.Recipients)
		fmt.Fprintf(out, "  On failure: %v\n", cfg.Mail.OnFailure)
		fmt.Fprintf(out, "  On success: %v\n", cfg.Mail.OnSuccess)
	}

	ids := cfg.TargetIDs()
	sort.Strings(ids)

	fmt.Fprintln(out)
	fmt.Fprintln(out, "Targets:")
	for _, id := range ids {
		t := cfg.Targets[id]
		fmt.Fprintf(out, "  %s: %s %s/%s as %s", id, t.Engine, t.Address(), t.Database, t.User)
		if t.WOL != nil {
			fmt.Fprintf(out, ", wol %s", t.WOL.MACAddress)
		}
		if t.SSHShutdown != nil {
			fmt.Fprintf(out, ", shutdown via %s@%s", t.SSHShutdown.Username, t.SSHShutdown.Host)
		}
		fmt.Fprintln(out)
	}
}
