// Package config provides configuration file parsing and target resolution.
package config

import (
	"errors"
	"fmt"
	"os"
	"os/user"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/fgeck/backup-database/internal/models"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Defaults applied when the configuration leaves a setting out.
const (
	DefaultBackupDir      = "/data/backups"
	DefaultPrefix         = "db-dump"
	DefaultMaxAgeDays     = 30
	DefaultPrunePattern   = "*.sql.gz"
	DefaultMySQLDump      = "/usr/bin/mysqldump"
	DefaultPGDump         = "/usr/bin/pg_dump"
	DefaultLogFile        = "/data/logs/backup_database.log"
	DefaultLogMaxSizeMB   = 1
	DefaultLogMaxBackups  = 5
	DefaultSendmail       = "/usr/sbin/sendmail"
	DefaultFailureSubject = "ALERT: Database Backup Failed"
	DefaultSuccessSubject = "INFO: Database Backup Succeeded"
	DefaultMySQLPort      = 3306
	DefaultPostgresPort   = 5432
)

// Parser handles configuration file parsing.
type Parser struct {
	v *viper.Viper
}

// NewParser creates a new configuration parser.
func NewParser() *Parser {
	v := viper.New()
	v.SetConfigType("yaml")
	return &Parser{v: v}
}

// DefaultPath returns /etc/$MY_ORG/backup-database.yaml, or an empty string if MY_ORG is unset.
func DefaultPath() string {
	org := os.Getenv("MY_ORG")
	if org == "" {
		return ""
	}
	return "/etc/" + org + "/backup-database.yaml"
}

// LoadFile loads configuration from a file path.
func (p *Parser) LoadFile(path string) (*models.Config, error) {
	p.v.SetConfigFile(path)

	if err := p.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return p.parse()
}

// LoadReader loads configuration from a reader (useful for testing).
func (p *Parser) LoadReader(content string) (*models.Config, error) {
	if err := p.v.ReadConfig(strings.NewReader(content)); err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	return p.parse()
}

//nolint:gocognit,gocyclo // parsing config requires checking many fields
func (p *Parser) parse() (*models.Config, error) {
	home := homeDir()

	cfg := &models.Config{
		BackupDir:      p.expandEnv(p.v.GetString("backup_dir")),
		Prefix:         p.v.GetString("prefix"),
		MaxAgeDays:     p.v.GetFloat64("max_age_days"),
		PrunePattern:   p.v.GetString("prune_pattern"),
		CredentialsDir: p.expandEnv(p.v.GetString("credentials_dir")),
		LockDir:        p.expandEnv(p.v.GetString("lock_dir")),
		DumpTimeout:    p.v.GetDuration("dump_timeout"),
		Preflight:      p.v.GetBool("preflight"),
		Binaries: models.Binaries{
			MySQLDump: p.v.GetString("binaries.mysqldump"),
			PGDump:    p.v.GetString("binaries.pg_dump"),
		},
		Compression: models.CompressionSettings{
			Level: -1,
		},
		Log: models.LogSettings{
			File:       p.expandEnv(p.v.GetString("log.file")),
			MaxSizeMB:  p.v.GetInt("log.max_size_mb"),
			MaxBackups: p.v.GetInt("log.max_backups"),
		},
		Metrics: models.MetricsSettings{
			TextfileDir: p.v.GetString("metrics.textfile_dir"),
		},
		Targets: map[string]models.Target{},
	}

	if cfg.BackupDir == "" {
		cfg.BackupDir = DefaultBackupDir
	}
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	if !p.v.IsSet("max_age_days") {
		cfg.MaxAgeDays = DefaultMaxAgeDays
	}
	if cfg.PrunePattern == "" {
		cfg.PrunePattern = DefaultPrunePattern
	}
	if cfg.CredentialsDir == "" {
		cfg.CredentialsDir = home
	}
	if cfg.LockDir == "" {
		cfg.LockDir = os.TempDir()
	}
	if cfg.Binaries.MySQLDump == "" {
		cfg.Binaries.MySQLDump = DefaultMySQLDump
	}
	if cfg.Binaries.PGDump == "" {
		cfg.Binaries.PGDump = DefaultPGDump
	}
	if p.v.IsSet("compression.level") {
		cfg.Compression.Level = p.v.GetInt("compression.level")
	}
	if cfg.Log.File == "" {
		cfg.Log.File = DefaultLogFile
	}
	if cfg.Log.MaxSizeMB == 0 {
		cfg.Log.MaxSizeMB = DefaultLogMaxSizeMB
	}
	if !p.v.IsSet("log.max_backups") {
		cfg.Log.MaxBackups = DefaultLogMaxBackups
	}

	// Parse optional mail config.
	if p.v.IsSet("mail") { //nolint:nestif // config parsing with defaults
		cfg.Mail = &models.MailConfig{
			Recipients:     p.v.GetStringSlice("mail.recipients"),
			From:           p.v.GetString("mail.from"),
			OnFailure:      true,
			OnSuccess:      p.v.GetBool("mail.on_success"),
			FailureSubject: p.v.GetString("mail.failure_subject"),
			SuccessSubject: p.v.GetString("mail.success_subject"),
			Sendmail:       p.v.GetString("mail.sendmail"),
			BodyFile:       p.expandEnv(p.v.GetString("mail.body_file")),
		}

		if len(cfg.Mail.Recipients) == 0 {
			return nil, fmt.Errorf("mail.recipients is required when mail is configured")
		}
		if p.v.IsSet("mail.on_failure") {
			cfg.Mail.OnFailure = p.v.GetBool("mail.on_failure")
		}
		if cfg.Mail.From == "" {
			cfg.Mail.From = defaultSender()
		}
		if cfg.Mail.FailureSubject == "" {
			cfg.Mail.FailureSubject = DefaultFailureSubject
		}
		if cfg.Mail.SuccessSubject == "" {
			cfg.Mail.SuccessSubject = DefaultSuccessSubject
		}
		if cfg.Mail.Sendmail == "" {
			cfg.Mail.Sendmail = DefaultSendmail
		}
		if cfg.Mail.BodyFile == "" && home != "" {
			cfg.Mail.BodyFile = home + "/.backup-database_mail_body"
		}
	}

	ids := make([]string, 0)
	for id := range p.v.GetStringMap("targets") {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		target, err := p.parseTarget(id)
		if err != nil {
			return nil, err
		}
		cfg.Targets[id] = target
	}

	if len(cfg.Targets) == 0 {
		return nil, fmt.Errorf("targets is required")
	}

	return cfg, nil
}

//nolint:gocognit,gocyclo // parsing config requires checking many fields
func (p *Parser) parseTarget(id string) (models.Target, error) {
	key := func(k string) string { return "targets." + id + "." + k }

	engine, err := models.ParseEngine(p.v.GetString(key("engine")))
	if err != nil {
		return models.Target{}, fmt.Errorf("targets.%s.engine: %w", id, err)
	}

	port := p.v.GetInt(key("port"))
	if port == 0 {
		port = DefaultPostgresPort
		if engine == models.EngineMySQL {
			port = DefaultMySQLPort
		}
	}
	if port < 1 || port > 65535 {
		return models.Target{}, fmt.Errorf("targets.%s.port must be between 1 and 65535", id)
	}

	t := models.Target{
		ID:        id,
		Engine:    engine,
		Host:      p.v.GetString(key("host")),
		Port:      uint16(port),
		Database:  p.v.GetString(key("database")),
		User:      p.v.GetString(key("user")),
		Password:  p.expandSecret(p.v.GetString(key("password"))),
		BackupDir: p.expandEnv(p.v.GetString(key("backup_dir"))),
		SSLMode:   p.v.GetString(key("ssl_mode")),
		ExtraArgs: p.v.GetStringSlice(key("extra_args")),
	}

	if t.Host == "" {
		t.Host = "localhost"
	}
	if t.Database == "" {
		t.Database = id
	}
	if t.User == "" {
		return models.Target{}, fmt.Errorf("targets.%s.user is required", id)
	}

	// Parse optional WOL config.
	if p.v.IsSet(key("wol")) { //nolint:nestif // config parsing with defaults
		t.WOL = &models.WOLConfig{
			MACAddress:    p.v.GetString(key("wol.mac_address")),
			BroadcastIP:   p.v.GetString(key("wol.broadcast_ip")),
			Timeout:       p.v.GetDuration(key("wol.timeout")),
			PollInterval:  p.v.GetDuration(key("wol.poll_interval")),
			StabilizeWait: p.v.GetDuration(key("wol.stabilize_wait")),
		}

		if t.WOL.MACAddress == "" {
			return models.Target{}, fmt.Errorf("targets.%s.wol.mac_address is required when wol is configured", id)
		}
		if t.WOL.BroadcastIP == "" {
			t.WOL.BroadcastIP = "255.255.255.255"
		}
		if t.WOL.Timeout == 0 {
			t.WOL.Timeout = 5 * time.Minute
		}
		if t.WOL.PollInterval == 0 {
			t.WOL.PollInterval = 10 * time.Second
		}
		if !p.v.IsSet(key("wol.stabilize_wait")) {
			t.WOL.StabilizeWait = 10 * time.Second
		}
	}

	// Parse optional SSH shutdown config.
	if p.v.IsSet(key("ssh_shutdown")) { //nolint:nestif // config parsing with defaults
		t.SSHShutdown = &models.SSHShutdownConfig{
			Host:           p.v.GetString(key("ssh_shutdown.host")),
			Port:           p.v.GetInt(key("ssh_shutdown.port")),
			Username:       p.v.GetString(key("ssh_shutdown.username")),
			KeyPath:        p.expandEnv(p.v.GetString(key("ssh_shutdown.key_path"))),
			KnownHostsPath: p.expandEnv(p.v.GetString(key("ssh_shutdown.known_hosts"))),
			ShutdownDelay:  p.v.GetInt(key("ssh_shutdown.shutdown_delay")),
		}

		if t.SSHShutdown.Host == "" {
			t.SSHShutdown.Host = t.Host
		}
		if t.SSHShutdown.Port == 0 {
			t.SSHShutdown.Port = 22
		}
		if t.SSHShutdown.Username == "" {
			t.SSHShutdown.Username = "root"
		}
		if t.SSHShutdown.KeyPath == "" {
			return models.Target{}, fmt.Errorf("targets.%s.ssh_shutdown.key_path is required when ssh_shutdown is configured", id)
		}
		if !p.v.IsSet(key("ssh_shutdown.shutdown_delay")) {
			t.SSHShutdown.ShutdownDelay = 1
		}
	}

	return t, nil
}

var (
	envRef      = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)
	wholeEnvRef = regexp.MustCompile(`^\$\{([A-Za-z_][A-Za-z0-9_]*)\}$`)
)

// expandEnv expands ${VAR} references. Any other $ is kept literally.
func (p *Parser) expandEnv(s string) string {
	return envRef.ReplaceAllStringFunc(s, func(ref string) string {
		return os.Getenv(envRef.FindStringSubmatch(ref)[1])
	})
}

// expandSecret reads a secret from the environment only when the whole value
// is a single ${VAR} reference, so passwords containing $ stay intact.
func (p *Parser) expandSecret(s string) string {
	m := wholeEnvRef.FindStringSubmatch(s)
	if m == nil {
		return s
	}
	return os.Getenv(m[1])
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return os.TempDir()
	}
	return home
}

// defaultSender derives user@host from the invoking user.
func defaultSender() string {
	name := os.Getenv("USER")
	if name == "" {
		if u, err := user.Current(); err == nil {
			name = u.Username
		} else {
			name = "root"
		}
	}
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "localhost"
	}
	return name + "@" + hostname
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate performs validation on the loaded configuration.
func Validate(cfg *models.Config) error {
	if cfg == nil {
		return fmt.Errorf("%w: configuration is nil", models.ErrConfig)
	}

	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s fails %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", models.ErrConfig, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %w", models.ErrConfig, err)
	}

	return nil
}
