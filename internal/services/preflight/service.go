// Package preflight checks that a target accepts the configured login before
// the dump tool is started.
package preflight

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fgeck/backup-database/internal/models"
	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/rs/zerolog"
)

// DefaultTimeout bounds connecting and pinging.
const DefaultTimeout = 10 * time.Second

// Service defines the interface for connection checks.
type Service interface {
	Check(ctx context.Context, target models.Target) error
}

// OpenFunc opens a database handle for target.
type OpenFunc func(target models.Target) (*sql.DB, error)

// Impl implements the preflight Service interface.
type Impl struct {
	open    OpenFunc
	timeout time.Duration
	logger  zerolog.Logger
}

// New creates a new preflight service using the native drivers.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		open:    Open,
		timeout: DefaultTimeout,
		logger:  logger,
	}
}

// NewWithOpener creates a new preflight service with a custom opener (for testing).
func NewWithOpener(logger zerolog.Logger, open OpenFunc) *Impl {
	return &Impl{
		open:    open,
		timeout: DefaultTimeout,
		logger:  logger,
	}
}

// Check connects to target and pings it once.
func (s *Impl) Check(ctx context.Context, target models.Target) error {
	s.logger.Info().
		Str("engine", string(target.Engine)).
		Str("address", target.Address()).
		Str("database", target.Database).
		Msg("checking database connection")

	db, err := s.open(target)
	if err != nil {
		return models.NewStepError(models.ErrConnection, "open", target.Address(), err)
	}
	defer func() { _ = db.Close() }()

	pingCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		return models.NewStepError(models.ErrConnection, "ping", target.Address(),
			fmt.Errorf("%w (is a remote connection allowed from this host?)", err))
	}

	s.logger.Info().Str("address", target.Address()).Msg("database connection ok")
	return nil
}

// Open returns a handle on target using lib/pq or go-sql-driver/mysql.
func Open(target models.Target) (*sql.DB, error) {
	switch target.Engine {
	case models.EnginePostgres:
		connector, err := pq.NewConnector(PostgresDSN(target))
		if err != nil {
			return nil, err
		}
		return sql.OpenDB(connector), nil
	case models.EngineMySQL:
		connector, err := mysql.NewConnector(MySQLConfig(target))
		if err != nil {
			return nil, err
		}
		return sql.OpenDB(connector), nil
	default:
		return nil, fmt.Errorf("%w: unknown engine %q", models.ErrConfig, target.Engine)
	}
}

// PostgresDSN returns a lib/pq key=value connection string for target.
func PostgresDSN(target models.Target) string {
	params := [][2]string{
		{"host", target.Host},
		{"port", strconv.Itoa(int(target.Port))},
		{"user", target.User},
		{"dbname", target.Database},
		{"sslmode", pqSSLMode(target.SSLMode)},
		{"connect_timeout", strconv.Itoa(int(DefaultTimeout.Seconds()))},
	}
	if target.Password != "" {
		params = append(params, [2]string{"password", target.Password})
	}

	parts := make([]string, 0, len(params))
	for _, kv := range params {
		parts = append(parts, kv[0]+"="+quoteDSNValue(kv[1]))
	}
	return strings.Join(parts, " ")
}

// pqSSLMode maps libpq modes onto the subset lib/pq understands.
func pqSSLMode(mode string) string {
	switch mode {
	case "require", "verify-ca", "verify-full", "disable":
		return mode
	default:
		// allow and prefer fall back to plain connections.
		return "disable"
	}
}

func quoteDSNValue(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(v) + "'"
}

// MySQLConfig returns the go-sql-driver/mysql configuration for target.
func MySQLConfig(target models.Target) *mysql.Config {
	cfg := mysql.NewConfig()
	cfg.User = target.User
	cfg.Passwd = target.Password
	cfg.Net = "tcp"
	cfg.Addr = target.Address()
	cfg.DBName = target.Database
	cfg.Timeout = DefaultTimeout
	return cfg
}
