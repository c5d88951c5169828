package dump

import (
	"fmt"
	"strconv"

	"github.com/fgeck/backup-database/internal/models"
)

// Driver knows how to invoke the dump tool of one engine.
type Driver interface {
	Engine() models.Engine
	// Binary returns the configured path of the dump tool.
	Binary(bin models.Binaries) string
	// NeedsCredentialsFile reports whether the login is passed through a staged option file.
	NeedsCredentialsFile() bool
	// Args returns the argument vector. It never contains the password.
	Args(target models.Target, credentialsPath string) []string
	// Env returns variables added to the environment of the dump tool only.
	Env(target models.Target) []string
}

// DriverFor returns the driver of engine.
func DriverFor(engine models.Engine) (Driver, error) {
	switch engine {
	case models.EngineMySQL:
		return mysqlDriver{}, nil
	case models.EnginePostgres:
		return postgresDriver{}, nil
	default:
		return nil, fmt.Errorf("%w: no dump driver for engine %q", models.ErrConfig, engine)
	}
}

type mysqlDriver struct{}

func (mysqlDriver) Engine() models.Engine { return models.EngineMySQL }

func (mysqlDriver) Binary(bin models.Binaries) string { return bin.MySQLDump }

func (mysqlDriver) NeedsCredentialsFile() bool { return true }

// --defaults-file has to be the first option or mysqldump ignores it.
func (mysqlDriver) Args(target models.Target, credentialsPath string) []string {
	args := []string{
		"--defaults-file=" + credentialsPath,
		"--default-character-set=utf8",
		"-h", target.Host,
		"-P", strconv.Itoa(int(target.Port)),
		"-v",
	}
	args = append(args, target.ExtraArgs...)
	// The database name is never read as an option.
	return append(args, "--", target.Database)
}

func (mysqlDriver) Env(models.Target) []string { return nil }

type postgresDriver struct{}

func (postgresDriver) Engine() models.Engine { return models.EnginePostgres }

func (postgresDriver) Binary(bin models.Binaries) string { return bin.PGDump }

func (postgresDriver) NeedsCredentialsFile() bool { return false }

func (postgresDriver) Args(target models.Target, _ string) []string {
	args := []string{
		"--no-password",
		"-U", target.User,
		"-h", target.Host,
		"-p", strconv.Itoa(int(target.Port)),
	}
	args = append(args, target.ExtraArgs...)
	return append(args, "--dbname="+target.Database)
}

func (postgresDriver) Env(target models.Target) []string {
	env := []string{}
	if target.Password != "" {
		env = append(env, "PGPASSWORD="+target.Password)
	}
	if target.SSLMode != "" {
		env = append(env, "PGSSLMODE="+target.SSLMode)
	}
	return env
}
