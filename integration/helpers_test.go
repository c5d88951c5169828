//go:build integration

package integration

import (
	"io"
	"os"
	"os/exec"
	"strconv"
	"testing"

	"github.com/fgeck/backup-database/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func lookBinary(t *testing.T, name string) string {
	t.Helper()
	path, err := exec.LookPath(name)
	if err != nil {
		t.Skipf("%s not installed", name)
	}
	return path
}

func binaries(t *testing.T, engine models.Engine) models.Binaries {
	t.Helper()
	b := models.Binaries{MySQLDump: "mysqldump", PGDump: "pg_dump"}
	switch engine {
	case models.EngineMySQL:
		b.MySQLDump = lookBinary(t, "mysqldump")
	case models.EnginePostgres:
		b.PGDump = lookBinary(t, "pg_dump")
	}
	return b
}

func port(t *testing.T, key, fallback string) uint16 {
	t.Helper()
	p, err := strconv.ParseUint(envOr(key, fallback), 10, 16)
	require.NoError(t, err)
	return uint16(p)
}

func getPostgresTarget(t *testing.T) models.Target {
	t.Helper()

	host := os.Getenv("TEST_POSTGRES_HOST")
	if host == "" {
		t.Skip("TEST_POSTGRES_HOST not set")
	}
	database := os.Getenv("TEST_POSTGRES_DB")
	if database == "" {
		t.Skip("TEST_POSTGRES_DB not set")
	}

	return models.Target{
		ID:       "pgtest",
		Engine:   models.EnginePostgres,
		Host:     host,
		Port:     port(t, "TEST_POSTGRES_PORT", "5432"),
		Database: database,
		User:     envOr("TEST_POSTGRES_USER", "postgres"),
		Password: os.Getenv("TEST_POSTGRES_PASSWORD"),
		SSLMode:  envOr("TEST_POSTGRES_SSLMODE", "disable"),
	}
}

func getMySQLTarget(t *testing.T) models.Target {
	t.Helper()

	host := os.Getenv("TEST_MYSQL_HOST")
	if host == "" {
		t.Skip("TEST_MYSQL_HOST not set")
	}
	database := os.Getenv("TEST_MYSQL_DB")
	if database == "" {
		t.Skip("TEST_MYSQL_DB not set")
	}

	return models.Target{
		ID:       "mysqltest",
		Engine:   models.EngineMySQL,
		Host:     host,
		Port:     port(t, "TEST_MYSQL_PORT", "3306"),
		Database: database,
		User:     envOr("TEST_MYSQL_USER", "root"),
		Password: os.Getenv("TEST_MYSQL_PASSWORD"),
	}
}
