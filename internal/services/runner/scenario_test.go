package runner

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	gomail "github.com/emersion/go-message/mail"
	"github.com/fgeck/backup-database/internal/logging"
	"github.com/fgeck/backup-database/internal/models"
	"github.com/fgeck/backup-database/internal/report"
	"github.com/fgeck/backup-database/internal/services/credentials"
	"github.com/fgeck/backup-database/internal/services/dump"
	"github.com/fgeck/backup-database/internal/services/lock"
	"github.com/fgeck/backup-database/internal/services/mail"
	"github.com/fgeck/backup-database/internal/services/metrics"
	"github.com/fgeck/backup-database/internal/services/postprocess"
	"github.com/fgeck/backup-database/internal/services/retention"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTool stands in for pg_dump and mysqldump.
type fakeTool struct {
	stdout   string
	stderr   string
	exitErr  error
	credPath string
	credBody []byte
}

func (f *fakeTool) Execute(ctx context.Context, env []string, stdout, stderr io.Writer, name string, args ...string) error {
	for _, arg := range args {
		if p, ok := strings.CutPrefix(arg, "--defaults-file="); ok {
			f.credPath = p
			f.credBody, _ = os.ReadFile(p)
		}
	}
	_, _ = io.WriteString(stdout, f.stdout)
	_, _ = io.WriteString(stderr, f.stderr)
	return f.exitErr
}

type recordingTransport struct {
	mu       sync.Mutex
	messages [][]byte
}

func (r *recordingTransport) Deliver(ctx context.Context, env mail.Envelope, msg []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
	return nil
}

func decodeMail(t *testing.T, raw []byte) (string, string) {
	t.Helper()

	mr, err := gomail.CreateReader(bytes.NewReader(raw))
	require.NoError(t, err)
	defer mr.Close()

	subject, err := mr.Header.Subject()
	require.NoError(t, err)
	part, err := mr.NextPart()
	require.NoError(t, err)
	body, err := io.ReadAll(part.Body)
	require.NoError(t, err)

	return subject, string(body)
}

type scenario struct {
	dir       string
	cfg       models.Config
	tool      *fakeTool
	transport *recordingTransport
	console   bytes.Buffer
	report    *report.Report
}

func newScenario(t *testing.T) *scenario {
	t.Helper()
	dir := t.TempDir()
	cfg := minimalConfig()
	cfg.BackupDir = filepath.Join(dir, "backups")
	cfg.CredentialsDir = filepath.Join(dir, "home")
	cfg.LockDir = filepath.Join(dir, "run")
	cfg.Metrics.TextfileDir = filepath.Join(dir, "textfile")
	cfg.Mail = mailConfig()
	cfg.Mail.BodyFile = filepath.Join(dir, "backup_database.log")
	require.NoError(t, os.MkdirAll(cfg.CredentialsDir, 0o700))

	return &scenario{
		dir:       dir,
		cfg:       cfg,
		tool:      &fakeTool{stdout: "-- SQL dump\nCREATE TABLE pages (id int);\n"},
		transport: &recordingTransport{},
		report:    report.New(afero.NewOsFs(), cfg.Mail.BodyFile),
	}
}

func (sc *scenario) run(t *testing.T, target models.Target) error {
	t.Helper()
	require.NoError(t, sc.report.Reset())

	logger, sinks, err := logging.New(logging.Options{
		Console: &sc.console,
		Report:  sc.report,
		Secrets: []string{target.Password},
	})
	require.NoError(t, err)
	defer func() { _ = sinks.Close() }()

	fs := afero.NewOsFs()
	r := NewWithServices(logger, sc.report, Services{
		Lock:        lock.New(logger),
		WOL:         &mockWOLService{},
		Preflight:   &mockPreflightService{},
		Credentials: credentials.NewWithFs(logger, fs),
		Dump:        dump.NewWithExecutor(logger, sc.tool, fs),
		PostProcess: postprocess.NewWithFs(logger, fs),
		Retention:   retention.NewWithFs(logger, fs, time.Now),
		SSH:         &mockSSHService{},
		Metrics:     metrics.New(logger),
		Mail:        mail.NewWithTransport(logger, sc.transport),
	}, fs, func() time.Time { return fixedNow })

	return r.Run(context.Background(), sc.cfg, target)
}

func TestScenario_PostgresWiki(t *testing.T) {
	sc := newScenario(t)

	err := sc.run(t, wikiTarget())
	require.NoError(t, err)

	artifact := filepath.Join(sc.cfg.BackupDir, "db-dump-wiki-2024.03.01-02.00.sql.gz")
	info, err := os.Stat(artifact)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o660), info.Mode().Perm())

	_, err = os.Stat(strings.TrimSuffix(artifact, ".gz"))
	assert.True(t, os.IsNotExist(err))

	assert.Contains(t, sc.console.String(), "Completed backup of wiki.")
	assert.Empty(t, sc.transport.messages)

	// pg_dump gets its password through the environment, no file is staged.
	assert.Empty(t, sc.tool.credPath)
	entries, err := os.ReadDir(sc.cfg.CredentialsDir)
	require.NoError(t, err)
	assert.Empty(t, entries)

	// The side file does not outlive the run.
	_, err = os.Stat(sc.cfg.Mail.BodyFile)
	assert.True(t, os.IsNotExist(err))

	prom, err := os.ReadFile(filepath.Join(sc.cfg.Metrics.TextfileDir, "backup_database_wiki.prom"))
	require.NoError(t, err)
	assert.Contains(t, string(prom), `backup_database_last_run_success{engine="postgres",target="wiki"} 1`)
}

func TestScenario_MySQLCrowdFailureMailsRedactedLog(t *testing.T) {
	sc := newScenario(t)
	sc.tool.stdout = "-- partial"
	sc.tool.stderr = "mysqldump: Got error: 1045: Access denied for user 'crowduser' (using password: crowdpass)\n"
	sc.tool.exitErr = fmt.Errorf("exit status 2")

	err := sc.run(t, crowdTarget())
	require.ErrorIs(t, err, models.ErrDumpFailed)

	// The credentials file existed while the tool ran and is gone now.
	assert.Equal(t, filepath.Join(sc.cfg.CredentialsDir, ".my.crowd.cnf"), sc.tool.credPath)
	assert.Contains(t, string(sc.tool.credBody), "password=crowdpass")
	_, err = os.Stat(sc.tool.credPath)
	assert.True(t, os.IsNotExist(err))

	// Neither the partial dump nor an artifact is left behind.
	entries, err := os.ReadDir(sc.cfg.BackupDir)
	require.NoError(t, err)
	assert.Empty(t, entries)

	require.Len(t, sc.transport.messages, 1)
	subject, body := decodeMail(t, sc.transport.messages[0])
	assert.Equal(t, "ALERT: Database Backup Failed", subject)
	assert.Contains(t, body, "Access denied")
	assert.Contains(t, body, logging.Mask)
	assert.NotContains(t, body, "crowdpass")
	assert.NotContains(t, string(sc.transport.messages[0]), "crowdpass")
	assert.NotContains(t, sc.console.String(), "crowdpass")
}

func TestScenario_SecondRunIsLocked(t *testing.T) {
	sc := newScenario(t)

	held, err := lock.New(zerolog.Nop()).Acquire(sc.cfg.LockDir, "wiki")
	require.NoError(t, err)
	defer func() { _ = held.Release() }()

	err = sc.run(t, wikiTarget())
	require.ErrorIs(t, err, models.ErrLocked)

	_, err = os.Stat(sc.cfg.BackupDir)
	assert.True(t, os.IsNotExist(err))
	require.Len(t, sc.transport.messages, 1)
}
