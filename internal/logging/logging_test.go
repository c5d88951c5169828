package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/fgeck/backup-database/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedactor_Redact(t *testing.T) {
	r := NewRedactor("s3cr3t", "", "hunter2")

	assert.Equal(t, "password=******** other=********", r.Redact("password=s3cr3t other=hunter2"))
	assert.Equal(t, "nothing to hide", r.Redact("nothing to hide"))
}

func TestRedactor_NoSecrets(t *testing.T) {
	var buf bytes.Buffer
	r := NewRedactor("")

	w := r.Wrap(&buf)
	assert.Same(t, &buf, w)
	assert.Equal(t, "plain", r.Redact("plain"))
}

func TestRedactor_Wrap(t *testing.T) {
	var buf bytes.Buffer
	w := NewRedactor("s3cr3t").Wrap(&buf)

	n, err := w.Write([]byte("connecting with s3cr3t\n"))

	require.NoError(t, err)
	assert.Equal(t, len("connecting with s3cr3t\n"), n)
	assert.Equal(t, "connecting with ********\n", buf.String())
}

func TestNew_AllSinksRedacted(t *testing.T) {
	dir := t.TempDir()
	logFile := filepath.Join(dir, "backup_database.log")

	var console, report bytes.Buffer
	logger, sinks, err := New(Options{
		Console: &console,
		File:    &models.LogSettings{File: logFile, MaxSizeMB: 1, MaxBackups: 5},
		Report:  &report,
		Secrets: []string{"wikipass"},
	})
	require.NoError(t, err)

	logger.Info().Str("dsn", "user=wiki password=wikipass").Msg("Starting backup of wiki.")
	require.NoError(t, sinks.Close())

	fileData, err := os.ReadFile(logFile)
	require.NoError(t, err)

	for name, out := range map[string]string{
		"console": console.String(),
		"file":    string(fileData),
		"report":  report.String(),
	} {
		assert.Contains(t, out, "Starting backup of wiki.", name)
		assert.NotContains(t, out, "wikipass", name)
		assert.Contains(t, out, Mask, name)
	}

	// File and report lines carry a bracketed timestamp and a level prefix.
	line := regexp.MustCompile(`^\[\d{4}\.\d{2}\.\d{2} \d{2}:\d{2}:\d{2}\] INFO: Starting backup of wiki\.`)
	assert.Regexp(t, line, string(fileData))
	assert.Regexp(t, line, report.String())
}

func TestNew_RestrictsLogFile(t *testing.T) {
	dir := t.TempDir()
	logFile := filepath.Join(dir, "backup_database.log")

	logger, sinks, err := New(Options{
		File: &models.LogSettings{File: logFile, MaxSizeMB: 1, MaxBackups: 5},
	})
	require.NoError(t, err)

	logger.Info().Msg("hello")
	require.NoError(t, sinks.Close())

	info, err := os.Stat(logFile)
	require.NoError(t, err)
	assert.Equal(t, FileMode, info.Mode().Perm())
}

func TestNew_JSONConsole(t *testing.T) {
	var console bytes.Buffer
	logger, _, err := New(Options{Console: &console, JSON: true, Secrets: []string{"pw"}})
	require.NoError(t, err)

	logger.Info().Str("password", "pw").Msg("json event")

	assert.Contains(t, console.String(), `"message":"json event"`)
	assert.Contains(t, console.String(), `"password":"********"`)
}

func TestNew_JSONConsoleEscapedSecret(t *testing.T) {
	secret := `p"a\ss`
	var console bytes.Buffer
	logger, _, err := New(Options{Console: &console, JSON: true, Secrets: []string{secret}})
	require.NoError(t, err)

	logger.Info().Str("password", secret).Msgf("login with %s", secret)

	assert.NotContains(t, console.String(), `p\"a\\ss`)
	assert.NotContains(t, console.String(), `a\\ss`)
	assert.Contains(t, console.String(), `"password":"********"`)
	assert.Contains(t, console.String(), `"message":"login with ********"`)
}

func TestJSONEscape(t *testing.T) {
	assert.Equal(t, "plain", jsonEscape("plain"))
	assert.Equal(t, `a\"b\\c\nd\u0001`, jsonEscape("a\"b\\c\nd\x01"))
}

func TestNew_NoSinks(t *testing.T) {
	logger, sinks, err := New(Options{})

	require.NoError(t, err)
	assert.NoError(t, sinks.Close())
	logger.Info().Msg("goes nowhere")
}

func TestLevel(t *testing.T) {
	assert.Equal(t, "error", Level(false, true).String())
	assert.Equal(t, "error", Level(true, true).String())
	assert.Equal(t, "debug", Level(true, false).String())
	assert.Equal(t, "info", Level(false, false).String())
}
