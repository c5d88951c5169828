package runner

import (
	"bytes"
	"context"
	"io"
	"time"

	"github.com/fgeck/backup-database/internal/models"
	"github.com/fgeck/backup-database/internal/report"
	"github.com/fgeck/backup-database/internal/services/credentials"
	"github.com/fgeck/backup-database/internal/services/dump"
	"github.com/fgeck/backup-database/internal/services/lock"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

// Mock implementations.
type mockLockService struct {
	acquireFunc func(dir, targetID string) (*lock.Lock, error)
	calls       int
}

func (m *mockLockService) Acquire(dir, targetID string) (*lock.Lock, error) {
	m.calls++
	if m.acquireFunc != nil {
		return m.acquireFunc(dir, targetID)
	}
	return nil, nil
}

type mockWOLService struct {
	wakeFunc func(ctx context.Context, cfg models.WOLConfig, address string) (*models.WOLResult, error)
	calls    int
}

func (m *mockWOLService) Wake(ctx context.Context, cfg models.WOLConfig, address string) (*models.WOLResult, error) {
	m.calls++
	if m.wakeFunc != nil {
		return m.wakeFunc(ctx, cfg, address)
	}
	return &models.WOLResult{PacketSent: true, TargetReady: true}, nil
}

type mockPreflightService struct {
	checkFunc func(ctx context.Context, target models.Target) error
	calls     int
}

func (m *mockPreflightService) Check(ctx context.Context, target models.Target) error {
	m.calls++
	if m.checkFunc != nil {
		return m.checkFunc(ctx, target)
	}
	return nil
}

type mockDumpService struct {
	dumpFunc func(ctx context.Context, req dump.Request) (*models.DumpResult, error)
	requests []dump.Request
	// credentialsPresent records whether the staged file existed while dumping.
	credentialsPresent bool
	fs                 afero.Fs
}

func (m *mockDumpService) Dump(ctx context.Context, req dump.Request) (*models.DumpResult, error) {
	m.requests = append(m.requests, req)
	if m.fs != nil && req.CredentialsPath != "" {
		m.credentialsPresent, _ = afero.Exists(m.fs, req.CredentialsPath)
	}
	if m.dumpFunc != nil {
		return m.dumpFunc(ctx, req)
	}
	return &models.DumpResult{OutputPath: req.OutputPath, SizeBytes: 1024}, nil
}

type mockPostProcessService struct {
	restrictFunc func(path string) error
	compressFunc func(path string, level int) (*models.CompressResult, error)
	restricted   []string
	compressed   []string
}

func (m *mockPostProcessService) Restrict(path string) error {
	m.restricted = append(m.restricted, path)
	if m.restrictFunc != nil {
		return m.restrictFunc(path)
	}
	return nil
}

func (m *mockPostProcessService) Compress(path string, level int) (*models.CompressResult, error) {
	m.compressed = append(m.compressed, path)
	if m.compressFunc != nil {
		return m.compressFunc(path, level)
	}
	return &models.CompressResult{OutputPath: path + ".gz", SizeBytes: 256}, nil
}

type mockRetentionService struct {
	pruneFunc func(ctx context.Context, dir, pattern string, maxAge time.Duration) (*models.PruneResult, error)
	calls     int
	dir       string
	pattern   string
	maxAge    time.Duration
}

func (m *mockRetentionService) Prune(ctx context.Context, dir, pattern string, maxAge time.Duration) (*models.PruneResult, error) {
	m.calls++
	m.dir, m.pattern, m.maxAge = dir, pattern, maxAge
	if m.pruneFunc != nil {
		return m.pruneFunc(ctx, dir, pattern, maxAge)
	}
	return &models.PruneResult{}, nil
}

type mockSSHService struct {
	shutdownFunc func(ctx context.Context, cfg models.SSHShutdownConfig) (*models.SSHResult, error)
	calls        int
}

func (m *mockSSHService) Shutdown(ctx context.Context, cfg models.SSHShutdownConfig) (*models.SSHResult, error) {
	m.calls++
	if m.shutdownFunc != nil {
		return m.shutdownFunc(ctx, cfg)
	}
	return &models.SSHResult{CommandRun: true}, nil
}

type mockMetricsService struct {
	writeFunc func(dir string, run *models.RunContext) (string, error)
	runs      []models.RunContext
}

func (m *mockMetricsService) Write(dir string, run *models.RunContext) (string, error) {
	m.runs = append(m.runs, *run)
	if m.writeFunc != nil {
		return m.writeFunc(dir, run)
	}
	return dir + "/backup_database_" + run.Target.ID + ".prom", nil
}

type mockMailService struct {
	sendFunc func(ctx context.Context, cfg models.MailConfig, msg models.MailMessage) (*models.MailResult, error)
	messages []models.MailMessage
}

func (m *mockMailService) Send(ctx context.Context, cfg models.MailConfig, msg models.MailMessage) (*models.MailResult, error) {
	m.messages = append(m.messages, msg)
	if m.sendFunc != nil {
		return m.sendFunc(ctx, cfg, msg)
	}
	return &models.MailResult{Subject: "subject", Delivered: cfg.Recipients}, nil
}

type mocks struct {
	logs        bytes.Buffer
	fs          afero.Fs
	report      *report.Report
	lock        *mockLockService
	wol         *mockWOLService
	preflight   *mockPreflightService
	credentials *credentials.Impl
	dump        *mockDumpService
	postProcess *mockPostProcessService
	retention   *mockRetentionService
	ssh         *mockSSHService
	metrics     *mockMetricsService
	mail        *mockMailService
}

func newMocks() *mocks {
	fs := afero.NewMemMapFs()
	return &mocks{
		fs:          fs,
		report:      report.New(fs, ""),
		lock:        &mockLockService{},
		wol:         &mockWOLService{},
		preflight:   &mockPreflightService{},
		credentials: credentials.NewWithFs(zerolog.New(io.Discard), fs),
		dump:        &mockDumpService{fs: fs},
		postProcess: &mockPostProcessService{},
		retention:   &mockRetentionService{},
		ssh:         &mockSSHService{},
		metrics:     &mockMetricsService{},
		mail:        &mockMailService{},
	}
}

var fixedNow = time.Date(2024, 3, 1, 2, 0, 0, 0, time.UTC)

func (m *mocks) runner() *Impl {
	// Every event lands in the report, as the CLI wires it.
	logger := zerolog.New(io.MultiWriter(m.report, &m.logs))
	return NewWithServices(logger, m.report, Services{
		Lock:        m.lock,
		WOL:         m.wol,
		Preflight:   m.preflight,
		Credentials: m.credentials,
		Dump:        m.dump,
		PostProcess: m.postProcess,
		Retention:   m.retention,
		SSH:         m.ssh,
		Metrics:     m.metrics,
		Mail:        m.mail,
	}, m.fs, func() time.Time { return fixedNow })
}
