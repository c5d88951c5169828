// Package wol wakes a database host with Wake-on-LAN and waits for its port.
package wol

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/fgeck/backup-database/internal/models"
	"github.com/mdlayher/wol"
	"github.com/rs/zerolog"
)

const (
	// dialTimeout bounds a single readiness probe.
	dialTimeout         = 3 * time.Second
	defaultPollInterval = 10 * time.Second
)

// Service defines the interface for Wake-on-LAN operations.
type Service interface {
	Wake(ctx context.Context, cfg models.WOLConfig, address string) (*models.WOLResult, error)
}

// Client wraps the wol library for mocking.
type Client interface {
	Wake(broadcastIP string, mac net.HardwareAddr) error
}

// Dialer allows mocking the readiness probe.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// DefaultClient is the default implementation using mdlayher/wol.
type DefaultClient struct{}

// Wake sends a magic packet to the specified MAC address.
func (c *DefaultClient) Wake(broadcastIP string, mac net.HardwareAddr) error {
	client, err := wol.NewClient()
	if err != nil {
		return fmt.Errorf("failed to create WOL client: %w", err)
	}
	defer func() { _ = client.Close() }()

	// Parse broadcast IP
	ip := net.ParseIP(broadcastIP)
	if ip == nil {
		return fmt.Errorf("invalid broadcast IP: %s", broadcastIP)
	}

	// Send wake packet
	if err := client.Wake(net.JoinHostPort(ip.String(), "9"), mac); err != nil {
		return fmt.Errorf("failed to send WOL packet: %w", err)
	}

	return nil
}

// Impl implements the WOL Service interface.
type Impl struct {
	wolClient Client
	dialer    Dialer
	logger    zerolog.Logger
}

// New creates a new WOL service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		wolClient: &DefaultClient{},
		dialer:    &net.Dialer{Timeout: dialTimeout},
		logger:    logger,
	}
}

// NewWithClients creates a new WOL service with custom clients (for testing).
func NewWithClients(logger zerolog.Logger, wolClient Client, dialer Dialer) *Impl {
	return &Impl{
		wolClient: wolClient,
		dialer:    dialer,
		logger:    logger,
	}
}

// Wake sends a WOL packet and waits until address accepts TCP connections.
// An empty address skips the wait.
func (s *Impl) Wake(ctx context.Context, cfg models.WOLConfig, address string) (*models.WOLResult, error) {
	result := &models.WOLResult{}
	start := time.Now()

	// Parse MAC address
	mac, err := net.ParseMAC(cfg.MACAddress)
	if err != nil {
		result.Error = models.NewStepError(models.ErrWake, "parse mac", "", err)
		return result, nil
	}

	s.logger.Info().
		Str("mac", cfg.MACAddress).
		Str("broadcast", cfg.BroadcastIP).
		Msg("sending WOL packet")

	// Send WOL packet
	if err := s.wolClient.Wake(cfg.BroadcastIP, mac); err != nil {
		result.Error = models.NewStepError(models.ErrWake, "send", "", err)
		return result, nil
	}

	result.PacketSent = true
	s.logger.Info().Msg("WOL packet sent successfully")

	if address == "" {
		result.WaitDuration = time.Since(start)
		result.TargetReady = true
		return result, nil
	}

	s.logger.Info().
		Str("address", address).
		Dur("timeout", cfg.Timeout).
		Msg("waiting for database port to open")

	if err := s.waitForPort(ctx, cfg, address, result); err != nil {
		result.WaitDuration = time.Since(start)
		result.Error = err
		return result, nil
	}

	// Wait for stabilization
	if cfg.StabilizeWait > 0 {
		s.logger.Debug().Str("wait", cfg.StabilizeWait.Round(time.Millisecond).String()).Msg("waiting for target to stabilize")
		select {
		case <-ctx.Done():
			result.WaitDuration = time.Since(start)
			result.Error = models.NewStepError(models.ErrWake, "stabilize", address, ctx.Err())
			return result, nil
		case <-time.After(cfg.StabilizeWait):
		}
	}

	result.TargetReady = true
	result.WaitDuration = time.Since(start)

	s.logger.Info().
		Dur("duration", result.WaitDuration).
		Int("attempts", result.Attempts).
		Msg("target is ready")

	return result, nil
}

func (s *Impl) waitForPort(ctx context.Context, cfg models.WOLConfig, address string, result *models.WOLResult) error {
	waitCtx := ctx
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	interval := cfg.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = min(time.Second, interval)
	b.MaxInterval = interval
	b.MaxElapsedTime = 0 // bounded by waitCtx

	probe := func() error {
		result.Attempts++
		conn, err := s.dialer.DialContext(waitCtx, "tcp", address)
		if err != nil {
			return err
		}
		_ = conn.Close()
		return nil
	}

	notify := func(err error, next time.Duration) {
		s.logger.Debug().Err(err).Str("retry_in", next.Round(time.Millisecond).String()).Msg("target not ready yet")
	}

	err := backoff.RetryNotify(probe, backoff.WithContext(b, waitCtx), notify)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return models.NewStepError(models.ErrWake, "wait", address, ctx.Err())
	}
	if errors.Is(waitCtx.Err(), context.DeadlineExceeded) {
		return models.NewStepError(models.ErrWake, "wait", address, fmt.Errorf("port did not open within %s", cfg.Timeout))
	}
	return models.NewStepError(models.ErrWake, "wait", address, err)
}
