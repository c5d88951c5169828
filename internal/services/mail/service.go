// Package mail sends the run report through the local sendmail binary.
package mail

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"text/template"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/fgeck/backup-database/internal/models"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
)

// Service defines the interface for mail notification operations.
type Service interface {
	Send(ctx context.Context, cfg models.MailConfig, msg models.MailMessage) (*models.MailResult, error)
}

// Envelope addresses a single delivery.
type Envelope struct {
	Sendmail string
	From     string
	To       string
}

// Transport hands a composed message to the mail system.
type Transport interface {
	Deliver(ctx context.Context, env Envelope, msg []byte) error
}

// SendmailTransport delivers through a sendmail compatible binary.
type SendmailTransport struct{}

// Deliver pipes msg into `sendmail -i -f <from> -- <to>`.
func (t *SendmailTransport) Deliver(ctx context.Context, env Envelope, msg []byte) error {
	cmd := exec.CommandContext(ctx, env.Sendmail, "-i", "-f", env.From, "--", env.To)
	cmd.Stdin = bytes.NewReader(msg)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if out := strings.TrimSpace(stderr.String()); out != "" {
			return fmt.Errorf("sendmail failed: %w: %s", err, out)
		}
		return fmt.Errorf("sendmail failed: %w", err)
	}

	return nil
}

// Impl implements the mail Service interface.
type Impl struct {
	transport Transport
	now       func() time.Time
	logger    zerolog.Logger
}

// New creates a new mail service delivering through sendmail.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		transport: &SendmailTransport{},
		now:       time.Now,
		logger:    logger,
	}
}

// NewWithTransport creates a new mail service with a custom transport (for testing).
func NewWithTransport(logger zerolog.Logger, transport Transport) *Impl {
	return &Impl{
		transport: transport,
		now:       time.Now,
		logger:    logger,
	}
}

// ShouldSend reports whether a run ending with errorCount errors is mailed.
// Success mails go out regardless of the outcome once enabled.
func ShouldSend(cfg *models.MailConfig, errorCount uint) bool {
	if cfg == nil || len(cfg.Recipients) == 0 {
		return false
	}
	if errorCount > 0 && cfg.OnFailure {
		return true
	}
	return cfg.OnSuccess
}

// Subject renders the failure or success subject template of cfg.
func Subject(cfg models.MailConfig, msg models.MailMessage) (string, error) {
	text := cfg.SuccessSubject
	if !msg.Success {
		text = cfg.FailureSubject
	}

	tmpl, err := template.New("subject").Option("missingkey=error").Parse(text)
	if err != nil {
		return "", fmt.Errorf("parsing subject template: %w", err)
	}

	var b strings.Builder
	if err := tmpl.Execute(&b, msg); err != nil {
		return "", fmt.Errorf("rendering subject template: %w", err)
	}

	return strings.Join(strings.Fields(b.String()), " "), nil
}

// Send mails the report in msg to every recipient of cfg, one message each.
// A failed delivery does not stop the remaining ones.
func (s *Impl) Send(ctx context.Context, cfg models.MailConfig, msg models.MailMessage) (*models.MailResult, error) {
	result := &models.MailResult{}

	subject, err := Subject(cfg, msg)
	if err != nil {
		result.Error = err
		return result, nil //nolint:nilerr // error is stored in result struct by design
	}
	result.Subject = subject

	s.logger.Info().
		Strs("recipients", cfg.Recipients).
		Bool("success", msg.Success).
		Str("subject", subject).
		Msg("sending mail notification")

	var errs *multierror.Error
	for _, rcpt := range cfg.Recipients {
		body, err := s.compose(cfg.From, rcpt, subject, msg.Body)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("composing mail to %s: %w", rcpt, err))
			continue
		}

		env := Envelope{Sendmail: cfg.Sendmail, From: cfg.From, To: rcpt}
		if err := s.transport.Deliver(ctx, env, body); err != nil {
			s.logger.Warn().Err(err).Str("recipient", rcpt).Msg("mail delivery failed")
			errs = multierror.Append(errs, fmt.Errorf("delivering mail to %s: %w", rcpt, err))
			continue
		}

		result.Delivered = append(result.Delivered, rcpt)
	}

	result.Error = errs.ErrorOrNil()
	if result.Error == nil {
		s.logger.Info().Int("delivered", len(result.Delivered)).Msg("mail notification sent successfully")
	}

	return result, nil
}

func (s *Impl) compose(from, to, subject, body string) ([]byte, error) {
	fromAddr, err := mail.ParseAddress(from)
	if err != nil {
		fromAddr = &mail.Address{Address: from}
	}
	toAddr, err := mail.ParseAddress(to)
	if err != nil {
		return nil, fmt.Errorf("parsing recipient: %w", err)
	}

	var h mail.Header
	h.SetDate(s.now())
	h.SetAddressList("From", []*mail.Address{fromAddr})
	h.SetAddressList("To", []*mail.Address{toAddr})
	h.SetSubject(subject)
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	h.Set("Content-Transfer-Encoding", "quoted-printable")
	if err := h.GenerateMessageID(); err != nil {
		return nil, fmt.Errorf("generating message id: %w", err)
	}

	if body == "" {
		body = "(no log output)\n"
	}

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("creating message: %w", err)
	}
	if _, err := w.Write([]byte(body)); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("writing body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("closing message: %w", err)
	}

	return buf.Bytes(), nil
}
