package clients

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/natours/api/internal/config"
	"github.com/natours/api/internal/metrics"

	"github.com/sirupsen/logrus"
	"github.com/wneessen/go-mail"
)

// Message is a plain text email.
type Message struct {
	To      string
	Subject string
	Text    string
}

// Mailer delivers messages.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// NewMailer sends over SMTP when a host is configured and logs messages
// otherwise.
func NewMailer(cfg *config.EmailConfig, logger *logrus.Logger) (Mailer, error) {
	if cfg.Host == "" {
		return &LogMailer{From: cfg.From, Logger: logger}, nil
	}
	return NewSMTPMailer(cfg)
}

// SMTPMailer delivers through a relay, upgrading to TLS when offered.
type SMTPMailer struct {
	cfg    *config.EmailConfig
	client *mail.Client
}

func NewSMTPMailer(cfg *config.EmailConfig) (*SMTPMailer, error) {
	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
		mail.WithTimeout(10 * time.Second),
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}
	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create SMTP client: %w", err)
	}
	return &SMTPMailer{cfg: cfg, client: client}, nil
}

func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	start := time.Now()
	out, err := compose(m.cfg.From, msg)
	if err != nil {
		return err
	}

	err = m.client.DialAndSendWithContext(ctx, out)
	status := 250
	if err != nil {
		status = 0
	}
	metrics.RecordBackendCall("smtp", "SEND", status, time.Since(start))
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

func compose(from string, msg Message) (*mail.Msg, error) {
	m := mail.NewMsg()
	if err := m.From(from); err != nil {
		return nil, fmt.Errorf("invalid sender %q: %w", from, err)
	}
	if err := m.To(msg.To); err != nil {
		return nil, fmt.Errorf("invalid recipient %q: %w", msg.To, err)
	}
	m.Subject(msg.Subject)
	m.SetBodyString(mail.TypeTextPlain, msg.Text)
	return m, nil
}

// LogMailer writes messages to the log instead of sending them.
type LogMailer struct {
	From   string
	Logger *logrus.Logger
}

func (m *LogMailer) Send(ctx context.Context, msg Message) error {
	m.Logger.WithFields(logrus.Fields{
		"from":    m.From,
		"to":      msg.To,
		"subject": msg.Subject,
	}).Info(msg.Text)
	return nil
}

func WelcomeEmail(to, name, accountURL string) Message {
	first := strings.Fields(name)
	greeting := name
	if len(first) > 0 {
		greeting = first[0]
	}
	return Message{
		To:      to,
		Subject: "Welcome to the Natours Family!",
		Text: fmt.Sprintf("Hi %s,\n\nWelcome to Natours, we're glad to have you.\n"+
			"Upload your user photo and manage your account at %s.\n", greeting, accountURL),
	}
}

func PasswordResetEmail(to, resetURL string) Message {
	return Message{
		To:      to,
		Subject: "Your password reset token (valid for 10 min)",
		Text: fmt.Sprintf("Forgot your password? Submit a PATCH request with your new password "+
			"and passwordConfirm to: %s.\nIf you didn't forget your password, please ignore this email!", resetURL),
	}
}
