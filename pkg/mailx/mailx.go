// Package mailx delivers transactional email through one of several
// backends chosen at startup.
package mailx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

var (
	ErrSendFailed     = errors.New("mailx: send failed")
	ErrInvalidConfig  = errors.New("mailx: invalid configuration")
	ErrInvalidMessage = errors.New("mailx: invalid message")
)

// Delivery modes accepted by New.
const (
	ModeLog      = "log"
	ModeSMTP     = "smtp"
	ModePostmark = "postmark"
)

// Message is a single outbound email.
type Message struct {
	To       string
	Subject  string
	HTMLBody string
	TextBody string

	// Tag groups messages in provider dashboards, e.g. "magic-link".
	Tag string
}

// Validate reports whether the message has enough to be delivered.
func (m Message) Validate() error {
	switch {
	case strings.TrimSpace(m.To) == "":
		return fmt.Errorf("%w: recipient is required", ErrInvalidMessage)
	case strings.ContainsAny(m.To, "\r\n"), strings.ContainsAny(m.Subject, "\r\n"):
		return fmt.Errorf("%w: header fields must be a single line", ErrInvalidMessage)
	case m.Subject == "":
		return fmt.Errorf("%w: subject is required", ErrInvalidMessage)
	case m.HTMLBody == "" && m.TextBody == "":
		return fmt.Errorf("%w: body is required", ErrInvalidMessage)
	}
	return nil
}

// Sender delivers a message or reports why it could not. Implementations
// must respect ctx cancellation.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Config selects and configures a Sender.
type Config struct {
	Mode    string
	From    string
	ReplyTo string

	Postmark PostmarkConfig
	SMTP     SMTPConfig
}

// New builds the Sender named by cfg.Mode.
func New(cfg Config, logger *slog.Logger) (Sender, error) {
	switch strings.ToLower(cfg.Mode) {
	case ModeLog, "":
		return NewLogSender(logger), nil
	case ModeSMTP:
		smtpCfg := cfg.SMTP
		smtpCfg.From = cfg.From
		smtpCfg.ReplyTo = cfg.ReplyTo
		return NewSMTPSender(smtpCfg)
	case ModePostmark:
		pmCfg := cfg.Postmark
		pmCfg.From = cfg.From
		pmCfg.ReplyTo = cfg.ReplyTo
		return NewPostmarkSender(pmCfg)
	default:
		return nil, fmt.Errorf("%w: unknown mode %q", ErrInvalidConfig, cfg.Mode)
	}
}
