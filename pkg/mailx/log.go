package mailx

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aussiebroadwan/lapse/pkg/slogx"
)

// LogSender writes messages to the logger instead of delivering them. It
// exists for local development, where the text body is what you click.
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrSendFailed, err)
	}
	if err := msg.Validate(); err != nil {
		return err
	}

	// Prefer the request logger so the line carries the req_id.
	log := s.logger
	if l, ok := slogx.LoggerFromContext(ctx); ok {
		log = l
	}

	log.InfoContext(ctx, "email not sent, log mode",
		"to", msg.To,
		"subject", msg.Subject,
		"tag", msg.Tag,
		"body", msg.TextBody,
	)
	return nil
}
