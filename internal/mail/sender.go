package mail

import (
	"context"
	"log/slog"
	"time"
)

// Sender delivers a single message
type Sender interface {
	Send(ctx context.Context, msg *Message) (*Result, error)
}

// Verifier checks that the relay is reachable and accepts our credentials
type Verifier interface {
	Verify(ctx context.Context) error
}

// Result describes an accepted message
type Result struct {
	MessageID string `json:"message_id"`
}

// LogSender logs messages instead of delivering them
type LogSender struct {
	from   string
	logger *slog.Logger
}

// NewLogSender creates a sender for dry runs
func NewLogSender(from string, logger *slog.Logger) *LogSender {
	return &LogSender{from: from, logger: logger}
}

// Send implements Sender
func (s *LogSender) Send(ctx context.Context, msg *Message) (*Result, error) {
	if err := msg.Validate(); err != nil {
		return nil, &DeliveryError{Message: err.Error()}
	}

	data, messageID := build(s.from, msg, time.Now())
	s.logger.Info("dry run, message not sent",
		"message_id", messageID,
		"to", msg.To,
		"subject", msg.Subject,
		"size", len(data),
	)
	return &Result{MessageID: messageID}, nil
}

// Verify implements Verifier
func (s *LogSender) Verify(ctx context.Context) error {
	return nil
}
