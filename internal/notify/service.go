package notify

import (
	"context"
	"fmt"

	"github.com/divulgaai/prospecting-engine/pkg/logging"
)

// TextSender delivers a text message to a phone number. The Z-API gateway
// client satisfies this.
type TextSender interface {
	SendText(ctx context.Context, phone, message string) error
}

// Service fans operator notifications out to the configured support numbers.
type Service struct {
	sender     TextSender
	recipients []string
	logger     *logging.Logger
}

// NewService creates a notification service.
func NewService(sender TextSender, recipients []string, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		sender:     sender,
		recipients: recipients,
		logger:     logger,
	}
}

// Broadcast sends message to every configured recipient. Per-recipient
// failures are logged and aggregated; a partial delivery still reaches the
// remaining operators.
func (s *Service) Broadcast(ctx context.Context, message string) error {
	if s.sender == nil || len(s.recipients) == 0 {
		s.logger.Debug("notify: no operator recipients configured, skipping")
		return nil
	}

	var failed int
	for _, recipient := range s.recipients {
		if err := s.sender.SendText(ctx, recipient, message); err != nil {
			s.logger.Error("notify: failed to message operator", "error", err, "to", recipient)
			failed++
			continue
		}
		s.logger.Info("notify: operator notified", "to", recipient)
	}
	if failed > 0 {
		return fmt.Errorf("notify: %d notification(s) failed", failed)
	}
	return nil
}
