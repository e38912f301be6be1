// Package notify announces persisted snapshot runs.
package notify

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/pagesnap/internal/snapshot"
)

// Publisher delivers one message with attributes.
type Publisher interface {
	Publish(ctx context.Context, payload any, attrs map[string]string) (string, error)
}

// PublisherNotifier sends run outcomes through a Publisher.
type PublisherNotifier struct {
	publisher Publisher
	logger    *zap.Logger
}

// New returns a notifier backed by publisher.
func New(publisher Publisher, logger *zap.Logger) *PublisherNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PublisherNotifier{publisher: publisher, logger: logger}
}

// Notify publishes outcome with run_id and status attributes.
func (n *PublisherNotifier) Notify(ctx context.Context, outcome snapshot.Outcome) error {
	attrs := map[string]string{
		"status": outcome.Status,
	}
	if outcome.RunID != "" {
		attrs["run_id"] = outcome.RunID
	}
	id, err := n.publisher.Publish(ctx, outcome, attrs)
	if err != nil {
		return fmt.Errorf("publish outcome: %w", err)
	}
	n.logger.Debug("Published run notification",
		zap.String("message_id", id),
		zap.String("status", outcome.Status),
	)
	return nil
}
