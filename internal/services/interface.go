package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/leapdao/acebusters-backend/internal/models"
	"github.com/leapdao/acebusters-backend/internal/oracle"
)

// Service defines the interface that all notification services must implement
type Service interface {
	// Process handles a single notification.
	// Returns nil if the notification is not for this service or was handled.
	Process(ctx context.Context, n *models.Notification) error

	// Name returns the service name for logging
	Name() string
}

// Oracle is the part of the engine driven by notifications
type Oracle interface {
	Timeout(ctx context.Context, table string) (*oracle.Result, error)
	CompleteHand(ctx context.Context, table string, handID uint64) error
	CreateNetting(ctx context.Context, table string, handID uint64) error
	Kick(ctx context.Context, table string, pos int) error
	DisputeReceipts(ctx context.Context, table string, from, to uint64) ([]string, error)
}

func decode(n *models.Notification, payload interface{}) error {
	if err := json.Unmarshal(n.Payload, payload); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", n.Subject, err)
	}
	return nil
}

// rejected swallows domain rejections of the engine. Notifications are re-emitted
// by the scanner, so a rejection usually means the work was already done.
func rejected(service string, n *models.Notification, err error) error {
	if kind, ok := oracle.KindOf(err); ok {
		slog.Debug("Notification rejected",
			"service", service,
			"subject", n.Subject,
			"kind", kind,
			"reason", err,
		)
		return nil
	}
	return err
}
