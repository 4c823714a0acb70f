// Package bus publishes notifications to the message bus outbox. Subjects
// have the form "<Kind>::<tableAddr>"; payloads are JSON.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/leapdao/acebusters-backend/internal/ledger/retry"
	"github.com/leapdao/acebusters-backend/internal/metrics"
	"github.com/leapdao/acebusters-backend/internal/models"
	"github.com/leapdao/acebusters-backend/internal/storage"

	"github.com/google/uuid"
)

// Notification kinds
const (
	KindHandleDispute        = "HandleDispute"
	KindProgressNetting      = "ProgressNetting"
	KindKick                 = "Kick"
	KindTimeout              = "Timeout"
	KindTableLeave           = "TableLeave"
	KindTableNettingRequest  = "TableNettingRequest"
	KindTableNettingComplete = "TableNettingComplete"
	KindHandComplete         = "HandComplete"
)

// Subject builds the subject of a notification for a table
func Subject(kind, table string) string {
	return kind + "::" + table
}

// DisputePayload asks the oracle to submit its receipts for an open netting request
type DisputePayload struct {
	TableAddr          string `json:"tableAddr"`
	LastHandNetted     uint64 `json:"lastHandNetted"`
	LastNettingRequest uint64 `json:"lastNettingRequest"`
}

// KickPayload names a seat that sat out too long
type KickPayload struct {
	Pos       int    `json:"pos"`
	TableAddr string `json:"tableAddr"`
}

// TablePayload carries only the table, used by Timeout
type TablePayload struct {
	TableAddr string `json:"tableAddr"`
}

// HandPayload names a hand, used by HandComplete and TableNettingRequest
type HandPayload struct {
	TableAddr string `json:"tableAddr"`
	HandID    uint64 `json:"handId"`
}

// LeavePayload reports a leave receipt accepted by the oracle
type LeavePayload struct {
	LeaverAddr string `json:"leaverAddr"`
	TableAddr  string `json:"tableAddr"`
	ExitHand   uint64 `json:"exitHand"`
}

// NettingCompletePayload carries a fully signed netting to settle on the ledger
type NettingCompletePayload struct {
	TableAddr string          `json:"tableAddr"`
	HandID    uint64          `json:"handId"`
	Netting   *models.Netting `json:"netting"`
}

// Publisher sends fire-and-forget notifications
type Publisher interface {
	Publish(ctx context.Context, subject string, payload interface{}) error
}

type dedupKey struct{}

// WithDedupKey makes notifications published under ctx idempotent: the same
// key, subject and payload always produce the same notification id.
func WithDedupKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, dedupKey{}, key)
}

func notificationID(ctx context.Context, subject string, payload []byte) string {
	key, ok := ctx.Value(dedupKey{}).(string)
	if !ok || key == "" {
		return uuid.NewString()
	}
	name := key + "|" + subject + "|" + string(payload)
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String()
}

// OutboxPublisher stores notifications in the outbox table read by the worker
type OutboxPublisher struct {
	store storage.NotificationStore
	retry retry.Strategy
}

// NewOutboxPublisher creates a publisher writing through strategy
func NewOutboxPublisher(store storage.NotificationStore, strategy retry.Strategy) *OutboxPublisher {
	return &OutboxPublisher{
		store: store,
		retry: strategy,
	}
}

func (p *OutboxPublisher) Publish(ctx context.Context, subject string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", subject, err)
	}
	n := &models.Notification{
		ID:      notificationID(ctx, subject, data),
		Subject: subject,
		Payload: data,
	}

	if err := p.retry.Execute(ctx, func(ctx context.Context) error {
		return p.store.SaveNotification(ctx, n)
	}); err != nil {
		return fmt.Errorf("failed to publish %s: %w", subject, err)
	}

	metrics.NotificationsPublished.WithLabelValues(n.Kind()).Inc()
	slog.Info("Notification published",
		"subject", subject,
		"id", n.ID,
	)
	return nil
}
