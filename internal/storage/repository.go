package storage

import (
	"context"
	"errors"

	"github.com/leapdao/acebusters-backend/internal/models"
)

var (
	// ErrNotFound is returned when a row does not exist
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a conditional write finds the row changed or already present
	ErrConflict = errors.New("conditional write failed")
)

// HandKey identifies one hand row
type HandKey struct {
	TableAddr string
	HandID    uint64
}

// HandStore persists hand rows. Every accepted write is appended to the change feed.
type HandStore interface {
	// GetLatestHand returns the row with the highest hand id of a table
	GetLatestHand(ctx context.Context, tableAddr string) (*models.Hand, error)
	GetHand(ctx context.Context, tableAddr string, handID uint64) (*models.Hand, error)
	// ListHands returns hands with from <= handId <= to in ascending order
	ListHands(ctx context.Context, tableAddr string, from, to uint64) ([]*models.Hand, error)

	// InsertHand creates a row; ErrConflict if the key already exists
	InsertHand(ctx context.Context, hand *models.Hand) error
	// WriteIfUnchanged replaces a row only if its version still equals expectedVersion.
	// On success hand.Version holds the new version; otherwise ErrConflict.
	WriteIfUnchanged(ctx context.Context, key HandKey, expectedVersion int64, hand *models.Hand) error

	// ListHandChanges returns change feed entries with seq > afterSeq
	ListHandChanges(ctx context.Context, afterSeq int64, limit int) ([]models.HandChange, error)
}

// TableStore holds the indexed ledger snapshot and the submissions outbox
type TableStore interface {
	SaveTableState(ctx context.Context, state *models.TableState) error
	GetTableState(ctx context.Context, tableAddr string) (*models.TableState, error)
	ListTables(ctx context.Context) ([]string, error)
	SaveSubmission(ctx context.Context, sub *models.Submission) error
	ListSubmissions(ctx context.Context, tableAddr string) ([]models.Submission, error)
}

// NotificationStore is the message bus outbox
type NotificationStore interface {
	SaveNotification(ctx context.Context, n *models.Notification) error
	// ClaimNotifications leases up to limit unprocessed notifications, oldest first
	ClaimNotifications(ctx context.Context, limit int) ([]models.Notification, error)
	MarkNotificationProcessed(ctx context.Context, id string) error
}

// CheckpointStore keeps named progress markers (ledger sequence, change feed seq)
type CheckpointStore interface {
	SaveCheckpoint(ctx context.Context, name string, value int64) error
	LoadCheckpoint(ctx context.Context, name string) (int64, error)
}

// ReservationStore keeps pending seat reservations
type ReservationStore interface {
	// SaveReservation stores a reservation; ErrConflict if the seat is already reserved
	SaveReservation(ctx context.Context, res *models.Reservation) error
	// ListReservations returns the reservations of a table, or of all tables when tableAddr is empty
	ListReservations(ctx context.Context, tableAddr string) ([]models.Reservation, error)
	DeleteReservation(ctx context.Context, tableAddr string, pos int) error
}

// Repository defines the interface for all storage operations
type Repository interface {
	HandStore
	TableStore
	NotificationStore
	CheckpointStore
	ReservationStore

	// Health & Maintenance
	Ping(ctx context.Context) error
	Close() error
}
