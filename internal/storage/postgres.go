package storage

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/leapdao/acebusters-backend/internal/metrics"
	"github.com/leapdao/acebusters-backend/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schema embed.FS

// notificationLease is how long a claimed notification stays invisible to other workers
const notificationLease = 5 * time.Minute

// PostgresRepository implements the Repository interface using PostgreSQL
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(ctx context.Context, databaseURL string) (*PostgresRepository, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Test the connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresRepository{
		pool: pool,
	}, nil
}

// Migrate applies the embedded schema. Statements are idempotent.
func (r *PostgresRepository) Migrate(ctx context.Context) error {
	sqlBytes, err := schema.ReadFile("schema.sql")
	if err != nil {
		return fmt.Errorf("failed to read schema: %w", err)
	}
	if _, err := r.pool.Exec(ctx, string(sqlBytes)); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// =============================================================================
// HANDS
// =============================================================================

func decodeHand(data []byte, version int64) (*models.Hand, error) {
	var hand models.Hand
	if err := json.Unmarshal(data, &hand); err != nil {
		return nil, fmt.Errorf("failed to unmarshal hand: %w", err)
	}
	hand.Version = version
	return &hand, nil
}

// GetLatestHand retrieves the newest hand of a table
func (r *PostgresRepository) GetLatestHand(ctx context.Context, tableAddr string) (*models.Hand, error) {
	query := `
		SELECT data, version
		FROM hands
		WHERE table_addr = $1
		ORDER BY hand_id DESC
		LIMIT 1
	`

	var data []byte
	var version int64
	err := r.pool.QueryRow(ctx, query, tableAddr).Scan(&data, &version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest hand: %w", err)
	}

	return decodeHand(data, version)
}

// GetHand retrieves one archived hand
func (r *PostgresRepository) GetHand(ctx context.Context, tableAddr string, handID uint64) (*models.Hand, error) {
	query := `
		SELECT data, version
		FROM hands
		WHERE table_addr = $1 AND hand_id = $2
	`

	var data []byte
	var version int64
	err := r.pool.QueryRow(ctx, query, tableAddr, int64(handID)).Scan(&data, &version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get hand: %w", err)
	}

	return decodeHand(data, version)
}

// ListHands returns the hands of a table in [from, to]
func (r *PostgresRepository) ListHands(ctx context.Context, tableAddr string, from, to uint64) ([]*models.Hand, error) {
	query := `
		SELECT data, version
		FROM hands
		WHERE table_addr = $1 AND hand_id BETWEEN $2 AND $3
		ORDER BY hand_id ASC
	`

	rows, err := r.pool.Query(ctx, query, tableAddr, int64(from), int64(to))
	if err != nil {
		return nil, fmt.Errorf("failed to list hands: %w", err)
	}
	defer rows.Close()

	var hands []*models.Hand
	for rows.Next() {
		var data []byte
		var version int64
		if err := rows.Scan(&data, &version); err != nil {
			return nil, fmt.Errorf("failed to scan hand: %w", err)
		}
		hand, err := decodeHand(data, version)
		if err != nil {
			return nil, err
		}
		hands = append(hands, hand)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating hands: %w", err)
	}

	return hands, nil
}

// InsertHand creates a new hand row and records it in the change feed
func (r *PostgresRepository) InsertHand(ctx context.Context, hand *models.Hand) error {
	start := time.Now()
	defer func() { metrics.StoreWriteDuration.Observe(time.Since(start).Seconds()) }()

	data, err := json.Marshal(hand)
	if err != nil {
		return fmt.Errorf("failed to marshal hand: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		INSERT INTO hands (table_addr, hand_id, version, data)
		VALUES ($1, $2, 1, $3)
		ON CONFLICT (table_addr, hand_id) DO NOTHING
	`, hand.TableAddr, int64(hand.HandID), data)
	if err != nil {
		return fmt.Errorf("failed to insert hand: %w", err)
	}
	if tag.RowsAffected() == 0 {
		metrics.StoreConflicts.Inc()
		return ErrConflict
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO hand_changes (table_addr, hand_id, old_data, new_data, created_at)
		VALUES ($1, $2, NULL, $3, clock_timestamp())
	`, hand.TableAddr, int64(hand.HandID), data); err != nil {
		return fmt.Errorf("failed to record hand change: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit hand insert: %w", err)
	}

	hand.Version = 1
	return nil
}

// WriteIfUnchanged replaces a hand row if its version is still expectedVersion
func (r *PostgresRepository) WriteIfUnchanged(ctx context.Context, key HandKey, expectedVersion int64, hand *models.Hand) error {
	start := time.Now()
	defer func() { metrics.StoreWriteDuration.Observe(time.Since(start).Seconds()) }()

	data, err := json.Marshal(hand)
	if err != nil {
		return fmt.Errorf("failed to marshal hand: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var oldData []byte
	var version int64
	err = tx.QueryRow(ctx, `
		SELECT data, version
		FROM hands
		WHERE table_addr = $1 AND hand_id = $2
		FOR UPDATE
	`, key.TableAddr, int64(key.HandID)).Scan(&oldData, &version)
	if errors.Is(err, pgx.ErrNoRows) {
		metrics.StoreConflicts.Inc()
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("failed to lock hand: %w", err)
	}
	if version != expectedVersion {
		metrics.StoreConflicts.Inc()
		slog.Debug("Hand write rejected, version moved",
			"table", key.TableAddr,
			"hand_id", key.HandID,
			"expected", expectedVersion,
			"actual", version,
		)
		return ErrConflict
	}

	if _, err := tx.Exec(ctx, `
		UPDATE hands
		SET data = $3, version = version + 1, updated_at = now()
		WHERE table_addr = $1 AND hand_id = $2
	`, key.TableAddr, int64(key.HandID), data); err != nil {
		return fmt.Errorf("failed to update hand: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO hand_changes (table_addr, hand_id, old_data, new_data, created_at)
		VALUES ($1, $2, $3, $4, clock_timestamp())
	`, key.TableAddr, int64(key.HandID), oldData, data); err != nil {
		return fmt.Errorf("failed to record hand change: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit hand update: %w", err)
	}

	hand.Version = expectedVersion + 1
	return nil
}

// ListHandChanges reads the change feed after a sequence number
func (r *PostgresRepository) ListHandChanges(ctx context.Context, afterSeq int64, limit int) ([]models.HandChange, error) {
	query := `
		SELECT seq, table_addr, hand_id, old_data, new_data, created_at
		FROM hand_changes
		WHERE seq > $1
		ORDER BY seq ASC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list hand changes: %w", err)
	}
	defer rows.Close()

	var changes []models.HandChange
	for rows.Next() {
		var change models.HandChange
		var handID int64
		var oldData, newData []byte
		if err := rows.Scan(&change.Seq, &change.TableAddr, &handID, &oldData, &newData, &change.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan hand change: %w", err)
		}
		change.HandID = uint64(handID)

		if oldData != nil {
			if change.Old, err = decodeHand(oldData, 0); err != nil {
				return nil, err
			}
		}
		if change.New, err = decodeHand(newData, 0); err != nil {
			return nil, err
		}
		changes = append(changes, change)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating hand changes: %w", err)
	}

	return changes, nil
}

// =============================================================================
// LEDGER SNAPSHOT & SUBMISSIONS
// =============================================================================

// SaveTableState upserts the indexed snapshot of a table contract
func (r *PostgresRepository) SaveTableState(ctx context.Context, state *models.TableState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal table state: %w", err)
	}

	query := `
		INSERT INTO ledger_tables (table_addr, data, ledger_seq, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (table_addr) DO UPDATE SET
			data = EXCLUDED.data,
			ledger_seq = EXCLUDED.ledger_seq,
			updated_at = now()
		WHERE ledger_tables.ledger_seq <= EXCLUDED.ledger_seq
	`

	if _, err := r.pool.Exec(ctx, query, state.TableAddr, data, int64(state.LedgerSeq)); err != nil {
		return fmt.Errorf("failed to save table state: %w", err)
	}

	return nil
}

// GetTableState returns the indexed snapshot of a table contract
func (r *PostgresRepository) GetTableState(ctx context.Context, tableAddr string) (*models.TableState, error) {
	var data []byte
	err := r.pool.QueryRow(ctx, `SELECT data FROM ledger_tables WHERE table_addr = $1`, tableAddr).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get table state: %w", err)
	}

	var state models.TableState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal table state: %w", err)
	}
	return &state, nil
}

// ListTables returns every indexed table contract
func (r *PostgresRepository) ListTables(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT table_addr FROM ledger_tables ORDER BY table_addr`)
	if err != nil {
		return nil, fmt.Errorf("failed to query tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var addr string
		if err := rows.Scan(&addr); err != nil {
			return nil, fmt.Errorf("failed to scan table: %w", err)
		}
		tables = append(tables, addr)
	}

	return tables, rows.Err()
}

// SaveSubmission appends a ledger transaction request to the outbox
func (r *PostgresRepository) SaveSubmission(ctx context.Context, sub *models.Submission) error {
	payload := sub.Payload
	if len(payload) == 0 {
		payload = []byte("{}")
	}

	err := r.pool.QueryRow(ctx, `
		INSERT INTO ledger_submissions (table_addr, kind, payload)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`, sub.TableAddr, sub.Kind, payload).Scan(&sub.ID, &sub.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save submission: %w", err)
	}

	return nil
}

// ListSubmissions returns the outbox entries of a table
func (r *PostgresRepository) ListSubmissions(ctx context.Context, tableAddr string) ([]models.Submission, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, table_addr, kind, payload, created_at
		FROM ledger_submissions
		WHERE table_addr = $1
		ORDER BY id ASC
	`, tableAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to list submissions: %w", err)
	}
	defer rows.Close()

	var subs []models.Submission
	for rows.Next() {
		var sub models.Submission
		if err := rows.Scan(&sub.ID, &sub.TableAddr, &sub.Kind, &sub.Payload, &sub.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan submission: %w", err)
		}
		subs = append(subs, sub)
	}

	return subs, rows.Err()
}

// =============================================================================
// NOTIFICATIONS
// =============================================================================

// SaveNotification appends a notification to the outbox
func (r *PostgresRepository) SaveNotification(ctx context.Context, n *models.Notification) error {
	payload := []byte(n.Payload)
	if len(payload) == 0 {
		payload = []byte("{}")
	}

	err := r.pool.QueryRow(ctx, `
		INSERT INTO notifications (id, subject, payload)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO NOTHING
		RETURNING created_at
	`, n.ID, n.Subject, payload).Scan(&n.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to save notification: %w", err)
	}

	return nil
}

// ClaimNotifications leases pending notifications so concurrent workers skip them
func (r *PostgresRepository) ClaimNotifications(ctx context.Context, limit int) ([]models.Notification, error) {
	query := `
		UPDATE notifications SET claimed_at = now()
		WHERE id IN (
			SELECT id FROM notifications
			WHERE processed_at IS NULL
			  AND (claimed_at IS NULL OR claimed_at < now() - make_interval(secs => $2))
			ORDER BY created_at ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, subject, payload, created_at
	`

	rows, err := r.pool.Query(ctx, query, limit, notificationLease.Seconds())
	if err != nil {
		return nil, fmt.Errorf("failed to claim notifications: %w", err)
	}
	defer rows.Close()

	var claimed []models.Notification
	for rows.Next() {
		var n models.Notification
		var payload []byte
		if err := rows.Scan(&n.ID, &n.Subject, &payload, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		n.Payload = payload
		claimed = append(claimed, n)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating notifications: %w", err)
	}

	// RETURNING order is unspecified
	sortNotifications(claimed)
	return claimed, nil
}

// MarkNotificationProcessed finalizes a claimed notification
func (r *PostgresRepository) MarkNotificationProcessed(ctx context.Context, id string) error {
	if _, err := r.pool.Exec(ctx, `UPDATE notifications SET processed_at = now() WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to mark notification processed: %w", err)
	}
	return nil
}

// =============================================================================
// CHECKPOINTS
// =============================================================================

// SaveCheckpoint stores a named progress marker
func (r *PostgresRepository) SaveCheckpoint(ctx context.Context, name string, value int64) error {
	query := `
		INSERT INTO checkpoints (name, value, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE SET value = EXCLUDED.value, updated_at = now()
	`
	if _, err := r.pool.Exec(ctx, query, name, value); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// LoadCheckpoint returns a named progress marker, 0 if never saved
func (r *PostgresRepository) LoadCheckpoint(ctx context.Context, name string) (int64, error) {
	var value int64
	err := r.pool.QueryRow(ctx, `SELECT value FROM checkpoints WHERE name = $1`, name).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	return value, nil
}

// =============================================================================
// RESERVATIONS
// =============================================================================

// SaveReservation stores a seat reservation if the seat is free
func (r *PostgresRepository) SaveReservation(ctx context.Context, res *models.Reservation) error {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO seat_reservations (table_addr, pos, signer_addr, tx_hash, amount, created)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (table_addr, pos) DO NOTHING
	`, res.TableAddr, res.Pos, res.SignerAddr, res.TxHash, res.Amount, res.Created)
	if err != nil {
		return fmt.Errorf("failed to save reservation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

// ListReservations returns reservations of one table, or all when tableAddr is empty
func (r *PostgresRepository) ListReservations(ctx context.Context, tableAddr string) ([]models.Reservation, error) {
	query := `
		SELECT table_addr, pos, signer_addr, tx_hash, amount, created
		FROM seat_reservations
		WHERE $1 = '' OR table_addr = $1
		ORDER BY table_addr, pos
	`

	rows, err := r.pool.Query(ctx, query, tableAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to list reservations: %w", err)
	}
	defer rows.Close()

	var reservations []models.Reservation
	for rows.Next() {
		var res models.Reservation
		if err := rows.Scan(&res.TableAddr, &res.Pos, &res.SignerAddr, &res.TxHash, &res.Amount, &res.Created); err != nil {
			return nil, fmt.Errorf("failed to scan reservation: %w", err)
		}
		reservations = append(reservations, res)
	}

	return reservations, rows.Err()
}

// DeleteReservation removes a seat reservation
func (r *PostgresRepository) DeleteReservation(ctx context.Context, tableAddr string, pos int) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM seat_reservations WHERE table_addr = $1 AND pos = $2`, tableAddr, pos); err != nil {
		return fmt.Errorf("failed to delete reservation: %w", err)
	}
	return nil
}

// Ping checks database connectivity
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Close closes the database connection pool
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}
