package storage

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/leapdao/acebusters-backend/internal/models"
)

type handRow struct {
	version int64
	data    []byte
}

type reservationKey struct {
	table string
	pos   int
}

// MemoryRepository is a process-local Repository. Rows are stored as JSON so
// callers never share memory with the store.
type MemoryRepository struct {
	mu sync.Mutex

	hands         map[HandKey]*handRow
	changes       []models.HandChange
	tables        map[string][]byte
	submissions   []models.Submission
	notifications []*models.Notification
	claimed       map[string]time.Time
	checkpoints   map[string]int64
	reservations  map[reservationKey]models.Reservation

	now func() time.Time
}

// NewMemoryRepository creates an empty in-memory repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		hands:        make(map[HandKey]*handRow),
		tables:       make(map[string][]byte),
		claimed:      make(map[string]time.Time),
		checkpoints:  make(map[string]int64),
		reservations: make(map[reservationKey]models.Reservation),
		now:          time.Now,
	}
}

func (m *MemoryRepository) decode(row *handRow) (*models.Hand, error) {
	return decodeHand(row.data, row.version)
}

func (m *MemoryRepository) GetLatestHand(ctx context.Context, tableAddr string) (*models.Hand, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var latest *handRow
	var latestID uint64
	for key, row := range m.hands {
		if key.TableAddr != tableAddr {
			continue
		}
		if latest == nil || key.HandID > latestID {
			latest, latestID = row, key.HandID
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	return m.decode(latest)
}

func (m *MemoryRepository) GetHand(ctx context.Context, tableAddr string, handID uint64) (*models.Hand, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.hands[HandKey{TableAddr: tableAddr, HandID: handID}]
	if !ok {
		return nil, ErrNotFound
	}
	return m.decode(row)
}

func (m *MemoryRepository) ListHands(ctx context.Context, tableAddr string, from, to uint64) ([]*models.Hand, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var hands []*models.Hand
	for key, row := range m.hands {
		if key.TableAddr != tableAddr || key.HandID < from || key.HandID > to {
			continue
		}
		hand, err := m.decode(row)
		if err != nil {
			return nil, err
		}
		hands = append(hands, hand)
	}
	sort.Slice(hands, func(i, j int) bool { return hands[i].HandID < hands[j].HandID })
	return hands, nil
}

func (m *MemoryRepository) InsertHand(ctx context.Context, hand *models.Hand) error {
	data, err := json.Marshal(hand)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := HandKey{TableAddr: hand.TableAddr, HandID: hand.HandID}
	if _, exists := m.hands[key]; exists {
		return ErrConflict
	}
	m.hands[key] = &handRow{version: 1, data: data}
	if err := m.appendChange(key, nil, data); err != nil {
		return err
	}
	hand.Version = 1
	return nil
}

func (m *MemoryRepository) WriteIfUnchanged(ctx context.Context, key HandKey, expectedVersion int64, hand *models.Hand) error {
	data, err := json.Marshal(hand)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.hands[key]
	if !ok || row.version != expectedVersion {
		return ErrConflict
	}
	old := row.data
	m.hands[key] = &handRow{version: expectedVersion + 1, data: data}
	if err := m.appendChange(key, old, data); err != nil {
		return err
	}
	hand.Version = expectedVersion + 1
	return nil
}

func (m *MemoryRepository) appendChange(key HandKey, oldData, newData []byte) error {
	change := models.HandChange{
		Seq:       int64(len(m.changes) + 1),
		TableAddr: key.TableAddr,
		HandID:    key.HandID,
		CreatedAt: m.now(),
	}
	var err error
	if oldData != nil {
		if change.Old, err = decodeHand(oldData, 0); err != nil {
			return err
		}
	}
	if change.New, err = decodeHand(newData, 0); err != nil {
		return err
	}
	m.changes = append(m.changes, change)
	return nil
}

func (m *MemoryRepository) ListHandChanges(ctx context.Context, afterSeq int64, limit int) ([]models.HandChange, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.HandChange
	for _, change := range m.changes {
		if change.Seq <= afterSeq {
			continue
		}
		out = append(out, models.HandChange{
			Seq:       change.Seq,
			TableAddr: change.TableAddr,
			HandID:    change.HandID,
			Old:       change.Old.Clone(),
			New:       change.New.Clone(),
			CreatedAt: change.CreatedAt,
		})
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryRepository) SaveTableState(ctx context.Context, state *models.TableState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if prev, ok := m.tables[state.TableAddr]; ok {
		var old models.TableState
		if err := json.Unmarshal(prev, &old); err == nil && old.LedgerSeq > state.LedgerSeq {
			return nil
		}
	}
	m.tables[state.TableAddr] = data
	return nil
}

func (m *MemoryRepository) GetTableState(ctx context.Context, tableAddr string) (*models.TableState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, ok := m.tables[tableAddr]
	if !ok {
		return nil, ErrNotFound
	}
	var state models.TableState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

func (m *MemoryRepository) ListTables(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tables := make([]string, 0, len(m.tables))
	for addr := range m.tables {
		tables = append(tables, addr)
	}
	sort.Strings(tables)
	return tables, nil
}

func (m *MemoryRepository) SaveSubmission(ctx context.Context, sub *models.Submission) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub.ID = int64(len(m.submissions) + 1)
	sub.CreatedAt = m.now()
	m.submissions = append(m.submissions, *sub)
	return nil
}

func (m *MemoryRepository) ListSubmissions(ctx context.Context, tableAddr string) ([]models.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.Submission
	for _, sub := range m.submissions {
		if sub.TableAddr == tableAddr {
			out = append(out, sub)
		}
	}
	return out, nil
}

func (m *MemoryRepository) SaveNotification(ctx context.Context, n *models.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.notifications {
		if existing.ID == n.ID {
			return nil
		}
	}
	n.CreatedAt = m.now()
	stored := *n
	m.notifications = append(m.notifications, &stored)
	return nil
}

func (m *MemoryRepository) ClaimNotifications(ctx context.Context, limit int) ([]models.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var out []models.Notification
	for _, n := range m.notifications {
		if n.ProcessedAt != nil {
			continue
		}
		if at, ok := m.claimed[n.ID]; ok && now.Sub(at) < notificationLease {
			continue
		}
		m.claimed[n.ID] = now
		out = append(out, *n)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryRepository) MarkNotificationProcessed(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, n := range m.notifications {
		if n.ID == id {
			at := m.now()
			n.ProcessedAt = &at
		}
	}
	return nil
}

// Notifications returns every stored notification in insertion order
func (m *MemoryRepository) Notifications() []models.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]models.Notification, len(m.notifications))
	for i, n := range m.notifications {
		out[i] = *n
	}
	return out
}

func (m *MemoryRepository) SaveCheckpoint(ctx context.Context, name string, value int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.checkpoints[name] = value
	return nil
}

func (m *MemoryRepository) LoadCheckpoint(ctx context.Context, name string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.checkpoints[name], nil
}

func (m *MemoryRepository) SaveReservation(ctx context.Context, res *models.Reservation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := reservationKey{table: res.TableAddr, pos: res.Pos}
	if _, taken := m.reservations[key]; taken {
		return ErrConflict
	}
	m.reservations[key] = *res
	return nil
}

func (m *MemoryRepository) ListReservations(ctx context.Context, tableAddr string) ([]models.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.Reservation
	for key, res := range m.reservations {
		if tableAddr == "" || key.table == tableAddr {
			out = append(out, res)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TableAddr != out[j].TableAddr {
			return out[i].TableAddr < out[j].TableAddr
		}
		return out[i].Pos < out[j].Pos
	})
	return out, nil
}

func (m *MemoryRepository) DeleteReservation(ctx context.Context, tableAddr string, pos int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.reservations, reservationKey{table: tableAddr, pos: pos})
	return nil
}

func (m *MemoryRepository) Ping(ctx context.Context) error { return nil }

func (m *MemoryRepository) Close() error { return nil }

func sortNotifications(ns []models.Notification) {
	sort.SliceStable(ns, func(i, j int) bool { return ns[i].CreatedAt.Before(ns[j].CreatedAt) })
}
