package reservation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/stellar/go/strkey"

	"github.com/leapdao/acebusters-backend/internal/ledger"
	"github.com/leapdao/acebusters-backend/internal/models"
	"github.com/leapdao/acebusters-backend/internal/oracle"
	"github.com/leapdao/acebusters-backend/internal/storage"
)

// EventSeatReserved is broadcast to the table when a seat is reserved
const EventSeatReserved = "seatReserved"

// Service holds seats for players whose join transaction is not yet on the ledger
type Service struct {
	store       storage.ReservationStore
	gateway     ledger.Gateway
	broadcaster oracle.Broadcaster
	now         func() time.Time
}

// New creates a reservation Service. broadcaster may be nil.
func New(store storage.ReservationStore, gateway ledger.Gateway, broadcaster oracle.Broadcaster) *Service {
	return &Service{
		store:       store,
		gateway:     gateway,
		broadcaster: broadcaster,
		now:         time.Now,
	}
}

func rejection(kind oracle.Kind, format string, args ...interface{}) error {
	return &oracle.Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Reserve holds seat pos of table for signer. The seat must be empty on the ledger and not reserved.
func (s *Service) Reserve(ctx context.Context, table string, pos int, signer, txHash string, amount int64) (*models.Reservation, error) {
	if !strkey.IsValidEd25519PublicKey(signer) {
		return nil, rejection(oracle.KindBadRequest, "invalid signer address %q.", signer)
	}
	if txHash == "" {
		return nil, rejection(oracle.KindBadRequest, "missing tx hash.")
	}
	if amount <= 0 {
		return nil, rejection(oracle.KindBadRequest, "amount must be positive.")
	}

	lineup, err := s.gateway.GetLineup(ctx, table)
	if errors.Is(err, ledger.ErrUnknownTable) {
		return nil, rejection(oracle.KindNotFound, "table %s not found.", table)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read lineup: %w", err)
	}
	if pos < 0 || pos >= len(lineup.Seats) {
		return nil, rejection(oracle.KindBadRequest, "seat %d does not exist.", pos)
	}
	if lineup.Seats[pos].Address != "" {
		return nil, rejection(oracle.KindConflict, "seat %d is taken.", pos)
	}

	res := &models.Reservation{
		TableAddr:  table,
		Pos:        pos,
		SignerAddr: signer,
		TxHash:     txHash,
		Amount:     amount,
		Created:    s.now().Unix(),
	}
	if err := s.store.SaveReservation(ctx, res); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return nil, rejection(oracle.KindConflict, "seat %d is reserved.", pos)
		}
		return nil, fmt.Errorf("failed to save reservation: %w", err)
	}

	slog.Info("Seat reserved", "table", table, "pos", pos, "signer", signer)
	if s.broadcaster != nil {
		s.broadcaster.Broadcast(table, models.BroadcastEvent{Type: EventSeatReserved, Payload: res})
	}
	return res, nil
}

// List returns the reservations of table
func (s *Service) List(ctx context.Context, table string) ([]models.Reservation, error) {
	return s.store.ListReservations(ctx, table)
}

// Cleanup drops reservations older than timeout and those whose seat is now
// taken on the ledger. It returns the dropped reservations.
func (s *Service) Cleanup(ctx context.Context, timeout time.Duration) ([]models.Reservation, error) {
	all, err := s.store.ListReservations(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("failed to list reservations: %w", err)
	}

	cutoff := s.now().Add(-timeout).Unix()
	lineups := make(map[string]*models.LedgerLineup)
	var dropped []models.Reservation
	for _, res := range all {
		expired := res.Created < cutoff
		if !expired {
			lineup, ok := lineups[res.TableAddr]
			if !ok {
				lineup, err = s.gateway.GetLineup(ctx, res.TableAddr)
				if err != nil {
					slog.Warn("Failed to read lineup during cleanup", "table", res.TableAddr, "error", err)
				}
				lineups[res.TableAddr] = lineup
			}
			if lineup == nil || res.Pos >= len(lineup.Seats) || lineup.Seats[res.Pos].Address == "" {
				continue
			}
		}
		if err := s.store.DeleteReservation(ctx, res.TableAddr, res.Pos); err != nil {
			return dropped, fmt.Errorf("failed to delete reservation: %w", err)
		}
		dropped = append(dropped, res)
	}

	if len(dropped) > 0 {
		slog.Info("Reservations cleaned up", "dropped", len(dropped), "remaining", len(all)-len(dropped))
	}
	return dropped, nil
}
