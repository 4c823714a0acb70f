// Package stream reacts to hand store writes: it republishes redacted hands,
// forwards leaves to the ledger and announces completed hands and nettings.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/leapdao/acebusters-backend/internal/bus"
	"github.com/leapdao/acebusters-backend/internal/debug"
	"github.com/leapdao/acebusters-backend/internal/ledger"
	"github.com/leapdao/acebusters-backend/internal/ledger/retry"
	"github.com/leapdao/acebusters-backend/internal/metrics"
	"github.com/leapdao/acebusters-backend/internal/models"
	"github.com/leapdao/acebusters-backend/internal/oracle"
)

// EventHandUpdate is the broadcast type of redacted hand snapshots
const EventHandUpdate = "handUpdate"

// Handler derives notifications from consecutive snapshots of a hand row
type Handler struct {
	oracleAddr  string
	gateway     ledger.Gateway
	publisher   bus.Publisher
	broadcaster oracle.Broadcaster
}

// NewHandler creates a Handler. oracleAddr is the key whose signature
// completes a netting together with the players'.
func NewHandler(oracleAddr string, gateway ledger.Gateway, publisher bus.Publisher, broadcaster oracle.Broadcaster) *Handler {
	return &Handler{
		oracleAddr:  oracleAddr,
		gateway:     gateway,
		publisher:   publisher,
		broadcaster: broadcaster,
	}
}

// Handle processes one change feed entry. Every step runs even if an earlier
// one failed; the errors are joined. Notifications are keyed by the change
// sequence so handling the same change again publishes nothing new.
func (h *Handler) Handle(ctx context.Context, change models.HandChange) error {
	table := change.TableAddr
	hand := change.New
	if hand == nil {
		return retry.Permanent(fmt.Errorf("change %d has no new image", change.Seq))
	}
	debug.PrintHandChange(change)
	ctx = bus.WithDedupKey(ctx, "change:"+strconv.FormatInt(change.Seq, 10))

	if h.broadcaster != nil {
		h.broadcaster.Broadcast(table, models.BroadcastEvent{Type: EventHandUpdate, Payload: oracle.Redact(hand)})
		metrics.Broadcasts.WithLabelValues(EventHandUpdate).Inc()
	}
	if change.IsInsert() {
		return nil
	}
	old := change.Old

	var errs []error
	errs = append(errs, h.handleLeaves(ctx, table, old, hand))
	errs = append(errs, h.handleCompletion(ctx, table, old, hand))
	errs = append(errs, h.handleNetting(ctx, table, old, hand))
	return errors.Join(errs...)
}

// leavesReceived returns the seats whose leave receipt changed
func leavesReceived(old, hand *models.Hand) []int {
	var leaves []int
	for pos, seat := range hand.Lineup {
		if seat.IsEmpty() || seat.LeaveReceipt == "" || seat.ExitHand == 0 {
			continue
		}
		if pos < len(old.Lineup) && old.Lineup[pos].Address == seat.Address &&
			old.Lineup[pos].LeaveReceipt == seat.LeaveReceipt {
			continue
		}
		leaves = append(leaves, pos)
	}
	return leaves
}

func lineupHasLeave(hand *models.Hand) bool {
	for _, seat := range hand.Lineup {
		if !seat.IsEmpty() && seat.ExitHand > 0 {
			return true
		}
	}
	return false
}

func (h *Handler) handleLeaves(ctx context.Context, table string, old, hand *models.Hand) error {
	leaves := leavesReceived(old, hand)
	if len(leaves) == 0 {
		return nil
	}

	var errs []error
	for _, pos := range leaves {
		seat := hand.Lineup[pos]
		errs = append(errs, h.publisher.Publish(ctx, bus.Subject(bus.KindTableLeave, table), bus.LeavePayload{
			LeaverAddr: seat.Address,
			TableAddr:  table,
			ExitHand:   seat.ExitHand,
		}))
		if err := h.gateway.SubmitLeave(ctx, table, seat.LeaveReceipt); err != nil {
			errs = append(errs, fmt.Errorf("failed to submit leave of seat %d: %w", pos, err))
		}
		slog.Info("Leave forwarded", "table", table, "pos", pos, "exit_hand", seat.ExitHand)
	}

	// a leave for an already finished hand can be netted right away
	if exit := hand.Lineup[leaves[0]].ExitHand; exit < hand.HandID {
		errs = append(errs, h.publisher.Publish(ctx, bus.Subject(bus.KindTableNettingRequest, table), bus.HandPayload{
			TableAddr: table,
			HandID:    exit,
		}))
	}
	return errors.Join(errs...)
}

func (h *Handler) handleCompletion(ctx context.Context, table string, old, hand *models.Hand) error {
	if hand.State == models.StateWaiting {
		return nil
	}
	wasComplete, err := oracle.IsComplete(old)
	if err != nil {
		return fmt.Errorf("failed to check old hand: %w", err)
	}
	complete, err := oracle.IsComplete(hand)
	if err != nil {
		return fmt.Errorf("failed to check hand: %w", err)
	}
	if !complete || wasComplete {
		return nil
	}

	errs := []error{h.publisher.Publish(ctx, bus.Subject(bus.KindHandComplete, table), bus.HandPayload{
		TableAddr: table,
		HandID:    hand.HandID,
	})}
	if lineupHasLeave(hand) && hand.Netting == nil {
		errs = append(errs, h.publisher.Publish(ctx, bus.Subject(bus.KindTableNettingRequest, table), bus.HandPayload{
			TableAddr: table,
			HandID:    hand.HandID,
		}))
	}
	slog.Info("Hand complete", "table", table, "hand_id", hand.HandID, "state", hand.State)
	return errors.Join(errs...)
}

func (h *Handler) handleNetting(ctx context.Context, table string, old, hand *models.Hand) error {
	if hand.Netting == nil || !oracle.NettingComplete(hand.Netting, h.oracleAddr) {
		return nil
	}
	if oracle.NettingComplete(old.Netting, h.oracleAddr) {
		return nil
	}

	slog.Info("Netting complete", "table", table, "hand_id", hand.HandID, "signatures", len(hand.Netting.Signatures))
	return h.publisher.Publish(ctx, bus.Subject(bus.KindTableNettingComplete, table), bus.NettingCompletePayload{
		TableAddr: table,
		HandID:    hand.HandID,
		Netting:   hand.Netting,
	})
}
