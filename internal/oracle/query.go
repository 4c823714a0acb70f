package oracle

import (
	"context"
	"errors"
	"fmt"

	"github.com/leapdao/acebusters-backend/internal/metrics"
	"github.com/leapdao/acebusters-backend/internal/models"
	"github.com/leapdao/acebusters-backend/internal/storage"
	"github.com/leapdao/acebusters-backend/internal/token"
)

// Redact returns the public view of a hand: the deck stays hidden, only the
// community cards of the current state and shown hole cards are included.
func Redact(hand *models.Hand) *models.HandView {
	c := hand.Clone()
	cards := board(c)
	if cards == nil {
		cards = []int{}
	}
	return &models.HandView{
		TableAddr:     c.TableAddr,
		HandID:        c.HandID,
		Dealer:        c.Dealer,
		SmallBlind:    c.SmallBlind,
		State:         c.State,
		Lineup:        c.Lineup,
		Cards:         cards,
		Changed:       c.Changed,
		PreflopMaxBet: c.PreflopMaxBet,
		FlopMaxBet:    c.FlopMaxBet,
		TurnMaxBet:    c.TurnMaxBet,
		RiverMaxBet:   c.RiverMaxBet,
		Distribution:  c.Distribution,
		Netting:       c.Netting,
		Started:       c.Started,
	}
}

// Info returns the public view of the table's latest hand. A table that never
// played returns a waiting view of the ledger lineup.
func (e *Engine) Info(ctx context.Context, table string) (*models.HandView, error) {
	hand, err := e.store.GetLatestHand(ctx, table)
	if err == nil {
		return Redact(hand), nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("failed to load hand: %w", err)
	}

	lineup, err := e.lineup(ctx, table)
	if err != nil {
		return nil, err
	}
	view := &models.HandView{
		TableAddr: table,
		HandID:    lineup.LastHandNetted,
		State:     models.StateWaiting,
		Cards:     []int{},
	}
	for _, seat := range lineup.Seats {
		view.Lineup = append(view.Lineup, models.Seat{Address: seat.Address, ExitHand: seat.ExitHand})
	}
	return view, nil
}

// GetHand returns the public view of an archived hand
func (e *Engine) GetHand(ctx context.Context, table string, handID uint64) (*models.HandView, error) {
	hand, err := e.hand(ctx, table, handID)
	if err != nil {
		return nil, err
	}
	return Redact(hand), nil
}

// HandleMessage relays a signed chat message of a seated player
func (e *Engine) HandleMessage(ctx context.Context, raw string) error {
	receipt, err := token.Parse(raw)
	if err != nil {
		return unauthorized("invalid message.")
	}
	if receipt.Action != token.ActionMessage {
		return badRequest("receipt type %s, expected message.", receipt.Action)
	}
	if receipt.Table == "" {
		return badRequest("message without table.")
	}

	hand, err := e.latestHand(ctx, receipt.Table)
	if err != nil {
		return err
	}
	if hand.SeatOf(receipt.Signer) < 0 {
		return forbidden("address %s not in lineup.", receipt.Signer)
	}

	if e.broadcaster != nil {
		e.broadcaster.Broadcast(receipt.Table, models.BroadcastEvent{Type: "message", Payload: raw})
	}
	metrics.ActionsAccepted.WithLabelValues(receipt.Action.String()).Inc()
	return nil
}
