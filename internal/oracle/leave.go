package oracle

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/leapdao/acebusters-backend/internal/models"
	"github.com/leapdao/acebusters-backend/internal/token"
)

// Leave records the hand after which the signer leaves the table. While a
// hand is in progress the exit can only be the next hand; a waiting table
// also accepts the previous hand and sits the player out right away.
func (e *Engine) Leave(ctx context.Context, table, raw string) (*Result, error) {
	receipt, err := e.parse(raw)
	if err != nil {
		return nil, err
	}
	if receipt.Action != token.ActionLeave {
		return nil, badRequest("receipt type %s, expected leave.", receipt.Action)
	}
	stored, err := e.latestHand(ctx, table)
	if err != nil {
		return nil, err
	}

	hand := stored.Clone()
	pos := hand.SeatOf(receipt.Signer)
	if pos < 0 {
		return nil, forbidden("address %s not in lineup.", receipt.Signer)
	}
	seat := &hand.Lineup[pos]
	if seat.LeaveReceipt == raw {
		return nil, unauthorized("receipt already used.")
	}

	now := e.now().Unix()
	if hand.State == models.StateWaiting {
		if receipt.HandID+1 < hand.HandID {
			return nil, forbidden("leave for hand %d forbidden, earliest is %d.", receipt.HandID, hand.HandID-1)
		}
		if seat.Sitout == nil {
			seat.Sitout = models.SitoutAt(now)
		}
	} else if receipt.HandID <= hand.HandID {
		return nil, forbidden("leave for hand %d forbidden while hand %d in progress.", receipt.HandID, hand.HandID)
	}

	seat.ExitHand = receipt.HandID
	seat.LeaveReceipt = raw
	hand.Changed = now
	if err := e.save(ctx, hand, stored.Version, false); err != nil {
		return nil, err
	}

	slog.Info("Leave accepted",
		"table", table,
		"hand_id", hand.HandID,
		"pos", pos,
		"exit_hand", receipt.HandID,
	)
	return emptyResult(), nil
}

// Kick signs a leave on behalf of a seat that sat out too long. The stream
// handler forwards the receipt to the ledger.
func (e *Engine) Kick(ctx context.Context, table string, pos int) error {
	stored, err := e.latestHand(ctx, table)
	if err != nil {
		return err
	}
	if pos < 0 || pos >= len(stored.Lineup) || stored.Lineup[pos].IsEmpty() {
		return badRequest("seat %d is empty.", pos)
	}

	hand := stored.Clone()
	seat := &hand.Lineup[pos]
	if !seat.Sitout.IsTimestamp() && !seat.Sitout.IsTimeout() {
		return badRequest("seat %d is not sitting out.", pos)
	}
	if seat.ExitHand > 0 {
		return nil
	}

	exitHand := hand.HandID
	if hand.State == models.StateWaiting && hand.HandID > 1 {
		exitHand = hand.HandID - 1
	}
	raw, err := token.Sign(e.key, token.Receipt{
		Action: token.ActionLeave,
		HandID: exitHand,
		Table:  table,
		Target: seat.Address,
	})
	if err != nil {
		return fmt.Errorf("failed to sign leave: %w", err)
	}

	seat.ExitHand = exitHand
	seat.LeaveReceipt = raw
	hand.Changed = e.now().Unix()
	if err := e.save(ctx, hand, stored.Version, false); err != nil {
		return err
	}

	slog.Info("Seat kicked",
		"table", table,
		"hand_id", hand.HandID,
		"pos", pos,
		"address", seat.Address,
		"exit_hand", exitHand,
	)
	return nil
}

// Timeout sits out the seat whose turn it is once the hand has been idle
// longer than the configured threshold. In showdown the seat loses its claim.
func (e *Engine) Timeout(ctx context.Context, table string) (*Result, error) {
	stored, err := e.latestHand(ctx, table)
	if err != nil {
		return nil, err
	}

	hand := stored.Clone()
	r, err := newRound(hand)
	if err != nil {
		return nil, err
	}

	if r.complete() {
		return nil, badRequest("hand %d is complete.", hand.HandID)
	}
	pos := r.whoseTurn()
	if pos < 0 {
		return nil, badRequest("no action pending in hand %d.", hand.HandID)
	}

	now := e.now()
	if left := hand.Changed + int64(e.timeout.Seconds()) - now.Unix(); left > 0 {
		return nil, badRequest("seat %d has %d more second to act.", pos, left)
	}

	seat := &hand.Lineup[pos]
	if hand.State == models.StateShowdown {
		seat.Sitout = models.TimedOut()
	} else {
		seat.Sitout = models.SitoutAt(now.Unix())
	}
	if hand.State == models.StateDealing && pos == hand.BigBlindPos {
		hand.BigBlindPos = r.next(pos, func(i int) bool {
			return r.active(i) && i != hand.SmallBlindPos
		})
	}
	hand.Changed = now.Unix()

	disclosed := r.advance()
	if hand.State == models.StateShowdown && r.contenderCount() > 0 {
		if err := e.distribute(r); err != nil {
			return nil, err
		}
	}
	if err := e.save(ctx, hand, stored.Version, false); err != nil {
		return nil, err
	}

	slog.Info("Seat timed out",
		"table", table,
		"hand_id", hand.HandID,
		"pos", pos,
		"state", hand.State,
	)
	if len(disclosed) > 0 {
		return cardsResult(nil, disclosed), nil
	}
	return distributionResult(hand.Distribution), nil
}
