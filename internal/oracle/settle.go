package oracle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/leapdao/acebusters-backend/internal/models"
	"github.com/leapdao/acebusters-backend/internal/storage"
	"github.com/leapdao/acebusters-backend/internal/token"
)

// IsComplete reports whether a hand's outcome is decided
func IsComplete(hand *models.Hand) (bool, error) {
	r, err := newRound(hand)
	if err != nil {
		return false, err
	}
	return r.complete(), nil
}

// CompleteHand signs the distribution of a decided hand if it has none and
// opens the next hand at the table.
func (e *Engine) CompleteHand(ctx context.Context, table string, handID uint64) error {
	stored, err := e.hand(ctx, table, handID)
	if err != nil {
		return err
	}
	hand := stored.Clone()
	r, err := newRound(hand)
	if err != nil {
		return err
	}
	if !r.complete() {
		return badRequest("hand %d not complete.", handID)
	}

	if hand.Distribution == nil {
		if err := e.distribute(r); err != nil {
			return err
		}
		if err := e.save(ctx, hand, stored.Version, false); err != nil {
			return err
		}
		slog.Info("Distribution signed",
			"table", table,
			"hand_id", handID,
			"claims", len(hand.Distribution.Claims),
		)
	}

	_, err = e.store.GetHand(ctx, table, handID+1)
	if err == nil {
		return nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("failed to load next hand: %w", err)
	}

	lineup, err := e.lineup(ctx, table)
	if err != nil {
		return err
	}
	sb, err := e.gateway.GetSmallBlind(ctx, table)
	if err != nil {
		return fmt.Errorf("failed to read small blind: %w", err)
	}

	next := e.nextHand(hand, lineup, sb)
	if err := e.store.InsertHand(ctx, next); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return nil
		}
		return fmt.Errorf("failed to insert hand %d: %w", next.HandID, err)
	}

	slog.Info("Hand opened",
		"table", table,
		"hand_id", next.HandID,
		"dealer", next.Dealer,
	)
	return nil
}

// nextHand builds the waiting row that follows hand. Sit-outs carry over and
// the dealer button moves to the next seat that will play.
func (e *Engine) nextHand(hand *models.Hand, lineup *models.LedgerLineup, sb int64) *models.Hand {
	now := e.now().Unix()
	next := &models.Hand{
		TableAddr:  hand.TableAddr,
		HandID:     hand.HandID + 1,
		SmallBlind: sb,
		State:      models.StateWaiting,
		Changed:    now,
	}
	syncLineup(next, lineup)

	for i := range next.Lineup {
		seat := &next.Lineup[i]
		prev := hand.SeatOf(seat.Address)
		if prev < 0 {
			continue
		}
		old := hand.Lineup[prev]
		switch {
		case old.Sitout.IsTimestamp():
			seat.Sitout = models.SitoutAt(old.Sitout.Since)
		case old.Sitout.IsTimeout():
			seat.Sitout = models.SitoutAt(now)
		}
		if old.ExitHand > seat.ExitHand {
			seat.ExitHand = old.ExitHand
		}
	}

	next.Dealer = hand.Dealer
	n := len(next.Lineup)
	for step := 1; step <= n; step++ {
		pos := (hand.Dealer + step) % n
		if !next.Lineup[pos].IsEmpty() && next.Lineup[pos].Sitout == nil {
			next.Dealer = pos
			break
		}
	}
	return next
}

// CreateNetting computes the balances of every ledger seat after handID and
// stores them signed by the oracle on that hand.
func (e *Engine) CreateNetting(ctx context.Context, table string, handID uint64) error {
	stored, err := e.hand(ctx, table, handID)
	if err != nil {
		return err
	}
	if stored.Netting != nil {
		return nil
	}
	complete, err := IsComplete(stored)
	if err != nil {
		return err
	}
	if !complete && stored.State != models.StateWaiting {
		return badRequest("hand %d not complete.", handID)
	}

	lineup, err := e.lineup(ctx, table)
	if err != nil {
		return err
	}
	if handID <= lineup.LastHandNetted {
		return badRequest("hand %d already netted.", handID)
	}
	hands, err := e.store.ListHands(ctx, table, lineup.LastHandNetted+1, handID)
	if err != nil {
		return fmt.Errorf("failed to list hands: %w", err)
	}

	var balances []models.Claim
	for _, seat := range lineup.Seats {
		if seat.Address == "" {
			continue
		}
		balance := seat.Amount
		for _, h := range hands {
			spent, err := committed(h, seat.Address)
			if err != nil {
				return err
			}
			balance += h.Distribution.AmountFor(seat.Address) - spent
		}
		balances = append(balances, models.Claim{Address: seat.Address, Amount: balance})
	}

	newBalances := encodeClaims(handID, balances)
	sig, err := token.SignData(e.key, []byte(newBalances))
	if err != nil {
		return fmt.Errorf("failed to sign netting: %w", err)
	}

	hand := stored.Clone()
	hand.Netting = &models.Netting{
		HandID:      handID,
		NewBalances: newBalances,
		Balances:    balances,
		Signatures:  map[string]string{e.key.Address(): sig},
	}
	if err := e.save(ctx, hand, stored.Version, false); err != nil {
		return err
	}

	slog.Info("Netting created",
		"table", table,
		"hand_id", handID,
		"balances", len(balances),
	)
	return nil
}

// Netting stores a player's signature over the netted balances of a hand
func (e *Engine) Netting(ctx context.Context, table string, handID uint64, sig string) error {
	stored, err := e.hand(ctx, table, handID)
	if err != nil {
		return err
	}
	if stored.Netting == nil {
		return badRequest("hand %d has no netting.", handID)
	}

	data := []byte(stored.Netting.NewBalances)
	signer := ""
	for _, seat := range stored.Lineup {
		if seat.IsEmpty() {
			continue
		}
		if token.VerifyData(seat.Address, data, sig) == nil {
			signer = seat.Address
			break
		}
	}
	if signer == "" {
		return unauthorized("netting signature does not match any seat.")
	}
	if stored.Netting.Signatures[signer] == sig {
		return nil
	}

	hand := stored.Clone()
	hand.Netting.Signatures[signer] = sig
	if err := e.save(ctx, hand, stored.Version, false); err != nil {
		return err
	}

	slog.Info("Netting signature stored",
		"table", table,
		"hand_id", handID,
		"signer", signer,
		"signatures", len(hand.Netting.Signatures),
	)
	return nil
}

// NettingComplete reports whether every netted address and the oracle signed
func NettingComplete(netting *models.Netting, oracleAddr string) bool {
	if netting == nil {
		return false
	}
	if _, ok := netting.Signatures[oracleAddr]; !ok {
		return false
	}
	for _, b := range netting.Balances {
		if _, ok := netting.Signatures[b.Address]; !ok {
			return false
		}
	}
	return true
}

// DisputeReceipts collects the receipts and signed distributions of hands
// from..to, the oracle's evidence for a disputed netting.
func (e *Engine) DisputeReceipts(ctx context.Context, table string, from, to uint64) ([]string, error) {
	if to < from {
		return nil, badRequest("empty hand range %d..%d.", from, to)
	}
	hands, err := e.store.ListHands(ctx, table, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to list hands: %w", err)
	}

	var receipts []string
	for _, hand := range hands {
		for _, seat := range hand.Lineup {
			if seat.Last != "" {
				receipts = append(receipts, seat.Last)
			}
		}
		if d := hand.Distribution; d != nil {
			receipts = append(receipts, strings.Join([]string{
				"distribution",
				encodeClaims(d.HandID, d.Claims),
				d.Signer,
				d.Signature,
			}, ";"))
		}
	}

	slog.Debug("Dispute receipts collected",
		"table", table,
		"from", from,
		"to", to,
		"receipts", len(receipts),
	)
	return receipts, nil
}
