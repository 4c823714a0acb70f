package oracle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/leapdao/acebusters-backend/internal/ledger"
	"github.com/leapdao/acebusters-backend/internal/metrics"
	"github.com/leapdao/acebusters-backend/internal/models"
	"github.com/leapdao/acebusters-backend/internal/storage"
	"github.com/leapdao/acebusters-backend/internal/token"

	"github.com/stellar/go/keypair"
)

// Broadcaster pushes events on a table's real-time channel
type Broadcaster interface {
	Broadcast(table string, event models.BroadcastEvent)
}

// Deps are the collaborators of an Engine
type Deps struct {
	Store       storage.HandStore
	Gateway     ledger.Gateway
	Broadcaster Broadcaster
	Key         *keypair.Full
	Timeout     time.Duration
	Now         func() time.Time
	Shuffle     func(size int) ([]int, error)
}

// Engine validates action receipts against the stored hand and the ledger
// lineup and advances the hand. It holds no per-hand state; every write is
// a compare-and-swap on the hand row.
type Engine struct {
	store       storage.HandStore
	gateway     ledger.Gateway
	broadcaster Broadcaster
	key         *keypair.Full
	timeout     time.Duration
	now         func() time.Time
	shuffle     func(size int) ([]int, error)
}

// New creates an Engine
func New(deps Deps) *Engine {
	e := &Engine{
		store:       deps.Store,
		gateway:     deps.Gateway,
		broadcaster: deps.Broadcaster,
		key:         deps.Key,
		timeout:     deps.Timeout,
		now:         deps.Now,
		shuffle:     deps.Shuffle,
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.shuffle == nil {
		e.shuffle = Shuffle
	}
	if e.timeout <= 0 {
		e.timeout = 60 * time.Second
	}
	return e
}

// OracleAddress is the public key that signs distributions and nettings
func (e *Engine) OracleAddress() string {
	return e.key.Address()
}

func (e *Engine) parse(raw string) (*token.Receipt, error) {
	receipt, err := token.Parse(raw)
	if errors.Is(err, token.ErrSignature) {
		return nil, unauthorized("invalid receipt signature.")
	}
	if err != nil {
		return nil, badRequest("malformed receipt: %v", err)
	}
	return receipt, nil
}

func (e *Engine) lineup(ctx context.Context, table string) (*models.LedgerLineup, error) {
	lineup, err := e.gateway.GetLineup(ctx, table)
	if errors.Is(err, ledger.ErrUnknownTable) {
		return nil, notFound("table %s not found.", table)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read lineup: %w", err)
	}
	return lineup, nil
}

func (e *Engine) latestHand(ctx context.Context, table string) (*models.Hand, error) {
	hand, err := e.store.GetLatestHand(ctx, table)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, notFound("no hand at table %s.", table)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load hand: %w", err)
	}
	return hand, nil
}

func (e *Engine) hand(ctx context.Context, table string, handID uint64) (*models.Hand, error) {
	hand, err := e.store.GetHand(ctx, table, handID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, notFound("hand %d at table %s not found.", handID, table)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load hand: %w", err)
	}
	return hand, nil
}

// save writes a hand read at version through the compare-and-swap
func (e *Engine) save(ctx context.Context, hand *models.Hand, version int64, fresh bool) error {
	var err error
	if fresh {
		err = e.store.InsertHand(ctx, hand)
	} else {
		key := storage.HandKey{TableAddr: hand.TableAddr, HandID: hand.HandID}
		err = e.store.WriteIfUnchanged(ctx, key, version, hand)
	}
	if errors.Is(err, storage.ErrConflict) {
		return conflict("hand %d changed concurrently, retry.", hand.HandID)
	}
	if err != nil {
		return fmt.Errorf("failed to write hand: %w", err)
	}
	return nil
}

// Pay applies a bet, fold, check or sit-out receipt
func (e *Engine) Pay(ctx context.Context, table, raw string) (*Result, error) {
	receipt, err := e.parse(raw)
	if err != nil {
		return nil, err
	}
	if receipt.Table != "" && receipt.Table != table {
		return nil, badRequest("receipt signed for table %s.", receipt.Table)
	}

	lineup, err := e.lineup(ctx, table)
	if err != nil {
		return nil, err
	}

	fresh := false
	stored, err := e.store.GetLatestHand(ctx, table)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		if receipt.Action != token.ActionBet || receipt.HandID != lineup.LastHandNetted+1 {
			return nil, badRequest("table not initialized, expected small blind for hand %d.", lineup.LastHandNetted+1)
		}
		stored = firstHand(table, receipt.HandID, lineup)
		fresh = true
	case err != nil:
		return nil, fmt.Errorf("failed to load hand: %w", err)
	}

	if receipt.HandID != stored.HandID {
		return nil, badRequest("currently playing %d.", stored.HandID)
	}

	hand := stored.Clone()
	if hand.State == models.StateWaiting {
		syncLineup(hand, lineup)
	}

	pos := hand.SeatOf(receipt.Signer)
	if pos < 0 {
		return nil, forbidden("address %s not in lineup.", receipt.Signer)
	}
	if hand.Lineup[pos].Last == raw {
		return nil, unauthorized("receipt already used.")
	}
	if hand.State == models.StateShowdown {
		return nil, badRequest(`only "show" and "muck" receipts in showdown.`)
	}

	r, err := newRound(hand)
	if err != nil {
		return nil, err
	}
	if r.complete() {
		return nil, badRequest("hand %d is complete, wait for next hand.", hand.HandID)
	}

	sb := hand.SmallBlind
	if hand.State == models.StateWaiting {
		if sb, err = e.gateway.GetSmallBlind(ctx, table); err != nil {
			return nil, fmt.Errorf("failed to read small blind: %w", err)
		}
	}

	now := e.now().Unix()
	m := &move{
		round:      r,
		pos:        pos,
		receipt:    receipt,
		smallBlind: sb,
		now:        now,
		available: func() (int64, error) {
			return e.available(ctx, hand, lineup, receipt.Signer)
		},
	}
	wasWaiting := hand.State == models.StateWaiting
	if err := m.validate(); err != nil {
		return nil, err
	}

	if wasWaiting && hand.State == models.StateDealing {
		deck, err := e.shuffle(deckSize(len(hand.Lineup)))
		if err != nil {
			return nil, fmt.Errorf("failed to shuffle deck: %w", err)
		}
		hand.Deck = deck
	}

	r.setLast(pos, receipt)
	hand.Changed = now
	disclosed := r.advance()

	if err := e.save(ctx, hand, stored.Version, fresh); err != nil {
		return nil, err
	}

	metrics.ActionsAccepted.WithLabelValues(receipt.Action.String()).Inc()
	slog.Debug("Receipt accepted",
		"table", table,
		"hand_id", hand.HandID,
		"pos", pos,
		"action", receipt.Action,
		"amount", receipt.Amount,
		"state", hand.State,
	)

	if hand.State == models.StateWaiting {
		return emptyResult(), nil
	}
	return cardsResult(holeCards(hand, pos), disclosed), nil
}

// firstHand is the hand row created when a table plays its first hand
func firstHand(table string, handID uint64, lineup *models.LedgerLineup) *models.Hand {
	hand := &models.Hand{
		TableAddr: table,
		HandID:    handID,
		State:     models.StateWaiting,
	}
	syncLineup(hand, lineup)
	return hand
}

// syncLineup takes seat identities from the ledger. Seats whose address is
// unchanged keep their hand data.
func syncLineup(hand *models.Hand, lineup *models.LedgerLineup) {
	for i, ledgerSeat := range lineup.Seats {
		if i >= len(hand.Lineup) {
			hand.Lineup = append(hand.Lineup, models.Seat{})
		}
		seat := &hand.Lineup[i]
		if seat.Address != ledgerSeat.Address {
			*seat = models.Seat{Address: ledgerSeat.Address}
		}
		if ledgerSeat.ExitHand > seat.ExitHand {
			seat.ExitHand = ledgerSeat.ExitHand
		}
	}
}

// available is the ledger balance of addr minus what it committed in hands not
// yet netted, plus what it won in them.
func (e *Engine) available(ctx context.Context, hand *models.Hand, lineup *models.LedgerLineup, addr string) (int64, error) {
	var balance int64
	for _, seat := range lineup.Seats {
		if seat.Address == addr {
			balance = seat.Amount
			break
		}
	}

	from := lineup.LastHandNetted + 1
	if hand.HandID <= from {
		return balance, nil
	}
	hands, err := e.store.ListHands(ctx, hand.TableAddr, from, hand.HandID-1)
	if err != nil {
		return 0, fmt.Errorf("failed to list unnetted hands: %w", err)
	}
	for _, h := range hands {
		spent, err := committed(h, addr)
		if err != nil {
			return 0, err
		}
		balance += h.Distribution.AmountFor(addr) - spent
	}
	return balance, nil
}

// committed is the amount addr put into a hand
func committed(hand *models.Hand, addr string) (int64, error) {
	pos := hand.SeatOf(addr)
	if pos < 0 || hand.Lineup[pos].Last == "" {
		return 0, nil
	}
	receipt, err := token.Parse(hand.Lineup[pos].Last)
	if err != nil {
		return 0, fmt.Errorf("failed to decode receipt of hand %d: %w", hand.HandID, err)
	}
	return receipt.Amount, nil
}
