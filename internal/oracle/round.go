package oracle

import (
	"fmt"

	"github.com/leapdao/acebusters-backend/internal/models"
	"github.com/leapdao/acebusters-backend/internal/token"
)

// round is a hand together with the decoded last receipt of every seat
type round struct {
	hand *models.Hand
	last []*token.Receipt
}

func newRound(hand *models.Hand) (*round, error) {
	r := &round{hand: hand, last: make([]*token.Receipt, len(hand.Lineup))}
	for i, seat := range hand.Lineup {
		if seat.Last == "" {
			continue
		}
		receipt, err := token.Parse(seat.Last)
		if err != nil {
			return nil, fmt.Errorf("failed to decode receipt of seat %d: %w", i, err)
		}
		r.last[i] = receipt
	}
	return r, nil
}

// setLast stores an accepted receipt on a seat
func (r *round) setLast(pos int, receipt *token.Receipt) {
	r.hand.Lineup[pos].Last = receipt.Raw
	r.last[pos] = receipt
}

// grow keeps last aligned with a lineup that was extended
func (r *round) grow() {
	for len(r.last) < len(r.hand.Lineup) {
		r.last = append(r.last, nil)
	}
}

func (r *round) seats() int {
	return len(r.hand.Lineup)
}

func (r *round) amount(pos int) int64 {
	if r.last[pos] == nil {
		return 0
	}
	return r.last[pos].Amount
}

func (r *round) lastIs(pos int, action token.Action) bool {
	return r.last[pos] != nil && r.last[pos].Action == action
}

func (r *round) folded(pos int) bool {
	return r.lastIs(pos, token.ActionFold)
}

// sittingOut reports a seat that does not take part in the current betting.
// A sit-out receipt played after the deal keeps the seat out until the next hand.
func (r *round) sittingOut(pos int) bool {
	seat := r.hand.Lineup[pos]
	if seat.Sitout.IsTimestamp() || seat.Sitout.IsTimeout() {
		return true
	}
	state := r.hand.State
	return (state.IsBetting() || state == models.StateShowdown) && r.lastIs(pos, token.ActionSitOut)
}

// active seats can still bet
func (r *round) active(pos int) bool {
	seat := r.hand.Lineup[pos]
	return !seat.IsEmpty() && !r.folded(pos) && seat.Sitout == nil && !r.sittingOut(pos)
}

// contender seats can still win the pot
func (r *round) contender(pos int) bool {
	return !r.hand.Lineup[pos].IsEmpty() && !r.folded(pos) && !r.sittingOut(pos)
}

func (r *round) count(pred func(int) bool) int {
	n := 0
	for i := range r.hand.Lineup {
		if pred(i) {
			n++
		}
	}
	return n
}

func (r *round) activeCount() int {
	return r.count(r.active)
}

func (r *round) contenderCount() int {
	return r.count(r.contender)
}

func (r *round) maxBet() int64 {
	var max int64
	for i := range r.hand.Lineup {
		if a := r.amount(i); a > max {
			max = a
		}
	}
	return max
}

// next returns the first seat after from, clockwise, matching pred or -1
func (r *round) next(from int, pred func(int) bool) int {
	n := r.seats()
	for step := 1; step <= n; step++ {
		pos := ((from+step)%n + n) % n
		if pred(pos) {
			return pos
		}
	}
	return -1
}

// blindPositions applies the turn-order rule to the seats active right now.
// Heads-up the dealer posts the small blind; with more players the small blind
// is the first active seat after the dealer.
func (r *round) blindPositions() (sb, bb int) {
	dealer := r.hand.Dealer
	if r.activeCount() == 2 {
		sb = dealer
		if dealer >= r.seats() || !r.active(dealer) {
			sb = r.next(dealer, r.active)
		}
		return sb, r.next(sb, r.active)
	}

	sb = r.next(dealer, r.active)
	if sb < 0 {
		return -1, -1
	}
	return sb, r.next(sb, r.active)
}

// bigBlindPosted reports whether the big blind seat has put its blind in
func (r *round) bigBlindPosted() bool {
	bb := r.hand.BigBlindPos
	if bb < 0 || bb >= r.seats() || !r.lastIs(bb, token.ActionBet) {
		return false
	}
	return r.amount(bb) >= 2*r.hand.SmallBlind || r.hand.Lineup[bb].Sitout.IsAllIn()
}

// dealt reports an active seat that has put in a blind or a ready receipt
func (r *round) dealt(pos int) bool {
	return r.lastIs(pos, token.ActionBet)
}

func (r *round) dealingClosed() bool {
	if !r.bigBlindPosted() {
		return false
	}
	for i := range r.hand.Lineup {
		if r.active(i) && !r.dealt(i) {
			return false
		}
	}
	return true
}

// actedOnStreet reports whether the seat made a decision during the current street
func (r *round) actedOnStreet(pos int) bool {
	state := r.hand.State
	if check, ok := token.CheckFor(state); ok && r.lastIs(pos, check) {
		return true
	}
	if !r.lastIs(pos, token.ActionBet) {
		return false
	}
	if state == models.StatePreflop {
		return true
	}
	return r.amount(pos) > r.hand.MaxBetOf(previousStreet(state))
}

// bigBlindActed reports whether the big blind used its preflop option
func (r *round) bigBlindActed() bool {
	bb := r.hand.BigBlindPos
	if bb < 0 || bb >= r.seats() {
		return true
	}
	return r.lastIs(bb, token.ActionCheckPre) || r.amount(bb) > 2*r.hand.SmallBlind
}

// pending reports an active seat that still has to act on the current street
func (r *round) pending(pos int) bool {
	if !r.active(pos) {
		return false
	}
	if r.amount(pos) < r.maxBet() {
		return true
	}
	if r.hand.State == models.StatePreflop {
		return pos == r.hand.BigBlindPos && !r.bigBlindActed()
	}
	return !r.actedOnStreet(pos)
}

func (r *round) shown(pos int) bool {
	return r.lastIs(pos, token.ActionShow)
}

// complete reports a hand whose outcome is decided
func (r *round) complete() bool {
	switch r.hand.State {
	case models.StateWaiting:
		return false
	case models.StateShowdown:
		if r.contenderCount() <= 1 {
			return true
		}
		for i := range r.hand.Lineup {
			if r.contender(i) && !r.hand.Lineup[i].Sitout.IsAllIn() && !r.shown(i) {
				return false
			}
		}
		return true
	}
	return r.contenderCount() <= 1
}

// whoseTurn returns the seat expected to act next or -1
func (r *round) whoseTurn() int {
	hand := r.hand
	switch {
	case hand.State == models.StateWaiting:
		sb, _ := r.blindPositions()
		return sb
	case hand.State == models.StateDealing:
		if !r.bigBlindPosted() {
			return hand.BigBlindPos
		}
		return r.next(hand.BigBlindPos, func(i int) bool { return r.active(i) && !r.dealt(i) })
	case hand.State.IsBetting():
		if r.contenderCount() <= 1 {
			return -1
		}
		from := hand.Dealer
		if hand.State == models.StatePreflop {
			from = hand.BigBlindPos
		}
		return r.next(from, r.pending)
	case hand.State == models.StateShowdown:
		return r.next(hand.Dealer, func(i int) bool {
			return r.contender(i) && !hand.Lineup[i].Sitout.IsAllIn() && !r.shown(i)
		})
	}
	return -1
}

func previousStreet(state models.HandState) models.HandState {
	switch state {
	case models.StateFlop:
		return models.StatePreflop
	case models.StateTurn:
		return models.StateFlop
	case models.StateRiver:
		return models.StateTurn
	}
	return ""
}

func nextStreet(state models.HandState) models.HandState {
	switch state {
	case models.StatePreflop:
		return models.StateFlop
	case models.StateFlop:
		return models.StateTurn
	case models.StateTurn:
		return models.StateRiver
	}
	return models.StateShowdown
}
