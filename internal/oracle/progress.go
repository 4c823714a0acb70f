package oracle

import (
	"log/slog"

	"github.com/leapdao/acebusters-backend/internal/metrics"
	"github.com/leapdao/acebusters-backend/internal/models"
)

// boardCount is the number of community cards visible in a state
func boardCount(state models.HandState) int {
	switch state {
	case models.StateFlop:
		return 3
	case models.StateTurn:
		return 4
	case models.StateRiver, models.StateShowdown:
		return 5
	}
	return 0
}

// boardOffset is the deck index of the first community card
func boardOffset(hand *models.Hand) int {
	return 2 * len(hand.Lineup)
}

// board returns the community cards visible in the hand's state
func board(hand *models.Hand) []int {
	return boardBetween(hand, 0, boardCount(hand.State))
}

func boardBetween(hand *models.Hand, from, to int) []int {
	offset := boardOffset(hand)
	if to <= from || len(hand.Deck) < offset+to {
		return nil
	}
	out := make([]int, to-from)
	copy(out, hand.Deck[offset+from:offset+to])
	return out
}

// holeCards returns the two cards dealt to a seat, nil before the deal
func holeCards(hand *models.Hand, pos int) []int {
	if len(hand.Deck) < 2*pos+2 {
		return nil
	}
	return []int{hand.Deck[2*pos], hand.Deck[2*pos+1]}
}

// advance moves the hand at most one step through the state machine after an
// accepted action and returns the community cards that became visible.
func (r *round) advance() []int {
	hand := r.hand
	from := hand.State

	switch {
	case from == models.StateDealing:
		if r.dealingClosed() {
			hand.State = models.StatePreflop
		}
	case from.IsBetting():
		r.advanceStreet()
	}

	if hand.State == from {
		return nil
	}
	metrics.StateTransitions.WithLabelValues(string(hand.State)).Inc()
	slog.Debug("Hand state changed",
		"table", hand.TableAddr,
		"hand_id", hand.HandID,
		"from", from,
		"to", hand.State,
	)
	if hand.State == models.StateShowdown {
		r.revealAllIn()
	}
	return boardBetween(hand, boardCount(from), boardCount(hand.State))
}

func (r *round) advanceStreet() {
	hand := r.hand
	if r.contenderCount() <= 1 {
		// folded out, the hand is complete in its current state
		return
	}

	max := r.maxBet()
	if active := r.activeCount(); active <= 1 {
		matched := true
		if active == 1 {
			pos := r.next(-1, r.active)
			matched = r.amount(pos) >= max
		}
		if matched {
			hand.SetMaxBet(hand.State, max)
			hand.State = models.StateShowdown
			return
		}
	}

	for i := range hand.Lineup {
		if r.pending(i) {
			return
		}
	}
	hand.SetMaxBet(hand.State, max)
	hand.State = nextStreet(hand.State)
}

// revealAllIn opens the hole cards of all-in contenders
func (r *round) revealAllIn() {
	for i, seat := range r.hand.Lineup {
		if r.contender(i) && seat.Sitout.IsAllIn() && seat.Cards == nil {
			r.hand.Lineup[i].Cards = holeCards(r.hand, i)
		}
	}
}
