package oracle

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/leapdao/acebusters-backend/internal/metrics"
	"github.com/leapdao/acebusters-backend/internal/models"
	"github.com/leapdao/acebusters-backend/internal/poker"
	"github.com/leapdao/acebusters-backend/internal/token"
)

// Show reveals or mucks the hole cards of a seat in showdown. An empty card
// list mucks.
func (e *Engine) Show(ctx context.Context, table, raw string, cards []int) (*Result, error) {
	receipt, err := e.parse(raw)
	if err != nil {
		return nil, err
	}
	stored, err := e.hand(ctx, table, receipt.HandID)
	if err != nil {
		return nil, err
	}
	if stored.State != models.StateShowdown {
		return nil, badRequest("hand %d not in showdown.", stored.HandID)
	}
	if receipt.Action != token.ActionShow {
		return nil, badRequest(`only "show" and "muck" receipts in showdown.`)
	}

	hand := stored.Clone()
	pos := hand.SeatOf(receipt.Signer)
	if pos < 0 {
		return nil, forbidden("address %s not in lineup.", receipt.Signer)
	}
	seat := &hand.Lineup[pos]
	if seat.Last == raw {
		return nil, unauthorized("receipt already used.")
	}

	r, err := newRound(hand)
	if err != nil {
		return nil, err
	}
	if seat.Sitout.IsTimeout() {
		return nil, forbidden("seat %d timed out, show not allowed in showdown.", pos)
	}
	if r.complete() {
		return nil, badRequest("hand %d is complete.", hand.HandID)
	}
	if r.shown(pos) {
		return nil, forbidden("seat %d already showed or mucked.", pos)
	}
	if !r.contender(pos) {
		return nil, forbidden("%s is not an active player.", receipt.Signer)
	}
	if receipt.Amount < r.amount(pos) {
		return nil, unauthorized("show needs same or higher amount than %d.", r.amount(pos))
	}
	if len(cards) > 0 && !sameCards(cards, holeCards(hand, pos)) {
		return nil, badRequest("cards %v do not belong to seat %d.", cards, pos)
	}

	r.setLast(pos, receipt)
	if len(cards) > 0 {
		seat.Cards = slices.Clone(cards)
	} else {
		seat.Cards = nil
	}
	if seat.Sitout.IsAllIn() {
		seat.Sitout = nil
	}
	hand.Changed = e.now().Unix()

	if err := e.distribute(r); err != nil {
		return nil, err
	}
	if err := e.save(ctx, hand, stored.Version, false); err != nil {
		return nil, err
	}

	action := "show"
	if len(cards) == 0 {
		action = "muck"
	}
	metrics.ActionsAccepted.WithLabelValues(action).Inc()
	slog.Debug("Show accepted",
		"table", table,
		"hand_id", hand.HandID,
		"pos", pos,
		"cards", poker.Describe(append(slices.Clone(cards), board(hand)...)),
	)
	return distributionResult(hand.Distribution), nil
}

func sameCards(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	x, y := slices.Clone(a), slices.Clone(b)
	slices.Sort(x)
	slices.Sort(y)
	return slices.Equal(x, y)
}

// distribute computes and signs the payout of the round's hand
func (e *Engine) distribute(r *round) error {
	claims, err := r.payouts()
	if err != nil {
		return err
	}
	dist, err := e.signDistribution(r.hand.HandID, claims)
	if err != nil {
		return err
	}
	r.hand.Distribution = dist
	return nil
}

func (e *Engine) signDistribution(handID uint64, claims []models.Claim) (*models.Distribution, error) {
	sig, err := token.SignData(e.key, []byte(encodeClaims(handID, claims)))
	if err != nil {
		return nil, fmt.Errorf("failed to sign distribution: %w", err)
	}
	return &models.Distribution{
		HandID:    handID,
		Claims:    claims,
		Signer:    e.key.Address(),
		Signature: sig,
	}, nil
}

// encodeClaims is the signed form of a claim list: "handId|addr:amount,..."
func encodeClaims(handID uint64, claims []models.Claim) string {
	parts := make([]string, len(claims))
	for i, c := range claims {
		parts[i] = c.Address + ":" + strconv.FormatInt(c.Amount, 10)
	}
	return strconv.FormatUint(handID, 10) + "|" + strings.Join(parts, ",")
}

// winners are the seats the pot can be paid to, with their ranks
func (r *round) winners() (map[int]int16, error) {
	hand := r.hand
	ranks := make(map[int]int16)

	var contenders []int
	for i := range hand.Lineup {
		if r.contender(i) {
			contenders = append(contenders, i)
		}
	}
	if len(contenders) == 1 {
		ranks[contenders[0]] = 0
		return ranks, nil
	}

	community := board(hand)
	for _, i := range contenders {
		cards := hand.Lineup[i].Cards
		if len(cards) == 0 {
			continue
		}
		rank, err := poker.Eval(append(slices.Clone(cards), community...))
		if err != nil {
			return nil, fmt.Errorf("failed to rank seat %d: %w", i, err)
		}
		ranks[i] = rank
	}

	// nobody showed: the remaining contenders share the pot
	if len(ranks) == 0 {
		for _, i := range contenders {
			ranks[i] = 0
		}
	}
	return ranks, nil
}

// payouts splits the pot in layers by contribution. Each layer goes to the
// best ranked eligible seats; odd chips go to the first winner after the dealer.
func (r *round) payouts() ([]models.Claim, error) {
	hand := r.hand
	ranks, err := r.winners()
	if err != nil {
		return nil, err
	}

	var levels []int64
	for pos := range ranks {
		levels = append(levels, r.amount(pos))
	}
	sort.Slice(levels, func(i, j int) bool { return levels[i] < levels[j] })
	levels = slices.Compact(levels)

	won := make([]int64, len(hand.Lineup))
	var prev int64
	var lastWinners []int
	for _, level := range levels {
		var slice int64
		for i := range hand.Lineup {
			slice += min(r.amount(i), level) - min(r.amount(i), prev)
		}

		var best []int
		bestRank := int16(-1)
		for pos, rank := range ranks {
			if r.amount(pos) < level {
				continue
			}
			switch {
			case rank > bestRank:
				best, bestRank = []int{pos}, rank
			case rank == bestRank:
				best = append(best, pos)
			}
		}
		r.sortFromDealer(best)
		split(won, best, slice)
		lastWinners = best
		prev = level
	}

	// money above the highest eligible contribution
	var rest int64
	for i := range hand.Lineup {
		if a := r.amount(i); a > prev {
			rest += a - prev
		}
	}
	if rest > 0 && len(lastWinners) > 0 {
		split(won, lastWinners, rest)
	}

	var claims []models.Claim
	for i, amount := range won {
		if amount > 0 {
			claims = append(claims, models.Claim{Address: hand.Lineup[i].Address, Amount: amount})
		}
	}
	return claims, nil
}

func split(won []int64, winners []int, amount int64) {
	if len(winners) == 0 || amount == 0 {
		return
	}
	share := amount / int64(len(winners))
	for _, pos := range winners {
		won[pos] += share
	}
	won[winners[0]] += amount - share*int64(len(winners))
}

// sortFromDealer orders seats clockwise starting after the dealer
func (r *round) sortFromDealer(seats []int) {
	n := r.seats()
	dist := func(pos int) int { return ((pos-r.hand.Dealer-1)%n + n) % n }
	sort.Slice(seats, func(i, j int) bool { return dist(seats[i]) < dist(seats[j]) })
}
