package oracle

import (
	"fmt"
	"testing"

	"github.com/leapdao/acebusters-backend/internal/models"
	"github.com/leapdao/acebusters-backend/internal/token"

	"github.com/stellar/go/keypair"
)

// deckWith places cards at the top of the deck and fills the rest in order
func deckWith(cards ...int) []int {
	deck := append([]int{}, cards...)
	used := make(map[int]bool)
	for _, c := range cards {
		used[c] = true
	}
	for c := 0; len(deck) < minDeckSize; c++ {
		if !used[c] {
			deck = append(deck, c)
		}
	}
	return deck
}

type seatSpec struct {
	action token.Action
	amount int64
	shown  bool
}

// showdownRound builds a showdown hand at dealer 0 from one receipt per seat
func showdownRound(t *testing.T, deck []int, specs ...seatSpec) *round {
	t.Helper()
	hand := &models.Hand{TableAddr: testTable, HandID: 1, State: models.StateShowdown, Deck: deck}
	for i, spec := range specs {
		kp := keypair.MustRandom()
		raw, err := token.Sign(kp, token.Receipt{Action: spec.action, HandID: 1, Amount: spec.amount})
		if err != nil {
			t.Fatalf("Sign() unexpected error: %v", err)
		}
		seat := models.Seat{Address: kp.Address(), Last: raw}
		if spec.shown {
			seat.Cards = holeCards(hand, i)
		}
		hand.Lineup = append(hand.Lineup, seat)
	}
	r, err := newRound(hand)
	if err != nil {
		t.Fatalf("newRound() unexpected error: %v", err)
	}
	return r
}

func shownBets(amounts ...int64) []seatSpec {
	specs := make([]seatSpec, len(amounts))
	for i, amount := range amounts {
		specs[i] = seatSpec{action: token.ActionBet, amount: amount, shown: true}
	}
	return specs
}

func sumClaims(claims []models.Claim) int64 {
	var total int64
	for _, c := range claims {
		total += c.Amount
	}
	return total
}

// royal is a spade royal flush that ties every hand on the board
var royal = []int{47, 48, 49, 50, 51}

func TestPayouts_ConserveThePot(t *testing.T) {
	patterns := []struct {
		name   string
		amount func(i int) int64
	}{
		{"equal", func(i int) int64 { return 100 }},
		{"layered", func(i int) int64 { return int64(100 * (i + 1)) }},
		{"odd chips", func(i int) int64 { return int64(33*i + 7) }},
		{"short all-in", func(i int) int64 {
			if i == 0 {
				return 25
			}
			return 300
		}},
	}

	for n := 1; n <= 9; n++ {
		for _, p := range patterns {
			for _, tie := range []bool{false, true} {
				t.Run(fmt.Sprintf("%d players %s tie=%v", n, p.name, tie), func(t *testing.T) {
					amounts := make([]int64, n)
					var pot int64
					for i := range amounts {
						amounts[i] = p.amount(i)
						pot += amounts[i]
					}

					deck := deckWith()
					if tie {
						var top []int
						for c := 0; c < 2*n; c++ {
							top = append(top, c)
						}
						deck = deckWith(append(top, royal...)...)
					}
					r := showdownRound(t, deck, shownBets(amounts...)...)

					claims, err := r.payouts()
					if err != nil {
						t.Fatalf("payouts() unexpected error: %v", err)
					}
					if got := sumClaims(claims); got != pot {
						t.Errorf("Expected payouts to sum to %d, got: %d (%+v)", pot, got, claims)
					}
					if tie && p.name == "equal" {
						for _, c := range claims {
							if c.Amount != 100 {
								t.Errorf("Expected every tied seat to get its 100 back, got: %+v", claims)
								break
							}
						}
					}
				})
			}
		}
	}

	for n := 1; n <= 9; n++ {
		t.Run(fmt.Sprintf("%d players folded out", n), func(t *testing.T) {
			specs := []seatSpec{{action: token.ActionBet, amount: 200}}
			pot := int64(200)
			for i := 1; i < n; i++ {
				specs = append(specs, seatSpec{action: token.ActionFold, amount: int64(50 * i)})
				pot += int64(50 * i)
			}
			r := showdownRound(t, deckWith(), specs...)

			claims, err := r.payouts()
			if err != nil {
				t.Fatalf("payouts() unexpected error: %v", err)
			}
			if len(claims) != 1 || claims[0].Address != r.hand.Lineup[0].Address || claims[0].Amount != pot {
				t.Errorf("Expected the last contender to take %d, got: %+v", pot, claims)
			}
		})
	}
}

func TestPayouts_SidePot(t *testing.T) {
	// seat 0 holds aces but is all-in for 100, seat 1 beats seat 2 for the side pot
	deck := deckWith(
		51, 38, // As Ah
		50, 37, // Ks Kh
		0, 14, // 2c 3d
		12, 24, 46, 28, 1, // Ac Kd 9s 4h 3c
	)
	r := showdownRound(t, deck, shownBets(100, 300, 300)...)

	claims, err := r.payouts()
	if err != nil {
		t.Fatalf("payouts() unexpected error: %v", err)
	}
	want := map[string]int64{
		r.hand.Lineup[0].Address: 300,
		r.hand.Lineup[1].Address: 400,
	}
	if len(claims) != len(want) {
		t.Fatalf("Expected %d claims, got: %+v", len(want), claims)
	}
	for _, c := range claims {
		if want[c.Address] != c.Amount {
			t.Errorf("Expected %s to win %d, got: %d", c.Address, want[c.Address], c.Amount)
		}
	}
}

func TestPayouts_OddChipToFirstAfterDealer(t *testing.T) {
	deck := deckWith(append([]int{0, 1, 2, 3, 4, 5}, royal...)...)
	r := showdownRound(t, deck,
		seatSpec{action: token.ActionBet, amount: 50, shown: true},
		seatSpec{action: token.ActionBet, amount: 50, shown: true},
		seatSpec{action: token.ActionFold, amount: 1},
	)

	claims, err := r.payouts()
	if err != nil {
		t.Fatalf("payouts() unexpected error: %v", err)
	}
	got := make(map[string]int64)
	for _, c := range claims {
		got[c.Address] = c.Amount
	}
	if got[r.hand.Lineup[1].Address] != 51 || got[r.hand.Lineup[0].Address] != 50 {
		t.Errorf("Expected seat 1 to take the odd chip (51/50), got: %+v", claims)
	}
}

func TestPayouts_NobodyShowed(t *testing.T) {
	r := showdownRound(t, deckWith(),
		seatSpec{action: token.ActionBet, amount: 100},
		seatSpec{action: token.ActionBet, amount: 100},
	)
	claims, err := r.payouts()
	if err != nil {
		t.Fatalf("payouts() unexpected error: %v", err)
	}
	if len(claims) != 2 || claims[0].Amount != 100 || claims[1].Amount != 100 {
		t.Errorf("Expected contenders to share the pot, got: %+v", claims)
	}
}

func TestEncodeClaims(t *testing.T) {
	got := encodeClaims(7, []models.Claim{{Address: "GA", Amount: 150}, {Address: "GB", Amount: 0}})
	if got != "7|GA:150,GB:0" {
		t.Errorf("Expected 7|GA:150,GB:0, got: %s", got)
	}
	if got := encodeClaims(3, nil); got != "3|" {
		t.Errorf("Expected 3|, got: %s", got)
	}
}

// headsUpToShowdown checks down every street after the flop
func (f *fixture) headsUpToShowdown() {
	f.t.Helper()
	f.headsUpToFlop()
	for _, check := range []token.Action{token.ActionCheckFlop, token.ActionCheckTurn, token.ActionCheckRiver} {
		f.mustPay(1, check, 1, 100)
		f.mustPay(0, check, 1, 100)
	}
	f.expectState(models.StateShowdown)
}

// showdownDeck gives seat 0 aces and seat 1 seven high against Ac Kd 9s 4h 3c
func showdownDeck() []int {
	return deckWith(51, 38, 0, 18, 12, 24, 46, 28, 1)
}

func (f *fixture) show(player int, amount int64, cards []int) (*Result, error) {
	return f.engine.Show(f.ctx, testTable, f.sign(player, token.ActionShow, 1, amount), cards)
}

func TestShow_Distribution(t *testing.T) {
	f := newFixture(t, 5000, 5000)
	f.deck = showdownDeck()
	f.headsUpToShowdown()

	rsp, err := f.show(1, 100, []int{0, 18})
	if err != nil {
		t.Fatalf("Show() unexpected error: %v", err)
	}
	if rsp.Kind != ResultDistribution {
		t.Fatalf("Expected distribution result, got: %+v", rsp)
	}
	loser := f.players[1].Address()
	if rsp.Distribution.AmountFor(loser) != 200 {
		t.Errorf("Expected the only shown hand to take 200, got: %+v", rsp.Distribution.Claims)
	}

	rsp, err = f.show(0, 100, []int{38, 51})
	if err != nil {
		t.Fatalf("Show() unexpected error: %v", err)
	}
	winner := f.players[0].Address()
	if rsp.Distribution.AmountFor(winner) != 200 || rsp.Distribution.AmountFor(loser) != 0 {
		t.Errorf("Expected aces to take 200, got: %+v", rsp.Distribution.Claims)
	}

	dist := f.latest().Distribution
	data := []byte(encodeClaims(1, dist.Claims))
	if err := token.VerifyData(f.oracle.Address(), data, dist.Signature); err != nil {
		t.Errorf("Expected distribution signed by the oracle, got: %v", err)
	}
	if complete, _ := IsComplete(f.latest()); !complete {
		t.Errorf("Expected hand complete after both seats showed")
	}
}

func TestShow_Muck(t *testing.T) {
	f := newFixture(t, 5000, 5000)
	f.deck = showdownDeck()
	f.headsUpToShowdown()

	if _, err := f.show(0, 100, nil); err != nil {
		t.Fatalf("Show() unexpected error: %v", err)
	}
	rsp, err := f.show(1, 100, []int{0, 18})
	if err != nil {
		t.Fatalf("Show() unexpected error: %v", err)
	}
	if rsp.Distribution.AmountFor(f.players[1].Address()) != 200 {
		t.Errorf("Expected seat 1 to win against a muck, got: %+v", rsp.Distribution.Claims)
	}
	if cards := f.latest().Lineup[0].Cards; len(cards) != 0 {
		t.Errorf("Expected mucked seat without cards, got: %v", cards)
	}
}

func TestShow_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		toShow   bool
		play     func(f *fixture) error
		kind     Kind
		contains string
	}{
		{
			name: "not in showdown",
			play: func(f *fixture) error {
				_, err := f.show(0, 100, []int{51, 38})
				return err
			},
			kind:     KindBadRequest,
			contains: "not in showdown",
		},
		{
			name:   "foreign cards",
			toShow: true,
			play: func(f *fixture) error {
				_, err := f.show(0, 100, []int{0, 18})
				return err
			},
			kind:     KindBadRequest,
			contains: "do not belong to seat 0",
		},
		{
			name:   "amount below bet",
			toShow: true,
			play: func(f *fixture) error {
				_, err := f.show(0, 50, []int{51, 38})
				return err
			},
			kind:     KindUnauthorized,
			contains: "same or higher amount than 100",
		},
		{
			name:   "bet receipt",
			toShow: true,
			play: func(f *fixture) error {
				_, err := f.engine.Show(f.ctx, testTable, f.sign(0, token.ActionBet, 1, 100), []int{51, 38})
				return err
			},
			kind:     KindBadRequest,
			contains: `only "show" and "muck"`,
		},
		{
			name:   "bet through pay",
			toShow: true,
			play: func(f *fixture) error {
				_, err := f.pay(0, token.ActionBet, 1, 200)
				return err
			},
			kind:     KindBadRequest,
			contains: `only "show" and "muck"`,
		},
		{
			name:   "stranger",
			toShow: true,
			play: func(f *fixture) error {
				raw, _ := token.Sign(keypair.MustRandom(), token.Receipt{Action: token.ActionShow, HandID: 1, Amount: 100})
				_, err := f.engine.Show(f.ctx, testTable, raw, nil)
				return err
			},
			kind:     KindForbidden,
			contains: "not in lineup",
		},
		{
			name:   "unknown hand",
			toShow: true,
			play: func(f *fixture) error {
				_, err := f.engine.Show(f.ctx, testTable, f.sign(0, token.ActionShow, 5, 100), nil)
				return err
			},
			kind:     KindNotFound,
			contains: "hand 5",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 5000, 5000)
			f.deck = showdownDeck()
			if tt.toShow {
				f.headsUpToShowdown()
			} else {
				f.headsUpToFlop()
			}
			expectError(t, tt.play(f), tt.kind, tt.contains)
			if f.latest().Distribution != nil {
				t.Errorf("Expected no distribution after a rejected show")
			}
		})
	}
}

func TestShow_DecidedHandIsFinal(t *testing.T) {
	f := newFixture(t, 5000, 5000)
	f.deck = showdownDeck()
	f.headsUpToShowdown()

	if _, err := f.show(0, 100, nil); err != nil {
		t.Fatalf("Show() unexpected error: %v", err)
	}
	_, err := f.show(0, 150, []int{51, 38})
	expectError(t, err, KindForbidden, "seat 0 already showed or mucked.")

	if _, err := f.show(1, 100, []int{0, 18}); err != nil {
		t.Fatalf("Show() unexpected error: %v", err)
	}
	if err := f.engine.CompleteHand(f.ctx, testTable, 1); err != nil {
		t.Fatalf("CompleteHand() unexpected error: %v", err)
	}
	if latest := f.latest(); latest.HandID != 2 {
		t.Fatalf("Expected hand 2 to be open, got: %d", latest.HandID)
	}

	_, err = f.show(0, 150, []int{38, 51})
	expectError(t, err, KindBadRequest, "hand 1 is complete.")

	done, _ := f.repo.GetHand(f.ctx, testTable, 1)
	if done.Distribution.AmountFor(f.players[1].Address()) != 200 || done.Distribution.AmountFor(f.players[0].Address()) != 0 {
		t.Errorf("Expected distribution to stay with seat 1, got: %+v", done.Distribution.Claims)
	}
}
