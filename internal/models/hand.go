package models

import (
	"encoding/json"
	"fmt"
	"slices"
)

// HandState is the position of a hand in the betting state machine
type HandState string

const (
	StateWaiting  HandState = "waiting"
	StateDealing  HandState = "dealing"
	StatePreflop  HandState = "preflop"
	StateFlop     HandState = "flop"
	StateTurn     HandState = "turn"
	StateRiver    HandState = "river"
	StateShowdown HandState = "showdown"
)

// IsBetting reports whether the state is one of the four streets
func (s HandState) IsBetting() bool {
	switch s {
	case StatePreflop, StateFlop, StateTurn, StateRiver:
		return true
	}
	return false
}

// SitoutKind distinguishes the three non-active seat states
type SitoutKind int

const (
	SitoutSince   SitoutKind = iota + 1 // voluntary or automatic, carries a unix timestamp
	SitoutAllIn                         // committed the whole balance
	SitoutTimeout                       // forced out during showdown
)

// Sitout is the non-active marker of a seat.
// On the wire it is a number (timestamp), "allin" or "timeout".
type Sitout struct {
	Kind  SitoutKind
	Since int64
}

func SitoutAt(ts int64) *Sitout { return &Sitout{Kind: SitoutSince, Since: ts} }

func AllIn() *Sitout { return &Sitout{Kind: SitoutAllIn} }

func TimedOut() *Sitout { return &Sitout{Kind: SitoutTimeout} }

func (s *Sitout) IsAllIn() bool { return s != nil && s.Kind == SitoutAllIn }

func (s *Sitout) IsTimeout() bool { return s != nil && s.Kind == SitoutTimeout }

// IsTimestamp reports a voluntary or automatic sit-out
func (s *Sitout) IsTimestamp() bool { return s != nil && s.Kind == SitoutSince }

func (s Sitout) MarshalJSON() ([]byte, error) {
	switch s.Kind {
	case SitoutAllIn:
		return []byte(`"allin"`), nil
	case SitoutTimeout:
		return []byte(`"timeout"`), nil
	default:
		return json.Marshal(s.Since)
	}
}

func (s *Sitout) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		switch str {
		case "allin":
			*s = Sitout{Kind: SitoutAllIn}
		case "timeout":
			*s = Sitout{Kind: SitoutTimeout}
		default:
			return fmt.Errorf("unknown sitout value %q", str)
		}
		return nil
	}
	var ts int64
	if err := json.Unmarshal(data, &ts); err != nil {
		return fmt.Errorf("failed to decode sitout: %w", err)
	}
	*s = Sitout{Kind: SitoutSince, Since: ts}
	return nil
}

// Seat is one table position inside a hand
type Seat struct {
	Address      string  `json:"address"`                // empty when unseated
	Last         string  `json:"last,omitempty"`         // last accepted action token for this hand
	Sitout       *Sitout `json:"sitout,omitempty"`
	ExitHand     uint64  `json:"exitHand,omitempty"`     // hand after which the player leaves
	Cards        []int   `json:"cards,omitempty"`        // hole cards, set by a valid show
	LeaveReceipt string  `json:"leaveReceipt,omitempty"` // signed leave token forwarded to the ledger
}

// IsEmpty reports an unseated position
func (s Seat) IsEmpty() bool {
	return s.Address == ""
}

// Claim is an address/amount pair used by distributions and nettings
type Claim struct {
	Address string `json:"address"`
	Amount  int64  `json:"amount"`
}

// Distribution is the oracle-signed payout of a hand
type Distribution struct {
	HandID    uint64  `json:"handId"`
	Claims    []Claim `json:"claims"`
	Signer    string  `json:"signer"`
	Signature string  `json:"signature"`
}

// AmountFor sums the claims of an address
func (d *Distribution) AmountFor(addr string) int64 {
	if d == nil {
		return 0
	}
	var total int64
	for _, c := range d.Claims {
		if c.Address == addr {
			total += c.Amount
		}
	}
	return total
}

// Netting accumulates signatures over the settled balances of a table
type Netting struct {
	HandID      uint64            `json:"handId"`
	NewBalances string            `json:"newBalances"`
	Balances    []Claim           `json:"balances"`
	Signatures  map[string]string `json:"signatures"`
}

// Hand is one dealt round at a table, keyed by (TableAddr, HandID)
type Hand struct {
	TableAddr  string    `json:"tableAddr"`
	HandID     uint64    `json:"handId"`
	Dealer     int       `json:"dealer"`
	SmallBlind int64     `json:"sb"`
	State      HandState `json:"state"`
	Lineup     []Seat    `json:"lineup"`
	Deck       []int     `json:"deck,omitempty"`
	Changed    int64     `json:"changed"`

	// Blind positions, fixed when the small blind is posted
	SmallBlindPos int `json:"sbPos"`
	BigBlindPos   int `json:"bbPos"`

	// Highest matched bet at the moment each street closed
	PreflopMaxBet int64 `json:"preMaxBet,omitempty"`
	FlopMaxBet    int64 `json:"flopMaxBet,omitempty"`
	TurnMaxBet    int64 `json:"turnMaxBet,omitempty"`
	RiverMaxBet   int64 `json:"riverMaxBet,omitempty"`

	Distribution *Distribution `json:"distribution,omitempty"`
	Netting      *Netting      `json:"netting,omitempty"`
	Started      int64         `json:"started,omitempty"`

	// Version is the store row version used for compare-and-swap writes
	Version int64 `json:"-"`
}

// Clone returns a deep copy safe to mutate
func (h *Hand) Clone() *Hand {
	if h == nil {
		return nil
	}
	c := *h
	c.Lineup = make([]Seat, len(h.Lineup))
	for i, s := range h.Lineup {
		s.Cards = slices.Clone(s.Cards)
		if s.Sitout != nil {
			so := *s.Sitout
			s.Sitout = &so
		}
		c.Lineup[i] = s
	}
	c.Deck = slices.Clone(h.Deck)
	if h.Distribution != nil {
		d := *h.Distribution
		d.Claims = slices.Clone(h.Distribution.Claims)
		c.Distribution = &d
	}
	if h.Netting != nil {
		n := *h.Netting
		n.Balances = slices.Clone(h.Netting.Balances)
		n.Signatures = make(map[string]string, len(h.Netting.Signatures))
		for k, v := range h.Netting.Signatures {
			n.Signatures[k] = v
		}
		c.Netting = &n
	}
	return &c
}

// SeatOf returns the position of an address in the lineup or -1
func (h *Hand) SeatOf(addr string) int {
	if addr == "" {
		return -1
	}
	for i, s := range h.Lineup {
		if s.Address == addr {
			return i
		}
	}
	return -1
}

// MaxBetOf returns the closing max bet recorded for a street
func (h *Hand) MaxBetOf(state HandState) int64 {
	switch state {
	case StatePreflop:
		return h.PreflopMaxBet
	case StateFlop:
		return h.FlopMaxBet
	case StateTurn:
		return h.TurnMaxBet
	case StateRiver:
		return h.RiverMaxBet
	}
	return 0
}

// SetMaxBet records the closing max bet of a street
func (h *Hand) SetMaxBet(state HandState, amount int64) {
	switch state {
	case StatePreflop:
		h.PreflopMaxBet = amount
	case StateFlop:
		h.FlopMaxBet = amount
	case StateTurn:
		h.TurnMaxBet = amount
	case StateRiver:
		h.RiverMaxBet = amount
	}
}
