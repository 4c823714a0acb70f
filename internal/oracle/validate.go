package oracle

import (
	"github.com/leapdao/acebusters-backend/internal/models"
	"github.com/leapdao/acebusters-backend/internal/token"
)

// move is one receipt being applied to a round
type move struct {
	round      *round
	pos        int
	receipt    *token.Receipt
	smallBlind int64
	now        int64

	// available returns the seat's spendable balance for this hand
	available func() (int64, error)
}

func (m *move) seat() *models.Seat {
	return &m.round.hand.Lineup[m.pos]
}

// validate selects the validator of the receipt's action
func (m *move) validate() error {
	switch m.receipt.Action {
	case token.ActionBet:
		return m.validateBet()
	case token.ActionFold:
		return m.validateFold()
	case token.ActionCheckPre, token.ActionCheckFlop, token.ActionCheckTurn, token.ActionCheckRiver:
		return m.validateCheck()
	case token.ActionSitOut:
		return m.validateSitOut()
	}
	return badRequest("receipt type %s not accepted by pay", m.receipt.Action)
}

// checkBalance rejects amounts above the balance and marks the seat all-in
// when the whole balance is committed.
func (m *move) checkBalance(amount int64) (allIn bool, err error) {
	available, err := m.available()
	if err != nil {
		return false, err
	}
	if amount > available {
		return false, forbidden("can not bet more than balance %d.", available)
	}
	return amount == available && amount > 0, nil
}

func (m *move) checkExit() error {
	exit := m.seat().ExitHand
	if exit > 0 && exit < m.round.hand.HandID {
		return forbidden("exitHand %d exceeded.", exit)
	}
	return nil
}

func (m *move) validateBet() error {
	r := m.round
	if r.folded(m.pos) {
		return unauthorized("no bet after fold.")
	}

	switch r.hand.State {
	case models.StateWaiting:
		return m.smallBlindBet()
	case models.StateDealing:
		return m.dealingBet()
	}

	if r.sittingOut(m.pos) {
		return badRequest("wait for next hand")
	}
	if m.seat().Sitout.IsAllIn() {
		return badRequest("seat %d is all-in", m.pos)
	}

	amount := m.receipt.Amount
	allIn, err := m.checkBalance(amount)
	if err != nil {
		return err
	}
	if max := r.maxBet(); amount < max && !allIn {
		return unauthorized("you have to match or raise %d.", max)
	}
	if amount <= r.amount(m.pos) {
		return unauthorized("bet %d does not raise last receipt %d.", amount, r.amount(m.pos))
	}
	if allIn {
		m.seat().Sitout = models.AllIn()
	}
	return nil
}

func (m *move) smallBlindBet() error {
	r := m.round
	if r.activeCount() < 2 {
		return forbidden("not enough players to start hand.")
	}
	sb, bb := r.blindPositions()
	if m.pos != sb {
		return forbidden("not your turn, small blind is seat %d.", sb)
	}
	if err := m.checkExit(); err != nil {
		return err
	}
	if m.receipt.Amount != m.smallBlind {
		return unauthorized("small blind not valid, expected %d.", m.smallBlind)
	}
	allIn, err := m.checkBalance(m.receipt.Amount)
	if err != nil {
		return err
	}
	if allIn {
		m.seat().Sitout = models.AllIn()
	}

	r.hand.State = models.StateDealing
	r.hand.SmallBlind = m.smallBlind
	r.hand.SmallBlindPos = sb
	r.hand.BigBlindPos = bb
	r.hand.Started = m.now
	return nil
}

func (m *move) dealingBet() error {
	r := m.round
	hand := r.hand
	amount := m.receipt.Amount

	if m.pos == hand.BigBlindPos && !r.bigBlindPosted() {
		if err := m.checkExit(); err != nil {
			return err
		}
		allIn, err := m.checkBalance(amount)
		if err != nil {
			return err
		}
		if amount != 2*hand.SmallBlind && !allIn {
			return unauthorized("big blind not valid, expected %d.", 2*hand.SmallBlind)
		}
		if allIn {
			m.seat().Sitout = models.AllIn()
		} else if m.seat().Sitout.IsTimestamp() {
			m.seat().Sitout = nil
		}
		return nil
	}

	if m.pos == hand.SmallBlindPos || r.dealt(m.pos) {
		return forbidden("not your turn.")
	}
	if amount != 0 {
		return unauthorized("only 0 receipts while dealing, got %d.", amount)
	}
	if err := m.checkExit(); err != nil {
		return err
	}
	if m.seat().Sitout.IsTimestamp() {
		m.seat().Sitout = nil
	}
	return nil
}

func (m *move) validateFold() error {
	r := m.round
	state := r.hand.State
	if state != models.StateDealing && !state.IsBetting() {
		return badRequest("fold not allowed in %s.", state)
	}
	if r.folded(m.pos) {
		return unauthorized("already folded.")
	}
	if r.sittingOut(m.pos) {
		return badRequest("wait for next hand")
	}
	if m.receipt.Amount != r.amount(m.pos) {
		return unauthorized("fold amount %d does not match last receipt %d.", m.receipt.Amount, r.amount(m.pos))
	}
	return nil
}

func (m *move) validateCheck() error {
	r := m.round
	action := m.receipt.Action
	if street := action.Street(); street != r.hand.State {
		return badRequest("%s only during %s.", action, street)
	}
	if r.folded(m.pos) {
		return unauthorized("no bet after fold.")
	}
	if r.sittingOut(m.pos) {
		return badRequest("wait for next hand")
	}
	if max := r.maxBet(); m.receipt.Amount != max {
		return unauthorized("check should not raise, max bet is %d.", max)
	}
	return nil
}

func (m *move) validateSitOut() error {
	r := m.round
	hand := r.hand
	seat := m.seat()

	if r.lastIs(m.pos, token.ActionSitOut) {
		return unauthorized("can not toggle sitout in same hand.")
	}
	if seat.Sitout.IsAllIn() {
		return badRequest("seat %d is all-in.", m.pos)
	}

	if seat.Sitout.IsTimestamp() || seat.Sitout.IsTimeout() {
		if hand.State.IsBetting() {
			if m.receipt.Amount <= 0 {
				return unauthorized("have to pay to return from sitout.")
			}
			if _, err := m.checkBalance(m.receipt.Amount); err != nil {
				return err
			}
		}
		seat.Sitout = nil
		return nil
	}

	if m.receipt.Amount != r.amount(m.pos) {
		return unauthorized("sitout amount %d does not match last receipt %d.", m.receipt.Amount, r.amount(m.pos))
	}
	seat.Sitout = models.SitoutAt(m.now)

	if hand.State == models.StateDealing && m.pos == hand.BigBlindPos && !r.bigBlindPosted() {
		hand.BigBlindPos = r.next(m.pos, func(i int) bool {
			return r.active(i) && i != hand.SmallBlindPos
		})
	}
	return nil
}
