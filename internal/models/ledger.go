package models

import "time"

// LedgerSeat is one position of the table contract lineup
type LedgerSeat struct {
	Address  string `json:"address"`
	Amount   int64  `json:"amount"`   // balance as of the last netted hand
	ExitHand uint64 `json:"exitHand"` // 0 when the player is not leaving
}

// LedgerLineup is the contract's view of who sits where and with what funds
type LedgerLineup struct {
	LastHandNetted uint64       `json:"lastHandNetted"`
	Seats          []LedgerSeat `json:"seats"`
}

// TableState is the indexed snapshot of a table contract's storage
type TableState struct {
	TableAddr                string       `json:"tableAddr"`
	SmallBlind               int64        `json:"smallBlind"`
	LastHandNetted           uint64       `json:"lastHandNetted"`
	LastNettingRequestHandID uint64       `json:"lastNettingRequestHandId"`
	LastNettingRequestTime   int64        `json:"lastNettingRequestTime"`
	Seats                    []LedgerSeat `json:"seats"`

	// Processing metadata
	LedgerSeq uint32    `json:"ledgerSeq"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Lineup returns the lineup view of the snapshot
func (t *TableState) Lineup() LedgerLineup {
	seats := make([]LedgerSeat, len(t.Seats))
	copy(seats, t.Seats)
	return LedgerLineup{LastHandNetted: t.LastHandNetted, Seats: seats}
}

// Submission is a transaction the oracle wants applied to a table contract
type Submission struct {
	ID        int64     `json:"id"`
	TableAddr string    `json:"tableAddr"`
	Kind      string    `json:"kind"` // leave, settle, dispute, progress
	Payload   []byte    `json:"payload"`
	CreatedAt time.Time `json:"createdAt"`
}
