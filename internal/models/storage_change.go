package models

import "time"

// HandChange is one entry of the hand store change feed
type HandChange struct {
	Seq       int64     `json:"seq"`
	TableAddr string    `json:"tableAddr"`
	HandID    uint64    `json:"handId"`
	Old       *Hand     `json:"old,omitempty"` // nil on insert
	New       *Hand     `json:"new"`
	CreatedAt time.Time `json:"createdAt"`
}

// IsInsert reports a newly created hand row
func (c HandChange) IsInsert() bool {
	return c.Old == nil
}

// Reservation is a pending seat claim made before the join transaction lands
type Reservation struct {
	TableAddr  string `json:"tableAddr"`
	Pos        int    `json:"pos"`
	SignerAddr string `json:"signerAddr"`
	TxHash     string `json:"txHash"`
	Amount     int64  `json:"amount"`
	Created    int64  `json:"created"`
}
