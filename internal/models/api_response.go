package models

import "time"

// HandView is the redacted hand snapshot served to players and broadcast on updates.
// The deck never leaves the server; only disclosed board cards are included.
type HandView struct {
	TableAddr     string        `json:"tableAddr,omitempty"`
	HandID        uint64        `json:"handId"`
	Dealer        int           `json:"dealer"`
	SmallBlind    int64         `json:"sb,omitempty"`
	State         HandState     `json:"state"`
	Lineup        []Seat        `json:"lineup,omitempty"`
	Cards         []int         `json:"cards"`
	Changed       int64         `json:"changed,omitempty"`
	PreflopMaxBet int64         `json:"preMaxBet,omitempty"`
	FlopMaxBet    int64         `json:"flopMaxBet,omitempty"`
	TurnMaxBet    int64         `json:"turnMaxBet,omitempty"`
	RiverMaxBet   int64         `json:"riverMaxBet,omitempty"`
	Distribution  *Distribution `json:"distribution,omitempty"`
	Netting       *Netting      `json:"netting,omitempty"`
	Started       int64         `json:"started,omitempty"`
}

// BroadcastEvent is a message pushed on a table's real-time channel
type BroadcastEvent struct {
	Type    string      `json:"type"` // handUpdate, message, seatReserved
	Payload interface{} `json:"payload"`
}

// HealthResponse is served by GET /health
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Service   string    `json:"service"`
	Database  string    `json:"database"`
	RPC       string    `json:"rpc,omitempty"`
}

// ErrorResponse represents an API error
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code"`
}
