package models

import (
	"encoding/json"
	"strings"
	"time"
)

// Notification is a message bus entry. Subject is "<Kind>::<tableAddr>".
type Notification struct {
	ID          string          `json:"id"`
	Subject     string          `json:"subject"`
	Payload     json.RawMessage `json:"payload"`
	CreatedAt   time.Time       `json:"createdAt"`
	ProcessedAt *time.Time      `json:"processedAt,omitempty"`
}

// Kind returns the subject prefix, e.g. "Kick"
func (n Notification) Kind() string {
	kind, _, _ := strings.Cut(n.Subject, "::")
	return kind
}

// Table returns the subject suffix
func (n Notification) Table() string {
	_, table, _ := strings.Cut(n.Subject, "::")
	return table
}
