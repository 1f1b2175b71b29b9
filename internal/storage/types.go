package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Record set names.
const (
	SetDeals    = "deals"
	SetFilled   = "filled"
	SetInterest = "interest"
)

// Config configures storage.
//
// Driver values:
//   - "file": JSON Lines files next to Path
//   - "sqlite": SQLite database at Path
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Record is one row appended to a record set. A deal id may appear in a set
// more than once; ListIDs collapses repeats.
type Record struct {
	DealID string            `json:"deal_id"`
	At     time.Time         `json:"at"`
	Fields map[string]string `json:"fields,omitempty"`
}

// AuditEntry records an operator action.
type AuditEntry struct {
	At            time.Time `json:"at"`
	ActorID       int64     `json:"actor_id"`
	ActorUsername string    `json:"actor_username,omitempty"`
	ChatID        int64     `json:"chat_id"`
	Action        string    `json:"action"`
	Target        string    `json:"target"`
	Error         string    `json:"error,omitempty"`
	MetaJSON      string    `json:"meta,omitempty"`
}
