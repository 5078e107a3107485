package entities

import (
	"time"
)

// WaitListEntry is a client queued for an occupied slot
type WaitListEntry struct {
	ID        string    `json:"id" db:"id"`
	SlotID    string    `json:"slot_id" db:"slot_id"`
	ClientID  string    `json:"client_id" db:"client_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
