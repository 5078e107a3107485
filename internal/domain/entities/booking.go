package entities

import (
	"time"
)

// BookingStatus represents the status of a booking
type BookingStatus string

const (
	BookingStatusConfirmed BookingStatus = "confirmed"
	BookingStatusCancelled BookingStatus = "cancelled"
	BookingStatusExpired   BookingStatus = "expired"
)

// MaxIdempotencyKeyLength is the longest idempotency key the store accepts
const MaxIdempotencyKeyLength = 128

// Booking is one client's claim on one slot.
// Once Status leaves confirmed it never returns.
type Booking struct {
	ID             string        `json:"id" db:"id"`
	SlotID         string        `json:"slot_id" db:"slot_id"`
	ClientID       string        `json:"client_id" db:"client_id"`
	Status         BookingStatus `json:"status" db:"status"`
	IdempotencyKey *string       `json:"idempotency_key,omitempty" db:"idempotency_key"`
	CreatedAt      time.Time     `json:"created_at" db:"created_at"`
	// CancelledAt stamps both cancellation and expiration; nil while confirmed
	CancelledAt *time.Time `json:"cancelled_at,omitempty" db:"cancelled_at"`
}

// IsActive reports whether the booking still holds its slot
func (b *Booking) IsActive() bool {
	return b.Status == BookingStatusConfirmed
}

// HasIdempotencyKey reports whether the booking was created with the given key
func (b *Booking) HasIdempotencyKey(key string) bool {
	return b.IdempotencyKey != nil && *b.IdempotencyKey == key
}
