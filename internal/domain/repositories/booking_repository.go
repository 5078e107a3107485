package repositories

import (
	"context"
	"time"

	"github.com/zatekoja/slotbooking/internal/domain/entities"
)

// BookingRepository defines the interface for booking data operations.
// Booking rows are never deleted; only status, cancellation time and slot reference change.
type BookingRepository interface {
	// Create inserts a new booking. A second booking with the same
	// (client_id, idempotency_key) fails with an error wrapping ErrDuplicateKey.
	Create(ctx context.Context, booking *entities.Booking) error

	// GetByID retrieves a booking by ID
	GetByID(ctx context.Context, id string) (*entities.Booking, error)

	// FindByIdempotencyKey returns the client's booking created with key, or nil
	FindByIdempotencyKey(ctx context.Context, clientID, key string) (*entities.Booking, error)

	// FindConfirmed returns the client's confirmed booking on the slot, or nil
	FindConfirmed(ctx context.Context, slotID, clientID string) (*entities.Booking, error)

	// Transition moves a booking from one status to another, stamping cancelled_at.
	// It reports false when the booking was not in the from status.
	Transition(ctx context.Context, id string, from, to entities.BookingStatus, at time.Time) (bool, error)

	// MoveToSlot repoints a confirmed booking from one slot to another
	MoveToSlot(ctx context.Context, id, fromSlotID, toSlotID string) (bool, error)

	// ExpireStarted marks every confirmed booking whose slot starts at or before cutoff
	// as expired and returns the bookings it changed. It must run inside a transaction
	// and locks the slots before the bookings; slots held by another transaction may
	// be skipped and are left for a later call.
	ExpireStarted(ctx context.Context, cutoff, at time.Time) ([]*entities.Booking, error)

	// CountUpcoming counts confirmed bookings whose slot starts in [from, to)
	CountUpcoming(ctx context.Context, from, to time.Time) (int, error)

	// ListByClient retrieves bookings for a client
	ListByClient(ctx context.Context, clientID string, filter BookingFilter) ([]*entities.Booking, error)

	// ListBySpecialist retrieves bookings on slots owned by a specialist
	ListBySpecialist(ctx context.Context, specialistID string, filter BookingFilter) ([]*entities.Booking, error)
}

// BookingFilter defines filters for listing bookings.
// From and To apply to the slot start time.
type BookingFilter struct {
	Status entities.BookingStatus
	From   *time.Time
	To     *time.Time
	Limit  int
	Offset int
}
