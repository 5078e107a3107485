package repositories

import (
	"context"
	"time"

	"github.com/zatekoja/slotbooking/internal/domain/entities"
)

// SlotRepository defines the interface for time slot data operations.
// It is the only owner of slot occupancy.
type SlotRepository interface {
	// Create creates a new time slot
	Create(ctx context.Context, slot *entities.TimeSlot) error

	// GetByID retrieves a time slot by ID
	GetByID(ctx context.Context, id string) (*entities.TimeSlot, error)

	// Lock reads a time slot while holding its row lock until the transaction ends.
	// With nowait set, an unavailable lock fails immediately with a LOCK_UNAVAILABLE conflict.
	Lock(ctx context.Context, id string, nowait bool) (*entities.TimeSlot, error)

	// MarkOccupied flips is_booked from false to true and reports whether a row changed
	MarkOccupied(ctx context.Context, id string) (bool, error)

	// MarkFree flips is_booked from true to false and reports whether a row changed
	MarkFree(ctx context.Context, id string) (bool, error)

	// DeleteFree deletes the slot only while it is free and reports whether a row was deleted
	DeleteFree(ctx context.Context, id string) (bool, error)

	// HasOverlap reports whether the specialist owns a slot intersecting [start, end)
	HasOverlap(ctx context.Context, specialistID string, start, end time.Time) (bool, error)

	// ListBySpecialist retrieves slots for a specialist ordered by start time
	ListBySpecialist(ctx context.Context, specialistID string, filter SlotFilter) ([]*entities.TimeSlot, error)
}

// SlotFilter defines filters for listing slots
type SlotFilter struct {
	From     *time.Time
	To       *time.Time
	OnlyFree bool
	Limit    int
	Offset   int
}
