package repositories

import (
	"context"

	"github.com/zatekoja/slotbooking/internal/domain/entities"
)

// WaitListRepository defines the interface for wait-list data operations
type WaitListRepository interface {
	// Create inserts an entry. A second entry for the same (slot_id, client_id)
	// fails with an error wrapping ErrDuplicateKey.
	Create(ctx context.Context, entry *entities.WaitListEntry) error

	// GetByID retrieves an entry by ID
	GetByID(ctx context.Context, id string) (*entities.WaitListEntry, error)

	// Exists reports whether the client is queued for the slot
	Exists(ctx context.Context, slotID, clientID string) (bool, error)

	// Head returns the earliest entry for the slot ordered by (created_at, id), or nil
	Head(ctx context.Context, slotID string) (*entities.WaitListEntry, error)

	// Delete removes an entry
	Delete(ctx context.Context, id string) error

	// ListBySlot retrieves the queue for a slot in promotion order
	ListBySlot(ctx context.Context, slotID string) ([]*entities.WaitListEntry, error)
}
