package services

import (
	"context"
	"fmt"

	"github.com/zatekoja/slotbooking/internal/domain/entities"
	"github.com/zatekoja/slotbooking/internal/domain/repositories"
	apperrors "github.com/zatekoja/slotbooking/pkg/errors"
)

// SlotGuard serializes occupancy changes on a slot row. Every change is a
// conditional update; when the store supports non-blocking row locks the row
// is also locked NOWAIT first, so contention fails fast instead of queuing.
// All methods must be called with a transactional context.
type SlotGuard struct {
	slots    repositories.SlotRepository
	rowLocks bool
}

// NewSlotGuard creates a guard. rowLocks declares whether the store supports
// SELECT ... FOR UPDATE NOWAIT.
func NewSlotGuard(slots repositories.SlotRepository, rowLocks bool) *SlotGuard {
	return &SlotGuard{
		slots:    slots,
		rowLocks: rowLocks,
	}
}

// RowLocks reports whether the guard takes row locks
func (g *SlotGuard) RowLocks() bool {
	return g.rowLocks
}

// Inspect reads the slot, holding its row lock until the transaction ends when
// row locks are supported. A held lock fails with a retryable LOCK_UNAVAILABLE.
func (g *SlotGuard) Inspect(ctx context.Context, slotID string) (*entities.TimeSlot, error) {
	if g.rowLocks {
		return g.slots.Lock(ctx, slotID, true)
	}
	return g.slots.GetByID(ctx, slotID)
}

// Acquire moves a free slot to occupied. It fails NOT_FOUND for a missing slot
// and SLOT_ALREADY_BOOKED when the slot is occupied or another transaction won.
func (g *SlotGuard) Acquire(ctx context.Context, slotID string) (*entities.TimeSlot, error) {
	slot, err := g.Inspect(ctx, slotID)
	if err != nil {
		return nil, err
	}
	if slot.IsBooked {
		return nil, slotAlreadyBooked(slotID)
	}

	ok, err := g.slots.MarkOccupied(ctx, slotID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, slotAlreadyBooked(slotID)
	}

	slot.IsBooked = true
	return slot, nil
}

// Free moves an occupied slot to free and reports whether it changed
func (g *SlotGuard) Free(ctx context.Context, slotID string) (bool, error) {
	return g.slots.MarkFree(ctx, slotID)
}

// Release frees a slot that must currently be occupied
func (g *SlotGuard) Release(ctx context.Context, slotID string) error {
	ok, err := g.Free(ctx, slotID)
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.NewInternalError(fmt.Sprintf("slot %s was not occupied", slotID), nil)
	}
	return nil
}

func slotAlreadyBooked(slotID string) error {
	return apperrors.NewConflictError(apperrors.CodeSlotAlreadyBooked, fmt.Sprintf("slot %s is already booked", slotID))
}
