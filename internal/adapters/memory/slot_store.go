package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/hashicorp/go-memdb"
	"github.com/zatekoja/slotbooking/internal/domain/entities"
	"github.com/zatekoja/slotbooking/internal/domain/repositories"
	apperrors "github.com/zatekoja/slotbooking/pkg/errors"
)

// SlotStore implements the SlotRepository interface
type SlotStore struct {
	store *Store
}

func getSlot(txn *memdb.Txn, id string) (*entities.TimeSlot, error) {
	raw, err := txn.First(slotsTable, "id", id)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to get slot", err)
	}
	if raw == nil {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("slot with id %s not found", id))
	}
	slot := *raw.(*entities.TimeSlot)
	return &slot, nil
}

// Create creates a new time slot
func (s *SlotStore) Create(ctx context.Context, slot *entities.TimeSlot) error {
	return s.store.write(ctx, func(txn *memdb.Txn) error {
		existing, err := txn.First(slotsTable, "id", slot.ID)
		if err != nil {
			return apperrors.NewInternalError("failed to create slot", err)
		}
		if existing != nil {
			return fmt.Errorf("slot %s: %w", slot.ID, repositories.ErrDuplicateKey)
		}

		row := *slot
		if err := txn.Insert(slotsTable, &row); err != nil {
			return apperrors.NewInternalError("failed to create slot", err)
		}
		return nil
	})
}

// GetByID retrieves a time slot by ID
func (s *SlotStore) GetByID(ctx context.Context, id string) (*entities.TimeSlot, error) {
	var slot *entities.TimeSlot
	err := s.store.read(ctx, func(txn *memdb.Txn) error {
		var err error
		slot, err = getSlot(txn, id)
		return err
	})
	return slot, err
}

// Lock reads the slot inside the caller's write transaction. The store has a
// single writer, so the transaction already excludes every other writer.
func (s *SlotStore) Lock(ctx context.Context, id string, nowait bool) (*entities.TimeSlot, error) {
	return s.GetByID(ctx, id)
}

// MarkOccupied flips is_booked from false to true
func (s *SlotStore) MarkOccupied(ctx context.Context, id string) (bool, error) {
	return s.setBooked(ctx, id, false, true)
}

// MarkFree flips is_booked from true to false
func (s *SlotStore) MarkFree(ctx context.Context, id string) (bool, error) {
	return s.setBooked(ctx, id, true, false)
}

func (s *SlotStore) setBooked(ctx context.Context, id string, from, to bool) (bool, error) {
	changed := false
	err := s.store.write(ctx, func(txn *memdb.Txn) error {
		raw, err := txn.First(slotsTable, "id", id)
		if err != nil {
			return apperrors.NewInternalError("failed to update slot", err)
		}
		if raw == nil || raw.(*entities.TimeSlot).IsBooked != from {
			return nil
		}

		row := *raw.(*entities.TimeSlot)
		row.IsBooked = to
		if err := txn.Insert(slotsTable, &row); err != nil {
			return apperrors.NewInternalError("failed to update slot", err)
		}
		changed = true
		return nil
	})
	return changed, err
}

// DeleteFree deletes the slot while it is not booked
func (s *SlotStore) DeleteFree(ctx context.Context, id string) (bool, error) {
	deleted := false
	err := s.store.write(ctx, func(txn *memdb.Txn) error {
		raw, err := txn.First(slotsTable, "id", id)
		if err != nil {
			return apperrors.NewInternalError("failed to delete slot", err)
		}
		if raw == nil || raw.(*entities.TimeSlot).IsBooked {
			return nil
		}

		// Booking history keeps the slot alive, matching ON DELETE RESTRICT
		history, err := txn.First(bookingsTable, "slot_id", id)
		if err != nil {
			return apperrors.NewInternalError("failed to delete slot", err)
		}
		if history != nil {
			return apperrors.NewConflictError(apperrors.CodeSlotBooked, "slot has booking history and cannot be deleted")
		}

		if _, err := txn.DeleteAll(waitListTable, "slot_id", id); err != nil {
			return apperrors.NewInternalError("failed to delete slot wait list", err)
		}
		if err := txn.Delete(slotsTable, raw); err != nil {
			return apperrors.NewInternalError("failed to delete slot", err)
		}
		deleted = true
		return nil
	})
	return deleted, err
}

// HasOverlap reports whether the specialist owns a slot intersecting [start, end)
func (s *SlotStore) HasOverlap(ctx context.Context, specialistID string, start, end time.Time) (bool, error) {
	overlap := false
	err := s.store.read(ctx, func(txn *memdb.Txn) error {
		it, err := txn.Get(slotsTable, "specialist_id", specialistID)
		if err != nil {
			return apperrors.NewInternalError("failed to check slot overlap", err)
		}
		for raw := it.Next(); raw != nil; raw = it.Next() {
			if raw.(*entities.TimeSlot).Overlaps(start, end) {
				overlap = true
				return nil
			}
		}
		return nil
	})
	return overlap, err
}

// ListBySpecialist retrieves slots for a specialist ordered by start time
func (s *SlotStore) ListBySpecialist(ctx context.Context, specialistID string, filter repositories.SlotFilter) ([]*entities.TimeSlot, error) {
	var slots []*entities.TimeSlot
	err := s.store.read(ctx, func(txn *memdb.Txn) error {
		it, err := txn.Get(slotsTable, "specialist_id", specialistID)
		if err != nil {
			return apperrors.NewInternalError("failed to list slots", err)
		}
		for raw := it.Next(); raw != nil; raw = it.Next() {
			slot := *raw.(*entities.TimeSlot)
			if filter.OnlyFree && slot.IsBooked {
				continue
			}
			if filter.From != nil && slot.StartAt.Before(*filter.From) {
				continue
			}
			if filter.To != nil && !slot.StartAt.Before(*filter.To) {
				continue
			}
			slots = append(slots, &slot)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(slots, func(i, j int) bool {
		return slots[i].StartAt.Before(slots[j].StartAt)
	})
	return paginate(slots, filter.Limit, filter.Offset), nil
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
