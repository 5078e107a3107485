package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/hashicorp/go-memdb"
	"github.com/zatekoja/slotbooking/internal/domain/entities"
	"github.com/zatekoja/slotbooking/internal/domain/repositories"
	apperrors "github.com/zatekoja/slotbooking/pkg/errors"
)

// WaitListStore implements the WaitListRepository interface
type WaitListStore struct {
	store *Store
}

// Create inserts an entry, enforcing (slot_id, client_id) uniqueness
func (s *WaitListStore) Create(ctx context.Context, entry *entities.WaitListEntry) error {
	return s.store.write(ctx, func(txn *memdb.Txn) error {
		existing, err := txn.First(waitListTable, "slot_client", entry.SlotID, entry.ClientID)
		if err != nil {
			return apperrors.NewInternalError("failed to create wait-list entry", err)
		}
		if existing != nil {
			return fmt.Errorf("wait-list entry for client %s on slot %s: %w", entry.ClientID, entry.SlotID, repositories.ErrDuplicateKey)
		}

		slot, err := txn.First(slotsTable, "id", entry.SlotID)
		if err != nil {
			return apperrors.NewInternalError("failed to create wait-list entry", err)
		}
		if slot == nil {
			return apperrors.NewNotFoundError(fmt.Sprintf("slot with id %s not found", entry.SlotID))
		}

		row := *entry
		if err := txn.Insert(waitListTable, &row); err != nil {
			return apperrors.NewInternalError("failed to create wait-list entry", err)
		}
		return nil
	})
}

// GetByID retrieves a wait-list entry by ID
func (s *WaitListStore) GetByID(ctx context.Context, id string) (*entities.WaitListEntry, error) {
	var entry *entities.WaitListEntry
	err := s.store.read(ctx, func(txn *memdb.Txn) error {
		raw, err := txn.First(waitListTable, "id", id)
		if err != nil {
			return apperrors.NewInternalError("failed to get wait-list entry", err)
		}
		if raw == nil {
			return apperrors.NewNotFoundError(fmt.Sprintf("wait-list entry with id %s not found", id))
		}
		row := *raw.(*entities.WaitListEntry)
		entry = &row
		return nil
	})
	return entry, err
}

// Exists reports whether the client is queued for the slot
func (s *WaitListStore) Exists(ctx context.Context, slotID, clientID string) (bool, error) {
	exists := false
	err := s.store.read(ctx, func(txn *memdb.Txn) error {
		raw, err := txn.First(waitListTable, "slot_client", slotID, clientID)
		if err != nil {
			return apperrors.NewInternalError("failed to get wait-list entry", err)
		}
		exists = raw != nil
		return nil
	})
	return exists, err
}

// Head returns the earliest entry for the slot
func (s *WaitListStore) Head(ctx context.Context, slotID string) (*entities.WaitListEntry, error) {
	entries, err := s.ListBySlot(ctx, slotID)
	if err != nil || len(entries) == 0 {
		return nil, err
	}
	return entries[0], nil
}

// Delete removes an entry
func (s *WaitListStore) Delete(ctx context.Context, id string) error {
	return s.store.write(ctx, func(txn *memdb.Txn) error {
		raw, err := txn.First(waitListTable, "id", id)
		if err != nil {
			return apperrors.NewInternalError("failed to delete wait-list entry", err)
		}
		if raw == nil {
			return apperrors.NewNotFoundError(fmt.Sprintf("wait-list entry with id %s not found", id))
		}
		if err := txn.Delete(waitListTable, raw); err != nil {
			return apperrors.NewInternalError("failed to delete wait-list entry", err)
		}
		return nil
	})
}

// ListBySlot retrieves the queue for a slot ordered by (created_at, id)
func (s *WaitListStore) ListBySlot(ctx context.Context, slotID string) ([]*entities.WaitListEntry, error) {
	var entries []*entities.WaitListEntry
	err := s.store.read(ctx, func(txn *memdb.Txn) error {
		it, err := txn.Get(waitListTable, "slot_id", slotID)
		if err != nil {
			return apperrors.NewInternalError("failed to list wait-list entries", err)
		}
		for raw := it.Next(); raw != nil; raw = it.Next() {
			row := *raw.(*entities.WaitListEntry)
			entries = append(entries, &row)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].CreatedAt.Before(entries[j].CreatedAt)
		}
		return entries[i].ID < entries[j].ID
	})
	return entries, nil
}
