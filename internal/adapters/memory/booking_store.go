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

// BookingStore implements the BookingRepository interface
type BookingStore struct {
	store *Store
}

func copyBooking(b *entities.Booking) *entities.Booking {
	out := *b
	if b.IdempotencyKey != nil {
		key := *b.IdempotencyKey
		out.IdempotencyKey = &key
	}
	if b.CancelledAt != nil {
		at := *b.CancelledAt
		out.CancelledAt = &at
	}
	return &out
}

// Create inserts a booking, enforcing (client_id, idempotency_key) uniqueness
// and at most one confirmed booking per slot
func (s *BookingStore) Create(ctx context.Context, booking *entities.Booking) error {
	return s.store.write(ctx, func(txn *memdb.Txn) error {
		it, err := txn.Get(bookingsTable, "client_id", booking.ClientID)
		if err != nil {
			return apperrors.NewInternalError("failed to create booking", err)
		}
		for raw := it.Next(); raw != nil; raw = it.Next() {
			existing := raw.(*entities.Booking)
			if existing.ID == booking.ID {
				return fmt.Errorf("booking %s: %w", booking.ID, repositories.ErrDuplicateKey)
			}
			if booking.IdempotencyKey != nil && existing.HasIdempotencyKey(*booking.IdempotencyKey) {
				return fmt.Errorf("idempotency key for client %s: %w", booking.ClientID, repositories.ErrDuplicateKey)
			}
		}

		if booking.IsActive() {
			active, err := confirmedOnSlot(txn, booking.SlotID)
			if err != nil {
				return err
			}
			if active != nil {
				return fmt.Errorf("confirmed booking on slot %s: %w", booking.SlotID, repositories.ErrDuplicateKey)
			}
		}

		if err := txn.Insert(bookingsTable, copyBooking(booking)); err != nil {
			return apperrors.NewInternalError("failed to create booking", err)
		}
		return nil
	})
}

func confirmedOnSlot(txn *memdb.Txn, slotID string) (*entities.Booking, error) {
	it, err := txn.Get(bookingsTable, "slot_id", slotID)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to get bookings for slot", err)
	}
	for raw := it.Next(); raw != nil; raw = it.Next() {
		if b := raw.(*entities.Booking); b.IsActive() {
			return b, nil
		}
	}
	return nil, nil
}

// GetByID retrieves a booking by ID
func (s *BookingStore) GetByID(ctx context.Context, id string) (*entities.Booking, error) {
	var booking *entities.Booking
	err := s.store.read(ctx, func(txn *memdb.Txn) error {
		raw, err := txn.First(bookingsTable, "id", id)
		if err != nil {
			return apperrors.NewInternalError("failed to get booking", err)
		}
		if raw == nil {
			return apperrors.NewNotFoundError(fmt.Sprintf("booking with id %s not found", id))
		}
		booking = copyBooking(raw.(*entities.Booking))
		return nil
	})
	return booking, err
}

// FindByIdempotencyKey returns the client's booking created with key
func (s *BookingStore) FindByIdempotencyKey(ctx context.Context, clientID, key string) (*entities.Booking, error) {
	return s.findByClient(ctx, clientID, func(b *entities.Booking) bool {
		return b.HasIdempotencyKey(key)
	})
}

// FindConfirmed returns the client's confirmed booking on the slot
func (s *BookingStore) FindConfirmed(ctx context.Context, slotID, clientID string) (*entities.Booking, error) {
	return s.findByClient(ctx, clientID, func(b *entities.Booking) bool {
		return b.SlotID == slotID && b.IsActive()
	})
}

func (s *BookingStore) findByClient(ctx context.Context, clientID string, match func(*entities.Booking) bool) (*entities.Booking, error) {
	var found *entities.Booking
	err := s.store.read(ctx, func(txn *memdb.Txn) error {
		it, err := txn.Get(bookingsTable, "client_id", clientID)
		if err != nil {
			return apperrors.NewInternalError("failed to get booking", err)
		}
		for raw := it.Next(); raw != nil; raw = it.Next() {
			if b := raw.(*entities.Booking); match(b) {
				found = copyBooking(b)
				return nil
			}
		}
		return nil
	})
	return found, err
}

// Transition moves a booking between statuses only if it is still in the from status
func (s *BookingStore) Transition(ctx context.Context, id string, from, to entities.BookingStatus, at time.Time) (bool, error) {
	return s.update(ctx, id, func(b *entities.Booking) bool {
		if b.Status != from {
			return false
		}
		b.Status = to
		b.CancelledAt = &at
		return true
	})
}

// MoveToSlot repoints a confirmed booking to another slot
func (s *BookingStore) MoveToSlot(ctx context.Context, id, fromSlotID, toSlotID string) (bool, error) {
	return s.update(ctx, id, func(b *entities.Booking) bool {
		if b.SlotID != fromSlotID || !b.IsActive() {
			return false
		}
		b.SlotID = toSlotID
		return true
	})
}

func (s *BookingStore) update(ctx context.Context, id string, mutate func(*entities.Booking) bool) (bool, error) {
	changed := false
	err := s.store.write(ctx, func(txn *memdb.Txn) error {
		raw, err := txn.First(bookingsTable, "id", id)
		if err != nil {
			return apperrors.NewInternalError(fmt.Sprintf("failed to update booking %s", id), err)
		}
		if raw == nil {
			return nil
		}

		row := copyBooking(raw.(*entities.Booking))
		if !mutate(row) {
			return nil
		}
		if err := txn.Insert(bookingsTable, row); err != nil {
			return apperrors.NewInternalError(fmt.Sprintf("failed to update booking %s", id), err)
		}
		changed = true
		return nil
	})
	return changed, err
}

// ExpireStarted expires confirmed bookings whose slot started at or before cutoff
func (s *BookingStore) ExpireStarted(ctx context.Context, cutoff, at time.Time) ([]*entities.Booking, error) {
	var expired []*entities.Booking
	err := s.store.write(ctx, func(txn *memdb.Txn) error {
		due, err := s.collect(txn, func(txn *memdb.Txn, b *entities.Booking) (bool, error) {
			if !b.IsActive() {
				return false, nil
			}
			slot, err := getSlot(txn, b.SlotID)
			if err != nil {
				return false, err
			}
			return !slot.StartAt.After(cutoff), nil
		})
		if err != nil {
			return err
		}

		for _, b := range due {
			b.Status = entities.BookingStatusExpired
			stamp := at
			b.CancelledAt = &stamp
			if err := txn.Insert(bookingsTable, copyBooking(b)); err != nil {
				return apperrors.NewInternalError("failed to expire bookings", err)
			}
			expired = append(expired, b)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return expired, nil
}

// CountUpcoming counts confirmed bookings whose slot starts in [from, to)
func (s *BookingStore) CountUpcoming(ctx context.Context, from, to time.Time) (int, error) {
	count := 0
	err := s.store.read(ctx, func(txn *memdb.Txn) error {
		upcoming, err := s.collect(txn, func(txn *memdb.Txn, b *entities.Booking) (bool, error) {
			if !b.IsActive() {
				return false, nil
			}
			slot, err := getSlot(txn, b.SlotID)
			if err != nil {
				return false, err
			}
			return !slot.StartAt.Before(from) && slot.StartAt.Before(to), nil
		})
		count = len(upcoming)
		return err
	})
	return count, err
}

// ListByClient retrieves bookings for a client
func (s *BookingStore) ListByClient(ctx context.Context, clientID string, filter repositories.BookingFilter) ([]*entities.Booking, error) {
	return s.list(ctx, filter, func(b *entities.Booking, _ *entities.TimeSlot) bool {
		return b.ClientID == clientID
	})
}

// ListBySpecialist retrieves bookings on slots owned by a specialist
func (s *BookingStore) ListBySpecialist(ctx context.Context, specialistID string, filter repositories.BookingFilter) ([]*entities.Booking, error) {
	return s.list(ctx, filter, func(_ *entities.Booking, slot *entities.TimeSlot) bool {
		return slot.SpecialistID == specialistID
	})
}

func (s *BookingStore) list(ctx context.Context, filter repositories.BookingFilter, owned func(*entities.Booking, *entities.TimeSlot) bool) ([]*entities.Booking, error) {
	var bookings []*entities.Booking
	err := s.store.read(ctx, func(txn *memdb.Txn) error {
		var err error
		bookings, err = s.collect(txn, func(txn *memdb.Txn, b *entities.Booking) (bool, error) {
			if filter.Status != "" && b.Status != filter.Status {
				return false, nil
			}
			slot, err := getSlot(txn, b.SlotID)
			if err != nil {
				return false, err
			}
			if !owned(b, slot) {
				return false, nil
			}
			if filter.From != nil && slot.StartAt.Before(*filter.From) {
				return false, nil
			}
			if filter.To != nil && !slot.StartAt.Before(*filter.To) {
				return false, nil
			}
			return true, nil
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return paginate(bookings, filter.Limit, filter.Offset), nil
}

// collect returns copies of matching bookings ordered by id
func (s *BookingStore) collect(txn *memdb.Txn, match func(*memdb.Txn, *entities.Booking) (bool, error)) ([]*entities.Booking, error) {
	it, err := txn.Get(bookingsTable, "id")
	if err != nil {
		return nil, apperrors.NewInternalError("failed to scan bookings", err)
	}

	var out []*entities.Booking
	for raw := it.Next(); raw != nil; raw = it.Next() {
		b := raw.(*entities.Booking)
		ok, err := match(txn, b)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, copyBooking(b))
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
