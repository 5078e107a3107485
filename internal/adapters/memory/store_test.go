package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zatekoja/slotbooking/internal/adapters/memory"
	"github.com/zatekoja/slotbooking/internal/domain/entities"
	"github.com/zatekoja/slotbooking/internal/domain/repositories"
	apperrors "github.com/zatekoja/slotbooking/pkg/errors"
)

var base = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

func newStore(t *testing.T) *memory.Store {
	t.Helper()
	store, err := memory.NewStore()
	require.NoError(t, err)
	return store
}

func seedSlot(t *testing.T, store *memory.Store, id, specialistID string, start time.Time, booked bool) {
	t.Helper()
	require.NoError(t, store.Slots().Create(context.Background(), &entities.TimeSlot{
		ID:           id,
		SpecialistID: specialistID,
		StartAt:      start,
		EndAt:        start.Add(time.Hour),
		IsBooked:     booked,
		CreatedAt:    base.Add(-24 * time.Hour),
	}))
}

func confirmed(id, slotID, clientID string, key *string) *entities.Booking {
	return &entities.Booking{
		ID:             id,
		SlotID:         slotID,
		ClientID:       clientID,
		Status:         entities.BookingStatusConfirmed,
		IdempotencyKey: key,
		CreatedAt:      base,
	}
}

func TestStore_WithinTx_RollsBackOnError(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	seedSlot(t, store, "slot-1", "spec-1", base, false)

	boom := errors.New("boom")
	err := store.WithinTx(ctx, func(txCtx context.Context) error {
		ok, err := store.Slots().MarkOccupied(txCtx, "slot-1")
		require.NoError(t, err)
		require.True(t, ok)
		require.NoError(t, store.Bookings().Create(txCtx, confirmed("b-1", "slot-1", "client-1", nil)))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	slot, err := store.Slots().GetByID(ctx, "slot-1")
	require.NoError(t, err)
	assert.False(t, slot.IsBooked)

	_, err = store.Bookings().GetByID(ctx, "b-1")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestStore_WithinTx_NestedJoinsOuter(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	seedSlot(t, store, "slot-1", "spec-1", base, false)

	err := store.WithinTx(ctx, func(outer context.Context) error {
		if err := store.WithinTx(outer, func(inner context.Context) error {
			_, err := store.Slots().MarkOccupied(inner, "slot-1")
			return err
		}); err != nil {
			return err
		}
		return errors.New("abort outer")
	})
	require.Error(t, err)

	slot, err := store.Slots().GetByID(ctx, "slot-1")
	require.NoError(t, err)
	assert.False(t, slot.IsBooked, "inner write must roll back with the outer transaction")
}

func TestSlotStore_ConditionalUpdates(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	seedSlot(t, store, "slot-1", "spec-1", base, false)

	ok, err := store.Slots().MarkOccupied(ctx, "slot-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Slots().MarkOccupied(ctx, "slot-1")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = store.Slots().MarkFree(ctx, "slot-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Slots().MarkFree(ctx, "slot-1")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = store.Slots().Lock(ctx, "missing", true)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestSlotStore_ReturnedSlotsAreCopies(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	seedSlot(t, store, "slot-1", "spec-1", base, false)

	slot, err := store.Slots().GetByID(ctx, "slot-1")
	require.NoError(t, err)
	slot.IsBooked = true

	again, err := store.Slots().GetByID(ctx, "slot-1")
	require.NoError(t, err)
	assert.False(t, again.IsBooked)
}

func TestSlotStore_OverlapAndList(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	seedSlot(t, store, "slot-b", "spec-1", base.Add(2*time.Hour), true)
	seedSlot(t, store, "slot-a", "spec-1", base, false)
	seedSlot(t, store, "slot-c", "spec-2", base, false)

	overlap, err := store.Slots().HasOverlap(ctx, "spec-1", base.Add(30*time.Minute), base.Add(90*time.Minute))
	require.NoError(t, err)
	assert.True(t, overlap)

	overlap, err = store.Slots().HasOverlap(ctx, "spec-1", base.Add(time.Hour), base.Add(2*time.Hour))
	require.NoError(t, err)
	assert.False(t, overlap, "touching intervals do not overlap")

	slots, err := store.Slots().ListBySpecialist(ctx, "spec-1", repositories.SlotFilter{})
	require.NoError(t, err)
	require.Len(t, slots, 2)
	assert.Equal(t, "slot-a", slots[0].ID)
	assert.Equal(t, "slot-b", slots[1].ID)

	free, err := store.Slots().ListBySpecialist(ctx, "spec-1", repositories.SlotFilter{OnlyFree: true})
	require.NoError(t, err)
	require.Len(t, free, 1)
	assert.Equal(t, "slot-a", free[0].ID)
}

func TestSlotStore_DeleteFree(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	seedSlot(t, store, "slot-free", "spec-1", base, false)
	seedSlot(t, store, "slot-booked", "spec-1", base.Add(2*time.Hour), true)
	seedSlot(t, store, "slot-history", "spec-1", base.Add(4*time.Hour), false)

	history := confirmed("b-1", "slot-history", "client-1", nil)
	history.Status = entities.BookingStatusCancelled
	require.NoError(t, store.Bookings().Create(ctx, history))

	ok, err := store.Slots().DeleteFree(ctx, "slot-free")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Slots().DeleteFree(ctx, "slot-booked")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = store.Slots().DeleteFree(ctx, "slot-history")
	assert.True(t, apperrors.IsCode(err, apperrors.CodeSlotBooked))
}

func TestBookingStore_Uniqueness(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	seedSlot(t, store, "slot-1", "spec-1", base, true)
	seedSlot(t, store, "slot-2", "spec-1", base.Add(2*time.Hour), true)

	key := "retry-1"
	require.NoError(t, store.Bookings().Create(ctx, confirmed("b-1", "slot-1", "client-1", &key)))

	t.Run("same client and key", func(t *testing.T) {
		err := store.Bookings().Create(ctx, confirmed("b-2", "slot-2", "client-1", &key))
		assert.ErrorIs(t, err, repositories.ErrDuplicateKey)
	})

	t.Run("same key for another client is allowed", func(t *testing.T) {
		err := store.Bookings().Create(ctx, confirmed("b-3", "slot-2", "client-2", &key))
		assert.NoError(t, err)
	})

	t.Run("second confirmed booking on a slot", func(t *testing.T) {
		err := store.Bookings().Create(ctx, confirmed("b-4", "slot-1", "client-9", nil))
		assert.ErrorIs(t, err, repositories.ErrDuplicateKey)
	})

	found, err := store.Bookings().FindByIdempotencyKey(ctx, "client-1", key)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "b-1", found.ID)

	missing, err := store.Bookings().FindByIdempotencyKey(ctx, "client-1", "other")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestBookingStore_TransitionIsTerminal(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	seedSlot(t, store, "slot-1", "spec-1", base, true)
	require.NoError(t, store.Bookings().Create(ctx, confirmed("b-1", "slot-1", "client-1", nil)))

	ok, err := store.Bookings().Transition(ctx, "b-1", entities.BookingStatusConfirmed, entities.BookingStatusCancelled, base)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Bookings().Transition(ctx, "b-1", entities.BookingStatusConfirmed, entities.BookingStatusExpired, base)
	require.NoError(t, err)
	assert.False(t, ok)

	booking, err := store.Bookings().GetByID(ctx, "b-1")
	require.NoError(t, err)
	assert.Equal(t, entities.BookingStatusCancelled, booking.Status)
	require.NotNil(t, booking.CancelledAt)
	assert.Equal(t, base, *booking.CancelledAt)
}

func TestBookingStore_ExpireStartedAndCountUpcoming(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	now := base.Add(3 * time.Hour)

	seedSlot(t, store, "slot-past", "spec-1", base, true)
	seedSlot(t, store, "slot-now", "spec-1", now, true)
	seedSlot(t, store, "slot-soon", "spec-1", now.Add(time.Hour), true)
	seedSlot(t, store, "slot-cancelled", "spec-1", base.Add(-2*time.Hour), false)

	require.NoError(t, store.Bookings().Create(ctx, confirmed("b-past", "slot-past", "client-1", nil)))
	require.NoError(t, store.Bookings().Create(ctx, confirmed("b-now", "slot-now", "client-2", nil)))
	require.NoError(t, store.Bookings().Create(ctx, confirmed("b-soon", "slot-soon", "client-3", nil)))
	cancelled := confirmed("b-cancelled", "slot-cancelled", "client-4", nil)
	cancelled.Status = entities.BookingStatusCancelled
	require.NoError(t, store.Bookings().Create(ctx, cancelled))

	upcoming, err := store.Bookings().CountUpcoming(ctx, now, now.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, upcoming)

	expired, err := store.Bookings().ExpireStarted(ctx, now, now)
	require.NoError(t, err)
	require.Len(t, expired, 2)
	assert.Equal(t, "b-now", expired[0].ID)
	assert.Equal(t, "b-past", expired[1].ID)

	again, err := store.Bookings().ExpireStarted(ctx, now, now)
	require.NoError(t, err)
	assert.Empty(t, again)

	soon, err := store.Bookings().GetByID(ctx, "b-soon")
	require.NoError(t, err)
	assert.True(t, soon.IsActive())
}

func TestBookingStore_ListFilters(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	seedSlot(t, store, "slot-1", "spec-1", base, true)
	seedSlot(t, store, "slot-2", "spec-2", base.Add(2*time.Hour), true)
	seedSlot(t, store, "slot-3", "spec-1", base.Add(4*time.Hour), false)

	require.NoError(t, store.Bookings().Create(ctx, confirmed("b-1", "slot-1", "client-1", nil)))
	require.NoError(t, store.Bookings().Create(ctx, confirmed("b-2", "slot-2", "client-1", nil)))
	old := confirmed("b-3", "slot-3", "client-2", nil)
	old.Status = entities.BookingStatusCancelled
	require.NoError(t, store.Bookings().Create(ctx, old))

	mine, err := store.Bookings().ListByClient(ctx, "client-1", repositories.BookingFilter{})
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	spec1, err := store.Bookings().ListBySpecialist(ctx, "spec-1", repositories.BookingFilter{})
	require.NoError(t, err)
	assert.Len(t, spec1, 2)

	active, err := store.Bookings().ListBySpecialist(ctx, "spec-1", repositories.BookingFilter{Status: entities.BookingStatusConfirmed})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "b-1", active[0].ID)

	page, err := store.Bookings().ListByClient(ctx, "client-1", repositories.BookingFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "b-2", page[0].ID)
}

func TestWaitListStore_FIFOOrder(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	seedSlot(t, store, "slot-1", "spec-1", base, true)

	entries := []*entities.WaitListEntry{
		{ID: "w-3", SlotID: "slot-1", ClientID: "client-c", CreatedAt: base.Add(time.Minute)},
		{ID: "w-2", SlotID: "slot-1", ClientID: "client-b", CreatedAt: base},
		{ID: "w-1", SlotID: "slot-1", ClientID: "client-a", CreatedAt: base},
	}
	for _, e := range entries {
		require.NoError(t, store.WaitList().Create(ctx, e))
	}

	head, err := store.WaitList().Head(ctx, "slot-1")
	require.NoError(t, err)
	require.NotNil(t, head)
	assert.Equal(t, "w-1", head.ID, "equal timestamps are tie-broken by id")

	err = store.WaitList().Create(ctx, &entities.WaitListEntry{ID: "w-9", SlotID: "slot-1", ClientID: "client-a", CreatedAt: base})
	assert.ErrorIs(t, err, repositories.ErrDuplicateKey)

	exists, err := store.WaitList().Exists(ctx, "slot-1", "client-b")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, store.WaitList().Delete(ctx, "w-1"))
	assert.True(t, apperrors.IsNotFound(store.WaitList().Delete(ctx, "w-1")))

	head, err = store.WaitList().Head(ctx, "slot-1")
	require.NoError(t, err)
	assert.Equal(t, "w-2", head.ID)

	empty, err := store.WaitList().Head(ctx, "slot-unknown")
	require.NoError(t, err)
	assert.Nil(t, empty)
}
