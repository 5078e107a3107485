package services_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/zatekoja/slotbooking/internal/adapters/memory"
	"github.com/zatekoja/slotbooking/internal/application/services"
	"github.com/zatekoja/slotbooking/internal/domain/entities"
	"github.com/zatekoja/slotbooking/internal/domain/providers"
	"github.com/zatekoja/slotbooking/internal/domain/repositories"
	apperrors "github.com/zatekoja/slotbooking/pkg/errors"
)

func TestSlotService_Create(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	start := epoch.Add(24 * time.Hour)

	_, err := f.slots.Create(ctx, "spec-1", start, start)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))

	_, err = f.slots.Create(ctx, "", start, start.Add(time.Hour))
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))

	slot, err := f.slots.Create(ctx, "spec-1", start, start.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, slot.IsBooked)
	assert.NotEmpty(t, slot.ID)

	_, err = f.slots.Create(ctx, "spec-1", start.Add(30*time.Minute), start.Add(90*time.Minute))
	assert.True(t, apperrors.IsCode(err, apperrors.CodeSlotOverlap))

	_, err = f.slots.Create(ctx, "spec-1", start.Add(time.Hour), start.Add(2*time.Hour))
	assert.NoError(t, err, "adjacent slots do not overlap")

	_, err = f.slots.Create(ctx, "spec-2", start, start.Add(time.Hour))
	assert.NoError(t, err, "other specialists are independent")
}

func TestSlotService_Delete(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	free := f.slot(t, "spec-1", epoch.Add(24*time.Hour))
	busy := f.slot(t, "spec-1", epoch.Add(26*time.Hour))
	_, err := f.ledger.Reserve(ctx, busy.ID, "client-1", "")
	require.NoError(t, err)

	err = f.slots.Delete(ctx, busy.ID)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeSlotBooked))

	require.NoError(t, f.slots.Delete(ctx, free.ID))
	_, err = f.slots.Get(ctx, free.ID)
	assert.True(t, apperrors.IsNotFound(err))

	err = f.slots.Delete(ctx, "missing")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestSlotService_ListBySpecialist_ReadsThroughCache(t *testing.T) {
	ctx := context.Background()
	store, err := memory.NewStore()
	require.NoError(t, err)
	cache := NewMockCacheProvider()
	svc := services.NewSlotService(store, store.Slots(), cache, time.Minute, nil)

	start := epoch.Add(24 * time.Hour)
	_, err = svc.Create(ctx, "spec-1", start, start.Add(time.Hour))
	require.NoError(t, err)

	slots, err := svc.ListBySpecialist(ctx, "spec-1", repositories.SlotFilter{})
	require.NoError(t, err)
	require.Len(t, slots, 1)
	assert.Equal(t, 1, cache.Len())

	// Written behind the service, so only a cache miss can observe it
	require.NoError(t, store.Slots().Create(ctx, &entities.TimeSlot{
		ID:           "slot-hidden",
		SpecialistID: "spec-1",
		StartAt:      start.Add(4 * time.Hour),
		EndAt:        start.Add(5 * time.Hour),
		CreatedAt:    epoch,
	}))

	cached, err := svc.ListBySpecialist(ctx, "spec-1", repositories.SlotFilter{})
	require.NoError(t, err)
	assert.Len(t, cached, 1)

	require.NoError(t, svc.InvalidateSpecialist(ctx, "spec-1"))
	assert.Zero(t, cache.Len())

	fresh, err := svc.ListBySpecialist(ctx, "spec-1", repositories.SlotFilter{})
	require.NoError(t, err)
	assert.Len(t, fresh, 2)
}

func TestSlotService_ListBySpecialist_Validation(t *testing.T) {
	f := newFixture(t, 0)
	from := epoch.Add(time.Hour)
	to := epoch

	_, err := f.slots.ListBySpecialist(context.Background(), "spec-1", repositories.SlotFilter{From: &from, To: &to})
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))
}

func TestSlotListings_FollowOccupancyWithoutEventBus(t *testing.T) {
	ctx := context.Background()
	store, err := memory.NewStore()
	require.NoError(t, err)
	cache := NewMockCacheProvider()
	clock := &fakeClock{now: epoch}

	// No publisher: nothing downstream of an event can clear the cache
	guard := services.NewSlotGuard(store.Slots(), true)
	ledger := services.NewBookingLedger(store, guard, store.Slots(), store.Bookings(), nil, nil)
	ledger.SetClock(clock.Now)
	waitList := services.NewWaitListService(store, store.Slots(), store.Bookings(), store.WaitList(), ledger, nil, nil)
	waitList.SetClock(clock.Now)
	ledger.SetPromoter(waitList)
	sweeper := services.NewExpirationSweeper(store, guard, store.Slots(), store.Bookings(), waitList, 0, nil, nil)
	slots := services.NewSlotService(store, store.Slots(), cache, time.Minute, nil)
	slots.SetClock(clock.Now)

	ledger.SetSlotCache(cache)
	waitList.SetSlotCache(cache)
	sweeper.SetSlotCache(cache)

	freeSlots := func() []string {
		t.Helper()
		listed, err := slots.ListBySpecialist(ctx, "spec-1", repositories.SlotFilter{OnlyFree: true})
		require.NoError(t, err)
		ids := make([]string, 0, len(listed))
		for _, s := range listed {
			ids = append(ids, s.ID)
		}
		return ids
	}

	create := func(start time.Time) *entities.TimeSlot {
		t.Helper()
		slot, err := slots.Create(ctx, "spec-1", start, start.Add(time.Hour))
		require.NoError(t, err)
		return slot
	}
	past := create(epoch.Add(-2 * time.Hour))
	first := create(epoch.Add(24 * time.Hour))
	second := create(epoch.Add(26 * time.Hour))

	assert.ElementsMatch(t, []string{past.ID, first.ID, second.ID}, freeSlots())
	require.Equal(t, 1, cache.Len(), "listing is cached")

	booking, err := ledger.Reserve(ctx, first.ID, "client-1", "")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{past.ID, second.ID}, freeSlots(), "reserve")

	_, err = ledger.Reschedule(ctx, booking.ID, second.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{past.ID, first.ID}, freeSlots(), "reschedule")

	_, err = waitList.Join(ctx, second.ID, "client-2")
	require.NoError(t, err)
	_, err = ledger.Cancel(ctx, booking.ID, "client-1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{past.ID, first.ID}, freeSlots(), "cancel promoted the wait list")

	promoted, err := store.Bookings().FindConfirmed(ctx, second.ID, "client-2")
	require.NoError(t, err)
	_, err = ledger.Cancel(ctx, promoted.ID, "client-2")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{past.ID, first.ID, second.ID}, freeSlots(), "cancel")

	_, err = ledger.Reserve(ctx, past.ID, "client-3", "")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{first.ID, second.ID}, freeSlots())

	count, err := sweeper.Sweep(ctx, epoch)
	require.NoError(t, err)
	require.Equal(t, 1, count)
	assert.ElementsMatch(t, []string{past.ID, first.ID, second.ID}, freeSlots(), "expiry")
}

func TestSlotListings_InvalidatedWhenPublishingFails(t *testing.T) {
	ctx := context.Background()
	store, err := memory.NewStore()
	require.NoError(t, err)
	cache := NewMockCacheProvider()

	publisher := new(MockPublisher)
	publisher.On("Publish", mock.Anything, providers.EventChannelBookings, mock.Anything).Return(errors.New("broker unreachable"))

	guard := services.NewSlotGuard(store.Slots(), true)
	ledger := services.NewBookingLedger(store, guard, store.Slots(), store.Bookings(), publisher, nil)
	ledger.SetSlotCache(cache)
	slots := services.NewSlotService(store, store.Slots(), cache, time.Minute, nil)

	start := epoch.Add(24 * time.Hour)
	slot, err := slots.Create(ctx, "spec-1", start, start.Add(time.Hour))
	require.NoError(t, err)
	_, err = slots.ListBySpecialist(ctx, "spec-1", repositories.SlotFilter{OnlyFree: true})
	require.NoError(t, err)
	require.Equal(t, 1, cache.Len())

	_, err = ledger.Reserve(ctx, slot.ID, "client-1", "")
	require.NoError(t, err, "publish failures never fail the reservation")
	assert.Zero(t, cache.Len())
	publisher.AssertExpectations(t)

	free, err := slots.ListBySpecialist(ctx, "spec-1", repositories.SlotFilter{OnlyFree: true})
	require.NoError(t, err)
	assert.Empty(t, free)
}
