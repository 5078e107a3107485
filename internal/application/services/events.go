package services

import (
	"context"
	"strings"
	"time"

	"github.com/zatekoja/slotbooking/internal/domain/entities"
	"github.com/zatekoja/slotbooking/internal/domain/providers"
	"github.com/zatekoja/slotbooking/internal/infrastructure/observability"
	apperrors "github.com/zatekoja/slotbooking/pkg/errors"
)

// Clock returns the current time
type Clock func() time.Time

func systemClock() time.Time {
	return time.Now().UTC()
}

// eventEmitter reports committed changes. A nil publisher disables events;
// a nil cache disables slot listing invalidation.
type eventEmitter struct {
	publisher providers.EventPublisher
	cache     providers.CacheProvider
}

// emit must only be called after the change it describes has committed.
// Cached listings of the specialist are dropped before the event goes out so
// subscribers never read a listing older than the event. Failures are logged
// and never surface to the caller.
func (e *eventEmitter) emit(ctx context.Context, event *entities.BookingEvent) {
	if e.cache != nil && event.SpecialistID != "" && changesOccupancy(event.Type) {
		if err := e.cache.DeletePattern(ctx, SlotListCachePattern(event.SpecialistID)); err != nil {
			observability.ComponentLogger(ctx, "events").Warn().
				Err(err).
				Str("specialist_id", event.SpecialistID).
				Msg("failed to invalidate slot cache")
		}
	}

	if e.publisher == nil {
		return
	}

	if err := e.publisher.Publish(ctx, providers.EventChannelBookings, event); err != nil {
		observability.ComponentLogger(ctx, "events").Warn().
			Err(err).
			Str("event_type", string(event.Type)).
			Str("slot_id", event.SlotID).
			Msg("failed to publish booking event")
	}
}

// changesOccupancy reports whether the event flipped a slot's is_booked flag
func changesOccupancy(t entities.BookingEventType) bool {
	switch t {
	case entities.BookingEventReserved,
		entities.BookingEventCancelled,
		entities.BookingEventRescheduled,
		entities.BookingEventExpired,
		entities.BookingEventPromoted:
		return true
	}
	return false
}

// outcomeOf names the result of an operation for metrics
func outcomeOf(err error) string {
	if err == nil {
		return "ok"
	}
	if appErr, ok := apperrors.As(err); ok {
		if appErr.Code != "" {
			return strings.ToLower(string(appErr.Code))
		}
		return strings.ToLower(string(appErr.Type))
	}
	return "error"
}
