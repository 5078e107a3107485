package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/zatekoja/slotbooking/internal/domain/entities"
	"github.com/zatekoja/slotbooking/internal/domain/providers"
	"github.com/zatekoja/slotbooking/internal/domain/repositories"
	"github.com/zatekoja/slotbooking/internal/infrastructure/observability"
	apperrors "github.com/zatekoja/slotbooking/pkg/errors"
)

const slotListCachePrefix = "slots:"

// SlotListCachePattern matches every cached slot listing of a specialist
func SlotListCachePattern(specialistID string) string {
	return fmt.Sprintf("%s%s:*", slotListCachePrefix, specialistID)
}

func slotListCacheKey(specialistID string, filter repositories.SlotFilter) string {
	bound := func(t *time.Time) string {
		if t == nil {
			return "-"
		}
		return t.UTC().Format(time.RFC3339)
	}
	return fmt.Sprintf("%s%s:%s:%s:%t:%d:%d",
		slotListCachePrefix, specialistID, bound(filter.From), bound(filter.To), filter.OnlyFree, filter.Limit, filter.Offset)
}

// SlotService manages a specialist's bookable slots
type SlotService struct {
	tx       repositories.Transactor
	slots    repositories.SlotRepository
	cache    providers.CacheProvider
	cacheTTL time.Duration
	events   eventEmitter
	now      Clock
}

// NewSlotService creates a new slot service. cache may be nil.
func NewSlotService(
	tx repositories.Transactor,
	slots repositories.SlotRepository,
	cache providers.CacheProvider,
	cacheTTL time.Duration,
	publisher providers.EventPublisher,
) *SlotService {
	return &SlotService{
		tx:       tx,
		slots:    slots,
		cache:    cache,
		cacheTTL: cacheTTL,
		events:   eventEmitter{publisher: publisher},
		now:      systemClock,
	}
}

// SetClock replaces the time source
func (s *SlotService) SetClock(clock Clock) {
	s.now = clock
}

// Create adds a free slot for a specialist. The slot must end after it starts
// and must not overlap another slot of the same specialist.
func (s *SlotService) Create(ctx context.Context, specialistID string, startAt, endAt time.Time) (*entities.TimeSlot, error) {
	specialistID = strings.TrimSpace(specialistID)
	if specialistID == "" {
		return nil, apperrors.NewValidationError("specialist id is required")
	}
	if !endAt.After(startAt) {
		return nil, apperrors.NewValidationError("end_at must be after start_at")
	}

	slot := &entities.TimeSlot{
		ID:           newID(),
		SpecialistID: specialistID,
		StartAt:      startAt.UTC(),
		EndAt:        endAt.UTC(),
		CreatedAt:    s.now(),
	}

	err := s.tx.WithinTx(ctx, func(txCtx context.Context) error {
		overlap, err := s.slots.HasOverlap(txCtx, specialistID, slot.StartAt, slot.EndAt)
		if err != nil {
			return err
		}
		if overlap {
			return apperrors.NewConflictError(apperrors.CodeSlotOverlap, "slot overlaps an existing slot")
		}
		return s.slots.Create(txCtx, slot)
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, specialistID)
	event := entities.NewBookingEvent(entities.BookingEventSlotCreated, slot.ID, slot.CreatedAt)
	event.SpecialistID = specialistID
	s.events.emit(ctx, event)
	return slot, nil
}

// Get retrieves a slot by ID
func (s *SlotService) Get(ctx context.Context, slotID string) (*entities.TimeSlot, error) {
	return s.slots.GetByID(ctx, slotID)
}

// Delete removes a slot while it is free
func (s *SlotService) Delete(ctx context.Context, slotID string) error {
	slot, err := s.slots.GetByID(ctx, slotID)
	if err != nil {
		return err
	}

	deleted, err := s.slots.DeleteFree(ctx, slotID)
	if err != nil {
		return err
	}
	if !deleted {
		return apperrors.NewConflictError(apperrors.CodeSlotBooked, "booked slots cannot be deleted")
	}

	s.invalidate(ctx, slot.SpecialistID)
	event := entities.NewBookingEvent(entities.BookingEventSlotDeleted, slotID, s.now())
	event.SpecialistID = slot.SpecialistID
	s.events.emit(ctx, event)
	return nil
}

// ListBySpecialist lists a specialist's slots, reading through the cache
func (s *SlotService) ListBySpecialist(ctx context.Context, specialistID string, filter repositories.SlotFilter) ([]*entities.TimeSlot, error) {
	if filter.From != nil && filter.To != nil && !filter.From.Before(*filter.To) {
		return nil, apperrors.NewValidationError("from must be before to")
	}
	if filter.Offset < 0 {
		return nil, apperrors.NewValidationError("offset must not be negative")
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}

	logger := observability.ComponentLogger(ctx, "slot_service")
	key := slotListCacheKey(specialistID, filter)

	if s.cache != nil {
		data, err := s.cache.Get(ctx, key)
		switch {
		case err == nil:
			var slots []*entities.TimeSlot
			if jsonErr := json.Unmarshal(data, &slots); jsonErr == nil {
				return slots, nil
			}
			logger.Warn().Str("key", key).Msg("discarding undecodable cached slot list")
		case !errors.Is(err, providers.ErrCacheMiss):
			logger.Warn().Err(err).Str("key", key).Msg("slot cache read failed")
		}
	}

	slots, err := s.slots.ListBySpecialist(ctx, specialistID, filter)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if data, err := json.Marshal(slots); err == nil {
			if err := s.cache.Set(ctx, key, data, int(s.cacheTTL.Seconds())); err != nil {
				logger.Warn().Err(err).Str("key", key).Msg("slot cache write failed")
			}
		}
	}
	return slots, nil
}

// InvalidateSpecialist drops every cached slot listing of a specialist
func (s *SlotService) InvalidateSpecialist(ctx context.Context, specialistID string) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.DeletePattern(ctx, SlotListCachePattern(specialistID))
}

func (s *SlotService) invalidate(ctx context.Context, specialistID string) {
	if err := s.InvalidateSpecialist(ctx, specialistID); err != nil {
		observability.ComponentLogger(ctx, "slot_service").Warn().
			Err(err).
			Str("specialist_id", specialistID).
			Msg("failed to invalidate slot cache")
	}
}
