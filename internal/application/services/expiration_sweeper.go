package services

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/zatekoja/slotbooking/internal/domain/entities"
	"github.com/zatekoja/slotbooking/internal/domain/providers"
	"github.com/zatekoja/slotbooking/internal/domain/repositories"
	"github.com/zatekoja/slotbooking/internal/infrastructure/observability"
)

// ExpirationSweeper expires confirmed bookings whose slot has started and
// hands the freed slots to their wait lists
type ExpirationSweeper struct {
	tx       repositories.Transactor
	guard    *SlotGuard
	slots    repositories.SlotRepository
	bookings repositories.BookingRepository
	promoter Promoter
	grace    time.Duration
	events   eventEmitter
	metrics  *observability.Metrics
}

// NewExpirationSweeper creates a sweeper. grace delays expiry past the slot start.
func NewExpirationSweeper(
	tx repositories.Transactor,
	guard *SlotGuard,
	slots repositories.SlotRepository,
	bookings repositories.BookingRepository,
	promoter Promoter,
	grace time.Duration,
	publisher providers.EventPublisher,
	metrics *observability.Metrics,
) *ExpirationSweeper {
	return &ExpirationSweeper{
		tx:       tx,
		guard:    guard,
		slots:    slots,
		bookings: bookings,
		promoter: promoter,
		grace:    grace,
		events:   eventEmitter{publisher: publisher},
		metrics:  metrics,
	}
}

// SetSlotCache sets the cache whose slot listings are dropped after every
// committed occupancy change
func (s *ExpirationSweeper) SetSlotCache(cache providers.CacheProvider) {
	s.events.cache = cache
}

// Sweep expires every confirmed booking whose slot started at or before
// now minus the grace offset, frees their slots in the same transaction and
// then promotes each freed slot. It returns the number of expired bookings.
func (s *ExpirationSweeper) Sweep(ctx context.Context, now time.Time) (int, error) {
	ctx, span := observability.StartSpan(ctx, "ExpirationSweeper.Sweep")
	defer span.End()

	logger := observability.ComponentLogger(ctx, "expiration_sweeper")
	cutoff := now.Add(-s.grace)

	var expired []*entities.Booking
	err := s.tx.WithinTx(ctx, func(txCtx context.Context) error {
		var err error
		expired, err = s.bookings.ExpireStarted(txCtx, cutoff, now)
		if err != nil {
			return err
		}

		for _, booking := range expired {
			freed, err := s.guard.Free(txCtx, booking.SlotID)
			if err != nil {
				return err
			}
			if !freed {
				logger.Warn().Str("slot_id", booking.SlotID).Str("booking_id", booking.ID).Msg("expired booking's slot was already free")
			}
		}
		return nil
	})
	if err != nil {
		observability.RecordError(span, err)
		return 0, fmt.Errorf("failed to expire bookings: %w", err)
	}

	observability.SetSpanAttributes(span, attribute.Int("bookings.expired", len(expired)))
	s.metrics.RecordExpirations(ctx, len(expired))
	if len(expired) == 0 {
		return 0, nil
	}
	logger.Info().Int("count", len(expired)).Time("cutoff", cutoff).Msg("expired started bookings")

	promoted := make(map[string]bool, len(expired))
	for _, booking := range expired {
		event := entities.NewBookingEvent(entities.BookingEventExpired, booking.SlotID, now).ForBooking(booking)
		if slot, err := s.slots.GetByID(ctx, booking.SlotID); err == nil {
			event.SpecialistID = slot.SpecialistID
		}
		s.events.emit(ctx, event)

		if s.promoter == nil || promoted[booking.SlotID] {
			continue
		}
		promoted[booking.SlotID] = true
		if _, err := s.promoter.PromoteNext(ctx, booking.SlotID); err != nil {
			logger.Warn().Err(err).Str("slot_id", booking.SlotID).Msg("wait-list promotion failed")
		}
	}

	return len(expired), nil
}

// CountUpcoming counts confirmed bookings whose slot starts within lookahead of now
func (s *ExpirationSweeper) CountUpcoming(ctx context.Context, now time.Time, lookahead time.Duration) (int, error) {
	return s.bookings.CountUpcoming(ctx, now, now.Add(lookahead))
}

// Run sweeps every interval until ctx is done, logging the number of
// bookings starting within lookahead after each pass
func (s *ExpirationSweeper) Run(ctx context.Context, interval, lookahead time.Duration, clock Clock) {
	if clock == nil {
		clock = systemClock
	}
	logger := observability.ComponentLogger(ctx, "expiration_sweeper")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		s.runOnce(ctx, clock(), lookahead)

		select {
		case <-ctx.Done():
			logger.Info().Msg("expiration sweeper stopped")
			return
		case <-ticker.C:
		}
	}
}

func (s *ExpirationSweeper) runOnce(ctx context.Context, now time.Time, lookahead time.Duration) {
	logger := observability.ComponentLogger(ctx, "expiration_sweeper")

	expired, err := s.Sweep(ctx, now)
	if err != nil {
		logger.Error().Err(err).Msg("sweep failed")
		return
	}

	if lookahead <= 0 {
		return
	}
	upcoming, err := s.CountUpcoming(ctx, now, lookahead)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to count upcoming bookings")
		return
	}
	logger.Info().
		Int("expired", expired).
		Int("upcoming", upcoming).
		Dur("lookahead", lookahead).
		Msg("sweep completed")
}
