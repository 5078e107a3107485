package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/zatekoja/slotbooking/internal/domain/entities"
	"github.com/zatekoja/slotbooking/internal/domain/providers"
	"github.com/zatekoja/slotbooking/internal/domain/repositories"
	"github.com/zatekoja/slotbooking/internal/infrastructure/observability"
	apperrors "github.com/zatekoja/slotbooking/pkg/errors"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// Promoter hands a freed slot to its wait list
type Promoter interface {
	PromoteNext(ctx context.Context, slotID string) (*entities.Booking, error)
}

// BookingLedger is the only writer of booking rows
type BookingLedger struct {
	tx       repositories.Transactor
	guard    *SlotGuard
	slots    repositories.SlotRepository
	bookings repositories.BookingRepository
	promoter Promoter
	events   eventEmitter
	metrics  *observability.Metrics
	now      Clock
}

// NewBookingLedger creates a new booking ledger
func NewBookingLedger(
	tx repositories.Transactor,
	guard *SlotGuard,
	slots repositories.SlotRepository,
	bookings repositories.BookingRepository,
	publisher providers.EventPublisher,
	metrics *observability.Metrics,
) *BookingLedger {
	return &BookingLedger{
		tx:       tx,
		guard:    guard,
		slots:    slots,
		bookings: bookings,
		events:   eventEmitter{publisher: publisher},
		metrics:  metrics,
		now:      systemClock,
	}
}

// SetPromoter sets the wait list promoted after cancel and reschedule
func (l *BookingLedger) SetPromoter(promoter Promoter) {
	l.promoter = promoter
}

// SetSlotCache sets the cache whose slot listings are dropped after every
// committed occupancy change
func (l *BookingLedger) SetSlotCache(cache providers.CacheProvider) {
	l.events.cache = cache
}

// SetClock replaces the time source
func (l *BookingLedger) SetClock(clock Clock) {
	l.now = clock
}

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func validateIdempotencyKey(key string) error {
	if len(key) > entities.MaxIdempotencyKeyLength {
		return apperrors.NewValidationError(fmt.Sprintf("idempotency key must be at most %d characters", entities.MaxIdempotencyKeyLength))
	}
	return nil
}

// Reserve books a free slot for a client. A repeated call with the same
// idempotency key and slot returns the original booking without side effects.
func (l *BookingLedger) Reserve(ctx context.Context, slotID, clientID, idempotencyKey string) (*entities.Booking, error) {
	booking, _, err := l.ReserveWithReplay(ctx, slotID, clientID, idempotencyKey)
	return booking, err
}

// ReserveWithReplay is Reserve that also reports whether the booking was
// returned from the idempotency index instead of being created
func (l *BookingLedger) ReserveWithReplay(ctx context.Context, slotID, clientID, idempotencyKey string) (*entities.Booking, bool, error) {
	ctx, span := observability.StartSpan(ctx, "BookingLedger.Reserve")
	defer span.End()
	observability.SetSpanAttributes(span,
		attribute.String("slot.id", slotID),
		attribute.String("client.id", clientID),
	)

	booking, replayed, err := l.reserve(ctx, slotID, clientID, idempotencyKey)
	outcome := outcomeOf(err)
	if replayed {
		outcome = "replay"
	}
	l.metrics.RecordReservation(ctx, outcome)
	if err != nil {
		observability.RecordError(span, err)
		return nil, false, err
	}
	return booking, replayed, nil
}

func (l *BookingLedger) reserve(ctx context.Context, slotID, clientID, key string) (*entities.Booking, bool, error) {
	slotID = strings.TrimSpace(slotID)
	clientID = strings.TrimSpace(clientID)
	if slotID == "" || clientID == "" {
		return nil, false, apperrors.NewValidationError("slot id and client id are required")
	}
	if err := validateIdempotencyKey(key); err != nil {
		return nil, false, err
	}

	logger := l.logger(ctx).With().Str("slot_id", slotID).Str("client_id", clientID).Logger()

	if key != "" {
		existing, err := l.resolveKey(ctx, slotID, clientID, key)
		if err != nil || existing != nil {
			return existing, existing != nil, err
		}
	}

	var (
		booking *entities.Booking
		slot    *entities.TimeSlot
	)
	err := l.tx.WithinTx(ctx, func(txCtx context.Context) error {
		var err error
		booking, slot, err = l.reserveInTx(txCtx, slotID, clientID, key)
		return err
	})
	if err != nil {
		lostRace := apperrors.IsCode(err, apperrors.CodeSlotAlreadyBooked) || errors.Is(err, repositories.ErrDuplicateKey)
		if key != "" && lostRace {
			// A concurrent retry with the same key may have won. The failed
			// transaction is gone, so the index is read outside it.
			existing, rerr := l.resolveKey(ctx, slotID, clientID, key)
			if rerr != nil {
				return nil, false, rerr
			}
			if existing != nil {
				logger.Info().Str("booking_id", existing.ID).Msg("reservation replayed after concurrent retry")
				return existing, true, nil
			}
		}
		if errors.Is(err, repositories.ErrDuplicateKey) {
			return nil, false, slotAlreadyBooked(slotID)
		}
		return nil, false, err
	}

	logger.Info().Str("booking_id", booking.ID).Msg("slot reserved")
	event := entities.NewBookingEvent(entities.BookingEventReserved, slotID, booking.CreatedAt).ForBooking(booking)
	event.SpecialistID = slot.SpecialistID
	l.events.emit(ctx, event)
	return booking, false, nil
}

// ReserveInTx runs the reservation steps inside the caller's transaction and
// publishes nothing; the caller reports the change once it has committed.
func (l *BookingLedger) ReserveInTx(ctx context.Context, slotID, clientID, idempotencyKey string) (*entities.Booking, error) {
	booking, _, err := l.reserveInTx(ctx, slotID, clientID, idempotencyKey)
	return booking, err
}

func (l *BookingLedger) reserveInTx(ctx context.Context, slotID, clientID, key string) (*entities.Booking, *entities.TimeSlot, error) {
	slot, err := l.guard.Acquire(ctx, slotID)
	if err != nil {
		return nil, nil, err
	}

	booking := &entities.Booking{
		ID:        newID(),
		SlotID:    slotID,
		ClientID:  clientID,
		Status:    entities.BookingStatusConfirmed,
		CreatedAt: l.now(),
	}
	if key != "" {
		booking.IdempotencyKey = &key
	}

	if err := l.bookings.Create(ctx, booking); err != nil {
		return nil, nil, err
	}
	return booking, slot, nil
}

// resolveKey returns the booking already created with key for this slot, nil
// when the key is unused, or IDEMPOTENCY_KEY_CONFLICT when it names another slot
func (l *BookingLedger) resolveKey(ctx context.Context, slotID, clientID, key string) (*entities.Booking, error) {
	existing, err := l.bookings.FindByIdempotencyKey(ctx, clientID, key)
	if err != nil || existing == nil {
		return nil, err
	}
	if existing.SlotID != slotID {
		return nil, apperrors.NewConflictError(
			apperrors.CodeIdempotencyKeyConflict,
			fmt.Sprintf("idempotency key was already used for slot %s", existing.SlotID),
		)
	}
	return existing, nil
}

// Cancel cancels a confirmed booking and frees its slot. Cancelling a booking
// that is already cancelled or expired returns it unchanged. The slot's wait
// list is promoted after the cancellation has committed.
func (l *BookingLedger) Cancel(ctx context.Context, bookingID, requestedBy string) (*entities.Booking, error) {
	ctx, span := observability.StartSpan(ctx, "BookingLedger.Cancel")
	defer span.End()
	observability.SetSpanAttributes(span, attribute.String("booking.id", bookingID))

	var (
		booking *entities.Booking
		slot    *entities.TimeSlot
		changed bool
	)
	err := l.tx.WithinTx(ctx, func(txCtx context.Context) error {
		current, err := l.bookings.GetByID(txCtx, bookingID)
		if err != nil {
			return err
		}

		slot, err = l.guard.Inspect(txCtx, current.SlotID)
		if err != nil {
			return err
		}

		// Re-read under the slot lock so a concurrent reschedule is observed
		current, err = l.bookings.GetByID(txCtx, bookingID)
		if err != nil {
			return err
		}
		if current.SlotID != slot.ID {
			return apperrors.NewLockUnavailableError("booking moved to another slot while cancelling", nil)
		}

		if !current.IsActive() {
			booking = current
			return nil
		}

		at := l.now()
		ok, err := l.bookings.Transition(txCtx, bookingID, entities.BookingStatusConfirmed, entities.BookingStatusCancelled, at)
		if err != nil {
			return err
		}
		if !ok {
			// Another transaction ended the booking first
			booking, err = l.bookings.GetByID(txCtx, bookingID)
			return err
		}

		if err := l.guard.Release(txCtx, current.SlotID); err != nil {
			return err
		}

		current.Status = entities.BookingStatusCancelled
		current.CancelledAt = &at
		booking = current
		changed = true
		return nil
	})

	if err != nil {
		l.metrics.RecordCancel(ctx, outcomeOf(err))
		observability.RecordError(span, err)
		return nil, err
	}
	if !changed {
		l.metrics.RecordCancel(ctx, "noop")
		return booking, nil
	}

	l.metrics.RecordCancel(ctx, "ok")
	l.logger(ctx).Info().
		Str("booking_id", booking.ID).
		Str("slot_id", booking.SlotID).
		Str("requested_by", requestedBy).
		Msg("booking cancelled")

	event := entities.NewBookingEvent(entities.BookingEventCancelled, booking.SlotID, *booking.CancelledAt).ForBooking(booking)
	event.SpecialistID = slot.SpecialistID
	if requestedBy != "" {
		event.Metadata = map[string]interface{}{"requested_by": requestedBy}
	}
	l.events.emit(ctx, event)

	l.promote(ctx, booking.SlotID)
	return booking, nil
}

// Reschedule moves a confirmed booking to another slot of the same specialist.
// The target slot is acquired before the source slot is freed, so the client
// never holds zero slots; on any failure the original booking is untouched.
func (l *BookingLedger) Reschedule(ctx context.Context, bookingID, newSlotID string) (*entities.Booking, error) {
	ctx, span := observability.StartSpan(ctx, "BookingLedger.Reschedule")
	defer span.End()
	observability.SetSpanAttributes(span,
		attribute.String("booking.id", bookingID),
		attribute.String("slot.id", newSlotID),
	)

	newSlotID = strings.TrimSpace(newSlotID)
	if newSlotID == "" {
		return nil, apperrors.NewValidationError("new slot id is required")
	}

	var (
		booking    *entities.Booking
		fromSlotID string
		target     *entities.TimeSlot
	)
	err := l.tx.WithinTx(ctx, func(txCtx context.Context) error {
		current, err := l.bookings.GetByID(txCtx, bookingID)
		if err != nil {
			return err
		}
		if !current.IsActive() {
			return apperrors.NewConflictError(apperrors.CodeBookingNotActive, fmt.Sprintf("booking %s is %s", bookingID, current.Status))
		}
		if current.SlotID == newSlotID {
			booking = current
			return nil
		}

		source, err := l.guard.Inspect(txCtx, current.SlotID)
		if err != nil {
			return err
		}

		target, err = l.slots.GetByID(txCtx, newSlotID)
		if err != nil {
			return err
		}
		if target.SpecialistID != source.SpecialistID {
			return apperrors.NewConflictError(apperrors.CodeCrossSpecialistReschedule, "bookings can only move between slots of the same specialist")
		}

		if _, err := l.guard.Acquire(txCtx, newSlotID); err != nil {
			return err
		}

		ok, err := l.bookings.MoveToSlot(txCtx, bookingID, current.SlotID, newSlotID)
		if err != nil {
			return err
		}
		if !ok {
			return apperrors.NewConflictError(apperrors.CodeBookingNotActive, fmt.Sprintf("booking %s changed while rescheduling", bookingID))
		}

		if err := l.guard.Release(txCtx, current.SlotID); err != nil {
			return err
		}

		fromSlotID = current.SlotID
		current.SlotID = newSlotID
		booking = current
		return nil
	})

	if err != nil {
		l.metrics.RecordReschedule(ctx, outcomeOf(err))
		observability.RecordError(span, err)
		return nil, err
	}
	if fromSlotID == "" {
		l.metrics.RecordReschedule(ctx, "noop")
		return booking, nil
	}

	l.metrics.RecordReschedule(ctx, "ok")
	l.logger(ctx).Info().
		Str("booking_id", booking.ID).
		Str("from_slot_id", fromSlotID).
		Str("to_slot_id", newSlotID).
		Msg("booking rescheduled")

	event := entities.NewBookingEvent(entities.BookingEventRescheduled, newSlotID, l.now()).ForBooking(booking)
	event.SpecialistID = target.SpecialistID
	event.PreviousSlotID = fromSlotID
	l.events.emit(ctx, event)

	l.promote(ctx, fromSlotID)
	return booking, nil
}

// promote runs the wait list of a freed slot. Its failures never undo the
// change that freed the slot.
func (l *BookingLedger) promote(ctx context.Context, slotID string) {
	if l.promoter == nil {
		return
	}
	if _, err := l.promoter.PromoteNext(ctx, slotID); err != nil {
		l.logger(ctx).Warn().Err(err).Str("slot_id", slotID).Msg("wait-list promotion failed")
	}
}

// Get retrieves a booking by ID
func (l *BookingLedger) Get(ctx context.Context, bookingID string) (*entities.Booking, error) {
	return l.bookings.GetByID(ctx, bookingID)
}

// ListByClient retrieves bookings for a client
func (l *BookingLedger) ListByClient(ctx context.Context, clientID string, filter repositories.BookingFilter) ([]*entities.Booking, error) {
	if err := normalizeBookingFilter(&filter); err != nil {
		return nil, err
	}
	return l.bookings.ListByClient(ctx, clientID, filter)
}

// ListBySpecialist retrieves bookings on a specialist's slots
func (l *BookingLedger) ListBySpecialist(ctx context.Context, specialistID string, filter repositories.BookingFilter) ([]*entities.Booking, error) {
	if err := normalizeBookingFilter(&filter); err != nil {
		return nil, err
	}
	return l.bookings.ListBySpecialist(ctx, specialistID, filter)
}

func normalizeBookingFilter(filter *repositories.BookingFilter) error {
	switch filter.Status {
	case "", entities.BookingStatusConfirmed, entities.BookingStatusCancelled, entities.BookingStatusExpired:
	default:
		return apperrors.NewValidationError(fmt.Sprintf("unknown booking status %q", filter.Status))
	}
	if filter.From != nil && filter.To != nil && !filter.From.Before(*filter.To) {
		return apperrors.NewValidationError("from must be before to")
	}
	if filter.Offset < 0 {
		return apperrors.NewValidationError("offset must not be negative")
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	return nil
}

func (l *BookingLedger) logger(ctx context.Context) *zerolog.Logger {
	return observability.ComponentLogger(ctx, "booking_ledger")
}
