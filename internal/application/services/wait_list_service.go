package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/zatekoja/slotbooking/internal/domain/entities"
	"github.com/zatekoja/slotbooking/internal/domain/providers"
	"github.com/zatekoja/slotbooking/internal/domain/repositories"
	"github.com/zatekoja/slotbooking/internal/infrastructure/observability"
	apperrors "github.com/zatekoja/slotbooking/pkg/errors"
)

// Reserver books a slot inside the caller's transaction
type Reserver interface {
	ReserveInTx(ctx context.Context, slotID, clientID, idempotencyKey string) (*entities.Booking, error)
}

// WaitListService manages the FIFO queue of clients waiting for an occupied slot
type WaitListService struct {
	tx       repositories.Transactor
	slots    repositories.SlotRepository
	bookings repositories.BookingRepository
	waitList repositories.WaitListRepository
	reserver Reserver
	events   eventEmitter
	metrics  *observability.Metrics
	now      Clock
}

// NewWaitListService creates a new wait-list service
func NewWaitListService(
	tx repositories.Transactor,
	slots repositories.SlotRepository,
	bookings repositories.BookingRepository,
	waitList repositories.WaitListRepository,
	reserver Reserver,
	publisher providers.EventPublisher,
	metrics *observability.Metrics,
) *WaitListService {
	return &WaitListService{
		tx:       tx,
		slots:    slots,
		bookings: bookings,
		waitList: waitList,
		reserver: reserver,
		events:   eventEmitter{publisher: publisher},
		metrics:  metrics,
		now:      systemClock,
	}
}

// SetSlotCache sets the cache whose slot listings are dropped after every
// committed occupancy change
func (s *WaitListService) SetSlotCache(cache providers.CacheProvider) {
	s.events.cache = cache
}

// SetClock replaces the time source
func (s *WaitListService) SetClock(clock Clock) {
	s.now = clock
}

// Join enrolls a client in the wait list of an occupied slot
func (s *WaitListService) Join(ctx context.Context, slotID, clientID string) (*entities.WaitListEntry, error) {
	slotID = strings.TrimSpace(slotID)
	clientID = strings.TrimSpace(clientID)
	if slotID == "" || clientID == "" {
		return nil, apperrors.NewValidationError("slot id and client id are required")
	}

	slot, err := s.slots.GetByID(ctx, slotID)
	if err != nil {
		return nil, err
	}
	if !slot.IsBooked {
		return nil, apperrors.NewConflictError(apperrors.CodeSlotNotOccupied, "slot is free; reserve it directly")
	}

	held, err := s.bookings.FindConfirmed(ctx, slotID, clientID)
	if err != nil {
		return nil, err
	}
	if held != nil {
		return nil, apperrors.NewConflictError(apperrors.CodeAlreadyBooked, "client already holds this slot")
	}

	exists, err := s.waitList.Exists(ctx, slotID, clientID)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, duplicateEntry()
	}

	entry := &entities.WaitListEntry{
		ID:        newID(),
		SlotID:    slotID,
		ClientID:  clientID,
		CreatedAt: s.now(),
	}
	if err := s.waitList.Create(ctx, entry); err != nil {
		if errors.Is(err, repositories.ErrDuplicateKey) {
			return nil, duplicateEntry()
		}
		return nil, err
	}

	observability.ComponentLogger(ctx, "wait_list").Info().
		Str("entry_id", entry.ID).
		Str("slot_id", slotID).
		Str("client_id", clientID).
		Msg("joined wait list")

	event := entities.NewBookingEvent(entities.BookingEventWaitListJoin, slotID, entry.CreatedAt)
	event.SpecialistID = slot.SpecialistID
	event.ClientID = clientID
	s.events.emit(ctx, event)
	return entry, nil
}

func duplicateEntry() error {
	return apperrors.NewConflictError(apperrors.CodeDuplicateWaitListEntry, "client is already on the wait list for this slot")
}

// Leave removes an entry from the wait list. Ownership is checked by the caller.
func (s *WaitListService) Leave(ctx context.Context, entryID, requestedBy string) error {
	entry, err := s.waitList.GetByID(ctx, entryID)
	if err != nil {
		return err
	}
	if err := s.waitList.Delete(ctx, entryID); err != nil {
		return err
	}

	observability.ComponentLogger(ctx, "wait_list").Info().
		Str("entry_id", entryID).
		Str("slot_id", entry.SlotID).
		Str("requested_by", requestedBy).
		Msg("left wait list")

	event := entities.NewBookingEvent(entities.BookingEventWaitListLeave, entry.SlotID, s.now())
	event.ClientID = entry.ClientID
	if requestedBy != "" {
		event.Metadata = map[string]interface{}{"requested_by": requestedBy}
	}
	s.events.emit(ctx, event)
	return nil
}

// ListBySlot returns the queue for a slot in promotion order
func (s *WaitListService) ListBySlot(ctx context.Context, slotID string) ([]*entities.WaitListEntry, error) {
	if _, err := s.slots.GetByID(ctx, slotID); err != nil {
		return nil, err
	}
	return s.waitList.ListBySlot(ctx, slotID)
}

// PromoteNext reserves the slot for the earliest queued client and removes
// that entry in the same transaction. It returns nil when the queue is empty.
// If the reservation fails with a conflict the promotion is abandoned: the
// entry stays queued and the next entry is not tried.
func (s *WaitListService) PromoteNext(ctx context.Context, slotID string) (*entities.Booking, error) {
	ctx, span := observability.StartSpan(ctx, "WaitListService.PromoteNext")
	defer span.End()
	observability.SetSpanAttributes(span, attribute.String("slot.id", slotID))

	logger := observability.ComponentLogger(ctx, "wait_list").With().Str("slot_id", slotID).Logger()

	var (
		head    *entities.WaitListEntry
		booking *entities.Booking
	)
	err := s.tx.WithinTx(ctx, func(txCtx context.Context) error {
		var err error
		head, err = s.waitList.Head(txCtx, slotID)
		if err != nil || head == nil {
			return err
		}

		booking, err = s.reserver.ReserveInTx(txCtx, slotID, head.ClientID, "")
		if err != nil {
			return err
		}
		return s.waitList.Delete(txCtx, head.ID)
	})

	if err != nil {
		if head != nil && apperrors.IsType(err, apperrors.ErrorTypeConflict) {
			s.metrics.RecordPromotion(ctx, "abandoned")
			logger.Warn().
				Err(err).
				Str("entry_id", head.ID).
				Str("client_id", head.ClientID).
				Msg("promotion abandoned")
			return nil, nil
		}
		s.metrics.RecordPromotion(ctx, outcomeOf(err))
		observability.RecordError(span, err)
		return nil, fmt.Errorf("failed to promote wait list for slot %s: %w", slotID, err)
	}
	if head == nil {
		return nil, nil
	}

	s.metrics.RecordPromotion(ctx, "ok")
	logger.Info().
		Str("entry_id", head.ID).
		Str("booking_id", booking.ID).
		Str("client_id", booking.ClientID).
		Msg("wait-list entry promoted")

	event := entities.NewBookingEvent(entities.BookingEventPromoted, slotID, booking.CreatedAt).ForBooking(booking)
	event.Metadata = map[string]interface{}{"wait_list_entry_id": head.ID}
	if slot, err := s.slots.GetByID(ctx, slotID); err == nil {
		event.SpecialistID = slot.SpecialistID
	}
	s.events.emit(ctx, event)
	return booking, nil
}
