package entities

import (
	"time"

	"github.com/google/uuid"
)

// BookingEventType represents the type of a booking state change
type BookingEventType string

const (
	BookingEventReserved      BookingEventType = "booking_reserved"
	BookingEventCancelled     BookingEventType = "booking_cancelled"
	BookingEventRescheduled   BookingEventType = "booking_rescheduled"
	BookingEventExpired       BookingEventType = "booking_expired"
	BookingEventPromoted      BookingEventType = "booking_promoted"
	BookingEventWaitListJoin  BookingEventType = "wait_list_joined"
	BookingEventWaitListLeave BookingEventType = "wait_list_left"
	BookingEventSlotCreated   BookingEventType = "slot_created"
	BookingEventSlotDeleted   BookingEventType = "slot_deleted"
)

// BookingEvent is published after a committed booking, slot or wait-list change
type BookingEvent struct {
	ID           string           `json:"id"`
	Type         BookingEventType `json:"type"`
	SlotID       string           `json:"slot_id"`
	SpecialistID string           `json:"specialist_id,omitempty"`
	BookingID    string           `json:"booking_id,omitempty"`
	ClientID     string           `json:"client_id,omitempty"`
	// PreviousSlotID is set on reschedule
	PreviousSlotID string                 `json:"previous_slot_id,omitempty"`
	Timestamp      time.Time              `json:"timestamp"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// NewBookingEvent creates a new booking event for the given slot
func NewBookingEvent(eventType BookingEventType, slotID string, at time.Time) *BookingEvent {
	return &BookingEvent{
		ID:        uuid.NewString(),
		Type:      eventType,
		SlotID:    slotID,
		Timestamp: at,
	}
}

// ForBooking fills the booking fields of the event
func (e *BookingEvent) ForBooking(b *Booking) *BookingEvent {
	e.BookingID = b.ID
	e.ClientID = b.ClientID
	return e
}
