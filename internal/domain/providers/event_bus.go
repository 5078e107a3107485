package providers

import (
	"context"

	"github.com/zatekoja/slotbooking/internal/domain/entities"
)

// EventPublisher publishes booking events after their transaction has committed
type EventPublisher interface {
	// Publish publishes an event to a channel
	Publish(ctx context.Context, channel string, event *entities.BookingEvent) error

	// Close releases the publisher's resources
	Close() error
}

// EventBus defines the interface for publishing and subscribing to booking events
type EventBus interface {
	EventPublisher

	// Subscribe subscribes to events on a channel
	Subscribe(ctx context.Context, channel string) (<-chan *entities.BookingEvent, error)

	// Unsubscribe unsubscribes from a channel
	Unsubscribe(ctx context.Context, channel string) error
}

// EventChannelBookings is the channel for all booking, slot and wait-list changes
const EventChannelBookings = "bookings:events"
