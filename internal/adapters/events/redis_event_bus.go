package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/zatekoja/slotbooking/internal/domain/entities"
	"github.com/zatekoja/slotbooking/internal/domain/providers"
	redisclient "github.com/zatekoja/slotbooking/internal/infrastructure/clients/redis"
)

// subscriberBuffer is the per-subscriber backlog before events are dropped
const subscriberBuffer = 100

var errBusClosed = errors.New("event bus is closed")

// fanout relays one Redis subscription to the local subscribers of a channel.
// subscribers is guarded by the bus mutex; done closes once every subscriber
// channel has been closed and the relay has stopped.
type fanout struct {
	pubsub      *redis.PubSub
	subscribers map[chan *entities.BookingEvent]struct{}
	done        chan struct{}
}

// RedisEventBus implements the EventBus interface using Redis Pub/Sub. Each
// channel holds a single Redis subscription shared by its local subscribers.
type RedisEventBus struct {
	client  *redisclient.Client
	mu      sync.RWMutex
	fanouts map[string]*fanout
	closed  bool
}

// NewRedisEventBus creates a new Redis-based event bus
func NewRedisEventBus(client *redisclient.Client) *RedisEventBus {
	return &RedisEventBus{
		client:  client,
		fanouts: make(map[string]*fanout),
	}
}

var _ providers.EventBus = (*RedisEventBus)(nil)

// Publish publishes an event to all subscribers
func (b *RedisEventBus) Publish(ctx context.Context, channel string, event *entities.BookingEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := b.client.Client().Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	log.Debug().Str("channel", channel).Str("event_id", event.ID).Str("event_type", string(event.Type)).Msg("published booking event")
	return nil
}

// Subscribe subscribes to events on a channel. The Redis subscription is
// confirmed before Subscribe returns, so events published afterwards are
// delivered. The returned channel closes when ctx is done, the channel is
// unsubscribed or the bus is closed.
func (b *RedisEventBus) Subscribe(ctx context.Context, channel string) (<-chan *entities.BookingEvent, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, errBusClosed
	}

	f, ok := b.fanouts[channel]
	if !ok {
		pubsub := b.client.Client().Subscribe(context.Background(), channel)
		if _, err := pubsub.Receive(ctx); err != nil {
			_ = pubsub.Close()
			return nil, fmt.Errorf("failed to subscribe to %s: %w", channel, err)
		}
		f = &fanout{
			pubsub:      pubsub,
			subscribers: make(map[chan *entities.BookingEvent]struct{}),
			done:        make(chan struct{}),
		}
		b.fanouts[channel] = f
		go b.relay(channel, f)
	}

	events := make(chan *entities.BookingEvent, subscriberBuffer)
	f.subscribers[events] = struct{}{}
	log.Info().Str("channel", channel).Int("subscribers", len(f.subscribers)).Msg("subscribed to channel")

	go func() {
		select {
		case <-ctx.Done():
			b.detach(channel, f, events)
		case <-f.done:
		}
	}()

	return events, nil
}

// relay decodes messages from the Redis subscription and hands them to every
// subscriber until the subscription is closed
func (b *RedisEventBus) relay(channel string, f *fanout) {
	defer b.retire(channel, f)

	for msg := range f.pubsub.Channel() {
		var event entities.BookingEvent
		if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
			log.Warn().Err(err).Str("channel", channel).Msg("failed to unmarshal booking event")
			continue
		}

		b.mu.RLock()
		for subscriber := range f.subscribers {
			delivered := event
			select {
			case subscriber <- &delivered:
			default:
				log.Warn().Str("channel", channel).Str("event_id", event.ID).Msg("subscriber channel full, dropping event")
			}
		}
		b.mu.RUnlock()
	}
}

// retire closes whatever subscribers f still has. A newer fanout registered
// for the same channel is left alone.
func (b *RedisEventBus) retire(channel string, f *fanout) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.fanouts[channel] == f {
		delete(b.fanouts, channel)
	}
	for subscriber := range f.subscribers {
		close(subscriber)
	}
	f.subscribers = nil
	close(f.done)
}

// detach removes one subscriber and drops the Redis subscription once the
// channel has none left
func (b *RedisEventBus) detach(channel string, f *fanout, subscriber chan *entities.BookingEvent) {
	b.mu.Lock()
	if _, ok := f.subscribers[subscriber]; !ok {
		b.mu.Unlock()
		return
	}
	delete(f.subscribers, subscriber)
	close(subscriber)

	idle := len(f.subscribers) == 0 && b.fanouts[channel] == f
	if idle {
		delete(b.fanouts, channel)
	}
	b.mu.Unlock()

	if idle {
		if err := f.pubsub.Close(); err != nil {
			log.Warn().Err(err).Str("channel", channel).Msg("failed to close subscription")
		}
	}
}

// shutdown closes the Redis subscription of f and waits for its subscribers
// to be closed
func shutdown(ctx context.Context, channel string, f *fanout) error {
	var closeErr error
	if err := f.pubsub.Close(); err != nil {
		closeErr = fmt.Errorf("failed to close subscription %s: %w", channel, err)
	}
	select {
	case <-f.done:
		return closeErr
	case <-ctx.Done():
		return errors.Join(closeErr, ctx.Err())
	}
}

// Unsubscribe unsubscribes every subscriber from a channel
func (b *RedisEventBus) Unsubscribe(ctx context.Context, channel string) error {
	b.mu.Lock()
	f, ok := b.fanouts[channel]
	delete(b.fanouts, channel)
	b.mu.Unlock()

	if !ok {
		return nil
	}
	return shutdown(ctx, channel, f)
}

// Close closes the event bus and all subscriptions
func (b *RedisEventBus) Close() error {
	b.mu.Lock()
	b.closed = true
	fanouts := b.fanouts
	b.fanouts = make(map[string]*fanout)
	b.mu.Unlock()

	var errs []error
	for channel, f := range fanouts {
		if err := shutdown(context.Background(), channel, f); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("errors closing event bus: %w", err)
	}
	return nil
}
