// Package bootstrap assembles the booking core from configuration so every
// binary wires the same store, transport and services.
package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/zatekoja/slotbooking/internal/adapters/cache"
	"github.com/zatekoja/slotbooking/internal/adapters/database"
	"github.com/zatekoja/slotbooking/internal/adapters/events"
	"github.com/zatekoja/slotbooking/internal/adapters/memory"
	"github.com/zatekoja/slotbooking/internal/api/handlers"
	"github.com/zatekoja/slotbooking/internal/application/services"
	"github.com/zatekoja/slotbooking/internal/domain/providers"
	"github.com/zatekoja/slotbooking/internal/domain/repositories"
	"github.com/zatekoja/slotbooking/internal/infrastructure/clients/postgres"
	"github.com/zatekoja/slotbooking/internal/infrastructure/clients/redis"
	"github.com/zatekoja/slotbooking/internal/infrastructure/observability"
	"github.com/zatekoja/slotbooking/pkg/config"
)

// Store is the transactional store behind the booking services
type Store struct {
	Tx       repositories.Transactor
	Slots    repositories.SlotRepository
	Bookings repositories.BookingRepository
	WaitList repositories.WaitListRepository
	// RowLocks reports whether the store can take non-blocking row locks
	RowLocks bool
}

// Components holds every wired service and the resources they depend on
type Components struct {
	Store Store

	// Redis is the shared connection, nil when Redis is disabled or unreachable
	Redis     *redis.Client
	Cache     providers.CacheProvider
	Publisher providers.EventPublisher
	// EventBus is set when the transport can also be subscribed to
	EventBus providers.EventBus

	Guard    *services.SlotGuard
	Ledger   *services.BookingLedger
	WaitList *services.WaitListService
	Sweeper  *services.ExpirationSweeper
	Slots    *services.SlotService

	HealthChecks map[string]handlers.HealthCheck

	closers []func() error
}

// New builds the components described by cfg. metrics may be nil.
func New(ctx context.Context, cfg *config.Config, metrics *observability.Metrics) (*Components, error) {
	c := &Components{HealthChecks: make(map[string]handlers.HealthCheck)}

	if err := c.openStore(cfg); err != nil {
		return nil, err
	}

	if err := c.openTransport(ctx, cfg); err != nil {
		_ = c.Close()
		return nil, err
	}

	c.Guard = services.NewSlotGuard(c.Store.Slots, c.Store.RowLocks)
	c.Ledger = services.NewBookingLedger(c.Store.Tx, c.Guard, c.Store.Slots, c.Store.Bookings, c.Publisher, metrics)
	c.WaitList = services.NewWaitListService(c.Store.Tx, c.Store.Slots, c.Store.Bookings, c.Store.WaitList, c.Ledger, c.Publisher, metrics)
	c.Ledger.SetPromoter(c.WaitList)
	c.Sweeper = services.NewExpirationSweeper(c.Store.Tx, c.Guard, c.Store.Slots, c.Store.Bookings, c.WaitList, cfg.Booking.ExpireAfterStart, c.Publisher, metrics)
	c.Slots = services.NewSlotService(c.Store.Tx, c.Store.Slots, c.Cache, cfg.Booking.SlotListTTL, c.Publisher)

	// Occupancy changes drop cached listings directly, whatever the event transport
	if c.Cache != nil {
		c.Ledger.SetSlotCache(c.Cache)
		c.WaitList.SetSlotCache(c.Cache)
		c.Sweeper.SetSlotCache(c.Cache)
	}

	return c, nil
}

func (c *Components) openStore(cfg *config.Config) error {
	switch cfg.Database.Driver {
	case "memory":
		store, err := memory.NewStore()
		if err != nil {
			return fmt.Errorf("failed to create memory store: %w", err)
		}
		// The memory store has a single writer, so a plain read already excludes other writers
		c.Store = Store{
			Tx:       store,
			Slots:    store.Slots(),
			Bookings: store.Bookings(),
			WaitList: store.WaitList(),
			RowLocks: true,
		}
		log.Warn().Msg("using the in-memory store; data is lost on restart")
		return nil

	case "postgres":
		pgClient, err := postgres.NewClient(&cfg.Database)
		if err != nil {
			return fmt.Errorf("failed to initialize PostgreSQL client: %w", err)
		}
		c.closers = append(c.closers, pgClient.Close)
		c.HealthChecks["postgres"] = pgClient.Ping
		c.Store = Store{
			Tx:       pgClient,
			Slots:    database.NewSlotAdapter(pgClient),
			Bookings: database.NewBookingAdapter(pgClient),
			WaitList: database.NewWaitListAdapter(pgClient),
			RowLocks: cfg.Database.RowLocks,
		}
		return nil

	default:
		return fmt.Errorf("unsupported store driver %q", cfg.Database.Driver)
	}
}

// openTransport connects the slot cache and the event transport. Redis is
// optional: without it listings are uncached and a redis event bus is disabled.
func (c *Components) openTransport(ctx context.Context, cfg *config.Config) error {
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		client, err := redis.NewClient(ctx, &cfg.Redis)
		if err != nil {
			log.Warn().Err(err).Msg("Redis unavailable, continuing without cache")
		} else {
			redisClient = client
			c.Redis = client
			c.closers = append(c.closers, client.Close)
			c.HealthChecks["redis"] = client.Ping
			c.Cache = cache.NewRedisAdapter(client)
		}
	}

	switch cfg.Booking.EventBus {
	case "redis":
		if redisClient == nil {
			log.Warn().Msg("EVENT_BUS=redis but Redis is unavailable; booking events are disabled")
			return nil
		}
		bus := events.NewRedisEventBus(redisClient)
		c.EventBus = bus
		c.Publisher = bus
		c.prependCloser(bus.Close)

	case "kafka":
		publisher, err := events.NewKafkaPublisher(&cfg.Kafka)
		if err != nil {
			return fmt.Errorf("failed to initialize Kafka publisher: %w", err)
		}
		c.Publisher = publisher
		c.prependCloser(publisher.Close)

	case "none":
	default:
		return fmt.Errorf("unsupported event bus %q", cfg.Booking.EventBus)
	}
	return nil
}

// prependCloser registers a closer that must run before the connections it uses
func (c *Components) prependCloser(fn func() error) {
	c.closers = append([]func() error{fn}, c.closers...)
}

// Close releases every resource in dependency order
func (c *Components) Close() error {
	var errs []error
	for _, closeFn := range c.closers {
		if err := closeFn(); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}
