package services

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/zatekoja/slotbooking/internal/domain/entities"
	"github.com/zatekoja/slotbooking/internal/domain/providers"
)

// CacheInvalidationService drops cached slot listings when booking events arrive
type CacheInvalidationService struct {
	cache    providers.CacheProvider
	eventBus providers.EventBus
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewCacheInvalidationService creates a new cache invalidation service
func NewCacheInvalidationService(cache providers.CacheProvider, eventBus providers.EventBus) *CacheInvalidationService {
	ctx, cancel := context.WithCancel(context.Background())
	return &CacheInvalidationService{
		cache:    cache,
		eventBus: eventBus,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

// Start begins listening for events and invalidating cache
func (s *CacheInvalidationService) Start() error {
	eventChan, err := s.eventBus.Subscribe(s.ctx, providers.EventChannelBookings)
	if err != nil {
		return fmt.Errorf("failed to subscribe to booking events: %w", err)
	}

	go s.processEvents(eventChan)
	log.Info().Msg("Cache invalidation service started")
	return nil
}

// Stop stops the cache invalidation service and waits for the event loop to exit
func (s *CacheInvalidationService) Stop() {
	s.cancel()
	<-s.done
	log.Info().Msg("Cache invalidation service stopped")
}

func (s *CacheInvalidationService) processEvents(eventChan <-chan *entities.BookingEvent) {
	defer close(s.done)
	for {
		select {
		case <-s.ctx.Done():
			return
		case event, ok := <-eventChan:
			if !ok {
				return
			}
			if event == nil {
				continue
			}
			s.handleEvent(event)
		}
	}
}

// handleEvent invalidates the listings of the specialist owning the event's slot.
// Events without a specialist are left to expire with the cache TTL.
func (s *CacheInvalidationService) handleEvent(event *entities.BookingEvent) {
	if event.SpecialistID == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.cache.DeletePattern(ctx, SlotListCachePattern(event.SpecialistID)); err != nil {
		log.Warn().Err(err).
			Str("event_id", event.ID).
			Str("specialist_id", event.SpecialistID).
			Msg("failed to invalidate slot cache")
		return
	}

	log.Debug().
		Str("event_type", string(event.Type)).
		Str("specialist_id", event.SpecialistID).
		Msg("invalidated slot cache")
}
