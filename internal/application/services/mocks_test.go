package services_test

import (
	"context"
	"path"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/zatekoja/slotbooking/internal/adapters/memory"
	"github.com/zatekoja/slotbooking/internal/application/services"
	"github.com/zatekoja/slotbooking/internal/domain/entities"
	"github.com/zatekoja/slotbooking/internal/domain/providers"
	"github.com/zatekoja/slotbooking/internal/domain/repositories"
)

// MockCacheProvider for testing
type MockCacheProvider struct {
	mu      sync.RWMutex
	data    map[string][]byte
	deleted []string
}

func NewMockCacheProvider() *MockCacheProvider {
	return &MockCacheProvider{
		data: make(map[string][]byte),
	}
}

func (m *MockCacheProvider) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if val, ok := m.data[key]; ok {
		return val, nil
	}
	return nil, providers.ErrCacheMiss
}

func (m *MockCacheProvider) Set(ctx context.Context, key string, value []byte, expirationSeconds int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *MockCacheProvider) Delete(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.data, key)
		m.deleted = append(m.deleted, key)
	}
	return nil
}

func (m *MockCacheProvider) DeletePattern(ctx context.Context, pattern string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key := range m.data {
		if ok, _ := path.Match(pattern, key); ok {
			delete(m.data, key)
			m.deleted = append(m.deleted, key)
		}
	}
	return nil
}

func (m *MockCacheProvider) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

func (m *MockCacheProvider) DeletedCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.deleted)
}

// MockEventBus for testing
type MockEventBus struct {
	mu          sync.Mutex
	subscribers map[string][]chan *entities.BookingEvent
	published   []*entities.BookingEvent
}

func NewMockEventBus() *MockEventBus {
	return &MockEventBus{
		subscribers: make(map[string][]chan *entities.BookingEvent),
	}
}

func (m *MockEventBus) Publish(ctx context.Context, channel string, event *entities.BookingEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, event)
	for _, ch := range m.subscribers[channel] {
		select {
		case ch <- event:
		default:
		}
	}
	return nil
}

func (m *MockEventBus) Subscribe(ctx context.Context, channel string) (<-chan *entities.BookingEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan *entities.BookingEvent, 10)
	m.subscribers[channel] = append(m.subscribers[channel], ch)
	return ch, nil
}

func (m *MockEventBus) Unsubscribe(ctx context.Context, channel string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.subscribers[channel] {
		close(ch)
	}
	delete(m.subscribers, channel)
	return nil
}

func (m *MockEventBus) Close() error {
	return nil
}

// Types returns the published event types in order
func (m *MockEventBus) Types() []entities.BookingEventType {
	m.mu.Lock()
	defer m.mu.Unlock()
	types := make([]entities.BookingEventType, 0, len(m.published))
	for _, e := range m.published {
		types = append(types, e.Type)
	}
	return types
}

// Last returns the most recent event of the given type
func (m *MockEventBus) Last(eventType entities.BookingEventType) *entities.BookingEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.published) - 1; i >= 0; i-- {
		if m.published[i].Type == eventType {
			return m.published[i]
		}
	}
	return nil
}

// MockPublisher is a mock implementation of providers.EventPublisher
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, channel string, event *entities.BookingEvent) error {
	args := m.Called(ctx, channel, event)
	return args.Error(0)
}

func (m *MockPublisher) Close() error {
	args := m.Called()
	return args.Error(0)
}

// fakeClock advances by one millisecond per call so creation order is observable
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

var epoch = time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)

// fixture wires every booking service against one memory store
type fixture struct {
	store    *memory.Store
	bus      *MockEventBus
	clock    *fakeClock
	guard    *services.SlotGuard
	ledger   *services.BookingLedger
	waitList *services.WaitListService
	sweeper  *services.ExpirationSweeper
	slots    *services.SlotService
}

func newFixture(t *testing.T, grace time.Duration) *fixture {
	t.Helper()

	store, err := memory.NewStore()
	require.NoError(t, err)

	f := &fixture{
		store: store,
		bus:   NewMockEventBus(),
		clock: &fakeClock{now: epoch},
	}

	f.guard = services.NewSlotGuard(store.Slots(), true)
	f.ledger = services.NewBookingLedger(store, f.guard, store.Slots(), store.Bookings(), f.bus, nil)
	f.ledger.SetClock(f.clock.Now)
	f.waitList = services.NewWaitListService(store, store.Slots(), store.Bookings(), store.WaitList(), f.ledger, f.bus, nil)
	f.waitList.SetClock(f.clock.Now)
	f.ledger.SetPromoter(f.waitList)
	f.sweeper = services.NewExpirationSweeper(store, f.guard, store.Slots(), store.Bookings(), f.waitList, grace, f.bus, nil)
	f.slots = services.NewSlotService(store, store.Slots(), nil, time.Minute, f.bus)
	f.slots.SetClock(f.clock.Now)
	return f
}

// slot creates a free one-hour slot starting at start
func (f *fixture) slot(t *testing.T, specialistID string, start time.Time) *entities.TimeSlot {
	t.Helper()
	slot, err := f.slots.Create(context.Background(), specialistID, start, start.Add(time.Hour))
	require.NoError(t, err)
	return slot
}

// confirmedCount returns the number of confirmed bookings on a slot
func (f *fixture) confirmedCount(t *testing.T, slot *entities.TimeSlot) int {
	t.Helper()
	bookings, err := f.store.Bookings().ListBySpecialist(context.Background(), slot.SpecialistID, repositories.BookingFilter{Status: entities.BookingStatusConfirmed})
	require.NoError(t, err)
	count := 0
	for _, b := range bookings {
		if b.SlotID == slot.ID {
			count++
		}
	}
	return count
}
