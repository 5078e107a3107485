package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/zatekoja/slotbooking/internal/api/handlers"
	"github.com/zatekoja/slotbooking/internal/domain/entities"
	"github.com/zatekoja/slotbooking/internal/domain/repositories"
	apperrors "github.com/zatekoja/slotbooking/pkg/errors"
)

// MockBookingService is a mock implementation of handlers.BookingService
type MockBookingService struct {
	mock.Mock
}

func (m *MockBookingService) ReserveWithReplay(ctx context.Context, slotID, clientID, idempotencyKey string) (*entities.Booking, bool, error) {
	args := m.Called(ctx, slotID, clientID, idempotencyKey)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*entities.Booking), args.Bool(1), args.Error(2)
}

func (m *MockBookingService) Cancel(ctx context.Context, bookingID, requestedBy string) (*entities.Booking, error) {
	args := m.Called(ctx, bookingID, requestedBy)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.Booking), args.Error(1)
}

func (m *MockBookingService) Reschedule(ctx context.Context, bookingID, newSlotID string) (*entities.Booking, error) {
	args := m.Called(ctx, bookingID, newSlotID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.Booking), args.Error(1)
}

func (m *MockBookingService) Get(ctx context.Context, bookingID string) (*entities.Booking, error) {
	args := m.Called(ctx, bookingID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.Booking), args.Error(1)
}

func (m *MockBookingService) ListByClient(ctx context.Context, clientID string, filter repositories.BookingFilter) ([]*entities.Booking, error) {
	args := m.Called(ctx, clientID, filter)
	return args.Get(0).([]*entities.Booking), args.Error(1)
}

func (m *MockBookingService) ListBySpecialist(ctx context.Context, specialistID string, filter repositories.BookingFilter) ([]*entities.Booking, error) {
	args := m.Called(ctx, specialistID, filter)
	return args.Get(0).([]*entities.Booking), args.Error(1)
}

func sampleBooking() *entities.Booking {
	return &entities.Booking{
		ID:        "booking-1",
		SlotID:    "slot-1",
		ClientID:  "client-1",
		Status:    entities.BookingStatusConfirmed,
		CreatedAt: time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC),
	}
}

func reserveRequest(t *testing.T, body string, key string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/slots/slot-1/bookings", bytes.NewBufferString(body))
	req.SetPathValue("id", "slot-1")
	if key != "" {
		req.Header.Set(handlers.IdempotencyKeyHeader, key)
	}
	return req
}

func TestBookingHandler_Reserve(t *testing.T) {
	t.Run("creates a booking", func(t *testing.T) {
		mockService := new(MockBookingService)
		handler := handlers.NewBookingHandler(mockService)
		mockService.On("ReserveWithReplay", mock.Anything, "slot-1", "client-1", "key-1").Return(sampleBooking(), false, nil)

		w := httptest.NewRecorder()
		handler.Reserve(w, reserveRequest(t, `{"client_id":"client-1"}`, "key-1"))

		assert.Equal(t, http.StatusCreated, w.Code)
		var got entities.Booking
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
		assert.Equal(t, "booking-1", got.ID)
		mockService.AssertExpectations(t)
	})

	t.Run("replay answers 200", func(t *testing.T) {
		mockService := new(MockBookingService)
		handler := handlers.NewBookingHandler(mockService)
		mockService.On("ReserveWithReplay", mock.Anything, "slot-1", "client-1", "key-1").Return(sampleBooking(), true, nil)

		w := httptest.NewRecorder()
		handler.Reserve(w, reserveRequest(t, `{"client_id":"client-1"}`, "key-1"))

		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("rejects missing client id", func(t *testing.T) {
		mockService := new(MockBookingService)
		handler := handlers.NewBookingHandler(mockService)

		w := httptest.NewRecorder()
		handler.Reserve(w, reserveRequest(t, `{}`, ""))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "client_id is required")
		mockService.AssertNotCalled(t, "ReserveWithReplay")
	})

	t.Run("rejects malformed json", func(t *testing.T) {
		mockService := new(MockBookingService)
		handler := handlers.NewBookingHandler(mockService)

		w := httptest.NewRecorder()
		handler.Reserve(w, reserveRequest(t, `not-json`, ""))

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("conflict carries its code", func(t *testing.T) {
		mockService := new(MockBookingService)
		handler := handlers.NewBookingHandler(mockService)
		mockService.On("ReserveWithReplay", mock.Anything, "slot-1", "client-1", "").
			Return(nil, false, apperrors.NewConflictError(apperrors.CodeSlotAlreadyBooked, "slot slot-1 is already booked"))

		w := httptest.NewRecorder()
		handler.Reserve(w, reserveRequest(t, `{"client_id":"client-1"}`, ""))

		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Empty(t, w.Header().Get("Retry-After"))
		var body map[string]string
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, string(apperrors.CodeSlotAlreadyBooked), body["code"])
	})

	t.Run("lock contention asks for a retry", func(t *testing.T) {
		mockService := new(MockBookingService)
		handler := handlers.NewBookingHandler(mockService)
		mockService.On("ReserveWithReplay", mock.Anything, "slot-1", "client-1", "").
			Return(nil, false, apperrors.NewLockUnavailableError("slot is locked", nil))

		w := httptest.NewRecorder()
		handler.Reserve(w, reserveRequest(t, `{"client_id":"client-1"}`, ""))

		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, "1", w.Header().Get("Retry-After"))
	})

	t.Run("unknown slot is 404", func(t *testing.T) {
		mockService := new(MockBookingService)
		handler := handlers.NewBookingHandler(mockService)
		mockService.On("ReserveWithReplay", mock.Anything, "slot-1", "client-1", "").
			Return(nil, false, apperrors.NewNotFoundError("slot not found"))

		w := httptest.NewRecorder()
		handler.Reserve(w, reserveRequest(t, `{"client_id":"client-1"}`, ""))

		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("unexpected errors are hidden", func(t *testing.T) {
		mockService := new(MockBookingService)
		handler := handlers.NewBookingHandler(mockService)
		mockService.On("ReserveWithReplay", mock.Anything, "slot-1", "client-1", "").
			Return(nil, false, errors.New("connection reset"))

		w := httptest.NewRecorder()
		handler.Reserve(w, reserveRequest(t, `{"client_id":"client-1"}`, ""))

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.NotContains(t, w.Body.String(), "connection reset")
	})
}

func TestBookingHandler_Cancel(t *testing.T) {
	t.Run("without a body", func(t *testing.T) {
		mockService := new(MockBookingService)
		handler := handlers.NewBookingHandler(mockService)
		cancelled := sampleBooking()
		cancelled.Status = entities.BookingStatusCancelled
		mockService.On("Cancel", mock.Anything, "booking-1", "").Return(cancelled, nil)

		req := httptest.NewRequest(http.MethodPost, "/api/bookings/booking-1/cancel", nil)
		req.SetPathValue("id", "booking-1")
		w := httptest.NewRecorder()
		handler.Cancel(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"status":"cancelled"`)
	})

	t.Run("passes the requester", func(t *testing.T) {
		mockService := new(MockBookingService)
		handler := handlers.NewBookingHandler(mockService)
		mockService.On("Cancel", mock.Anything, "booking-1", "admin-7").Return(sampleBooking(), nil)

		req := httptest.NewRequest(http.MethodPost, "/api/bookings/booking-1/cancel", bytes.NewBufferString(`{"requested_by":"admin-7"}`))
		req.SetPathValue("id", "booking-1")
		w := httptest.NewRecorder()
		handler.Cancel(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		mockService.AssertExpectations(t)
	})
}

func TestBookingHandler_Reschedule(t *testing.T) {
	mockService := new(MockBookingService)
	handler := handlers.NewBookingHandler(mockService)
	mockService.On("Reschedule", mock.Anything, "booking-1", "slot-2").
		Return(nil, apperrors.NewConflictError(apperrors.CodeCrossSpecialistReschedule, "bookings can only move between slots of the same specialist"))

	req := httptest.NewRequest(http.MethodPost, "/api/bookings/booking-1/reschedule", bytes.NewBufferString(`{"slot_id":"slot-2"}`))
	req.SetPathValue("id", "booking-1")
	w := httptest.NewRecorder()
	handler.Reschedule(w, req)

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), string(apperrors.CodeCrossSpecialistReschedule))
}

func TestBookingHandler_ListClientBookings(t *testing.T) {
	t.Run("parses the filter", func(t *testing.T) {
		mockService := new(MockBookingService)
		handler := handlers.NewBookingHandler(mockService)
		mockService.On("ListByClient", mock.Anything, "client-1", mock.MatchedBy(func(f repositories.BookingFilter) bool {
			return f.Status == entities.BookingStatusConfirmed && f.Limit == 10 && f.From != nil && f.To == nil
		})).Return([]*entities.Booking{sampleBooking()}, nil)

		req := httptest.NewRequest(http.MethodGet, "/api/clients/client-1/bookings?status=confirmed&limit=10&from=2026-06-01T00:00:00Z", nil)
		req.SetPathValue("id", "client-1")
		w := httptest.NewRecorder()
		handler.ListClientBookings(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"count":1`)
		mockService.AssertExpectations(t)
	})

	t.Run("rejects a bad date", func(t *testing.T) {
		mockService := new(MockBookingService)
		handler := handlers.NewBookingHandler(mockService)

		req := httptest.NewRequest(http.MethodGet, "/api/clients/client-1/bookings?from=yesterday", nil)
		req.SetPathValue("id", "client-1")
		w := httptest.NewRecorder()
		handler.ListClientBookings(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
