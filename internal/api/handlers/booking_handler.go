package handlers

import (
	"context"
	"net/http"

	"github.com/zatekoja/slotbooking/internal/domain/entities"
	"github.com/zatekoja/slotbooking/internal/domain/repositories"
)

// IdempotencyKeyHeader carries the client's retry key on reservations
const IdempotencyKeyHeader = "Idempotency-Key"

// BookingService defines the booking operations exposed over HTTP
type BookingService interface {
	ReserveWithReplay(ctx context.Context, slotID, clientID, idempotencyKey string) (*entities.Booking, bool, error)
	Cancel(ctx context.Context, bookingID, requestedBy string) (*entities.Booking, error)
	Reschedule(ctx context.Context, bookingID, newSlotID string) (*entities.Booking, error)
	Get(ctx context.Context, bookingID string) (*entities.Booking, error)
	ListByClient(ctx context.Context, clientID string, filter repositories.BookingFilter) ([]*entities.Booking, error)
	ListBySpecialist(ctx context.Context, specialistID string, filter repositories.BookingFilter) ([]*entities.Booking, error)
}

// BookingHandler handles booking requests
type BookingHandler struct {
	service BookingService
}

// NewBookingHandler creates a new booking handler
func NewBookingHandler(service BookingService) *BookingHandler {
	return &BookingHandler{
		service: service,
	}
}

type reserveRequest struct {
	ClientID string `json:"client_id" validate:"required,max=64"`
}

type cancelRequest struct {
	RequestedBy string `json:"requested_by" validate:"max=64"`
}

type rescheduleRequest struct {
	SlotID string `json:"slot_id" validate:"required,max=64"`
}

// Reserve handles POST /api/slots/{id}/bookings.
// A replayed idempotent request answers 200 with the original booking.
func (h *BookingHandler) Reserve(w http.ResponseWriter, r *http.Request) {
	var req reserveRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		respondWithAppError(w, err)
		return
	}

	booking, replayed, err := h.service.ReserveWithReplay(r.Context(), r.PathValue("id"), req.ClientID, r.Header.Get(IdempotencyKeyHeader))
	if err != nil {
		respondWithAppError(w, err)
		return
	}

	status := http.StatusCreated
	if replayed {
		status = http.StatusOK
	}
	respondWithJSON(w, status, booking)
}

// Cancel handles POST /api/bookings/{id}/cancel
func (h *BookingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if r.ContentLength != 0 {
		if err := decodeAndValidate(w, r, &req); err != nil {
			respondWithAppError(w, err)
			return
		}
	}

	booking, err := h.service.Cancel(r.Context(), r.PathValue("id"), req.RequestedBy)
	if err != nil {
		respondWithAppError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, booking)
}

// Reschedule handles POST /api/bookings/{id}/reschedule
func (h *BookingHandler) Reschedule(w http.ResponseWriter, r *http.Request) {
	var req rescheduleRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		respondWithAppError(w, err)
		return
	}

	booking, err := h.service.Reschedule(r.Context(), r.PathValue("id"), req.SlotID)
	if err != nil {
		respondWithAppError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, booking)
}

// GetBooking handles GET /api/bookings/{id}
func (h *BookingHandler) GetBooking(w http.ResponseWriter, r *http.Request) {
	booking, err := h.service.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		respondWithAppError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, booking)
}

// ListClientBookings handles GET /api/clients/{id}/bookings
func (h *BookingHandler) ListClientBookings(w http.ResponseWriter, r *http.Request) {
	filter, err := bookingFilterFromQuery(r)
	if err != nil {
		respondWithAppError(w, err)
		return
	}

	bookings, err := h.service.ListByClient(r.Context(), r.PathValue("id"), filter)
	if err != nil {
		respondWithAppError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"bookings": bookings,
		"count":    len(bookings),
	})
}

// ListSpecialistBookings handles GET /api/specialists/{id}/bookings
func (h *BookingHandler) ListSpecialistBookings(w http.ResponseWriter, r *http.Request) {
	filter, err := bookingFilterFromQuery(r)
	if err != nil {
		respondWithAppError(w, err)
		return
	}

	bookings, err := h.service.ListBySpecialist(r.Context(), r.PathValue("id"), filter)
	if err != nil {
		respondWithAppError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"bookings": bookings,
		"count":    len(bookings),
	})
}

func bookingFilterFromQuery(r *http.Request) (repositories.BookingFilter, error) {
	var (
		filter repositories.BookingFilter
		err    error
	)
	filter.Status = entities.BookingStatus(r.URL.Query().Get("status"))
	if filter.From, err = queryTime(r, "from"); err != nil {
		return filter, err
	}
	if filter.To, err = queryTime(r, "to"); err != nil {
		return filter, err
	}
	if filter.Limit, err = queryInt(r, "limit"); err != nil {
		return filter, err
	}
	if filter.Offset, err = queryInt(r, "offset"); err != nil {
		return filter, err
	}
	return filter, nil
}
