package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/zatekoja/slotbooking/internal/domain/entities"
	"github.com/zatekoja/slotbooking/internal/domain/repositories"
	apperrors "github.com/zatekoja/slotbooking/pkg/errors"
)

// SlotService defines the slot operations exposed over HTTP
type SlotService interface {
	Create(ctx context.Context, specialistID string, startAt, endAt time.Time) (*entities.TimeSlot, error)
	Get(ctx context.Context, slotID string) (*entities.TimeSlot, error)
	Delete(ctx context.Context, slotID string) error
	ListBySpecialist(ctx context.Context, specialistID string, filter repositories.SlotFilter) ([]*entities.TimeSlot, error)
}

// SlotHandler handles slot requests
type SlotHandler struct {
	service SlotService
}

// NewSlotHandler creates a new slot handler
func NewSlotHandler(service SlotService) *SlotHandler {
	return &SlotHandler{
		service: service,
	}
}

type createSlotRequest struct {
	StartAt time.Time `json:"start_at" validate:"required"`
	EndAt   time.Time `json:"end_at" validate:"required"`
}

// CreateSlot handles POST /api/specialists/{id}/slots
func (h *SlotHandler) CreateSlot(w http.ResponseWriter, r *http.Request) {
	var req createSlotRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		respondWithAppError(w, err)
		return
	}

	slot, err := h.service.Create(r.Context(), r.PathValue("id"), req.StartAt, req.EndAt)
	if err != nil {
		respondWithAppError(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, slot)
}

// GetSlot handles GET /api/slots/{id}
func (h *SlotHandler) GetSlot(w http.ResponseWriter, r *http.Request) {
	slot, err := h.service.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		respondWithAppError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, slot)
}

// DeleteSlot handles DELETE /api/slots/{id}
func (h *SlotHandler) DeleteSlot(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), r.PathValue("id")); err != nil {
		respondWithAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListSlots handles GET /api/specialists/{id}/slots
func (h *SlotHandler) ListSlots(w http.ResponseWriter, r *http.Request) {
	var (
		filter repositories.SlotFilter
		err    error
	)
	if filter.From, err = queryTime(r, "from"); err != nil {
		respondWithAppError(w, err)
		return
	}
	if filter.To, err = queryTime(r, "to"); err != nil {
		respondWithAppError(w, err)
		return
	}
	if filter.Limit, err = queryInt(r, "limit"); err != nil {
		respondWithAppError(w, err)
		return
	}
	if filter.Offset, err = queryInt(r, "offset"); err != nil {
		respondWithAppError(w, err)
		return
	}
	if raw := r.URL.Query().Get("only_free"); raw != "" {
		if filter.OnlyFree, err = strconv.ParseBool(raw); err != nil {
			respondWithAppError(w, apperrors.NewValidationError("only_free must be a boolean"))
			return
		}
	}

	slots, err := h.service.ListBySpecialist(r.Context(), r.PathValue("id"), filter)
	if err != nil {
		respondWithAppError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"slots": slots,
		"count": len(slots),
	})
}
