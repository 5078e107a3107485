package handlers

import (
	"context"
	"net/http"

	"github.com/zatekoja/slotbooking/internal/domain/entities"
)

// WaitListService defines the wait-list operations exposed over HTTP
type WaitListService interface {
	Join(ctx context.Context, slotID, clientID string) (*entities.WaitListEntry, error)
	Leave(ctx context.Context, entryID, requestedBy string) error
	ListBySlot(ctx context.Context, slotID string) ([]*entities.WaitListEntry, error)
}

// WaitListHandler handles wait-list requests
type WaitListHandler struct {
	service WaitListService
}

// NewWaitListHandler creates a new wait-list handler
func NewWaitListHandler(service WaitListService) *WaitListHandler {
	return &WaitListHandler{
		service: service,
	}
}

type joinWaitListRequest struct {
	ClientID string `json:"client_id" validate:"required,max=64"`
}

// Join handles POST /api/slots/{id}/wait-list
func (h *WaitListHandler) Join(w http.ResponseWriter, r *http.Request) {
	var req joinWaitListRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		respondWithAppError(w, err)
		return
	}

	entry, err := h.service.Join(r.Context(), r.PathValue("id"), req.ClientID)
	if err != nil {
		respondWithAppError(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, entry)
}

// Leave handles DELETE /api/wait-list/{id}
func (h *WaitListHandler) Leave(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Leave(r.Context(), r.PathValue("id"), r.URL.Query().Get("requested_by")); err != nil {
		respondWithAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// List handles GET /api/slots/{id}/wait-list
func (h *WaitListHandler) List(w http.ResponseWriter, r *http.Request) {
	entries, err := h.service.ListBySlot(r.Context(), r.PathValue("id"))
	if err != nil {
		respondWithAppError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
	})
}
