package routes

import (
	"net/http"

	"github.com/zatekoja/slotbooking/internal/api/handlers"
	"github.com/zatekoja/slotbooking/internal/api/middleware"
	"github.com/zatekoja/slotbooking/internal/infrastructure/observability"
)

// Router holds all route handlers
type Router struct {
	mux *http.ServeMux

	bookingHandler  *handlers.BookingHandler
	waitListHandler *handlers.WaitListHandler
	slotHandler     *handlers.SlotHandler
	healthHandler   *handlers.HealthHandler

	rateLimiter    *middleware.RateLimiter
	allowedOrigins []string
	metrics        *observability.Metrics
}

// NewRouter creates a new router. rateLimiter and metrics may be nil.
func NewRouter(
	bookingHandler *handlers.BookingHandler,
	waitListHandler *handlers.WaitListHandler,
	slotHandler *handlers.SlotHandler,
	healthHandler *handlers.HealthHandler,
	rateLimiter *middleware.RateLimiter,
	allowedOrigins []string,
	metrics *observability.Metrics,
) *Router {
	return &Router{
		mux:             http.NewServeMux(),
		bookingHandler:  bookingHandler,
		waitListHandler: waitListHandler,
		slotHandler:     slotHandler,
		healthHandler:   healthHandler,
		rateLimiter:     rateLimiter,
		allowedOrigins:  allowedOrigins,
		metrics:         metrics,
	}
}

// SetupRoutes configures all application routes
func (r *Router) SetupRoutes() http.Handler {
	r.mux.HandleFunc("GET /health", r.healthHandler.Health)

	// Booking endpoints
	r.mux.HandleFunc("POST /api/slots/{id}/bookings", r.bookingHandler.Reserve)
	r.mux.HandleFunc("GET /api/bookings/{id}", r.bookingHandler.GetBooking)
	r.mux.HandleFunc("POST /api/bookings/{id}/cancel", r.bookingHandler.Cancel)
	r.mux.HandleFunc("POST /api/bookings/{id}/reschedule", r.bookingHandler.Reschedule)
	r.mux.HandleFunc("GET /api/clients/{id}/bookings", r.bookingHandler.ListClientBookings)
	r.mux.HandleFunc("GET /api/specialists/{id}/bookings", r.bookingHandler.ListSpecialistBookings)

	// Wait-list endpoints
	r.mux.HandleFunc("POST /api/slots/{id}/wait-list", r.waitListHandler.Join)
	r.mux.HandleFunc("GET /api/slots/{id}/wait-list", r.waitListHandler.List)
	r.mux.HandleFunc("DELETE /api/wait-list/{id}", r.waitListHandler.Leave)

	// Slot endpoints
	r.mux.HandleFunc("POST /api/specialists/{id}/slots", r.slotHandler.CreateSlot)
	r.mux.HandleFunc("GET /api/specialists/{id}/slots", r.slotHandler.ListSlots)
	r.mux.HandleFunc("GET /api/slots/{id}", r.slotHandler.GetSlot)
	r.mux.HandleFunc("DELETE /api/slots/{id}", r.slotHandler.DeleteSlot)

	// Apply middleware in reverse order (last middleware wraps first)
	var handler http.Handler = r.mux
	handler = middleware.LoggingMiddleware(handler)

	if r.rateLimiter != nil {
		handler = r.rateLimiter.Middleware(handler)
	}

	handler = middleware.ObservabilityMiddleware(r.metrics, r.mux)(handler)

	// CORS wraps everything so rejected requests still carry its headers
	handler = middleware.CORSMiddleware(r.allowedOrigins)(handler)

	return handler
}
