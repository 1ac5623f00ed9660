// Package api provides HTTP routing and handlers for the REST API.
package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/villa-sync/backend/internal/api/handlers"
	"github.com/villa-sync/backend/internal/api/middleware"
	"github.com/villa-sync/backend/internal/booking"
	"github.com/villa-sync/backend/internal/calendar"
	"github.com/villa-sync/backend/internal/integration"
	"github.com/villa-sync/backend/internal/scheduler"
	"github.com/villa-sync/backend/internal/storage"
	"github.com/villa-sync/backend/internal/websocket"
)

// Dependencies are the services the router dispatches to.
type Dependencies struct {
	DB           *storage.DB
	Villas       *storage.VillaRepository
	Bookings     *storage.BookingRepository
	Integrations *storage.IntegrationRepository
	SyncLogs     *storage.SyncLogRepository

	BookingService  *booking.Service
	CalendarService *calendar.Service
	Manager         *integration.Manager
	Scheduler       *scheduler.Scheduler

	Hub         *websocket.Hub
	Broadcaster handlers.ImportNotifier

	// StaticDir is served at / when set.
	StaticDir string
}

// NewRouter creates and configures the HTTP router with all API routes.
func NewRouter(deps Dependencies) *mux.Router {
	r := mux.NewRouter()

	// Apply global middleware
	r.Use(middleware.Logging)
	r.Use(middleware.ErrorRecovery)

	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// Subscription feed for marketplaces, authorized by the token in the path
	r.HandleFunc("/feeds/{villaId}/{token}.ics", handlers.CalendarFeed(deps.CalendarService)).Methods("GET")

	// API subrouter
	api := r.PathPrefix("/api").Subrouter()

	// Health and status endpoints
	api.HandleFunc("/health", handlers.HealthCheck(deps.DB)).Methods("GET")
	api.HandleFunc("/status", handlers.Status(deps.Scheduler, deps.Bookings, deps.Integrations, deps.Hub)).Methods("GET")

	// WebSocket endpoint
	api.HandleFunc("/ws", handlers.WebSocketUpgrade(deps.Hub)).Methods("GET")

	// Integration endpoints
	api.HandleFunc("/integrations", handlers.ListIntegrations(deps.Manager)).Methods("GET")
	api.HandleFunc("/integrations", handlers.CreateIntegration(deps.Manager)).Methods("POST")
	api.HandleFunc("/integrations/{id}", handlers.GetIntegration(deps.Manager)).Methods("GET")
	api.HandleFunc("/integrations/{id}", handlers.DisableIntegration(deps.Manager)).Methods("DELETE")
	api.HandleFunc("/integrations/{id}/test", handlers.TestIntegration(deps.Manager)).Methods("POST")
	api.HandleFunc("/integrations/{id}/publish", handlers.PublishVilla(deps.Manager)).Methods("POST")
	api.HandleFunc("/integrations/{id}/availability", handlers.PushAvailability(deps.Manager)).Methods("PUT")

	// Sync endpoints
	api.HandleFunc("/sync", handlers.SyncNow(deps.Scheduler)).Methods("POST")
	api.HandleFunc("/sync/all", handlers.SyncAll(deps.Scheduler)).Methods("POST")
	api.HandleFunc("/sync/logs", handlers.ListSyncLogs(deps.SyncLogs)).Methods("GET")

	// Villa endpoints
	api.HandleFunc("/villas", handlers.ListVillas(deps.Villas)).Methods("GET")
	api.HandleFunc("/villas", handlers.CreateVilla(deps.Villas)).Methods("POST")
	api.HandleFunc("/villas/{id}", handlers.GetVilla(deps.Villas)).Methods("GET")
	api.HandleFunc("/villas/{id}/blocked-dates", handlers.BlockDate(deps.Villas)).Methods("POST")

	// Booking endpoints
	api.HandleFunc("/villas/{id}/bookings", handlers.ListVillaBookings(deps.BookingService)).Methods("GET")
	api.HandleFunc("/villas/{id}/bookings", handlers.CreateBooking(deps.BookingService)).Methods("POST")
	api.HandleFunc("/villas/{id}/conflicts", handlers.CheckBookingConflicts(deps.BookingService)).Methods("GET")
	api.HandleFunc("/bookings/{id}/cancel", handlers.CancelBooking(deps.BookingService)).Methods("POST")
	api.HandleFunc("/bookings/{id}", handlers.DeleteBooking(deps.BookingService)).Methods("DELETE")

	// Calendar endpoints
	api.HandleFunc("/villas/{id}/calendar.ics", handlers.ExportCalendar(deps.CalendarService)).Methods("GET")
	api.HandleFunc("/villas/{id}/calendar", handlers.SetCalendarSource(deps.CalendarService)).Methods("PUT")
	api.HandleFunc("/villas/{id}/calendar/import", handlers.ImportCalendar(deps.CalendarService, deps.Scheduler, deps.Broadcaster)).Methods("POST")
	api.HandleFunc("/villas/{id}/calendar/token", handlers.RotateFeedToken(deps.CalendarService)).Methods("POST")

	// Serve static frontend files
	if deps.StaticDir != "" {
		r.PathPrefix("/").Handler(http.FileServer(http.Dir(deps.StaticDir)))
	}

	return r
}
