package handlers

import (
	"net/http"

	"github.com/villa-sync/backend/internal/api/middleware"
	"github.com/villa-sync/backend/internal/scheduler"
	"github.com/villa-sync/backend/internal/storage"
	"github.com/villa-sync/backend/internal/websocket"
)

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status      string `json:"status"`
	DBConnected bool   `json:"db_connected"`
}

// HealthCheck returns a handler that performs a health check.
func HealthCheck(db *storage.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dbConnected := db.HealthCheck(r.Context()) == nil

		status := "healthy"
		code := http.StatusOK
		if !dbConnected {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}

		middleware.WriteJSON(w, code, HealthResponse{
			Status:      status,
			DBConnected: dbConnected,
		})
	}
}

// StatusResponse represents the system status response.
type StatusResponse struct {
	Scheduler        scheduler.Status `json:"scheduler"`
	Bookings         map[string]int   `json:"bookings"`
	Integrations     map[string]int   `json:"integrations"`
	WebSocketClients int              `json:"websocket_clients"`
}

// Status returns a handler that provides system status information.
func Status(sched *scheduler.Scheduler, bookings *storage.BookingRepository, integrations *storage.IntegrationRepository, hub *websocket.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		bookingCounts, err := bookings.CountByStatus(ctx)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		integrationCounts, err := integrations.CountByStatus(ctx)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		middleware.WriteJSON(w, http.StatusOK, StatusResponse{
			Scheduler:        sched.Status(),
			Bookings:         bookingCounts,
			Integrations:     integrationCounts,
			WebSocketClients: hub.ClientCount(),
		})
	}
}

// WebSocketUpgrade returns a handler that upgrades HTTP connections to WebSocket.
func WebSocketUpgrade(hub *websocket.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		websocket.ServeWS(hub, w, r)
	}
}
