package websocket

import (
	"fmt"

	"github.com/villa-sync/backend/internal/calendar"
	"github.com/villa-sync/backend/internal/storage/models"
)

// EventBroadcaster turns domain events into WebSocket messages.
type EventBroadcaster struct {
	hub *Hub
}

// NewEventBroadcaster creates a new event broadcaster.
func NewEventBroadcaster(hub *Hub) *EventBroadcaster {
	return &EventBroadcaster{hub: hub}
}

// NotifySync announces a sync run that changed bookings.
func (b *EventBroadcaster) NotifySync(entry *models.SyncLog) error {
	payload := SyncPayload{
		IntegrationID: models.Deref(entry.IntegrationID),
		Platform:      string(entry.Platform),
		Trigger:       entry.Trigger,
		Outcome:       entry.Outcome,
		NewBookings:   entry.NewCount,
		Updated:       entry.UpdatedCount,
		ErrorCount:    entry.ErrorCount,
		Message:       entry.Message,
	}
	return b.broadcast(NewMessage(TypeSyncCompleted, payload))
}

// NotifyImport announces a finished calendar import.
func (b *EventBroadcaster) NotifyImport(result *calendar.ImportResult) error {
	payload := CalendarImportPayload{
		VillaID:   result.VillaID,
		Imported:  result.Imported,
		Updated:   result.Updated,
		Skipped:   result.Skipped,
		Conflicts: len(result.Conflicts),
		Errors:    len(result.Errors),
	}
	return b.broadcast(NewMessage(TypeCalendarImportFinished, payload))
}

func (b *EventBroadcaster) broadcast(msg Message) error {
	data, err := msg.JSON()
	if err != nil {
		return fmt.Errorf("encoding %s message: %w", msg.Type, err)
	}
	return b.hub.Broadcast(data)
}
