package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/villa-sync/backend/internal/calendar"
	"github.com/villa-sync/backend/internal/storage/models"
)

func dial(t *testing.T, hub *Hub) *gws.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWS(hub, w, r)
	}))
	t.Cleanup(srv.Close)

	conn, _, err := gws.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *gws.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestHubBroadcastsSyncEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := NewHub()
	go hub.Run(ctx)

	conn := dial(t, hub)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	events := NewEventBroadcaster(hub)
	require.NoError(t, events.NotifySync(&models.SyncLog{
		IntegrationID: models.StringPtr("int-1"),
		Platform:      models.PlatformAirbnb,
		Trigger:       models.TriggerScheduled,
		Outcome:       models.OutcomeSuccess,
		NewCount:      2,
	}))

	msg := readMessage(t, conn)
	assert.Equal(t, string(TypeSyncCompleted), msg["type"])
	payload := msg["payload"].(map[string]any)
	assert.Equal(t, "int-1", payload["integration_id"])
	assert.Equal(t, float64(2), payload["new_bookings"])

	require.NoError(t, events.NotifyImport(&calendar.ImportResult{VillaID: "v1", Imported: 3}))
	msg = readMessage(t, conn)
	assert.Equal(t, string(TypeCalendarImportFinished), msg["type"])
}

func TestClientPingPong(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := NewHub()
	go hub.Run(ctx)

	conn := dial(t, hub)

	require.NoError(t, conn.WriteMessage(gws.TextMessage, []byte(`{"type":"ping"}`)))
	assert.Equal(t, string(TypePong), readMessage(t, conn)["type"])

	require.NoError(t, conn.WriteMessage(gws.TextMessage, []byte(`{"type":"subscribe"}`)))
	msg := readMessage(t, conn)
	assert.Equal(t, string(TypeError), msg["type"])
	assert.Equal(t, "subscribe", msg["payload"].(map[string]any)["original_type"])

	require.NoError(t, conn.WriteMessage(gws.TextMessage, []byte(`not json`)))
	assert.Equal(t, string(TypeError), readMessage(t, conn)["type"])
}

func TestBroadcastReportsFullQueue(t *testing.T) {
	hub := NewHub()
	for i := 0; i < cap(hub.broadcast); i++ {
		require.NoError(t, hub.Broadcast([]byte("x")))
	}
	assert.ErrorIs(t, hub.Broadcast([]byte("x")), ErrBroadcastFull)
}
