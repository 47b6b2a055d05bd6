package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/prospector/internal/interfaces"
	"github.com/ternarybob/prospector/internal/models"
	"github.com/ternarybob/prospector/internal/services/events"
)

func dial(t *testing.T, handler *WebSocketHandler) *websocket.Conn {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(handler.HandleWebSocket))
	t.Cleanup(server.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func readUntil(t *testing.T, conn *websocket.Conn, msgType string) WSMessage {
	t.Helper()
	for {
		var msg WSMessage
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Type == msgType {
			return msg
		}
	}
}

func TestWebSocket_SendsStatusOnConnect(t *testing.T) {
	service := newFakeJobService()
	service.current = "list_1"
	handler := NewWebSocketHandler(nil, service, time.Second, arbor.NewLogger())

	conn := dial(t, handler)
	hello := readUntil(t, conn, "hello")
	assert.NotEmpty(t, hello.Payload.(map[string]interface{})["server_instance_id"])

	status := readUntil(t, conn, "status")
	current := status.Payload.(map[string]interface{})["currentJob"].(map[string]interface{})
	assert.Equal(t, "list_1", current["id"])
}

func TestWebSocket_BroadcastsSettledJobs(t *testing.T) {
	logger := arbor.NewLogger()
	eventService := events.NewService(logger)
	defer eventService.Close()

	handler := NewWebSocketHandler(eventService, nil, time.Hour, logger)
	conn := dial(t, handler)
	readUntil(t, conn, "hello")

	require.Eventually(t, func() bool { return handler.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	ctx := context.Background()
	require.NoError(t, eventService.Publish(ctx, interfaces.Event{
		Type:    interfaces.EventJobUpdated,
		Payload: &models.Job{ID: "list_1", State: models.JobStateCompleted, PageIndex: 7},
	}))

	msg := readUntil(t, conn, "job_updated")
	payload := msg.Payload.(map[string]interface{})
	assert.Equal(t, "list_1", payload["id"])
	assert.Equal(t, "completed", payload["state"])

	require.NoError(t, eventService.Publish(ctx, interfaces.Event{Type: interfaces.EventJobDeleted, Payload: "list_1"}))
	deleted := readUntil(t, conn, "job_deleted")
	assert.Equal(t, "list_1", deleted.Payload.(map[string]interface{})["id"])
}
