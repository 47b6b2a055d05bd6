package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/prospector/internal/interfaces"
	"github.com/ternarybob/prospector/internal/models"
	"github.com/ternarybob/prospector/internal/services/events"
	"github.com/ternarybob/prospector/internal/services/jobs"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

const writeTimeout = 10 * time.Second

// StatusSource supplies the snapshot sent to a client when it connects
type StatusSource interface {
	GetStatus() jobs.Status
}

type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// WebSocketHandler pushes job updates to connected clients
type WebSocketHandler struct {
	logger           arbor.ILogger
	clients          map[*websocket.Conn]*sync.Mutex
	mu               sync.RWMutex
	status           StatusSource
	aggregator       *events.JobUpdateAggregator
	serverInstanceID string // Unique ID generated on startup - clients use to detect server restart
}

// NewWebSocketHandler creates the handler and subscribes it to job events.
// Progress snapshots are coalesced for throttle; settled jobs are pushed at once.
func NewWebSocketHandler(eventService interfaces.EventService, status StatusSource, throttle time.Duration, logger arbor.ILogger) *WebSocketHandler {
	h := &WebSocketHandler{
		logger:           logger,
		clients:          make(map[*websocket.Conn]*sync.Mutex),
		status:           status,
		serverInstanceID: uuid.New().String(),
	}
	h.aggregator = events.NewJobUpdateAggregator(throttle, h.broadcastJobs, logger)

	if eventService != nil {
		h.subscribe(eventService)
	}

	logger.Info().Str("server_instance_id", h.serverInstanceID).Msg("WebSocket handler initialized")
	return h
}

// Start runs the periodic flush of coalesced job updates until ctx ends
func (h *WebSocketHandler) Start(ctx context.Context) {
	h.aggregator.StartPeriodicFlush(ctx)
}

func (h *WebSocketHandler) subscribe(eventService interfaces.EventService) {
	if err := eventService.Subscribe(interfaces.EventJobUpdated, func(ctx context.Context, event interfaces.Event) error {
		if job, ok := event.Payload.(*models.Job); ok {
			h.aggregator.Record(ctx, job)
		}
		return nil
	}); err != nil {
		h.logger.Warn().Err(err).Msg("Failed to subscribe to job updates")
	}

	if err := eventService.Subscribe(interfaces.EventJobDeleted, func(ctx context.Context, event interfaces.Event) error {
		if jobID, ok := event.Payload.(string); ok {
			h.aggregator.Forget(jobID)
			h.broadcast(WSMessage{Type: "job_deleted", Payload: map[string]string{"id": jobID}})
		}
		return nil
	}); err != nil {
		h.logger.Warn().Err(err).Msg("Failed to subscribe to job deletions")
	}
}

// HandleWebSocket handles WebSocket connections
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	mutex := &sync.Mutex{}
	h.mu.Lock()
	h.clients[conn] = mutex
	clientCount := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug().Int("clients", clientCount).Msg("WebSocket client connected")

	h.send(conn, mutex, WSMessage{Type: "hello", Payload: map[string]string{"server_instance_id": h.serverInstanceID}})
	if h.status != nil {
		h.send(conn, mutex, WSMessage{Type: "status", Payload: h.status.GetStatus()})
	}

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		clientCount := len(h.clients)
		h.mu.Unlock()

		conn.Close()
		h.logger.Debug().Int("clients", clientCount).Msg("WebSocket client disconnected")
	}()

	// Read messages from client (keep connection alive)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn().Err(err).Msg("WebSocket error")
			}
			return
		}
	}
}

// ClientCount returns the number of connected clients
func (h *WebSocketHandler) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *WebSocketHandler) broadcastJobs(ctx context.Context, updated []*models.Job) {
	for _, job := range updated {
		h.broadcast(WSMessage{Type: "job_updated", Payload: job})
	}
}

// broadcast sends msg to every client; each connection has its own write lock
func (h *WebSocketHandler) broadcast(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Str("type", msg.Type).Msg("Failed to marshal WebSocket message")
		return
	}

	h.mu.RLock()
	clients := make([]*websocket.Conn, 0, len(h.clients))
	mutexes := make([]*sync.Mutex, 0, len(h.clients))
	for conn, mutex := range h.clients {
		clients = append(clients, conn)
		mutexes = append(mutexes, mutex)
	}
	h.mu.RUnlock()

	for i, conn := range clients {
		if err := h.write(conn, mutexes[i], data); err != nil {
			h.logger.Warn().Err(err).Str("type", msg.Type).Msg("Failed to send to WebSocket client")
		}
	}
}

func (h *WebSocketHandler) send(conn *websocket.Conn, mutex *sync.Mutex, msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Str("type", msg.Type).Msg("Failed to marshal WebSocket message")
		return
	}
	if err := h.write(conn, mutex, data); err != nil {
		h.logger.Warn().Err(err).Str("type", msg.Type).Msg("Failed to send to WebSocket client")
	}
}

func (h *WebSocketHandler) write(conn *websocket.Conn, mutex *sync.Mutex, data []byte) error {
	mutex.Lock()
	defer mutex.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}
