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
	"golang.org/x/time/rate"

	"github.com/Stonelukas/curator/internal/interfaces"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// WSMessage is the envelope for all outbound WebSocket messages
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// WebSocketHandler streams status, run and history events to connected
// operator UIs. Each connection gets a write mutex; gorilla connections
// do not support concurrent writers.
type WebSocketHandler struct {
	logger           arbor.ILogger
	events           interfaces.EventService
	clients          map[*websocket.Conn]bool
	clientMutex      map[*websocket.Conn]*sync.Mutex
	mu               sync.RWMutex
	statusThrottler  *rate.Limiter
	serverInstanceID string
}

// NewWebSocketHandler creates the handler and subscribes it to the event
// bus. Status-changed events are throttled; watcher-driven refreshes can
// fire in bursts.
func NewWebSocketHandler(events interfaces.EventService, logger arbor.ILogger) *WebSocketHandler {
	h := &WebSocketHandler{
		logger:           logger,
		events:           events,
		clients:          make(map[*websocket.Conn]bool),
		clientMutex:      make(map[*websocket.Conn]*sync.Mutex),
		statusThrottler:  rate.NewLimiter(rate.Every(500*time.Millisecond), 1),
		serverInstanceID: uuid.New().String(),
	}

	if events != nil {
		h.subscribeToEvents()
	}

	return h
}

// HandleWebSocket handles WebSocket connections
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	h.mu.Lock()
	h.clients[conn] = true
	h.clientMutex[conn] = &sync.Mutex{}
	clientCount := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug().Msgf("WebSocket client connected (total: %d)", clientCount)

	h.sendToClient(conn, WSMessage{
		Type: "hello",
		Payload: map[string]string{
			"server_instance_id": h.serverInstanceID,
		},
	})

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		delete(h.clientMutex, conn)
		remaining := len(h.clients)
		h.mu.Unlock()

		conn.Close()
		h.logger.Debug().Msgf("WebSocket client disconnected (remaining: %d)", remaining)
	}()

	// Read messages from client (keep connection alive)
	for {
		_, _, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn().Err(err).Msg("WebSocket error")
			}
			break
		}
	}
}

func (h *WebSocketHandler) subscribeToEvents() {
	h.events.Subscribe(interfaces.EventStatusChanged, func(ctx context.Context, event interfaces.Event) error {
		if !h.statusThrottler.Allow() {
			return nil
		}
		h.broadcast(WSMessage{Type: "status_changed", Payload: event.Payload})
		return nil
	})

	h.events.Subscribe(interfaces.EventRunStarted, func(ctx context.Context, event interfaces.Event) error {
		h.broadcast(WSMessage{Type: "run_started", Payload: event.Payload})
		return nil
	})

	h.events.Subscribe(interfaces.EventRunPhase, func(ctx context.Context, event interfaces.Event) error {
		h.broadcast(WSMessage{Type: "run_phase", Payload: event.Payload})
		return nil
	})

	h.events.Subscribe(interfaces.EventRunCompleted, func(ctx context.Context, event interfaces.Event) error {
		h.broadcast(WSMessage{Type: "run_completed", Payload: event.Payload})
		return nil
	})

	h.events.Subscribe(interfaces.EventHistoryAppended, func(ctx context.Context, event interfaces.Event) error {
		h.broadcast(WSMessage{Type: "history_appended", Payload: event.Payload})
		return nil
	})
}

// broadcast sends a message to all connected clients
func (h *WebSocketHandler) broadcast(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Str("type", msg.Type).Msg("Failed to marshal WebSocket message")
		return
	}

	h.mu.RLock()
	clients := make([]*websocket.Conn, 0, len(h.clients))
	mutexes := make([]*sync.Mutex, 0, len(h.clients))
	for conn := range h.clients {
		clients = append(clients, conn)
		mutexes = append(mutexes, h.clientMutex[conn])
	}
	h.mu.RUnlock()

	for i, conn := range clients {
		mutex := mutexes[i]
		mutex.Lock()
		err := conn.WriteMessage(websocket.TextMessage, data)
		mutex.Unlock()

		if err != nil {
			h.logger.Warn().Err(err).Str("type", msg.Type).Msg("Failed to send message to client")
		}
	}
}

func (h *WebSocketHandler) sendToClient(conn *websocket.Conn, msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to marshal WebSocket message")
		return
	}

	h.mu.RLock()
	mutex := h.clientMutex[conn]
	h.mu.RUnlock()

	if mutex != nil {
		mutex.Lock()
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.logger.Warn().Err(err).Msg("Failed to send message to client")
		}
		mutex.Unlock()
	}
}
