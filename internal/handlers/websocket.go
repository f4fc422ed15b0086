package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ternarybob/atozbot/internal/common"
	"github.com/ternarybob/atozbot/internal/interfaces"
	"github.com/ternarybob/atozbot/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Dashboard may be served from another origin
	},
}

// writeTimeout bounds a single push so one stalled observer cannot hold a broadcast
const writeTimeout = 5 * time.Second

// Push message types
const (
	MessageStatusUpdate    = "status_update"
	MessageBotUpdate       = "bot_update"
	MessageBotLifecycle    = "bot_lifecycle"
	MessageAnalyticsUpdate = "analytics_update"
)

// WSMessage is the envelope of every pushed message
type WSMessage struct {
	Type      string      `json:"type"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// StatusUpdate is the periodic full snapshot
type StatusUpdate struct {
	*models.StatusSnapshot
	ServerInstanceID string `json:"server_instance_id"` // Changes on controller restart, clients reset their view
}

// WebSocketHandler is the realtime reporter: it fans controller events and
// periodic status snapshots out to every connected observer. Delivery is
// best-effort; a failed write drops that client.
type WebSocketHandler struct {
	logger           arbor.ILogger
	clients          map[*websocket.Conn]bool
	clientMutex      map[*websocket.Conn]*sync.Mutex
	mu               sync.RWMutex
	eventService     interfaces.EventService
	status           StatusSource
	interval         time.Duration
	progressThrottle *rate.Limiter // Rate limiter for progress bot_update messages, nil = unthrottled
	serverInstanceID string
	broadcasting     atomic.Bool
}

// NewWebSocketHandler creates the reporter and subscribes it to controller events
func NewWebSocketHandler(eventService interfaces.EventService, status StatusSource, logger arbor.ILogger, config *common.WebSocketConfig) *WebSocketHandler {
	h := &WebSocketHandler{
		logger:           logger,
		clients:          make(map[*websocket.Conn]bool),
		clientMutex:      make(map[*websocket.Conn]*sync.Mutex),
		eventService:     eventService,
		status:           status,
		interval:         5 * time.Second,
		serverInstanceID: uuid.New().String(),
	}

	if config != nil {
		h.interval = common.Duration(config.BroadcastInterval, h.interval)
		if config.ProgressThrottle != "" {
			if gap := common.Duration(config.ProgressThrottle, 0); gap > 0 {
				h.progressThrottle = rate.NewLimiter(rate.Every(gap), 1)
			} else {
				logger.Warn().Str("interval", config.ProgressThrottle).Msg("Invalid progress throttle - throttler disabled")
			}
		}
	}

	logger.Info().
		Str("server_instance_id", h.serverInstanceID).
		Dur("broadcast_interval", h.interval).
		Msg("WebSocket handler initialized")

	if eventService != nil {
		h.SubscribeToBotEvents()
	}
	return h
}

// HandleWebSocket handles GET /ws
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

	h.logger.Debug().Int("clients", clientCount).Msg("WebSocket client connected")

	// Send initial status
	h.sendTo(conn, h.message(MessageStatusUpdate, h.snapshot(r.Context())))

	defer h.removeClient(conn)

	// Read messages from client (keep connection alive)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Warn().Err(err).Msg("WebSocket error")
			}
			return
		}
	}
}

// ClientCount returns the number of connected observers
func (h *WebSocketHandler) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// StartStatusBroadcaster pushes a full status snapshot every interval until ctx ends
func (h *WebSocketHandler) StartStatusBroadcaster(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	h.broadcasting.Store(true)

	common.SafeGo(h.logger, "ws-status-broadcaster", func() {
		defer h.broadcasting.Store(false)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if h.ClientCount() == 0 {
					continue
				}
				h.Broadcast(MessageStatusUpdate, h.snapshot(ctx))
			}
		}
	})
}

// Ping reports whether the realtime channel can deliver: the event bus still
// routes bot updates and the status broadcaster is running
func (h *WebSocketHandler) Ping(ctx context.Context) error {
	if h.eventService == nil || h.eventService.SubscriberCount(interfaces.EventBotUpdate) == 0 {
		return errors.New("event bus not delivering bot updates")
	}
	if !h.broadcasting.Load() {
		return errors.New("status broadcaster not running")
	}
	return nil
}

// SubscribeToBotEvents forwards controller events to observers
func (h *WebSocketHandler) SubscribeToBotEvents() {
	subscribe := func(eventType interfaces.EventType, handler interfaces.EventHandler) {
		if err := h.eventService.Subscribe(eventType, handler); err != nil {
			h.logger.Warn().Err(err).Str("event_type", string(eventType)).Msg("Failed to subscribe WebSocket handler")
		}
	}

	subscribe(interfaces.EventBotUpdate, func(ctx context.Context, event interfaces.Event) error {
		update, ok := event.Payload.(*models.CallbackUpdate)
		if !ok {
			h.logger.Warn().Msg("Invalid bot update event payload type")
			return nil
		}
		// Progress chatter is throttled; lifecycle and counter updates always go out
		if update.Type.IsProgress() && update.Type != models.UpdateJobProcessed &&
			h.progressThrottle != nil && !h.progressThrottle.Allow() {
			return nil
		}
		h.Broadcast(MessageBotUpdate, update)
		return nil
	})

	subscribe(interfaces.EventBotLifecycle, func(ctx context.Context, event interfaces.Event) error {
		h.Broadcast(MessageBotLifecycle, event.Payload)
		// Observers see the new state without waiting for the next tick
		h.Broadcast(MessageStatusUpdate, h.snapshot(ctx))
		return nil
	})

	subscribe(interfaces.EventAnalytics, func(ctx context.Context, event interfaces.Event) error {
		h.Broadcast(MessageAnalyticsUpdate, event.Payload)
		return nil
	})
}

// Broadcast sends one message to every client
func (h *WebSocketHandler) Broadcast(messageType string, payload interface{}) {
	data := h.message(messageType, payload)
	if data == nil {
		return
	}

	h.mu.RLock()
	clients := make([]*websocket.Conn, 0, len(h.clients))
	for conn := range h.clients {
		clients = append(clients, conn)
	}
	h.mu.RUnlock()

	for _, conn := range clients {
		h.sendTo(conn, data)
	}
}

func (h *WebSocketHandler) message(messageType string, payload interface{}) []byte {
	data, err := json.Marshal(WSMessage{Type: messageType, Payload: payload, Timestamp: time.Now().UTC()})
	if err != nil {
		h.logger.Error().Err(err).Str("type", messageType).Msg("Failed to marshal WebSocket message")
		return nil
	}
	return data
}

func (h *WebSocketHandler) snapshot(ctx context.Context) StatusUpdate {
	snapshot := models.NotRunningSnapshot()
	if h.status != nil {
		snapshot = h.status.GetStatus(ctx)
	}
	return StatusUpdate{StatusSnapshot: snapshot, ServerInstanceID: h.serverInstanceID}
}

func (h *WebSocketHandler) sendTo(conn *websocket.Conn, data []byte) {
	if data == nil {
		return
	}
	h.mu.RLock()
	mutex := h.clientMutex[conn]
	h.mu.RUnlock()
	if mutex == nil {
		return
	}

	mutex.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	err := conn.WriteMessage(websocket.TextMessage, data)
	mutex.Unlock()

	if err != nil {
		h.logger.Debug().Err(err).Msg("WebSocket write failed, dropping client")
		h.removeClient(conn)
	}
}

func (h *WebSocketHandler) removeClient(conn *websocket.Conn) {
	h.mu.Lock()
	_, present := h.clients[conn]
	delete(h.clients, conn)
	delete(h.clientMutex, conn)
	remaining := len(h.clients)
	h.mu.Unlock()

	if present {
		conn.Close()
		h.logger.Debug().Int("remaining", remaining).Msg("WebSocket client disconnected")
	}
}
