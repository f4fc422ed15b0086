package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/atozbot/internal/common"
	"github.com/ternarybob/atozbot/internal/interfaces"
	"github.com/ternarybob/atozbot/internal/models"
	"github.com/ternarybob/atozbot/internal/services/events"
)

type staticStatus struct {
	snapshot *models.StatusSnapshot
}

func (s staticStatus) GetStatus(ctx context.Context) *models.StatusSnapshot {
	return s.snapshot
}

type wsEnvelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func dialTestSocket(t *testing.T, handler *WebSocketHandler) *websocket.Conn {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(handler.HandleWebSocket))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) wsEnvelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg wsEnvelope
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestWebSocket_InitialStatus(t *testing.T) {
	logger := arbor.NewLogger()
	handler := NewWebSocketHandler(nil, staticStatus{snapshot: models.NotRunningSnapshot()}, logger, &common.WebSocketConfig{})

	conn := dialTestSocket(t, handler)
	msg := readEnvelope(t, conn)
	assert.Equal(t, MessageStatusUpdate, msg.Type)

	var status struct {
		IsRunning        bool   `json:"is_running"`
		ServerInstanceID string `json:"server_instance_id"`
	}
	require.NoError(t, json.Unmarshal(msg.Payload, &status))
	assert.False(t, status.IsRunning)
	assert.NotEmpty(t, status.ServerInstanceID)

	assert.Eventually(t, func() bool { return handler.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	conn.Close()
	assert.Eventually(t, func() bool { return handler.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestWebSocket_ForwardsBotUpdates(t *testing.T) {
	logger := arbor.NewLogger()
	eventService := events.NewService(logger)
	defer eventService.Close()

	handler := NewWebSocketHandler(eventService, nil, logger, &common.WebSocketConfig{})
	conn := dialTestSocket(t, handler)
	require.Equal(t, MessageStatusUpdate, readEnvelope(t, conn).Type)
	require.Eventually(t, func() bool { return handler.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	update := &models.CallbackUpdate{
		SessionID: "s-1",
		Type:      models.UpdateJobProcessed,
		Data:      models.UpdateData{}.WithCounters(models.SessionCounters{TotalChecks: 4, TotalAccepted: 1, TotalRejected: 3}),
	}
	require.NoError(t, eventService.PublishSync(context.Background(), interfaces.Event{
		Type:    interfaces.EventBotUpdate,
		Payload: update,
	}))

	msg := readEnvelope(t, conn)
	assert.Equal(t, MessageBotUpdate, msg.Type)

	var got models.CallbackUpdate
	require.NoError(t, json.Unmarshal(msg.Payload, &got))
	assert.Equal(t, "s-1", got.SessionID)
	assert.Equal(t, models.UpdateJobProcessed, got.Type)
}

func TestWebSocket_LifecycleFollowedByStatus(t *testing.T) {
	logger := arbor.NewLogger()
	eventService := events.NewService(logger)
	defer eventService.Close()

	handler := NewWebSocketHandler(eventService, staticStatus{snapshot: models.NotRunningSnapshot()}, logger, nil)
	conn := dialTestSocket(t, handler)
	require.Equal(t, MessageStatusUpdate, readEnvelope(t, conn).Type)
	require.Eventually(t, func() bool { return handler.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, eventService.PublishSync(context.Background(), interfaces.Event{
		Type:    interfaces.EventBotLifecycle,
		Payload: map[string]string{"kind": "bot_stopped"},
	}))

	assert.Equal(t, MessageBotLifecycle, readEnvelope(t, conn).Type)
	assert.Equal(t, MessageStatusUpdate, readEnvelope(t, conn).Type)
}

func TestWebSocket_ThrottlesProgress(t *testing.T) {
	logger := arbor.NewLogger()
	eventService := events.NewService(logger)
	defer eventService.Close()

	handler := NewWebSocketHandler(eventService, nil, logger, &common.WebSocketConfig{ProgressThrottle: "1h"})
	conn := dialTestSocket(t, handler)
	require.Equal(t, MessageStatusUpdate, readEnvelope(t, conn).Type)
	require.Eventually(t, func() bool { return handler.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	ctx := context.Background()
	publish := func(kind models.UpdateType) {
		require.NoError(t, eventService.PublishSync(ctx, interfaces.Event{
			Type:    interfaces.EventBotUpdate,
			Payload: &models.CallbackUpdate{SessionID: "s-1", Type: kind},
		}))
	}

	publish(models.UpdateCheckingJobs)
	publish(models.UpdateCheckingJobs)
	publish(models.UpdateJobProcessed)

	first := readEnvelope(t, conn)
	second := readEnvelope(t, conn)

	var a, b models.CallbackUpdate
	require.NoError(t, json.Unmarshal(first.Payload, &a))
	require.NoError(t, json.Unmarshal(second.Payload, &b))
	assert.Equal(t, models.UpdateCheckingJobs, a.Type)
	assert.Equal(t, models.UpdateJobProcessed, b.Type)
}

func TestWebSocket_PingReflectsChannelState(t *testing.T) {
	logger := arbor.NewLogger()
	eventService := events.NewService(logger)
	defer eventService.Close()

	handler := NewWebSocketHandler(eventService, nil, logger, &common.WebSocketConfig{BroadcastInterval: "50ms"})
	ctx := context.Background()
	assert.Error(t, handler.Ping(ctx), "broadcaster not started")

	broadcastCtx, cancel := context.WithCancel(ctx)
	handler.StartStatusBroadcaster(broadcastCtx)
	require.NoError(t, handler.Ping(ctx))

	cancel()
	assert.Eventually(t, func() bool { return handler.Ping(ctx) != nil }, 2*time.Second, 10*time.Millisecond)

	restartCtx, stop := context.WithCancel(ctx)
	defer stop()
	handler.StartStatusBroadcaster(restartCtx)
	require.NoError(t, handler.Ping(ctx))
	require.NoError(t, eventService.Close())
	assert.Error(t, handler.Ping(ctx))
}

func TestWebSocket_PingWithoutEventBus(t *testing.T) {
	handler := NewWebSocketHandler(nil, nil, arbor.NewLogger(), nil)
	handler.StartStatusBroadcaster(t.Context())
	assert.Error(t, handler.Ping(context.Background()))
}
