package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/atozbot/internal/common"
	"github.com/ternarybob/atozbot/internal/models"
	"github.com/ternarybob/atozbot/internal/services/bot"
	"github.com/ternarybob/atozbot/internal/services/cache"
	"github.com/ternarybob/atozbot/internal/services/events"
	"github.com/ternarybob/atozbot/internal/services/supervisor"
	"github.com/ternarybob/atozbot/internal/storage/sqlite"
)

func setupBotHandler(t *testing.T, checks ...bot.HealthCheck) (*BotHandler, *bot.Service) {
	t.Helper()
	logger := arbor.NewLogger()
	dir := t.TempDir()

	config := common.NewDefaultConfig()
	config.Storage.SQLite.Path = filepath.Join(dir, "atozbot.db")
	config.Storage.SQLite.WALMode = false
	config.Worker.LockFile = filepath.Join(dir, "worker.lock")

	storage, err := sqlite.NewManager(logger, &config.Storage.SQLite)
	require.NoError(t, err)
	t.Cleanup(func() { storage.Close() })

	sup := supervisor.New(supervisor.NewFakeLauncher(), &supervisor.FakeSweeper{}, 200*time.Millisecond, config.Worker.LockFile, logger)
	eventService := events.NewService(logger)
	t.Cleanup(func() { eventService.Close() })

	service := bot.NewService(storage, cache.NewMemoryCache(100, time.Hour), eventService, sup,
		bot.NewHealthChecker(time.Second, logger, checks...), config, nil, logger)
	t.Cleanup(func() { service.Shutdown(context.Background()) })

	return NewBotHandler(service, logger), service
}

func call(handler http.HandlerFunc, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestBotHandler_StatusWhenIdle(t *testing.T) {
	h, _ := setupBotHandler(t)

	rec := call(h.StatusHandler, http.MethodGet, "/api/bot/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, false, body["is_running"])
	assert.Nil(t, body["session_id"])
}

func TestBotHandler_MethodNotAllowed(t *testing.T) {
	h, _ := setupBotHandler(t)

	rec := call(h.StartHandler, http.MethodGet, "/api/bot/start", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "error", decode(t, rec)["status"])
}

func TestBotHandler_StartTwiceThenStop(t *testing.T) {
	h, _ := setupBotHandler(t)

	rec := call(h.StartHandler, http.MethodPost, "/api/bot/start", `{"session_name":"Evening"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	started := decode(t, rec)
	assert.Equal(t, "Evening", started["session_name"])

	rec = call(h.StartHandler, http.MethodPost, "/api/bot/start", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = call(h.StopHandler, http.MethodPost, "/api/bot/stop", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, string(models.SessionStatusStopped), decode(t, rec)["status"])

	rec = call(h.StopHandler, http.MethodPost, "/api/bot/stop", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBotHandler_StartBlockedByDependency(t *testing.T) {
	h, service := setupBotHandler(t, bot.HealthCheck{
		Name:     "portal",
		Critical: true,
		Check:    func(ctx context.Context) error { return errors.New("unreachable") },
	})

	rec := call(h.StartHandler, http.MethodPost, "/api/bot/start", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.False(t, service.IsRunning())
}

func TestBotHandler_Toggle(t *testing.T) {
	h, _ := setupBotHandler(t)

	rec := call(h.ToggleHandler, http.MethodPost, "/api/bot/toggle", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "started", body["status"])
	assert.Equal(t, true, body["running"])

	rec = call(h.ToggleHandler, http.MethodPost, "/api/bot/toggle", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body = decode(t, rec)
	assert.Equal(t, "stopped", body["status"])
	assert.Equal(t, false, body["running"])
}

func TestBotHandler_ForceReset(t *testing.T) {
	h, _ := setupBotHandler(t)

	call(h.StartHandler, http.MethodPost, "/api/bot/start", "")
	rec := call(h.ForceResetHandler, http.MethodPost, "/api/bot/force-reset", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "reset", body["status"])
	assert.Equal(t, false, body["running"])
	assert.Equal(t, "1 session stopped", body["message"])
}

func TestBotHandler_RealtimeUpdate(t *testing.T) {
	h, service := setupBotHandler(t)
	ctx := context.Background()

	rec := call(h.RealtimeUpdateHandler, http.MethodPost, "/api/bot/realtime-update", `{"update_type":"running"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = call(h.RealtimeUpdateHandler, http.MethodPost, "/api/bot/realtime-update", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	session, err := service.Start(ctx, "")
	require.NoError(t, err)

	payload, err := json.Marshal(models.CallbackUpdate{
		SessionID:  session.ID,
		Generation: session.Generation,
		Type:       models.UpdateLoginSuccessful,
		Data: models.UpdateData{}.WithCounters(models.SessionCounters{
			TotalChecks: 3, TotalAccepted: 1, TotalRejected: 2,
		}),
	})
	require.NoError(t, err)

	rec = call(h.RealtimeUpdateHandler, http.MethodPost, "/api/bot/realtime-update", string(payload))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, false, body["stale"])

	status := service.GetStatus(ctx)
	assert.Equal(t, models.LoginStatusSuccess, status.LoginStatus)
	assert.Equal(t, int64(3), status.TotalChecks)
}

func TestBotHandler_Tasks(t *testing.T) {
	h, _ := setupBotHandler(t)

	rec := call(h.NextTaskHandler, http.MethodPost, "/api/bot/tasks/next", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = call(h.EnqueueTaskHandler, http.MethodPost, "/api/bot/tasks", `{"type":"screenshot"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	id, _ := decode(t, rec)["id"].(string)
	require.NotEmpty(t, id)

	rec = call(h.NextTaskHandler, http.MethodPost, "/api/bot/tasks/next", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, id, decode(t, rec)["id"])

	rec = call(h.CompleteTaskHandler, http.MethodPost, "/api/bot/tasks/"+id+"/complete", `{"success":true,"result":"ok"}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = call(h.CompleteTaskHandler, http.MethodPost, "/api/bot/tasks/missing/complete", `{"success":false}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBotHandler_QueryValidation(t *testing.T) {
	h, _ := setupBotHandler(t)

	rec := call(h.JobsHandler, http.MethodGet, "/api/bot/jobs?status=maybe", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = call(h.AnalyticsHandler, http.MethodGet, "/api/bot/analytics?hours=0", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = call(h.AnalyticsHandler, http.MethodGet, "/api/bot/analytics?hours=12", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(12), decode(t, rec)["period_hours"])

	rec = call(h.SessionsHandler, http.MethodGet, "/api/bot/sessions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(0), decode(t, rec)["count"])
}

func TestBotHandler_Configuration(t *testing.T) {
	h, _ := setupBotHandler(t)

	rec := call(h.GetConfigurationHandler, http.MethodGet, "/api/bot/configuration", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var config models.BotConfiguration
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &config))

	config.MaxAcceptPerRun = 0
	payload, err := json.Marshal(config)
	require.NoError(t, err)
	rec = call(h.UpdateConfigurationHandler, http.MethodPut, "/api/bot/configuration", string(payload))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	config.MaxAcceptPerRun = 3
	payload, err = json.Marshal(config)
	require.NoError(t, err)
	rec = call(h.UpdateConfigurationHandler, http.MethodPut, "/api/bot/configuration", string(payload))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = call(h.GetConfigurationHandler, http.MethodGet, "/api/bot/configuration", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &config))
	assert.Equal(t, 3, config.MaxAcceptPerRun)
}
