package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/atozbot/internal/common"
)

type APIHandler struct {
	bot    BotController
	ws     *WebSocketHandler
	logger arbor.ILogger
}

func NewAPIHandler(controller BotController, ws *WebSocketHandler, logger arbor.ILogger) *APIHandler {
	return &APIHandler{
		bot:    controller,
		ws:     ws,
		logger: logger,
	}
}

// VersionHandler returns version information
func (h *APIHandler) VersionHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	WriteJSON(w, http.StatusOK, common.GetBuildInfo())
}

// HealthHandler returns liveness
func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "ok",
		"bot_active": h.bot.IsRunning(),
	})
}

// DetailedHealthHandler checks every dependency. 503 when a critical one is down.
func (h *APIHandler) DetailedHealthHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	report := h.bot.Health(r.Context())
	clients := 0
	if h.ws != nil {
		clients = h.ws.ClientCount()
	}

	code := http.StatusOK
	if report.Status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	WriteJSON(w, code, map[string]interface{}{
		"status":    report.Status,
		"checks":    report.Checks,
		"worker":    report.Worker,
		"cache":     report.Cache,
		"websocket": map[string]int{"clients": clients},
		"version":   common.GetVersion(),
		"timestamp": report.Timestamp,
	})
}

// NotFoundHandler handles 404 errors with JSON response
func (h *APIHandler) NotFoundHandler(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusNotFound, map[string]interface{}{
		"error":   "Not Found",
		"path":    r.URL.Path,
		"message": "The requested endpoint does not exist",
	})
}
