package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/atozbot/internal/interfaces"
	"github.com/ternarybob/atozbot/internal/models"
	"github.com/ternarybob/atozbot/internal/services/bot"
)

// BotHandler serves /api/bot
type BotHandler struct {
	bot    BotController
	logger arbor.ILogger
}

// NewBotHandler creates a new BotHandler
func NewBotHandler(controller BotController, logger arbor.ILogger) *BotHandler {
	return &BotHandler{bot: controller, logger: logger}
}

type startRequest struct {
	SessionName string `json:"session_name" validate:"max=100"`
}

// lifecycleResponse is the body of toggle and force-reset
type lifecycleResponse struct {
	Status  string          `json:"status"`
	Running bool            `json:"running"`
	Message string          `json:"message,omitempty"`
	Session *models.Session `json:"session,omitempty"`
}

// StartHandler handles POST /api/bot/start
func (h *BotHandler) StartHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req startRequest
	if err := DecodeJSON(r, &req, true); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := bot.Validate(&req); err != nil {
		WriteServiceError(w, err)
		return
	}

	session, err := h.bot.Start(r.Context(), req.SessionName)
	if err != nil {
		h.logger.Warn().Err(err).Msg("Start rejected")
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, session)
}

// StopHandler handles POST /api/bot/stop
func (h *BotHandler) StopHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	session, err := h.bot.Stop(r.Context())
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	if session == nil {
		WriteSuccess(w, "Stale sessions stopped")
		return
	}
	WriteJSON(w, http.StatusOK, session)
}

// ToggleHandler handles POST /api/bot/toggle
func (h *BotHandler) ToggleHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	running, session, err := h.bot.Toggle(r.Context())
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	status := "stopped"
	if running {
		status = "started"
	}
	WriteJSON(w, http.StatusOK, lifecycleResponse{Status: status, Running: running, Session: session})
}

// ForceResetHandler handles POST /api/bot/force-reset
func (h *BotHandler) ForceResetHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	changed, err := h.bot.ForceReset(r.Context())
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, lifecycleResponse{
		Status:  "reset",
		Running: h.bot.IsRunning(),
		Message: pluralise(changed, "session") + " stopped",
	})
}

// StatusHandler handles GET /api/bot/status. It never fails on absence.
func (h *BotHandler) StatusHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	WriteJSON(w, http.StatusOK, h.bot.GetStatus(r.Context()))
}

// SessionsHandler handles GET /api/bot/sessions?limit&offset
func (h *BotHandler) SessionsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	sessions, err := h.bot.Sessions(r.Context(), QueryInt(r, "limit", 10), QueryInt(r, "offset", 0))
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"sessions": sessions, "count": len(sessions)})
}

// JobsHandler handles GET /api/bot/jobs?session_id&status&limit&offset
func (h *BotHandler) JobsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	query := r.URL.Query()
	filter := interfaces.JobFilter{
		SessionID: query.Get("session_id"),
		Outcome:   models.JobOutcome(query.Get("status")),
		Limit:     QueryInt(r, "limit", 100),
		Offset:    QueryInt(r, "offset", 0),
	}
	switch filter.Outcome {
	case "", models.JobOutcomeAccepted, models.JobOutcomeRejected, models.JobOutcomeSkipped:
	default:
		WriteError(w, http.StatusBadRequest, "status must be accepted, rejected or skipped")
		return
	}

	jobs, err := h.bot.Jobs(r.Context(), filter)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"jobs": jobs, "count": len(jobs)})
}

// AnalyticsHandler handles GET /api/bot/analytics?hours
func (h *BotHandler) AnalyticsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	hours := QueryInt(r, "hours", 24)
	if hours <= 0 || hours > 24*365 {
		WriteError(w, http.StatusBadRequest, "hours must be between 1 and 8760")
		return
	}
	analytics, err := h.bot.Analytics(r.Context(), hours)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, analytics)
}

// AnalyticsPeriodsHandler handles GET /api/bot/analytics/periods?limit
func (h *BotHandler) AnalyticsPeriodsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	periods, err := h.bot.AnalyticsPeriods(r.Context(), QueryInt(r, "limit", 20))
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"periods": periods, "count": len(periods)})
}

// DashboardHandler handles GET /api/bot/dashboard/metrics
func (h *BotHandler) DashboardHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	dashboard, err := h.bot.Dashboard(r.Context())
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, dashboard)
}

// GetConfigurationHandler handles GET /api/bot/configuration
func (h *BotHandler) GetConfigurationHandler(w http.ResponseWriter, r *http.Request) {
	config, err := h.bot.Configuration(r.Context())
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, config)
}

// UpdateConfigurationHandler handles PUT /api/bot/configuration
func (h *BotHandler) UpdateConfigurationHandler(w http.ResponseWriter, r *http.Request) {
	var config models.BotConfiguration
	if err := DecodeJSON(r, &config, false); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	saved, err := h.bot.UpdateConfiguration(r.Context(), &config)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, saved)
}

// RealtimeUpdateHandler handles POST /api/bot/realtime-update from the worker
func (h *BotHandler) RealtimeUpdateHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var update models.CallbackUpdate
	if err := DecodeJSON(r, &update, false); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := bot.Validate(&update); err != nil {
		WriteServiceError(w, err)
		return
	}

	result, err := h.bot.HandleUpdate(r.Context(), &update)
	if err != nil {
		h.logger.Error().Err(err).Str("session_id", update.SessionID).Str("update_type", string(update.Type)).Msg("Failed to apply worker update")
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status": "success",
		"stale":  result.Stale,
	})
}

// ListTasksHandler handles GET /api/bot/tasks
func (h *BotHandler) ListTasksHandler(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.bot.Tasks(r.Context())
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"tasks": tasks, "count": len(tasks)})
}

// EnqueueTaskHandler handles POST /api/bot/tasks
func (h *BotHandler) EnqueueTaskHandler(w http.ResponseWriter, r *http.Request) {
	var task models.Task
	if err := DecodeJSON(r, &task, false); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	queued, err := h.bot.EnqueueTask(r.Context(), &task)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, queued)
}

// NextTaskHandler handles POST /api/bot/tasks/next. 204 when the queue is empty.
func (h *BotHandler) NextTaskHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	task, err := h.bot.NextTask(r.Context())
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	if task == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	WriteJSON(w, http.StatusOK, task)
}

type completeTaskRequest struct {
	Success bool   `json:"success"`
	Result  string `json:"result"`
	Error   string `json:"error"`
}

// CompleteTaskHandler handles POST /api/bot/tasks/{id}/complete
func (h *BotHandler) CompleteTaskHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/api/bot/tasks/"), "/complete")
	if id == "" || strings.Contains(id, "/") {
		WriteError(w, http.StatusBadRequest, "task id is required")
		return
	}

	var req completeTaskRequest
	if err := DecodeJSON(r, &req, false); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.bot.CompleteTask(r.Context(), id, req.Success, req.Result, req.Error); err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteSuccess(w, "Task completed")
}

// EventsHandler handles GET /api/bot/events?session_id&limit
func (h *BotHandler) EventsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	events, err := h.bot.Events(r.Context(), r.URL.Query().Get("session_id"), QueryInt(r, "limit", 50))
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"events": events, "count": len(events)})
}

// MetricsHandler handles GET /api/bot/metrics/{session_id}
func (h *BotHandler) MetricsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	sessionID := strings.TrimPrefix(r.URL.Path, "/api/bot/metrics/")
	if sessionID == "" || strings.Contains(sessionID, "/") {
		WriteError(w, http.StatusBadRequest, "session id is required")
		return
	}
	metrics, err := h.bot.Metrics(r.Context(), sessionID)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"session_id": sessionID, "metrics": metrics})
}

func pluralise(n int64, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	return fmt.Sprintf("%d %ss", n, noun)
}
