package server

import (
	"net/http"
	"strings"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// WebSocket route
	mux.HandleFunc("/ws", s.app.WSHandler.HandleWebSocket)

	// API routes - Bot lifecycle
	mux.HandleFunc("/api/bot/start", s.app.BotHandler.StartHandler)
	mux.HandleFunc("/api/bot/stop", s.app.BotHandler.StopHandler)
	mux.HandleFunc("/api/bot/toggle", s.app.BotHandler.ToggleHandler)
	mux.HandleFunc("/api/bot/force-reset", s.app.BotHandler.ForceResetHandler)
	mux.HandleFunc("/api/bot/status", s.app.BotHandler.StatusHandler)

	// API routes - Worker callbacks
	mux.HandleFunc("/api/bot/realtime-update", s.app.BotHandler.RealtimeUpdateHandler)
	mux.HandleFunc("/api/bot/configuration", s.handleConfigurationRoute) // GET, PUT
	mux.HandleFunc("/api/bot/tasks", s.handleTasksRoute)                 // GET (list), POST (enqueue)
	mux.HandleFunc("/api/bot/tasks/", s.handleTaskRoutes)                // POST next, POST {id}/complete

	// API routes - History and analytics
	mux.HandleFunc("/api/bot/sessions", s.app.BotHandler.SessionsHandler)
	mux.HandleFunc("/api/bot/jobs", s.app.BotHandler.JobsHandler)
	mux.HandleFunc("/api/bot/analytics", s.app.BotHandler.AnalyticsHandler)
	mux.HandleFunc("/api/bot/analytics/periods", s.app.BotHandler.AnalyticsPeriodsHandler)
	mux.HandleFunc("/api/bot/dashboard/metrics", s.app.BotHandler.DashboardHandler)
	mux.HandleFunc("/api/bot/events", s.app.BotHandler.EventsHandler)
	mux.HandleFunc("/api/bot/metrics/", s.app.BotHandler.MetricsHandler)

	// API routes - Scheduler
	mux.HandleFunc("/api/scheduler/jobs", s.app.SchedulerHandler.ListJobsHandler)
	mux.HandleFunc("/api/scheduler/jobs/", s.handleSchedulerJobRoutes)

	// API routes - System
	mux.HandleFunc("/api/config", s.app.ConfigHandler.GetConfig)
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)
	mux.HandleFunc("/api/health", s.app.APIHandler.HealthHandler)
	mux.HandleFunc("/api/health/detailed", s.app.APIHandler.DetailedHealthHandler)

	// 404 handler for unmatched API routes
	mux.HandleFunc("/api/", s.app.APIHandler.NotFoundHandler)
	mux.HandleFunc("/", s.app.APIHandler.NotFoundHandler)

	return mux
}

// handleConfigurationRoute routes /api/bot/configuration by method
func (s *Server) handleConfigurationRoute(w http.ResponseWriter, r *http.Request) {
	RouteCRUD(w, r,
		s.app.BotHandler.GetConfigurationHandler,
		nil,
		s.app.BotHandler.UpdateConfigurationHandler,
		nil,
	)
}

// handleTasksRoute routes GET /api/bot/tasks and POST /api/bot/tasks
func (s *Server) handleTasksRoute(w http.ResponseWriter, r *http.Request) {
	RouteResourceCollection(w, r, s.app.BotHandler.ListTasksHandler, s.app.BotHandler.EnqueueTaskHandler)
}

// handleTaskRoutes routes /api/bot/tasks/next and /api/bot/tasks/{id}/complete
func (s *Server) handleTaskRoutes(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/api/bot/tasks/next" {
		s.app.BotHandler.NextTaskHandler(w, r)
		return
	}

	routes := []PathSuffixRouter{
		{Suffix: "/complete", Handler: s.app.BotHandler.CompleteTaskHandler},
	}
	if RouteByPathSuffix(w, r, "/api/bot/tasks/", routes) {
		return
	}
	s.app.APIHandler.NotFoundHandler(w, r)
}

// handleSchedulerJobRoutes routes /api/scheduler/jobs/{name}/trigger
func (s *Server) handleSchedulerJobRoutes(w http.ResponseWriter, r *http.Request) {
	if strings.HasSuffix(r.URL.Path, "/trigger") {
		s.app.SchedulerHandler.TriggerJobHandler(w, r)
		return
	}
	s.app.APIHandler.NotFoundHandler(w, r)
}
