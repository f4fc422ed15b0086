package handlers

import (
	"net/http"
	"sort"
	"strings"

	"github.com/ternarybob/atozbot/internal/interfaces"
)

// SchedulerHandler handles scheduler-related endpoints
type SchedulerHandler struct {
	schedulerService interfaces.SchedulerService
}

// NewSchedulerHandler creates a new scheduler handler
func NewSchedulerHandler(schedulerService interfaces.SchedulerService) *SchedulerHandler {
	return &SchedulerHandler{schedulerService: schedulerService}
}

// ListJobsHandler handles GET /api/scheduler/jobs
func (h *SchedulerHandler) ListJobsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	statuses := h.schedulerService.GetAllJobStatuses()
	jobs := make([]*interfaces.JobStatus, 0, len(statuses))
	for _, status := range statuses {
		jobs = append(jobs, status)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].Name < jobs[j].Name })

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"running": h.schedulerService.IsRunning(),
		"jobs":    jobs,
	})
}

// TriggerJobHandler handles POST /api/scheduler/jobs/{name}/trigger
func (h *SchedulerHandler) TriggerJobHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	name := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/api/scheduler/jobs/"), "/trigger")
	if name == "" || strings.Contains(name, "/") {
		WriteError(w, http.StatusBadRequest, "job name is required")
		return
	}
	if err := h.schedulerService.TriggerJob(name); err != nil {
		WriteError(w, http.StatusNotFound, err.Error())
		return
	}
	WriteJSON(w, http.StatusAccepted, map[string]string{
		"status":  "started",
		"message": "Job " + name + " triggered",
	})
}
