// -----------------------------------------------------------------------
// Worker -> Controller callback payloads
// -----------------------------------------------------------------------

package models

import "time"

// UpdateType classifies a worker callback
type UpdateType string

const (
	UpdateStarting         UpdateType = "starting"
	UpdateLoginAttempting  UpdateType = "login_attempting"
	UpdateLoginFailed      UpdateType = "login_failed"
	UpdateLoginSuccessful  UpdateType = "login_successful"
	UpdateRunning          UpdateType = "running"
	UpdateCheckingJobs     UpdateType = "checking_jobs"
	UpdateNoJobs           UpdateType = "no_jobs"
	UpdateProcessingJobs   UpdateType = "processing_jobs"
	UpdateJobProcessed     UpdateType = "job_processed"
	UpdateCycleComplete    UpdateType = "cycle_complete"
	UpdateCycleError       UpdateType = "cycle_error"
	UpdateMaxErrorsReached UpdateType = "max_errors_reached"
	UpdateRecovering       UpdateType = "recovering"
	UpdateResultsReport    UpdateType = "results_report"
	UpdateRejectedReport   UpdateType = "rejected_report"
	UpdateDatabase         UpdateType = "database_update"
	UpdateBotStopped       UpdateType = "bot_stopped"
	UpdateError            UpdateType = "error"
)

// IsProgress reports whether the update is a high-frequency progress event
// that may be dropped under throttling
func (t UpdateType) IsProgress() bool {
	switch t {
	case UpdateCheckingJobs, UpdateNoJobs, UpdateProcessingJobs, UpdateJobProcessed:
		return true
	}
	return false
}

// CallbackUpdate is the body of POST /api/bot/realtime-update
type CallbackUpdate struct {
	SessionID  string     `json:"session_id" validate:"required,max=64"`
	Generation int64      `json:"generation" validate:"min=0"`
	Type       UpdateType `json:"update_type" validate:"required,max=40"`
	Data       UpdateData `json:"data"`
	Timestamp  time.Time  `json:"timestamp"`
}

// UpdateData carries the typed fields a callback may set. Pointer counters
// distinguish "not reported" from zero.
type UpdateData struct {
	Status            string        `json:"status,omitempty"`
	LoginStatus       string        `json:"login_status,omitempty"`
	TotalChecks       *int64        `json:"total_checks,omitempty"`
	TotalAccepted     *int64        `json:"total_accepted,omitempty"`
	TotalRejected     *int64        `json:"total_rejected,omitempty"`
	Message           string        `json:"message,omitempty"`
	Error             string        `json:"error,omitempty"`
	ConsecutiveErrors int           `json:"consecutive_errors,omitempty"`
	Job               *JobRecord    `json:"job,omitempty"`
	Cycle             *CycleSummary `json:"cycle,omitempty"`
	Rejected          []RejectedJob `json:"rejected,omitempty"`
	PID               int           `json:"pid,omitempty"`
}

// Counters returns the reported counters, if all three are present
func (d UpdateData) Counters() (SessionCounters, bool) {
	if d.TotalChecks == nil || d.TotalAccepted == nil || d.TotalRejected == nil {
		return SessionCounters{}, false
	}
	return SessionCounters{
		TotalChecks:   *d.TotalChecks,
		TotalAccepted: *d.TotalAccepted,
		TotalRejected: *d.TotalRejected,
	}, true
}

// WithCounters sets all three counters from c
func (d UpdateData) WithCounters(c SessionCounters) UpdateData {
	checks, accepted, rejected := c.TotalChecks, c.TotalAccepted, c.TotalRejected
	d.TotalChecks = &checks
	d.TotalAccepted = &accepted
	d.TotalRejected = &rejected
	return d
}

// CycleSummary describes one completed cycle
type CycleSummary struct {
	Number   int64 `json:"number"`
	Found    int   `json:"found"`
	Accepted int   `json:"accepted"`
	Rejected int   `json:"rejected"`
	Skipped  int   `json:"skipped"`
	Millis   int64 `json:"duration_ms"`
}

// RejectedJob is an entry in the periodic rejected report
type RejectedJob struct {
	Ref    string    `json:"ref"`
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}
