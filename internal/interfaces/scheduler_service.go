package interfaces

import "time"

// JobStatus represents the status of a scheduled job
type JobStatus struct {
	Name        string     `json:"name"`
	Enabled     bool       `json:"enabled"`
	Schedule    string     `json:"schedule"`
	Description string     `json:"description"`
	LastRun     *time.Time `json:"last_run,omitempty"`
	NextRun     *time.Time `json:"next_run,omitempty"`
	IsRunning   bool       `json:"is_running"`
	LastError   string     `json:"last_error,omitempty"`
}

// SchedulerService manages cron-based maintenance jobs
type SchedulerService interface {
	// Start begins running registered jobs
	Start() error

	// Stop halts the scheduler and waits for running jobs
	Stop() error

	// IsRunning returns true if scheduler is active
	IsRunning() bool

	// RegisterJob registers a new job with the scheduler
	RegisterJob(name, schedule, description string, handler func() error) error

	// TriggerJob runs a job immediately, outside its schedule
	TriggerJob(name string) error

	// GetAllJobStatuses returns all job statuses
	GetAllJobStatuses() map[string]*JobStatus
}
