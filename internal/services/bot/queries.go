package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/ternarybob/atozbot/internal/common"
	"github.com/ternarybob/atozbot/internal/interfaces"
	"github.com/ternarybob/atozbot/internal/models"
)

var validate = validator.New()

// ValidationError wraps payloads rejected by the validator
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string { return "invalid request: " + e.Err.Error() }
func (e *ValidationError) Unwrap() error { return e.Err }

// Validate checks a request payload against its struct tags
func Validate(v interface{}) error {
	if err := validate.Struct(v); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			parts := make([]string, 0, len(fieldErrs))
			for _, fe := range fieldErrs {
				parts = append(parts, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
			}
			return &ValidationError{Err: errors.New(strings.Join(parts, "; "))}
		}
		return &ValidationError{Err: err}
	}
	return nil
}

// Sessions lists sessions newest first
func (s *Service) Sessions(ctx context.Context, limit, offset int) ([]*models.Session, error) {
	if limit <= 0 {
		limit = 10
	}
	if offset < 0 {
		offset = 0
	}
	return s.storage.SessionStorage().ListSessions(ctx, limit, offset)
}

// Jobs lists job records, optionally filtered by session and outcome
func (s *Service) Jobs(ctx context.Context, filter interfaces.JobFilter) ([]*models.JobRecord, error) {
	if filter.Limit <= 0 {
		filter.Limit = 100
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return s.storage.JobRecordStorage().ListJobRecords(ctx, filter)
}

// AnalyticsPeriods lists stored analytics snapshots, newest first
func (s *Service) AnalyticsPeriods(ctx context.Context, limit int) ([]*models.AnalyticsPeriod, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.storage.AnalyticsStorage().ListAnalyticsPeriods(ctx, limit)
}

// Configuration returns the active configuration, or the [bot] defaults when
// none has been saved
func (s *Service) Configuration(ctx context.Context) (*models.BotConfiguration, error) {
	config, err := s.storage.ConfigurationStorage().GetActiveConfiguration(ctx)
	if errors.Is(err, interfaces.ErrNotFound) {
		return s.config.Bot.Configuration(s.now()), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return config, nil
}

// UpdateConfiguration validates and stores the active configuration. The
// worker picks it up on its next refresh.
func (s *Service) UpdateConfiguration(ctx context.Context, config *models.BotConfiguration) (*models.BotConfiguration, error) {
	if config.Name == "" {
		config.Name = "default"
	}
	if err := Validate(config); err != nil {
		return nil, err
	}
	config.IsActive = true
	config.UpdatedAt = s.now()

	saved, err := s.storage.ConfigurationStorage().UpsertActiveConfiguration(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to save configuration: %w", err)
	}
	s.logger.Info().
		Float64("check_interval", saved.CheckIntervalSeconds).
		Int("max_accept", saved.MaxAcceptPerRun).
		Str("job_type_filter", saved.JobTypeFilter).
		Msg("Bot configuration updated")
	s.publishLifecycle(ctx, s.currentSessionID(), "configuration_updated", saved.Name)
	return saved, nil
}

// Dashboard joins the status snapshot, the last day of analytics and the
// most recent sessions
func (s *Service) Dashboard(ctx context.Context) (*models.DashboardMetrics, error) {
	analytics, err := s.Analytics(ctx, 24)
	if err != nil {
		return nil, err
	}
	sessions, err := s.Sessions(ctx, 5, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return &models.DashboardMetrics{
		Status:         s.GetStatus(ctx),
		Last24h:        analytics,
		RecentSessions: sessions,
		Cache:          s.cache.Name(),
		GeneratedAt:    s.now(),
	}, nil
}

// EnqueueTask validates and queues an operator task for the worker
func (s *Service) EnqueueTask(ctx context.Context, task *models.Task) (*models.Task, error) {
	if err := Validate(task); err != nil {
		return nil, err
	}
	task.ID = common.NewTaskID()
	task.Status = models.TaskStatusPending
	task.CreatedAt = s.now()
	task.StartedAt = nil
	task.CompletedAt = nil

	if err := s.cache.EnqueueTask(ctx, task); err != nil {
		return nil, fmt.Errorf("%w: failed to enqueue task: %v", ErrDependencyUnavailable, err)
	}
	s.logger.Info().Str("task_id", task.ID).Str("type", string(task.Type)).Int("priority", task.Priority).Msg("Task enqueued")
	return task, nil
}

// NextTask hands the highest-priority pending task to the worker, or nil
func (s *Service) NextTask(ctx context.Context) (*models.Task, error) {
	task, err := s.cache.DequeueTask(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to dequeue task: %v", ErrDependencyUnavailable, err)
	}
	return task, nil
}

// CompleteTask records the worker's result for a dequeued task
func (s *Service) CompleteTask(ctx context.Context, id string, success bool, result, errMsg string) error {
	if err := s.cache.CompleteTask(ctx, id, success, result, errMsg); err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return err
		}
		return fmt.Errorf("%w: failed to complete task: %v", ErrDependencyUnavailable, err)
	}
	s.logger.Debug().Str("task_id", id).Bool("success", success).Msg("Task completed")
	return nil
}

// Tasks lists queued and finished tasks
func (s *Service) Tasks(ctx context.Context) ([]*models.Task, error) {
	return s.cache.ListTasks(ctx)
}

// PurgeTasks drops finished tasks older than the configured task TTL
func (s *Service) PurgeTasks(ctx context.Context) (int, error) {
	ttl := common.Duration(s.config.Cache.TaskTTL, time.Hour)
	return s.cache.PurgeTasks(ctx, ttl)
}

// Events returns the most recent cache events, newest first
func (s *Service) Events(ctx context.Context, sessionID string, limit int) ([]*models.BotEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.cache.RecentEvents(ctx, sessionID, limit)
}

// Metrics returns the cached counters of a session
func (s *Service) Metrics(ctx context.Context, sessionID string) (map[string]int64, error) {
	return s.cache.GetMetrics(ctx, sessionID)
}

// HealthReport is the detailed health payload
type HealthReport struct {
	Status    string         `json:"status"`
	Checks    []HealthResult `json:"checks"`
	Worker    *WorkerHealth  `json:"worker"`
	Cache     string         `json:"cache"`
	Timestamp time.Time      `json:"timestamp"`
}

// WorkerHealth describes the supervised child
type WorkerHealth struct {
	Running    bool   `json:"running"`
	SessionID  string `json:"session_id,omitempty"`
	Generation int64  `json:"generation,omitempty"`
	PID        int    `json:"pid,omitempty"`
	LockHeld   bool   `json:"lock_held"`
}

// Health runs every dependency check. Status is "degraded" when a
// non-critical check fails and "unhealthy" when a critical one does.
func (s *Service) Health(ctx context.Context) *HealthReport {
	report := &HealthReport{
		Status:    "healthy",
		Checks:    s.health.Run(ctx),
		Worker:    &WorkerHealth{LockHeld: s.supervisor.WorkerLockHeld()},
		Cache:     s.cache.Name(),
		Timestamp: s.now(),
	}
	for _, r := range report.Checks {
		if r.Healthy {
			continue
		}
		if r.Critical {
			report.Status = "unhealthy"
			break
		}
		report.Status = "degraded"
	}

	if cur := s.current.Load(); cur != nil && s.IsRunning() {
		report.Worker.Running = true
		report.Worker.SessionID = cur.sessionID
		report.Worker.Generation = cur.generation
		report.Worker.PID = cur.process.PID()
	}
	return report
}

func (s *Service) currentSessionID() string {
	if cur := s.current.Load(); cur != nil {
		return cur.sessionID
	}
	return ""
}
