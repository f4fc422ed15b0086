package handlers

import (
	"context"

	"github.com/ternarybob/atozbot/internal/interfaces"
	"github.com/ternarybob/atozbot/internal/models"
	"github.com/ternarybob/atozbot/internal/services/bot"
)

// BotController is the controller surface the HTTP layer drives
type BotController interface {
	Start(ctx context.Context, name string) (*models.Session, error)
	Stop(ctx context.Context) (*models.Session, error)
	Toggle(ctx context.Context) (bool, *models.Session, error)
	ForceReset(ctx context.Context) (int64, error)
	IsRunning() bool
	GetStatus(ctx context.Context) *models.StatusSnapshot
	HandleUpdate(ctx context.Context, update *models.CallbackUpdate) (*bot.UpdateResult, error)

	Sessions(ctx context.Context, limit, offset int) ([]*models.Session, error)
	Jobs(ctx context.Context, filter interfaces.JobFilter) ([]*models.JobRecord, error)
	Analytics(ctx context.Context, hours int) (*models.Analytics, error)
	AnalyticsPeriods(ctx context.Context, limit int) ([]*models.AnalyticsPeriod, error)
	Dashboard(ctx context.Context) (*models.DashboardMetrics, error)
	Configuration(ctx context.Context) (*models.BotConfiguration, error)
	UpdateConfiguration(ctx context.Context, config *models.BotConfiguration) (*models.BotConfiguration, error)

	EnqueueTask(ctx context.Context, task *models.Task) (*models.Task, error)
	NextTask(ctx context.Context) (*models.Task, error)
	CompleteTask(ctx context.Context, id string, success bool, result, errMsg string) error
	Tasks(ctx context.Context) ([]*models.Task, error)
	Events(ctx context.Context, sessionID string, limit int) ([]*models.BotEvent, error)
	Metrics(ctx context.Context, sessionID string) (map[string]int64, error)

	Health(ctx context.Context) *bot.HealthReport
}

// StatusSource produces the periodic push snapshot
type StatusSource interface {
	GetStatus(ctx context.Context) *models.StatusSnapshot
}
