package interfaces

import (
	"context"
	"errors"
	"time"

	"github.com/ternarybob/atozbot/internal/models"
)

// ErrNotFound is returned by storage lookups that match nothing
var ErrNotFound = errors.New("not found")

// SessionStorage persists worker sessions. It is the source of truth for
// session state; the controller is its only writer.
type SessionStorage interface {
	CreateSession(ctx context.Context, session *models.Session) error
	GetSession(ctx context.Context, id string) (*models.Session, error)
	// UpdateSession writes every mutable column. end_time is never cleared once set.
	UpdateSession(ctx context.Context, session *models.Session) error
	ListSessions(ctx context.Context, limit, offset int) ([]*models.Session, error)
	// ActiveSessions returns sessions in starting or running, newest first
	ActiveSessions(ctx context.Context) ([]*models.Session, error)
	// StopActiveSessions moves every starting/running session to stopped and
	// returns how many rows changed
	StopActiveSessions(ctx context.Context, at time.Time) (int64, error)
}

// ConfigurationStorage persists bot configurations
type ConfigurationStorage interface {
	// GetActiveConfiguration returns ErrNotFound when no row is active
	GetActiveConfiguration(ctx context.Context) (*models.BotConfiguration, error)
	// UpsertActiveConfiguration updates the active row or inserts one
	UpsertActiveConfiguration(ctx context.Context, config *models.BotConfiguration) (*models.BotConfiguration, error)
}

// JobFilter narrows job record listings
type JobFilter struct {
	SessionID string
	Outcome   models.JobOutcome
	Limit     int
	Offset    int
}

// JobRecordStorage persists evaluated board rows
type JobRecordStorage interface {
	SaveJobRecord(ctx context.Context, job *models.JobRecord) error
	ListJobRecords(ctx context.Context, filter JobFilter) ([]*models.JobRecord, error)
	JobRecordsSince(ctx context.Context, since time.Time) ([]*models.JobRecord, error)
}

// AnalyticsStorage persists periodic analytics snapshots
type AnalyticsStorage interface {
	SaveAnalyticsPeriod(ctx context.Context, period *models.AnalyticsPeriod) error
	ListAnalyticsPeriods(ctx context.Context, limit int) ([]*models.AnalyticsPeriod, error)
}

// StorageManager is the composite interface for the session state store
type StorageManager interface {
	SessionStorage() SessionStorage
	ConfigurationStorage() ConfigurationStorage
	JobRecordStorage() JobRecordStorage
	AnalyticsStorage() AnalyticsStorage
	Ping(ctx context.Context) error
	Close() error
}
