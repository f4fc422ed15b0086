package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/atozbot/internal/models"
)

// StateCache is the fast, non-authoritative mirror of bot state, the task
// queue and the event log. One implementation is chosen at startup; call
// sites never check whether a real backend is present.
type StateCache interface {
	// Name identifies the backend ("redis", "badger", "memory")
	Name() string
	Ping(ctx context.Context) error

	SetBotState(ctx context.Context, state *models.BotState) error
	// GetBotState returns nil, nil when nothing is cached
	GetBotState(ctx context.Context) (*models.BotState, error)

	PutSession(ctx context.Context, session *models.Session) error
	// GetSession returns nil, nil on a miss
	GetSession(ctx context.Context, id string) (*models.Session, error)
	DeleteSession(ctx context.Context, id string) error

	EnqueueTask(ctx context.Context, task *models.Task) error
	// DequeueTask pops the highest-priority pending task and marks it
	// processing. Returns nil, nil when the queue is empty.
	DequeueTask(ctx context.Context) (*models.Task, error)
	CompleteTask(ctx context.Context, id string, success bool, result, errMsg string) error
	ListTasks(ctx context.Context) ([]*models.Task, error)
	// PurgeTasks removes finished tasks older than the given age
	PurgeTasks(ctx context.Context, olderThan time.Duration) (int, error)

	UpdateMetrics(ctx context.Context, sessionID string, metrics map[string]int64) error
	GetMetrics(ctx context.Context, sessionID string) (map[string]int64, error)

	LogEvent(ctx context.Context, event *models.BotEvent) error
	// RecentEvents returns newest first; empty sessionID matches all sessions
	RecentEvents(ctx context.Context, sessionID string, limit int) ([]*models.BotEvent, error)

	// Reset clears bot state and the task queue (force-reset)
	Reset(ctx context.Context) error
	Close() error
}
