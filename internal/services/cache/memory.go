package cache

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ternarybob/atozbot/internal/interfaces"
	"github.com/ternarybob/atozbot/internal/models"
)

const defaultEventLogSize = 1000

type metricsEntry struct {
	values    map[string]int64
	expiresAt time.Time
}

// MemoryCache is the in-process StateCache. It is used when no external
// backend is configured or the configured one cannot be reached.
type MemoryCache struct {
	mu         sync.Mutex
	state      *models.BotState
	sessions   map[string]*models.Session
	tasks      map[string]*models.Task
	pending    []string // task IDs in enqueue order
	metrics    map[string]metricsEntry
	events     []*models.BotEvent // oldest first
	eventLimit int
	metricsTTL time.Duration
	now        func() time.Time
}

// NewMemoryCache creates an empty in-process cache
func NewMemoryCache(eventLimit int, metricsTTL time.Duration) *MemoryCache {
	if eventLimit <= 0 {
		eventLimit = defaultEventLogSize
	}
	return &MemoryCache{
		sessions:   make(map[string]*models.Session),
		tasks:      make(map[string]*models.Task),
		metrics:    make(map[string]metricsEntry),
		eventLimit: eventLimit,
		metricsTTL: metricsTTL,
		now:        time.Now,
	}
}

// WithClock replaces the time source (tests)
func (c *MemoryCache) WithClock(now func() time.Time) *MemoryCache {
	c.now = now
	return c
}

func (c *MemoryCache) Name() string { return "memory" }

func (c *MemoryCache) Ping(ctx context.Context) error { return nil }

func (c *MemoryCache) SetBotState(ctx context.Context, state *models.BotState) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := *state
	c.state = &cp
	return nil
}

func (c *MemoryCache) GetBotState(ctx context.Context) (*models.BotState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == nil {
		return nil, nil
	}
	cp := *c.state
	return &cp, nil
}

func (c *MemoryCache) PutSession(ctx context.Context, session *models.Session) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := *session
	c.sessions[session.ID] = &cp
	return nil
}

func (c *MemoryCache) GetSession(ctx context.Context, id string) (*models.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[id]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (c *MemoryCache) DeleteSession(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, id)
	return nil
}

func (c *MemoryCache) EnqueueTask(ctx context.Context, task *models.Task) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := task.Clone()
	t.Status = models.TaskStatusPending
	c.tasks[t.ID] = t
	c.pending = append(c.pending, t.ID)
	return nil
}

// DequeueTask picks the highest priority; ties go to the oldest enqueue
func (c *MemoryCache) DequeueTask(ctx context.Context) (*models.Task, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	best := -1
	for i, id := range c.pending {
		if best < 0 || c.tasks[id].Priority > c.tasks[c.pending[best]].Priority {
			best = i
		}
	}
	if best < 0 {
		return nil, nil
	}

	id := c.pending[best]
	c.pending = append(c.pending[:best], c.pending[best+1:]...)

	t := c.tasks[id]
	started := c.now()
	t.Status = models.TaskStatusProcessing
	t.StartedAt = &started
	return t.Clone(), nil
}

func (c *MemoryCache) CompleteTask(ctx context.Context, id string, success bool, result, errMsg string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tasks[id]
	if !ok {
		return fmt.Errorf("task %s: %w", id, interfaces.ErrNotFound)
	}
	t.Finish(success, result, errMsg, c.now())
	c.removePending(id)
	return nil
}

func (c *MemoryCache) ListTasks(ctx context.Context) ([]*models.Task, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*models.Task, 0, len(c.tasks))
	for _, t := range c.tasks {
		out = append(out, t.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (c *MemoryCache) PurgeTasks(ctx context.Context, olderThan time.Duration) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cutoff := c.now().Add(-olderThan)
	purged := 0
	for id, t := range c.tasks {
		if t.Finished() && t.CompletedAt != nil && t.CompletedAt.Before(cutoff) {
			delete(c.tasks, id)
			purged++
		}
	}
	return purged, nil
}

// UpdateMetrics merges values into the session's metrics and restarts its TTL
func (c *MemoryCache) UpdateMetrics(ctx context.Context, sessionID string, metrics map[string]int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.metrics[sessionID]
	if !ok || c.expired(entry) {
		entry = metricsEntry{values: make(map[string]int64, len(metrics))}
	}
	for k, v := range metrics {
		entry.values[k] = v
	}
	if c.metricsTTL > 0 {
		entry.expiresAt = c.now().Add(c.metricsTTL)
	}
	c.metrics[sessionID] = entry
	return nil
}

func (c *MemoryCache) GetMetrics(ctx context.Context, sessionID string) (map[string]int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]int64)
	entry, ok := c.metrics[sessionID]
	if !ok {
		return out, nil
	}
	if c.expired(entry) {
		delete(c.metrics, sessionID)
		return out, nil
	}
	for k, v := range entry.values {
		out[k] = v
	}
	return out, nil
}

func (c *MemoryCache) LogEvent(ctx context.Context, event *models.BotEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := *event
	c.events = append(c.events, &cp)
	if over := len(c.events) - c.eventLimit; over > 0 {
		c.events = append([]*models.BotEvent(nil), c.events[over:]...)
	}
	return nil
}

func (c *MemoryCache) RecentEvents(ctx context.Context, sessionID string, limit int) ([]*models.BotEvent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if limit <= 0 {
		limit = 50
	}
	out := make([]*models.BotEvent, 0, limit)
	for i := len(c.events) - 1; i >= 0 && len(out) < limit; i-- {
		e := c.events[i]
		if sessionID != "" && e.SessionID != sessionID {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}

func (c *MemoryCache) Reset(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = nil
	c.tasks = make(map[string]*models.Task)
	c.pending = nil
	return nil
}

func (c *MemoryCache) Close() error { return nil }

func (c *MemoryCache) expired(entry metricsEntry) bool {
	return !entry.expiresAt.IsZero() && !c.now().Before(entry.expiresAt)
}

func (c *MemoryCache) removePending(id string) {
	for i, pid := range c.pending {
		if pid == id {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			return
		}
	}
}

var _ interfaces.StateCache = (*MemoryCache)(nil)
