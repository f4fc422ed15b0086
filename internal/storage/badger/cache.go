package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/atozbot/internal/common"
	"github.com/ternarybob/atozbot/internal/interfaces"
	"github.com/ternarybob/atozbot/internal/models"
)

const (
	botStateKey    = "current"
	metricsPrefix  = "bot:metrics:"
	eventSeqKey    = "bot:events:seq"
	defaultEventLg = 1000
)

// taskRecord carries an enqueue sequence so equal priorities dequeue FIFO
type taskRecord struct {
	ID   string
	Seq  uint64
	Task models.Task
}

type eventRecord struct {
	Seq       uint64
	SessionID string
	Event     models.BotEvent
}

// Cache is the embedded StateCache backed by badgerhold. Per-session
// metrics are raw badger entries so they expire through badger's TTL.
type Cache struct {
	db         *BadgerDB
	seq        *badgerdb.Sequence
	logger     arbor.ILogger
	eventLimit int
	metricsTTL time.Duration
	// queueMu serialises dequeue so a task is handed out at most once
	queueMu sync.Mutex
	now     func() time.Time
}

// NewCache opens the badger directory and returns a StateCache on it
func NewCache(logger arbor.ILogger, config *common.BadgerConfig, eventLimit int, metricsTTL time.Duration) (*Cache, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}

	seq, err := db.Store().Badger().GetSequence([]byte(eventSeqKey), 100)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open event sequence: %w", err)
	}

	if eventLimit <= 0 {
		eventLimit = defaultEventLg
	}

	logger.Info().Str("path", config.Path).Msg("Badger state cache initialized")

	return &Cache{
		db:         db,
		seq:        seq,
		logger:     logger,
		eventLimit: eventLimit,
		metricsTTL: metricsTTL,
		now:        time.Now,
	}, nil
}

func (c *Cache) Name() string { return "badger" }

func (c *Cache) Ping(ctx context.Context) error {
	if c.db.Store().Badger().IsClosed() {
		return errors.New("badger cache is closed")
	}
	return nil
}

func (c *Cache) SetBotState(ctx context.Context, state *models.BotState) error {
	if err := c.db.Store().Upsert(botStateKey, *state); err != nil {
		return fmt.Errorf("failed to store bot state: %w", err)
	}
	return nil
}

func (c *Cache) GetBotState(ctx context.Context) (*models.BotState, error) {
	var state models.BotState
	err := c.db.Store().Get(botStateKey, &state)
	if errors.Is(err, badgerhold.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get bot state: %w", err)
	}
	return &state, nil
}

func (c *Cache) PutSession(ctx context.Context, session *models.Session) error {
	if err := c.db.Store().Upsert(session.ID, *session); err != nil {
		return fmt.Errorf("failed to store session %s: %w", session.ID, err)
	}
	return nil
}

func (c *Cache) GetSession(ctx context.Context, id string) (*models.Session, error) {
	var session models.Session
	err := c.db.Store().Get(id, &session)
	if errors.Is(err, badgerhold.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session %s: %w", id, err)
	}
	return &session, nil
}

func (c *Cache) DeleteSession(ctx context.Context, id string) error {
	err := c.db.Store().Delete(id, models.Session{})
	if err != nil && !errors.Is(err, badgerhold.ErrNotFound) {
		return fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	return nil
}

func (c *Cache) EnqueueTask(ctx context.Context, task *models.Task) error {
	seq, err := c.seq.Next()
	if err != nil {
		return fmt.Errorf("failed to allocate task sequence: %w", err)
	}
	record := taskRecord{ID: task.ID, Seq: seq, Task: *task.Clone()}
	record.Task.Status = models.TaskStatusPending
	if err := c.db.Store().Upsert(task.ID, record); err != nil {
		return fmt.Errorf("failed to enqueue task %s: %w", task.ID, err)
	}
	return nil
}

func (c *Cache) DequeueTask(ctx context.Context) (*models.Task, error) {
	c.queueMu.Lock()
	defer c.queueMu.Unlock()

	records, err := c.taskRecords()
	if err != nil {
		return nil, err
	}

	var next *taskRecord
	for i := range records {
		r := &records[i]
		if r.Task.Status != models.TaskStatusPending {
			continue
		}
		if next == nil || r.Task.Priority > next.Task.Priority ||
			(r.Task.Priority == next.Task.Priority && r.Seq < next.Seq) {
			next = r
		}
	}
	if next == nil {
		return nil, nil
	}

	started := c.now()
	next.Task.Status = models.TaskStatusProcessing
	next.Task.StartedAt = &started
	if err := c.db.Store().Upsert(next.ID, *next); err != nil {
		return nil, fmt.Errorf("failed to mark task %s processing: %w", next.ID, err)
	}
	return next.Task.Clone(), nil
}

func (c *Cache) CompleteTask(ctx context.Context, id string, success bool, result, errMsg string) error {
	c.queueMu.Lock()
	defer c.queueMu.Unlock()

	var record taskRecord
	err := c.db.Store().Get(id, &record)
	if errors.Is(err, badgerhold.ErrNotFound) {
		return fmt.Errorf("task %s: %w", id, interfaces.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to get task %s: %w", id, err)
	}

	record.Task.Finish(success, result, errMsg, c.now())
	if err := c.db.Store().Upsert(id, record); err != nil {
		return fmt.Errorf("failed to complete task %s: %w", id, err)
	}
	return nil
}

func (c *Cache) ListTasks(ctx context.Context) ([]*models.Task, error) {
	records, err := c.taskRecords()
	if err != nil {
		return nil, err
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Seq > records[j].Seq })

	tasks := make([]*models.Task, 0, len(records))
	for i := range records {
		tasks = append(tasks, records[i].Task.Clone())
	}
	return tasks, nil
}

func (c *Cache) PurgeTasks(ctx context.Context, olderThan time.Duration) (int, error) {
	c.queueMu.Lock()
	defer c.queueMu.Unlock()

	records, err := c.taskRecords()
	if err != nil {
		return 0, err
	}

	cutoff := c.now().Add(-olderThan)
	purged := 0
	for _, r := range records {
		if !r.Task.Finished() || r.Task.CompletedAt == nil || !r.Task.CompletedAt.Before(cutoff) {
			continue
		}
		if err := c.db.Store().Delete(r.ID, taskRecord{}); err != nil && !errors.Is(err, badgerhold.ErrNotFound) {
			c.logger.Warn().Err(err).Str("task_id", r.ID).Msg("Failed to purge task")
			continue
		}
		purged++
	}
	return purged, nil
}

// UpdateMetrics merges values into the session's metrics and restarts the TTL
func (c *Cache) UpdateMetrics(ctx context.Context, sessionID string, metrics map[string]int64) error {
	key := []byte(metricsPrefix + sessionID)
	return c.db.Store().Badger().Update(func(txn *badgerdb.Txn) error {
		merged, err := readMetrics(txn, key)
		if err != nil {
			return err
		}
		for k, v := range metrics {
			merged[k] = v
		}
		raw, err := json.Marshal(merged)
		if err != nil {
			return err
		}
		entry := badgerdb.NewEntry(key, raw)
		if c.metricsTTL > 0 {
			entry = entry.WithTTL(c.metricsTTL)
		}
		return txn.SetEntry(entry)
	})
}

func (c *Cache) GetMetrics(ctx context.Context, sessionID string) (map[string]int64, error) {
	var metrics map[string]int64
	err := c.db.Store().Badger().View(func(txn *badgerdb.Txn) error {
		var err error
		metrics, err = readMetrics(txn, []byte(metricsPrefix+sessionID))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get metrics for %s: %w", sessionID, err)
	}
	return metrics, nil
}

func (c *Cache) LogEvent(ctx context.Context, event *models.BotEvent) error {
	seq, err := c.seq.Next()
	if err != nil {
		return fmt.Errorf("failed to allocate event sequence: %w", err)
	}
	record := eventRecord{Seq: seq, SessionID: event.SessionID, Event: *event}
	if err := c.db.Store().Insert(seq, record); err != nil {
		return fmt.Errorf("failed to log event: %w", err)
	}
	return c.trimEvents()
}

func (c *Cache) RecentEvents(ctx context.Context, sessionID string, limit int) ([]*models.BotEvent, error) {
	if limit <= 0 {
		limit = 50
	}

	var records []eventRecord
	var query *badgerhold.Query
	if sessionID != "" {
		query = badgerhold.Where("SessionID").Eq(sessionID)
	}
	if err := c.db.Store().Find(&records, query); err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Seq > records[j].Seq })

	if len(records) > limit {
		records = records[:limit]
	}
	events := make([]*models.BotEvent, 0, len(records))
	for i := range records {
		e := records[i].Event
		events = append(events, &e)
	}
	return events, nil
}

func (c *Cache) Reset(ctx context.Context) error {
	c.queueMu.Lock()
	defer c.queueMu.Unlock()

	if err := c.db.Store().Delete(botStateKey, models.BotState{}); err != nil && !errors.Is(err, badgerhold.ErrNotFound) {
		return fmt.Errorf("failed to clear bot state: %w", err)
	}
	if err := c.db.Store().DeleteMatching(taskRecord{}, nil); err != nil {
		return fmt.Errorf("failed to clear task queue: %w", err)
	}
	return nil
}

func (c *Cache) Close() error {
	if c.seq != nil {
		if err := c.seq.Release(); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to release event sequence")
		}
	}
	return c.db.Close()
}

func (c *Cache) taskRecords() ([]taskRecord, error) {
	var records []taskRecord
	if err := c.db.Store().Find(&records, nil); err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	return records, nil
}

// trimEvents keeps only the newest eventLimit entries
func (c *Cache) trimEvents() error {
	count, err := c.db.Store().Count(eventRecord{}, nil)
	if err != nil {
		return fmt.Errorf("failed to count events: %w", err)
	}
	if int(count) <= c.eventLimit {
		return nil
	}

	var records []eventRecord
	if err := c.db.Store().Find(&records, nil); err != nil {
		return fmt.Errorf("failed to list events: %w", err)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Seq < records[j].Seq })
	for _, r := range records[:len(records)-c.eventLimit] {
		if err := c.db.Store().Delete(r.Seq, eventRecord{}); err != nil && !errors.Is(err, badgerhold.ErrNotFound) {
			return fmt.Errorf("failed to trim event %d: %w", r.Seq, err)
		}
	}
	return nil
}

func readMetrics(txn *badgerdb.Txn, key []byte) (map[string]int64, error) {
	metrics := make(map[string]int64)
	item, err := txn.Get(key)
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return metrics, nil
	}
	if err != nil {
		return nil, err
	}
	raw, err := item.ValueCopy(nil)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, &metrics); err != nil {
		return nil, err
	}
	return metrics, nil
}

var _ interfaces.StateCache = (*Cache)(nil)
