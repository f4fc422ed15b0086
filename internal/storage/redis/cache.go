package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/atozbot/internal/common"
	"github.com/ternarybob/atozbot/internal/interfaces"
	"github.com/ternarybob/atozbot/internal/models"
)

const (
	botStateKey       = "bot:state"
	activeSessionsKey = "bot:sessions:active"
	sessionPrefix     = "bot:session:"
	taskQueueKey      = "bot:tasks:queue"
	taskProcessingKey = "bot:tasks:processing"
	taskIndexKey      = "bot:tasks:index"
	taskPrefix        = "bot:task:"
	metricsPrefix     = "bot:metrics:"
	eventsKey         = "bot:events"

	// priorityWeight keeps priority dominant over the enqueue time in the queue score
	priorityWeight = 1e13
)

// Cache is the StateCache backed by Redis
type Cache struct {
	client     *redis.Client
	logger     arbor.ILogger
	eventLimit int
	metricsTTL time.Duration
	taskTTL    time.Duration
	now        func() time.Time
}

// NewCache connects to Redis and verifies the server answers PING
func NewCache(ctx context.Context, logger arbor.ILogger, config *common.CacheConfig) (*Cache, error) {
	if config.Redis.Addr == "" {
		return nil, errors.New("redis: address is empty")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         config.Redis.Addr,
		Username:     config.Redis.Username,
		Password:     config.Redis.Password,
		DB:           config.Redis.DB,
		DialTimeout:  common.Duration(config.Redis.DialTimeout, 5*time.Second),
		ReadTimeout:  common.Duration(config.Redis.ReadTimeout, 3*time.Second),
		WriteTimeout: common.Duration(config.Redis.WriteTimeout, 3*time.Second),
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis: failed to ping server: %w", err)
	}

	eventLimit := config.EventLogSize
	if eventLimit <= 0 {
		eventLimit = 1000
	}

	logger.Info().Str("addr", config.Redis.Addr).Int("db", config.Redis.DB).Msg("Redis state cache connected")

	return &Cache{
		client:     client,
		logger:     logger,
		eventLimit: eventLimit,
		metricsTTL: common.Duration(config.MetricsTTL, 24*time.Hour),
		taskTTL:    common.Duration(config.TaskTTL, time.Hour),
		now:        time.Now,
	}, nil
}

func (c *Cache) Name() string { return "redis" }

func (c *Cache) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping failed: %w", err)
	}
	return nil
}

func (c *Cache) SetBotState(ctx context.Context, state *models.BotState) error {
	return c.client.HSet(ctx, botStateKey,
		"state", string(state.Status),
		"session_id", state.SessionID,
		"generation", state.Generation,
		"pid", state.PID,
		"timestamp", formatTime(state.UpdatedAt),
	).Err()
}

func (c *Cache) GetBotState(ctx context.Context) (*models.BotState, error) {
	fields, err := c.client.HGetAll(ctx, botStateKey).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return &models.BotState{
		Status:     models.SessionStatus(fields["state"]),
		SessionID:  fields["session_id"],
		Generation: parseInt(fields["generation"]),
		PID:        int(parseInt(fields["pid"])),
		UpdatedAt:  parseTime(fields["timestamp"]),
	}, nil
}

func (c *Cache) PutSession(ctx context.Context, session *models.Session) error {
	key := sessionPrefix + session.ID
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, sessionFields(session))
		if session.Status.IsActive() {
			pipe.SAdd(ctx, activeSessionsKey, session.ID)
		} else {
			pipe.SRem(ctx, activeSessionsKey, session.ID)
		}
		return nil
	})
	return err
}

func (c *Cache) GetSession(ctx context.Context, id string) (*models.Session, error) {
	fields, err := c.client.HGetAll(ctx, sessionPrefix+id).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return parseSession(fields), nil
}

func (c *Cache) DeleteSession(ctx context.Context, id string) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, sessionPrefix+id)
		pipe.SRem(ctx, activeSessionsKey, id)
		return nil
	})
	return err
}

func (c *Cache) EnqueueTask(ctx context.Context, task *models.Task) error {
	data, err := json.Marshal(task.Data)
	if err != nil {
		return fmt.Errorf("failed to encode task data: %w", err)
	}

	score := -float64(task.Priority)*priorityWeight + float64(task.CreatedAt.UnixMilli())
	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, taskPrefix+task.ID,
			"id", task.ID,
			"type", string(task.Type),
			"priority", task.Priority,
			"data", string(data),
			"status", string(models.TaskStatusPending),
			"created_at", formatTime(task.CreatedAt),
		)
		pipe.ZAdd(ctx, taskQueueKey, redis.Z{Score: score, Member: task.ID})
		pipe.ZAdd(ctx, taskIndexKey, redis.Z{Score: float64(task.CreatedAt.UnixMilli()), Member: task.ID})
		return nil
	})
	return err
}

// DequeueTask pops the lowest score, i.e. highest priority then oldest.
// ZPOPMIN is atomic so concurrent pollers never receive the same task.
func (c *Cache) DequeueTask(ctx context.Context) (*models.Task, error) {
	for {
		popped, err := c.client.ZPopMin(ctx, taskQueueKey, 1).Result()
		if err != nil {
			return nil, err
		}
		if len(popped) == 0 {
			return nil, nil
		}

		id, _ := popped[0].Member.(string)
		fields, err := c.client.HGetAll(ctx, taskPrefix+id).Result()
		if err != nil {
			return nil, err
		}
		if len(fields) == 0 {
			// expired or reset between enqueue and pop
			continue
		}

		started := c.now()
		_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, taskPrefix+id, "status", string(models.TaskStatusProcessing), "started_at", formatTime(started))
			pipe.ZAdd(ctx, taskProcessingKey, redis.Z{Score: float64(started.UnixMilli()), Member: id})
			return nil
		})
		if err != nil {
			return nil, err
		}

		task := parseTask(fields)
		task.Status = models.TaskStatusProcessing
		task.StartedAt = &started
		return task, nil
	}
}

func (c *Cache) CompleteTask(ctx context.Context, id string, success bool, result, errMsg string) error {
	key := taskPrefix + id
	exists, err := c.client.Exists(ctx, key).Result()
	if err != nil {
		return err
	}
	if exists == 0 {
		return fmt.Errorf("task %s: %w", id, interfaces.ErrNotFound)
	}

	status := models.TaskStatusCompleted
	if !success {
		status = models.TaskStatusFailed
	}
	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"status", string(status),
			"result", result,
			"error", errMsg,
			"completed_at", formatTime(c.now()),
		)
		pipe.ZRem(ctx, taskProcessingKey, id)
		pipe.ZRem(ctx, taskQueueKey, id)
		if c.taskTTL > 0 {
			pipe.Expire(ctx, key, c.taskTTL)
		}
		return nil
	})
	return err
}

func (c *Cache) ListTasks(ctx context.Context) ([]*models.Task, error) {
	ids, err := c.client.ZRevRange(ctx, taskIndexKey, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []*models.Task{}, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = c.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, taskPrefix+id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	tasks := make([]*models.Task, 0, len(ids))
	var stale []interface{}
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			stale = append(stale, ids[i])
			continue
		}
		tasks = append(tasks, parseTask(fields))
	}
	if len(stale) > 0 {
		c.client.ZRem(ctx, taskIndexKey, stale...)
	}
	return tasks, nil
}

// PurgeTasks deletes finished tasks early; the task TTL covers the rest
func (c *Cache) PurgeTasks(ctx context.Context, olderThan time.Duration) (int, error) {
	tasks, err := c.ListTasks(ctx)
	if err != nil {
		return 0, err
	}

	cutoff := c.now().Add(-olderThan)
	purged := 0
	for _, t := range tasks {
		if !t.Finished() || t.CompletedAt == nil || !t.CompletedAt.Before(cutoff) {
			continue
		}
		_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, taskPrefix+t.ID)
			pipe.ZRem(ctx, taskIndexKey, t.ID)
			return nil
		})
		if err != nil {
			c.logger.Warn().Err(err).Str("task_id", t.ID).Msg("Failed to purge task")
			continue
		}
		purged++
	}
	return purged, nil
}

func (c *Cache) UpdateMetrics(ctx context.Context, sessionID string, metrics map[string]int64) error {
	if len(metrics) == 0 {
		return nil
	}
	key := metricsPrefix + sessionID
	values := make(map[string]interface{}, len(metrics))
	for k, v := range metrics {
		values[k] = v
	}
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, values)
		if c.metricsTTL > 0 {
			pipe.Expire(ctx, key, c.metricsTTL)
		}
		return nil
	})
	return err
}

func (c *Cache) GetMetrics(ctx context.Context, sessionID string) (map[string]int64, error) {
	fields, err := c.client.HGetAll(ctx, metricsPrefix+sessionID).Result()
	if err != nil {
		return nil, err
	}
	metrics := make(map[string]int64, len(fields))
	for k, v := range fields {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			metrics[k] = n
		}
	}
	return metrics, nil
}

func (c *Cache) LogEvent(ctx context.Context, event *models.BotEvent) error {
	raw, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, eventsKey, raw)
		pipe.LTrim(ctx, eventsKey, 0, int64(c.eventLimit-1))
		return nil
	})
	return err
}

// RecentEvents filters the whole capped log so a busy session cannot hide another's events
func (c *Cache) RecentEvents(ctx context.Context, sessionID string, limit int) ([]*models.BotEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	raw, err := c.client.LRange(ctx, eventsKey, 0, -1).Result()
	if err != nil {
		return nil, err
	}

	events := make([]*models.BotEvent, 0, limit)
	for _, entry := range raw {
		if len(events) >= limit {
			break
		}
		var event models.BotEvent
		if err := json.Unmarshal([]byte(entry), &event); err != nil {
			c.logger.Warn().Err(err).Msg("Skipping undecodable cache event")
			continue
		}
		if sessionID != "" && event.SessionID != sessionID {
			continue
		}
		events = append(events, &event)
	}
	return events, nil
}

func (c *Cache) Reset(ctx context.Context) error {
	ids, err := c.client.ZRange(ctx, taskIndexKey, 0, -1).Result()
	if err != nil {
		return err
	}
	keys := []string{botStateKey, taskQueueKey, taskProcessingKey, taskIndexKey}
	for _, id := range ids {
		keys = append(keys, taskPrefix+id)
	}
	return c.client.Del(ctx, keys...).Err()
}

func (c *Cache) Close() error {
	return c.client.Close()
}

func sessionFields(s *models.Session) map[string]interface{} {
	return map[string]interface{}{
		"id":             s.ID,
		"session_name":   s.Name,
		"status":         string(s.Status),
		"login_status":   string(s.LoginStatus),
		"total_checks":   s.TotalChecks,
		"total_accepted": s.TotalAccepted,
		"total_rejected": s.TotalRejected,
		"generation":     s.Generation,
		"start_time":     formatTimePtr(s.StartTime),
		"end_time":       formatTimePtr(s.EndTime),
		"created_at":     formatTime(s.CreatedAt),
		"updated_at":     formatTime(s.UpdatedAt),
	}
}

func parseSession(f map[string]string) *models.Session {
	return &models.Session{
		ID:          f["id"],
		Name:        f["session_name"],
		Status:      models.SessionStatus(f["status"]),
		LoginStatus: models.LoginStatus(f["login_status"]),
		SessionCounters: models.SessionCounters{
			TotalChecks:   parseInt(f["total_checks"]),
			TotalAccepted: parseInt(f["total_accepted"]),
			TotalRejected: parseInt(f["total_rejected"]),
		},
		Generation: parseInt(f["generation"]),
		StartTime:  parseTimePtr(f["start_time"]),
		EndTime:    parseTimePtr(f["end_time"]),
		CreatedAt:  parseTime(f["created_at"]),
		UpdatedAt:  parseTime(f["updated_at"]),
	}
}

func parseTask(f map[string]string) *models.Task {
	task := &models.Task{
		ID:          f["id"],
		Type:        models.TaskType(f["type"]),
		Priority:    int(parseInt(f["priority"])),
		Status:      models.TaskStatus(f["status"]),
		Result:      f["result"],
		Error:       f["error"],
		CreatedAt:   parseTime(f["created_at"]),
		StartedAt:   parseTimePtr(f["started_at"]),
		CompletedAt: parseTimePtr(f["completed_at"]),
	}
	if raw := f["data"]; raw != "" && raw != "null" {
		_ = json.Unmarshal([]byte(raw), &task.Data)
	}
	return task
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseTimePtr(s string) *time.Time {
	if s == "" {
		return nil
	}
	t := parseTime(s)
	if t.IsZero() {
		return nil
	}
	return &t
}

func parseInt(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

var _ interfaces.StateCache = (*Cache)(nil)
