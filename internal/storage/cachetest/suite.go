// Package cachetest holds behaviour tests shared by every StateCache backend
package cachetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/atozbot/internal/interfaces"
	"github.com/ternarybob/atozbot/internal/models"
)

// Factory returns a fresh, empty cache for one subtest
type Factory func(t *testing.T) interfaces.StateCache

// Run exercises the StateCache contract against the backend built by newCache
func Run(t *testing.T, newCache Factory) {
	t.Run("BotState", func(t *testing.T) { testBotState(t, newCache(t)) })
	t.Run("Sessions", func(t *testing.T) { testSessions(t, newCache(t)) })
	t.Run("TaskPriority", func(t *testing.T) { testTaskPriority(t, newCache(t)) })
	t.Run("TaskLifecycle", func(t *testing.T) { testTaskLifecycle(t, newCache(t)) })
	t.Run("Metrics", func(t *testing.T) { testMetrics(t, newCache(t)) })
	t.Run("Events", func(t *testing.T) { testEvents(t, newCache(t)) })
	t.Run("Reset", func(t *testing.T) { testReset(t, newCache(t)) })
}

func testBotState(t *testing.T, cache interfaces.StateCache) {
	ctx := context.Background()

	state, err := cache.GetBotState(ctx)
	require.NoError(t, err)
	assert.Nil(t, state)

	now := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, cache.SetBotState(ctx, &models.BotState{
		Status:     models.SessionStatusRunning,
		SessionID:  "s1",
		Generation: 3,
		PID:        4242,
		UpdatedAt:  now,
	}))

	state, err = cache.GetBotState(ctx)
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, models.SessionStatusRunning, state.Status)
	assert.Equal(t, "s1", state.SessionID)
	assert.Equal(t, int64(3), state.Generation)
	assert.Equal(t, 4242, state.PID)
	assert.True(t, now.Equal(state.UpdatedAt))
}

func testSessions(t *testing.T, cache interfaces.StateCache) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	missing, err := cache.GetSession(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	session := models.NewSession("s1", "Session_1", 2, now)
	session.Status = models.SessionStatusRunning
	session.TotalChecks = 7
	session.TotalAccepted = 1
	require.NoError(t, cache.PutSession(ctx, session))

	got, err := cache.GetSession(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Session_1", got.Name)
	assert.Equal(t, models.SessionStatusRunning, got.Status)
	assert.Equal(t, int64(7), got.TotalChecks)
	assert.Equal(t, int64(1), got.TotalAccepted)
	assert.Equal(t, int64(2), got.Generation)
	require.NotNil(t, got.StartTime)
	assert.True(t, now.Equal(*got.StartTime))
	assert.Nil(t, got.EndTime)

	require.NoError(t, cache.DeleteSession(ctx, "s1"))
	got, err = cache.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func newTask(id string, priority int, created time.Time) *models.Task {
	return &models.Task{
		ID:        id,
		Type:      models.TaskTypeJobCheck,
		Priority:  priority,
		Data:      map[string]string{"origin": id},
		Status:    models.TaskStatusPending,
		CreatedAt: created,
	}
}

func testTaskPriority(t *testing.T, cache interfaces.StateCache) {
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Millisecond)

	require.NoError(t, cache.EnqueueTask(ctx, newTask("low", 1, base)))
	require.NoError(t, cache.EnqueueTask(ctx, newTask("high-old", 5, base.Add(time.Millisecond))))
	require.NoError(t, cache.EnqueueTask(ctx, newTask("high-new", 5, base.Add(2*time.Millisecond))))

	var order []string
	for {
		task, err := cache.DequeueTask(ctx)
		require.NoError(t, err)
		if task == nil {
			break
		}
		assert.Equal(t, models.TaskStatusProcessing, task.Status)
		assert.NotNil(t, task.StartedAt)
		order = append(order, task.ID)
	}
	assert.Equal(t, []string{"high-old", "high-new", "low"}, order)
}

func testTaskLifecycle(t *testing.T, cache interfaces.StateCache) {
	ctx := context.Background()
	created := time.Now().UTC().Add(-time.Minute).Truncate(time.Millisecond)

	require.NoError(t, cache.EnqueueTask(ctx, newTask("t1", 0, created)))

	task, err := cache.DequeueTask(ctx)
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, "t1", task.ID)
	assert.Equal(t, "t1", task.Data["origin"])

	again, err := cache.DequeueTask(ctx)
	require.NoError(t, err)
	assert.Nil(t, again, "a dequeued task is never handed out twice")

	require.NoError(t, cache.CompleteTask(ctx, "t1", false, "", "portal timeout"))

	tasks, err := cache.ListTasks(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, models.TaskStatusFailed, tasks[0].Status)
	assert.Equal(t, "portal timeout", tasks[0].Error)
	assert.NotNil(t, tasks[0].CompletedAt)

	err = cache.CompleteTask(ctx, "missing", true, "", "")
	assert.True(t, errors.Is(err, interfaces.ErrNotFound))

	purged, err := cache.PurgeTasks(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 0, purged, "recent tasks are kept")

	purged, err = cache.PurgeTasks(ctx, -time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, purged)

	tasks, err = cache.ListTasks(ctx)
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func testMetrics(t *testing.T, cache interfaces.StateCache) {
	ctx := context.Background()

	empty, err := cache.GetMetrics(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, empty)

	require.NoError(t, cache.UpdateMetrics(ctx, "s1", map[string]int64{"total_checks": 3, "total_accepted": 1}))
	require.NoError(t, cache.UpdateMetrics(ctx, "s1", map[string]int64{"total_checks": 4}))

	metrics, err := cache.GetMetrics(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(4), metrics["total_checks"])
	assert.Equal(t, int64(1), metrics["total_accepted"])

	other, err := cache.GetMetrics(ctx, "s2")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func testEvents(t *testing.T, cache interfaces.StateCache) {
	ctx := context.Background()
	now := time.Now().UTC()

	for i, session := range []string{"s1", "s2", "s1"} {
		require.NoError(t, cache.LogEvent(ctx, &models.BotEvent{
			ID:        string(rune('a' + i)),
			SessionID: session,
			Type:      "cycle_complete",
			Data:      map[string]interface{}{"cycle": float64(i)},
			Timestamp: now.Add(time.Duration(i) * time.Second),
		}))
	}

	all, err := cache.RecentEvents(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[0].ID, "newest first")
	assert.Equal(t, "a", all[2].ID)

	mine, err := cache.RecentEvents(ctx, "s1", 10)
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, float64(2), mine[0].Data["cycle"])

	limited, err := cache.RecentEvents(ctx, "", 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "c", limited[0].ID)
}

func testReset(t *testing.T, cache interfaces.StateCache) {
	ctx := context.Background()

	require.NoError(t, cache.SetBotState(ctx, &models.BotState{Status: models.SessionStatusRunning, SessionID: "s1"}))
	require.NoError(t, cache.EnqueueTask(ctx, newTask("t1", 0, time.Now().UTC())))
	require.NoError(t, cache.Reset(ctx))

	state, err := cache.GetBotState(ctx)
	require.NoError(t, err)
	assert.Nil(t, state)

	task, err := cache.DequeueTask(ctx)
	require.NoError(t, err)
	assert.Nil(t, task)

	require.NoError(t, cache.Ping(ctx))
}
