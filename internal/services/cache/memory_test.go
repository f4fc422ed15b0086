package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/atozbot/internal/interfaces"
	"github.com/ternarybob/atozbot/internal/models"
	"github.com/ternarybob/atozbot/internal/storage/cachetest"
)

func TestMemoryCacheContract(t *testing.T) {
	cachetest.Run(t, func(t *testing.T) interfaces.StateCache {
		return NewMemoryCache(100, time.Hour)
	})
}

func TestMemoryCacheMetricsExpire(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	cache := NewMemoryCache(10, 24*time.Hour).WithClock(func() time.Time { return now })

	require.NoError(t, cache.UpdateMetrics(ctx, "s1", map[string]int64{"total_checks": 5}))

	now = now.Add(23 * time.Hour)
	metrics, err := cache.GetMetrics(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), metrics["total_checks"])

	now = now.Add(2 * time.Hour)
	metrics, err = cache.GetMetrics(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, metrics)
}

func TestMemoryCacheEventLogIsCapped(t *testing.T) {
	ctx := context.Background()
	cache := NewMemoryCache(3, time.Hour)

	for i := 0; i < 5; i++ {
		require.NoError(t, cache.LogEvent(ctx, &models.BotEvent{
			ID:        string(rune('a' + i)),
			SessionID: "s1",
			Type:      "progress",
		}))
	}

	events, err := cache.RecentEvents(ctx, "s1", 10)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "e", events[0].ID)
	assert.Equal(t, "c", events[2].ID)
}

func TestMemoryCacheReturnsCopies(t *testing.T) {
	ctx := context.Background()
	cache := NewMemoryCache(10, time.Hour)

	task := &models.Task{ID: "t1", Type: models.TaskTypeLogin, Data: map[string]string{"k": "v"}, CreatedAt: time.Now()}
	require.NoError(t, cache.EnqueueTask(ctx, task))
	task.Data["k"] = "changed"

	got, err := cache.DequeueTask(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "v", got.Data["k"])
}
