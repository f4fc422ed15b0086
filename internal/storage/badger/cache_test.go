package badger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/atozbot/internal/common"
	"github.com/ternarybob/atozbot/internal/interfaces"
	"github.com/ternarybob/atozbot/internal/models"
	"github.com/ternarybob/atozbot/internal/storage/cachetest"
)

func openCache(t *testing.T, path string, eventLimit int) *Cache {
	t.Helper()
	cache, err := NewCache(arbor.NewLogger(), &common.BadgerConfig{Path: path}, eventLimit, time.Hour)
	require.NoError(t, err)
	return cache
}

func TestBadgerCacheContract(t *testing.T) {
	cachetest.Run(t, func(t *testing.T) interfaces.StateCache {
		cache := openCache(t, filepath.Join(t.TempDir(), "cache"), 100)
		t.Cleanup(func() { cache.Close() })
		return cache
	})
}

func TestBadgerCacheEventLogIsCapped(t *testing.T) {
	ctx := context.Background()
	cache := openCache(t, filepath.Join(t.TempDir(), "cache"), 3)
	defer cache.Close()

	for i := 0; i < 5; i++ {
		require.NoError(t, cache.LogEvent(ctx, &models.BotEvent{
			ID:        string(rune('a' + i)),
			SessionID: "s1",
			Type:      "progress",
		}))
	}

	events, err := cache.RecentEvents(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "e", events[0].ID)
	assert.Equal(t, "c", events[2].ID)
}

func TestBadgerCacheSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cache")

	cache := openCache(t, path, 10)
	require.NoError(t, cache.SetBotState(ctx, &models.BotState{Status: models.SessionStatusRunning, SessionID: "s1", Generation: 4}))
	require.NoError(t, cache.EnqueueTask(ctx, &models.Task{ID: "t1", Type: models.TaskTypeScreenshot, CreatedAt: time.Now()}))
	require.NoError(t, cache.Close())

	cache = openCache(t, path, 10)
	defer cache.Close()

	state, err := cache.GetBotState(ctx)
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, int64(4), state.Generation)

	task, err := cache.DequeueTask(ctx)
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, models.TaskTypeScreenshot, task.Type)
}
