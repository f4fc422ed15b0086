package app

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/atozbot/internal/common"
	"github.com/ternarybob/atozbot/internal/services/bot"
)

func newTestApp(t *testing.T) *App {
	t.Helper()
	dir := t.TempDir()

	config := common.NewDefaultConfig()
	config.Storage.SQLite.Path = filepath.Join(dir, "atozbot.db")
	config.Storage.SQLite.WALMode = false
	config.Worker.LockFile = filepath.Join(dir, "worker.lock")
	config.Portal.SkipHealthCheck = true
	config.Cache.Type = "memory"

	application, err := New(config, nil, arbor.NewLogger())
	require.NoError(t, err)
	t.Cleanup(func() { application.Close() })
	return application
}

func TestNew_HealthChecksCoverRealtimeChannel(t *testing.T) {
	application := newTestApp(t)
	ctx := context.Background()

	results := application.Health.Run(ctx)
	byName := make(map[string]bot.HealthResult, len(results))
	for _, r := range results {
		byName[r.Name] = r
	}

	require.Contains(t, byName, "realtime")
	assert.True(t, byName["realtime"].Critical)
	assert.True(t, byName["realtime"].Healthy, byName["realtime"].Error)
	assert.True(t, byName["storage"].Critical)
	assert.False(t, byName["cache"].Critical)
	require.NoError(t, application.Health.RequireCritical(ctx))
}

func TestNew_ClosedEventBusBlocksStart(t *testing.T) {
	application := newTestApp(t)
	ctx := context.Background()

	require.NoError(t, application.EventService.Close())

	_, err := application.BotService.Start(ctx, "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, bot.ErrDependencyUnavailable))
	assert.Contains(t, err.Error(), "realtime")
	assert.False(t, application.BotService.IsRunning())
}
