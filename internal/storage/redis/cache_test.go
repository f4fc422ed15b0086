package redis

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/atozbot/internal/common"
	"github.com/ternarybob/atozbot/internal/interfaces"
	"github.com/ternarybob/atozbot/internal/storage/cachetest"
)

// Runs against a real server only; point ATOZBOT_TEST_REDIS_ADDR at a disposable instance.
func TestRedisCacheContract(t *testing.T) {
	addr := os.Getenv("ATOZBOT_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("ATOZBOT_TEST_REDIS_ADDR not set")
	}

	cachetest.Run(t, func(t *testing.T) interfaces.StateCache {
		config := common.NewDefaultConfig().Cache
		config.Redis.Addr = addr
		config.Redis.DB = 15

		cache, err := NewCache(context.Background(), arbor.NewLogger(), &config)
		require.NoError(t, err)
		require.NoError(t, cache.client.FlushDB(context.Background()).Err())
		t.Cleanup(func() { cache.Close() })
		return cache
	})
}

func TestRedisCacheRejectsEmptyAddress(t *testing.T) {
	config := common.NewDefaultConfig().Cache
	config.Redis.Addr = ""

	_, err := NewCache(context.Background(), arbor.NewLogger(), &config)
	require.Error(t, err)
}
