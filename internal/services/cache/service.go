// Package cache selects the fast state cache backend at startup.
// Callers receive an interfaces.StateCache and never branch on which backend is live.
package cache

import (
	"context"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/atozbot/internal/common"
	"github.com/ternarybob/atozbot/internal/interfaces"
	"github.com/ternarybob/atozbot/internal/storage/badger"
	"github.com/ternarybob/atozbot/internal/storage/redis"
)

// New builds the configured backend. An unreachable redis or an unopenable
// badger directory falls back to the in-process cache with a warning.
func New(ctx context.Context, config *common.Config, logger arbor.ILogger) interfaces.StateCache {
	cacheConfig := config.Cache
	metricsTTL := common.Duration(cacheConfig.MetricsTTL, 24*time.Hour)

	switch strings.ToLower(cacheConfig.Type) {
	case "redis":
		dialCtx, cancel := context.WithTimeout(ctx, common.Duration(cacheConfig.Redis.DialTimeout, 5*time.Second))
		defer cancel()
		cache, err := redis.NewCache(dialCtx, logger, &cacheConfig)
		if err == nil {
			return cache
		}
		logger.Warn().Err(err).Str("addr", cacheConfig.Redis.Addr).Msg("Redis unavailable, using in-process state cache")

	case "badger":
		cache, err := badger.NewCache(logger, &config.Storage.Badger, cacheConfig.EventLogSize, metricsTTL)
		if err == nil {
			return cache
		}
		logger.Warn().Err(err).Str("path", config.Storage.Badger.Path).Msg("Badger cache unavailable, using in-process state cache")
	}

	logger.Info().Str("type", cacheConfig.Type).Msg("In-process state cache initialized")
	return NewMemoryCache(cacheConfig.EventLogSize, metricsTTL)
}
