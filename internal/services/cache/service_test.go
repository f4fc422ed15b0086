package cache

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/atozbot/internal/common"
)

func TestNewSelectsBackend(t *testing.T) {
	ctx := context.Background()
	logger := arbor.NewLogger()

	tests := []struct {
		name      string
		configure func(cfg *common.Config)
		want      string
	}{
		{"memory", func(cfg *common.Config) { cfg.Cache.Type = "memory" }, "memory"},
		{"none maps to memory", func(cfg *common.Config) { cfg.Cache.Type = "none" }, "memory"},
		{"badger", func(cfg *common.Config) {
			cfg.Cache.Type = "badger"
			cfg.Storage.Badger.Path = filepath.Join(t.TempDir(), "cache")
		}, "badger"},
		{"unreachable redis falls back", func(cfg *common.Config) {
			cfg.Cache.Type = "redis"
			cfg.Cache.Redis.Addr = "127.0.0.1:1"
			cfg.Cache.Redis.DialTimeout = "200ms"
		}, "memory"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := common.NewDefaultConfig()
			tt.configure(cfg)

			cache := New(ctx, cfg, logger)
			defer cache.Close()

			assert.Equal(t, tt.want, cache.Name())
			assert.NoError(t, cache.Ping(ctx))
		})
	}
}
