package worker

import (
	"context"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/atozbot/internal/models"
)

// ConfigFetcher reads the active configuration from the controller
type ConfigFetcher interface {
	FetchConfiguration(ctx context.Context) (*models.BotConfiguration, error)
}

// ConfigSource serves the current bot configuration, refreshing it from the
// controller at most once per refresh interval. When the controller is
// unreachable the last good value is kept, or the fallback if none.
type ConfigSource struct {
	fetcher   ConfigFetcher
	fallback  *models.BotConfiguration
	refresh   time.Duration
	validate  *validator.Validate
	logger    arbor.ILogger
	now       func() time.Time
	mu        sync.Mutex
	current   *models.BotConfiguration
	fetchedAt time.Time
}

// NewConfigSource creates a source. fetcher may be nil, in which case only
// the fallback is served.
func NewConfigSource(fetcher ConfigFetcher, fallback *models.BotConfiguration, refresh time.Duration, logger arbor.ILogger) *ConfigSource {
	if refresh <= 0 {
		refresh = 30 * time.Second
	}
	return &ConfigSource{
		fetcher:  fetcher,
		fallback: fallback.Clone(),
		refresh:  refresh,
		validate: validator.New(),
		logger:   logger,
		now:      time.Now,
	}
}

// Current returns a copy of the configuration to use for the next cycle
func (s *ConfigSource) Current(ctx context.Context) *models.BotConfiguration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fetcher != nil && (s.fetchedAt.IsZero() || s.now().Sub(s.fetchedAt) >= s.refresh) {
		s.fetchedAt = s.now()
		cfg, err := s.fetcher.FetchConfiguration(ctx)
		if err != nil {
			s.logger.Debug().Err(err).Msg("Configuration refresh failed, keeping previous values")
		} else if err := s.validate.Struct(cfg); err != nil {
			s.logger.Warn().Err(err).Msg("Controller returned an invalid configuration, ignoring it")
		} else {
			if s.current == nil || s.current.CheckIntervalSeconds != cfg.CheckIntervalSeconds || s.current.MaxAcceptPerRun != cfg.MaxAcceptPerRun {
				s.logger.Info().
					Float64("check_interval_seconds", cfg.CheckIntervalSeconds).
					Int("max_accept_per_run", cfg.MaxAcceptPerRun).
					Str("job_type_filter", cfg.JobTypeFilter).
					Msg("Configuration loaded from controller")
			}
			s.current = cfg
		}
	}

	if s.current != nil {
		return s.current.Clone()
	}
	return s.fallback.Clone()
}
