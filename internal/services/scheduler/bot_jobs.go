package scheduler

import (
	"context"
	"time"

	"github.com/ternarybob/atozbot/internal/common"
	"github.com/ternarybob/atozbot/internal/models"
)

const (
	JobAnalyticsSnapshot = "analytics_snapshot"
	JobCacheCleanup      = "cache_cleanup"
)

// jobTimeout bounds a single maintenance run
const jobTimeout = 2 * time.Minute

// BotMaintenance is what the maintenance jobs call on the controller
type BotMaintenance interface {
	SnapshotAnalytics(ctx context.Context) (*models.AnalyticsPeriod, error)
	PurgeTasks(ctx context.Context) (int, error)
}

// RegisterBotJobs adds the analytics snapshot and cache cleanup jobs
func RegisterBotJobs(s *Service, bot BotMaintenance, config *common.SchedulerConfig) error {
	err := s.RegisterJob(JobAnalyticsSnapshot, config.AnalyticsSchedule, "Store and broadcast analytics for the trailing window", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()
		_, err := bot.SnapshotAnalytics(ctx)
		return err
	})
	if err != nil {
		return err
	}

	return s.RegisterJob(JobCacheCleanup, config.CacheCleanupSchedule, "Drop finished tasks past their TTL", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()
		purged, err := bot.PurgeTasks(ctx)
		if err != nil {
			return err
		}
		if purged > 0 {
			s.logger.Info().Int("purged", purged).Msg("Expired tasks removed from cache")
		}
		return nil
	})
}
