package common

import (
	"time"

	"github.com/ternarybob/atozbot/internal/models"
)

// Configuration converts the [bot] fallback values into a BotConfiguration
func (b BotConfig) Configuration(now time.Time) *models.BotConfiguration {
	return &models.BotConfiguration{
		Name:                          "default",
		CheckIntervalSeconds:          b.CheckIntervalSeconds,
		QuickCheckIntervalSeconds:     b.QuickCheckIntervalSeconds,
		EnableQuickCheck:              b.EnableQuickCheck,
		ResultsReportIntervalSeconds:  b.ResultsReportSeconds,
		RejectedReportIntervalSeconds: b.RejectedReportSeconds,
		EnableResultsReporting:        b.EnableResultsReporting,
		EnableRejectedReporting:       b.EnableRejectedReporting,
		MaxAcceptPerRun:               b.MaxAcceptPerRun,
		JobTypeFilter:                 b.JobTypeFilter,
		ExcludeTypes:                  append([]string(nil), b.ExcludeTypes...),
		RequiredFields:                append([]string(nil), b.RequiredFields...),
		IsActive:                      true,
		CreatedAt:                     now,
		UpdatedAt:                     now,
	}
}
