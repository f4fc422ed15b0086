package models

import "time"

// Analytics aggregates job records over a trailing window
type Analytics struct {
	PeriodHours          int              `json:"period_hours"`
	TotalJobs            int64            `json:"total_jobs"`
	AcceptedJobs         int64            `json:"accepted_jobs"`
	RejectedJobs         int64            `json:"rejected_jobs"`
	SkippedJobs          int64            `json:"skipped_jobs"`
	AcceptanceRate       float64          `json:"acceptance_rate"`
	MostCommonLanguage   *string          `json:"most_common_language"`
	PeakHour             *int             `json:"peak_hour"`
	LanguageDistribution map[string]int64 `json:"language_distribution"`
	HourlyDistribution   map[int]int64    `json:"hourly_distribution"`
}

// AnalyticsPeriod is a persisted snapshot taken by the scheduler
type AnalyticsPeriod struct {
	ID          int64     `json:"id"`
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`
	Analytics
	CreatedAt time.Time `json:"created_at"`
}

// DashboardMetrics is the GET /api/bot/dashboard/metrics payload
type DashboardMetrics struct {
	Status         *StatusSnapshot `json:"status"`
	Last24h        *Analytics      `json:"last_24h"`
	RecentSessions []*Session      `json:"recent_sessions"`
	Cache          string          `json:"cache"`
	GeneratedAt    time.Time       `json:"generated_at"`
}
