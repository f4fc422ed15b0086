package models

import "time"

// BotConfiguration holds the tunable run parameters. Exactly one row is active.
type BotConfiguration struct {
	ID                            int64     `json:"id"`
	Name                          string    `json:"name"`
	CheckIntervalSeconds          float64   `json:"check_interval_seconds" validate:"gt=0,lte=3600"`
	QuickCheckIntervalSeconds     float64   `json:"quick_check_interval_seconds" validate:"gt=0,lte=3600"`
	EnableQuickCheck              bool      `json:"enable_quick_check"`
	ResultsReportIntervalSeconds  float64   `json:"results_report_interval_seconds" validate:"gt=0"`
	RejectedReportIntervalSeconds float64   `json:"rejected_report_interval_seconds" validate:"gt=0"`
	EnableResultsReporting        bool      `json:"enable_results_reporting"`
	EnableRejectedReporting       bool      `json:"enable_rejected_reporting"`
	MaxAcceptPerRun               int       `json:"max_accept_per_run" validate:"min=1,max=100"`
	JobTypeFilter                 string    `json:"job_type_filter" validate:"required,max=100"`
	ExcludeTypes                  []string  `json:"exclude_types" validate:"dive,required"`
	RequiredFields                []string  `json:"required_fields" validate:"dive,oneof=ref submitted appt_date appt_time duration language status job_type detail_url"`
	IsActive                      bool      `json:"is_active"`
	CreatedAt                     time.Time `json:"created_at"`
	UpdatedAt                     time.Time `json:"updated_at"`
}

// CheckInterval is the sleep between cycles
func (c *BotConfiguration) CheckInterval() time.Duration {
	return seconds(c.CheckIntervalSeconds)
}

// QuickCheckInterval is the task poll interval during the inter-cycle sleep
func (c *BotConfiguration) QuickCheckInterval() time.Duration {
	return seconds(c.QuickCheckIntervalSeconds)
}

func (c *BotConfiguration) ResultsReportInterval() time.Duration {
	return seconds(c.ResultsReportIntervalSeconds)
}

func (c *BotConfiguration) RejectedReportInterval() time.Duration {
	return seconds(c.RejectedReportIntervalSeconds)
}

// Clone returns a deep copy so callers can mutate slices safely
func (c *BotConfiguration) Clone() *BotConfiguration {
	if c == nil {
		return nil
	}
	out := *c
	out.ExcludeTypes = append([]string(nil), c.ExcludeTypes...)
	out.RequiredFields = append([]string(nil), c.RequiredFields...)
	return &out
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
