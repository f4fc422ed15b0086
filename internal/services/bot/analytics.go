package bot

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/ternarybob/atozbot/internal/interfaces"
	"github.com/ternarybob/atozbot/internal/models"
	"github.com/ternarybob/atozbot/internal/services/evaluator"
)

// Analytics aggregates the job records of the trailing window
func (s *Service) Analytics(ctx context.Context, hours int) (*models.Analytics, error) {
	if hours <= 0 {
		hours = 24
	}
	since := s.now().Add(-time.Duration(hours) * time.Hour)
	records, err := s.storage.JobRecordStorage().JobRecordsSince(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("failed to load job records: %w", err)
	}
	return ComputeAnalytics(records, hours), nil
}

// SnapshotAnalytics persists the analytics of the configured window and
// pushes it to subscribers
func (s *Service) SnapshotAnalytics(ctx context.Context) (*models.AnalyticsPeriod, error) {
	hours := s.config.Scheduler.AnalyticsWindowHours
	if hours <= 0 {
		hours = 4
	}
	end := s.now()
	analytics, err := s.Analytics(ctx, hours)
	if err != nil {
		return nil, err
	}

	period := &models.AnalyticsPeriod{
		PeriodStart: end.Add(-time.Duration(hours) * time.Hour),
		PeriodEnd:   end,
		Analytics:   *analytics,
		CreatedAt:   end,
	}
	if err := s.storage.AnalyticsStorage().SaveAnalyticsPeriod(ctx, period); err != nil {
		return nil, fmt.Errorf("failed to save analytics period: %w", err)
	}

	s.logger.Info().
		Int("period_hours", hours).
		Int64("total_jobs", period.TotalJobs).
		Float64("acceptance_rate", period.AcceptanceRate).
		Msg("Analytics snapshot saved")

	if s.events != nil {
		if err := s.events.Publish(ctx, interfaces.Event{Type: interfaces.EventAnalytics, Payload: period}); err != nil {
			s.logger.Debug().Err(err).Msg("Analytics publish failed")
		}
	}
	return period, nil
}

// ComputeAnalytics summarises job records. The acceptance rate is a
// percentage rounded to two decimals; the peak hour is taken from the
// appointment time, falling back to when the row was processed.
func ComputeAnalytics(records []*models.JobRecord, hours int) *models.Analytics {
	a := &models.Analytics{
		PeriodHours:          hours,
		LanguageDistribution: map[string]int64{},
		HourlyDistribution:   map[int]int64{},
	}

	for _, r := range records {
		a.TotalJobs++
		switch r.Outcome {
		case models.JobOutcomeAccepted:
			a.AcceptedJobs++
		case models.JobOutcomeRejected:
			a.RejectedJobs++
		case models.JobOutcomeSkipped:
			a.SkippedJobs++
		}

		if lang := strings.TrimSpace(r.Language); lang != "" {
			a.LanguageDistribution[lang]++
		}
		if hour, ok := jobHour(r); ok {
			a.HourlyDistribution[hour]++
		}
	}

	if a.TotalJobs > 0 {
		rate := float64(a.AcceptedJobs) / float64(a.TotalJobs) * 100
		a.AcceptanceRate = math.Round(rate*100) / 100
	}
	if lang, ok := topKey(a.LanguageDistribution); ok {
		a.MostCommonLanguage = &lang
	}
	if hour, ok := topKey(a.HourlyDistribution); ok {
		a.PeakHour = &hour
	}
	return a
}

// referenceDay lets a bare appointment time go through the board date parser
const referenceDay = "2000-01-01"

func jobHour(r *models.JobRecord) (int, bool) {
	if strings.TrimSpace(r.ApptTime) != "" {
		if t, ok := evaluator.ParseAppointment(referenceDay, r.ApptTime, time.UTC); ok {
			return t.Hour(), true
		}
	}
	if r.ProcessedAt != nil {
		return r.ProcessedAt.Hour(), true
	}
	return 0, false
}

// topKey returns the key with the highest count. Ties go to the smallest key
// so the result is stable.
func topKey[K string | int](counts map[K]int64) (K, bool) {
	var zero K
	if len(counts) == 0 {
		return zero, false
	}
	keys := make([]K, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	best := keys[0]
	for _, k := range keys[1:] {
		if counts[k] > counts[best] {
			best = k
		}
	}
	return best, true
}
