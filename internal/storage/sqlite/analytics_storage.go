package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/atozbot/internal/interfaces"
	"github.com/ternarybob/atozbot/internal/models"
)

// AnalyticsStorage implements interfaces.AnalyticsStorage for SQLite
type AnalyticsStorage struct {
	db     *SQLiteDB
	logger arbor.ILogger
}

// NewAnalyticsStorage creates a new AnalyticsStorage instance
func NewAnalyticsStorage(db *SQLiteDB, logger arbor.ILogger) interfaces.AnalyticsStorage {
	return &AnalyticsStorage{
		db:     db,
		logger: logger,
	}
}

// SaveAnalyticsPeriod stores a snapshot and sets its ID
func (s *AnalyticsStorage) SaveAnalyticsPeriod(ctx context.Context, period *models.AnalyticsPeriod) error {
	languages, err := json.Marshal(period.LanguageDistribution)
	if err != nil {
		return fmt.Errorf("failed to encode language distribution: %w", err)
	}
	hours, err := json.Marshal(period.HourlyDistribution)
	if err != nil {
		return fmt.Errorf("failed to encode hourly distribution: %w", err)
	}
	if period.CreatedAt.IsZero() {
		period.CreatedAt = time.Now().UTC()
	}

	var language sql.NullString
	if period.MostCommonLanguage != nil {
		language = sql.NullString{String: *period.MostCommonLanguage, Valid: true}
	}
	var peak sql.NullInt64
	if period.PeakHour != nil {
		peak = sql.NullInt64{Int64: int64(*period.PeakHour), Valid: true}
	}

	query := `INSERT INTO analytics_periods (
			period_start, period_end, period_hours, total_jobs, accepted_jobs, rejected_jobs, skipped_jobs,
			acceptance_rate, most_common_language, peak_hour, language_distribution, hourly_distribution, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	return s.db.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, query,
			toMillis(period.PeriodStart), toMillis(period.PeriodEnd), period.PeriodHours,
			period.TotalJobs, period.AcceptedJobs, period.RejectedJobs, period.SkippedJobs,
			period.AcceptanceRate, language, peak, string(languages), string(hours), toMillis(period.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to save analytics period: %w", err)
		}
		period.ID, err = result.LastInsertId()
		return err
	})
}

// ListAnalyticsPeriods returns snapshots newest first
func (s *AnalyticsStorage) ListAnalyticsPeriods(ctx context.Context, limit int) ([]*models.AnalyticsPeriod, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT id, period_start, period_end, period_hours, total_jobs, accepted_jobs, rejected_jobs,
			skipped_jobs, acceptance_rate, most_common_language, peak_hour, language_distribution,
			hourly_distribution, created_at
		FROM analytics_periods ORDER BY period_end DESC, id DESC LIMIT ?`

	rows, err := s.db.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query analytics periods: %w", err)
	}
	defer rows.Close()

	var periods []*models.AnalyticsPeriod
	for rows.Next() {
		var (
			period                models.AnalyticsPeriod
			start, end, createdAt int64
			language              sql.NullString
			peak                  sql.NullInt64
			languages, hours      string
		)
		err := rows.Scan(
			&period.ID, &start, &end, &period.PeriodHours,
			&period.TotalJobs, &period.AcceptedJobs, &period.RejectedJobs, &period.SkippedJobs,
			&period.AcceptanceRate, &language, &peak, &languages, &hours, &createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan analytics period: %w", err)
		}
		if err := json.Unmarshal([]byte(languages), &period.LanguageDistribution); err != nil {
			return nil, fmt.Errorf("failed to decode language distribution: %w", err)
		}
		if err := json.Unmarshal([]byte(hours), &period.HourlyDistribution); err != nil {
			return nil, fmt.Errorf("failed to decode hourly distribution: %w", err)
		}
		if language.Valid {
			lang := language.String
			period.MostCommonLanguage = &lang
		}
		if peak.Valid {
			hour := int(peak.Int64)
			period.PeakHour = &hour
		}
		period.PeriodStart = fromMillis(start)
		period.PeriodEnd = fromMillis(end)
		period.CreatedAt = fromMillis(createdAt)
		periods = append(periods, &period)
	}
	return periods, rows.Err()
}
