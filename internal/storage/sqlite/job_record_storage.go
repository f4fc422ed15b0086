package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/atozbot/internal/interfaces"
	"github.com/ternarybob/atozbot/internal/models"
)

// JobRecordStorage implements interfaces.JobRecordStorage for SQLite
type JobRecordStorage struct {
	db     *SQLiteDB
	logger arbor.ILogger
}

// NewJobRecordStorage creates a new JobRecordStorage instance
func NewJobRecordStorage(db *SQLiteDB, logger arbor.ILogger) interfaces.JobRecordStorage {
	return &JobRecordStorage{
		db:     db,
		logger: logger,
	}
}

const jobRecordColumns = `id, session_id, ref, submitted, appt_date, appt_time, duration, language,
	status_text, job_type, detail_url, outcome, reason, scraped_at, processed_at`

// SaveJobRecord inserts a processed job and sets its ID
func (s *JobRecordStorage) SaveJobRecord(ctx context.Context, job *models.JobRecord) error {
	processedAt := time.Now().UTC()
	if job.ProcessedAt != nil {
		processedAt = *job.ProcessedAt
	}
	var scrapedAt sql.NullInt64
	if !job.ScrapedAt.IsZero() {
		scrapedAt = sql.NullInt64{Int64: toMillis(job.ScrapedAt), Valid: true}
	}

	query := `INSERT INTO job_records (
			session_id, ref, submitted, appt_date, appt_time, duration, language,
			status_text, job_type, detail_url, outcome, reason, scraped_at, processed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	return s.db.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, query,
			job.SessionID, job.Ref, job.Submitted, job.ApptDate, job.ApptTime, job.Duration, job.Language,
			job.StatusText, job.JobType, job.DetailURL, string(job.Outcome), job.Reason,
			scrapedAt, toMillis(processedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to save job record %s: %w", job.Ref, err)
		}
		job.ID, err = result.LastInsertId()
		if job.ProcessedAt == nil {
			job.ProcessedAt = &processedAt
		}
		return err
	})
}

// ListJobRecords returns records newest first
func (s *JobRecordStorage) ListJobRecords(ctx context.Context, filter interfaces.JobFilter) ([]*models.JobRecord, error) {
	var (
		where []string
		args  []any
	)
	if filter.SessionID != "" {
		where = append(where, "session_id = ?")
		args = append(args, filter.SessionID)
	}
	if filter.Outcome != "" {
		where = append(where, "outcome = ?")
		args = append(args, string(filter.Outcome))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query := `SELECT ` + jobRecordColumns + ` FROM job_records`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY processed_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	return s.query(ctx, query, args...)
}

// JobRecordsSince returns every record processed at or after since
func (s *JobRecordStorage) JobRecordsSince(ctx context.Context, since time.Time) ([]*models.JobRecord, error) {
	query := `SELECT ` + jobRecordColumns + ` FROM job_records WHERE processed_at >= ? ORDER BY processed_at ASC, id ASC`
	return s.query(ctx, query, toMillis(since))
}

func (s *JobRecordStorage) query(ctx context.Context, query string, args ...any) ([]*models.JobRecord, error) {
	rows, err := s.db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query job records: %w", err)
	}
	defer rows.Close()

	var jobs []*models.JobRecord
	for rows.Next() {
		var (
			job         models.JobRecord
			nullable    [9]sql.NullString
			outcome     string
			scrapedAt   sql.NullInt64
			processedAt int64
		)
		err := rows.Scan(
			&job.ID, &job.SessionID, &job.Ref,
			&nullable[0], &nullable[1], &nullable[2], &nullable[3], &nullable[4],
			&nullable[5], &nullable[6], &nullable[7],
			&outcome, &nullable[8], &scrapedAt, &processedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job record: %w", err)
		}

		job.Submitted = nullable[0].String
		job.ApptDate = nullable[1].String
		job.ApptTime = nullable[2].String
		job.Duration = nullable[3].String
		job.Language = nullable[4].String
		job.StatusText = nullable[5].String
		job.JobType = nullable[6].String
		job.DetailURL = nullable[7].String
		job.Reason = nullable[8].String
		job.Outcome = models.JobOutcome(outcome)
		if t := timePtr(scrapedAt); t != nil {
			job.ScrapedAt = *t
		}
		processed := fromMillis(processedAt)
		job.ProcessedAt = &processed

		jobs = append(jobs, &job)
	}
	return jobs, rows.Err()
}
