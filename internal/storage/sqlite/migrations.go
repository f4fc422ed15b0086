package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

// migrate runs database migrations
func (s *SQLiteDB) migrate() error {
	ctx := context.Background()

	if err := s.createMigrationsTable(ctx); err != nil {
		return err
	}

	migrations := []migration{
		{version: 1, name: "bot_schema", up: migrateV1},
		{version: 2, name: "analytics_periods", up: migrateV2},
	}

	for _, m := range migrations {
		if err := s.runMigration(ctx, m); err != nil {
			return fmt.Errorf("migration %d (%s) failed: %w", m.version, m.name, err)
		}
	}

	return nil
}

type migration struct {
	version int
	name    string
	up      func(context.Context, *sql.Tx) error
}

func (s *SQLiteDB) createMigrationsTable(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at INTEGER NOT NULL
	)`
	_, err := s.db.ExecContext(ctx, query)
	return err
}

func (s *SQLiteDB) runMigration(ctx context.Context, m migration) error {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM schema_migrations WHERE version = ?", m.version).Scan(&count)
	if err != nil {
		return err
	}

	if count > 0 {
		return nil // Already applied
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := m.up(ctx, tx); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, strftime('%s', 'now'))",
		m.version, m.name)
	if err != nil {
		return err
	}

	s.logger.Debug().Int("version", m.version).Str("name", m.name).Msg("Applied migration")
	return tx.Commit()
}

// migrateV1 creates sessions, configurations and job records
func migrateV1(ctx context.Context, tx *sql.Tx) error {
	queries := []string{
		sessionsTableSQL,
		configurationsTableSQL,
		jobRecordsTableSQL,
		`CREATE INDEX IF NOT EXISTS idx_bot_sessions_status ON bot_sessions(status)`,
		`CREATE INDEX IF NOT EXISTS idx_bot_sessions_created ON bot_sessions(created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_job_records_session ON job_records(session_id, processed_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_job_records_processed ON job_records(processed_at)`,
		`CREATE INDEX IF NOT EXISTS idx_bot_configurations_active ON bot_configurations(is_active)`,
	}
	return execAll(ctx, tx, queries)
}

// migrateV2 adds periodic analytics snapshots
func migrateV2(ctx context.Context, tx *sql.Tx) error {
	queries := []string{
		analyticsPeriodsTableSQL,
		`CREATE INDEX IF NOT EXISTS idx_analytics_periods_end ON analytics_periods(period_end DESC)`,
	}
	return execAll(ctx, tx, queries)
}

func execAll(ctx context.Context, tx *sql.Tx, queries []string) error {
	for _, query := range queries {
		if _, err := tx.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to execute query: %w\nQuery: %s", err, query)
		}
	}
	return nil
}
