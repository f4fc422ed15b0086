package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/atozbot/internal/interfaces"
	"github.com/ternarybob/atozbot/internal/models"
)

// ConfigurationStorage implements interfaces.ConfigurationStorage for SQLite
type ConfigurationStorage struct {
	db     *SQLiteDB
	logger arbor.ILogger
}

// NewConfigurationStorage creates a new ConfigurationStorage instance
func NewConfigurationStorage(db *SQLiteDB, logger arbor.ILogger) interfaces.ConfigurationStorage {
	return &ConfigurationStorage{
		db:     db,
		logger: logger,
	}
}

const configurationColumns = `id, name, check_interval_seconds, quick_check_interval_seconds, enable_quick_check,
	results_report_interval_seconds, rejected_report_interval_seconds, enable_results_reporting,
	enable_rejected_reporting, max_accept_per_run, job_type_filter, exclude_types, required_fields,
	is_active, created_at, updated_at`

// GetActiveConfiguration returns the newest active configuration
func (s *ConfigurationStorage) GetActiveConfiguration(ctx context.Context) (*models.BotConfiguration, error) {
	query := `SELECT ` + configurationColumns + ` FROM bot_configurations
		WHERE is_active = 1 ORDER BY updated_at DESC, id DESC LIMIT 1`

	config, err := scanConfiguration(s.db.db.QueryRowContext(ctx, query))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("active configuration: %w", interfaces.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get configuration: %w", err)
	}
	return config, nil
}

// UpsertActiveConfiguration updates the active row in place, or inserts one
// when none exists. Exactly one row stays active.
func (s *ConfigurationStorage) UpsertActiveConfiguration(ctx context.Context, config *models.BotConfiguration) (*models.BotConfiguration, error) {
	excludeTypes, err := json.Marshal(nonNil(config.ExcludeTypes))
	if err != nil {
		return nil, fmt.Errorf("failed to encode exclude_types: %w", err)
	}
	requiredFields, err := json.Marshal(nonNil(config.RequiredFields))
	if err != nil {
		return nil, fmt.Errorf("failed to encode required_fields: %w", err)
	}

	saved := config.Clone()
	now := time.Now().UTC()
	saved.UpdatedAt = now
	saved.IsActive = true
	if saved.Name == "" {
		saved.Name = "default"
	}

	err = s.db.withTx(ctx, func(tx *sql.Tx) error {
		var id int64
		var createdAt int64
		err := tx.QueryRowContext(ctx,
			`SELECT id, created_at FROM bot_configurations WHERE is_active = 1 ORDER BY updated_at DESC, id DESC LIMIT 1`,
		).Scan(&id, &createdAt)

		switch {
		case errors.Is(err, sql.ErrNoRows):
			saved.CreatedAt = now
			result, err := tx.ExecContext(ctx, `INSERT INTO bot_configurations (
					name, check_interval_seconds, quick_check_interval_seconds, enable_quick_check,
					results_report_interval_seconds, rejected_report_interval_seconds, enable_results_reporting,
					enable_rejected_reporting, max_accept_per_run, job_type_filter, exclude_types, required_fields,
					is_active, created_at, updated_at
				) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`,
				saved.Name, saved.CheckIntervalSeconds, saved.QuickCheckIntervalSeconds, boolInt(saved.EnableQuickCheck),
				saved.ResultsReportIntervalSeconds, saved.RejectedReportIntervalSeconds, boolInt(saved.EnableResultsReporting),
				boolInt(saved.EnableRejectedReporting), saved.MaxAcceptPerRun, saved.JobTypeFilter,
				string(excludeTypes), string(requiredFields), toMillis(now), toMillis(now),
			)
			if err != nil {
				return fmt.Errorf("failed to insert configuration: %w", err)
			}
			saved.ID, err = result.LastInsertId()
			return err

		case err != nil:
			return fmt.Errorf("failed to read active configuration: %w", err)
		}

		saved.ID = id
		saved.CreatedAt = fromMillis(createdAt)
		_, err = tx.ExecContext(ctx, `UPDATE bot_configurations SET
				name = ?, check_interval_seconds = ?, quick_check_interval_seconds = ?, enable_quick_check = ?,
				results_report_interval_seconds = ?, rejected_report_interval_seconds = ?, enable_results_reporting = ?,
				enable_rejected_reporting = ?, max_accept_per_run = ?, job_type_filter = ?, exclude_types = ?,
				required_fields = ?, updated_at = ?
			WHERE id = ?`,
			saved.Name, saved.CheckIntervalSeconds, saved.QuickCheckIntervalSeconds, boolInt(saved.EnableQuickCheck),
			saved.ResultsReportIntervalSeconds, saved.RejectedReportIntervalSeconds, boolInt(saved.EnableResultsReporting),
			boolInt(saved.EnableRejectedReporting), saved.MaxAcceptPerRun, saved.JobTypeFilter,
			string(excludeTypes), string(requiredFields), toMillis(now), id,
		)
		if err != nil {
			return fmt.Errorf("failed to update configuration: %w", err)
		}
		// Any other active rows are legacy duplicates
		_, err = tx.ExecContext(ctx, `UPDATE bot_configurations SET is_active = 0 WHERE is_active = 1 AND id <> ?`, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Int64("id", saved.ID).
		Int("max_accept_per_run", saved.MaxAcceptPerRun).
		Str("job_type_filter", saved.JobTypeFilter).
		Msg("Bot configuration saved")
	return saved, nil
}

func scanConfiguration(row rowScanner) (*models.BotConfiguration, error) {
	var (
		config                                    models.BotConfiguration
		quickCheck, resultsOn, rejectedOn, active int
		excludeTypes, requiredFields              string
		createdAt, updatedAt                      int64
	)

	err := row.Scan(
		&config.ID,
		&config.Name,
		&config.CheckIntervalSeconds,
		&config.QuickCheckIntervalSeconds,
		&quickCheck,
		&config.ResultsReportIntervalSeconds,
		&config.RejectedReportIntervalSeconds,
		&resultsOn,
		&rejectedOn,
		&config.MaxAcceptPerRun,
		&config.JobTypeFilter,
		&excludeTypes,
		&requiredFields,
		&active,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(excludeTypes), &config.ExcludeTypes); err != nil {
		return nil, fmt.Errorf("failed to decode exclude_types: %w", err)
	}
	if err := json.Unmarshal([]byte(requiredFields), &config.RequiredFields); err != nil {
		return nil, fmt.Errorf("failed to decode required_fields: %w", err)
	}
	config.EnableQuickCheck = quickCheck == 1
	config.EnableResultsReporting = resultsOn == 1
	config.EnableRejectedReporting = rejectedOn == 1
	config.IsActive = active == 1
	config.CreatedAt = fromMillis(createdAt)
	config.UpdatedAt = fromMillis(updatedAt)
	return &config, nil
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
