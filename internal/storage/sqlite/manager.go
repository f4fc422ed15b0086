package sqlite

import (
	"context"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/atozbot/internal/common"
	"github.com/ternarybob/atozbot/internal/interfaces"
)

// Manager implements the StorageManager interface
type Manager struct {
	db            *SQLiteDB
	session       interfaces.SessionStorage
	configuration interfaces.ConfigurationStorage
	jobRecord     interfaces.JobRecordStorage
	analytics     interfaces.AnalyticsStorage
	logger        arbor.ILogger
}

// NewManager creates a new SQLite storage manager
func NewManager(logger arbor.ILogger, config *common.SQLiteConfig) (interfaces.StorageManager, error) {
	db, err := NewSQLiteDB(logger, config)
	if err != nil {
		return nil, err
	}

	return &Manager{
		db:            db,
		session:       NewSessionStorage(db, logger),
		configuration: NewConfigurationStorage(db, logger),
		jobRecord:     NewJobRecordStorage(db, logger),
		analytics:     NewAnalyticsStorage(db, logger),
		logger:        logger,
	}, nil
}

// SessionStorage returns the Session storage interface
func (m *Manager) SessionStorage() interfaces.SessionStorage {
	return m.session
}

// ConfigurationStorage returns the Configuration storage interface
func (m *Manager) ConfigurationStorage() interfaces.ConfigurationStorage {
	return m.configuration
}

// JobRecordStorage returns the JobRecord storage interface
func (m *Manager) JobRecordStorage() interfaces.JobRecordStorage {
	return m.jobRecord
}

// AnalyticsStorage returns the Analytics storage interface
func (m *Manager) AnalyticsStorage() interfaces.AnalyticsStorage {
	return m.analytics
}

// Ping verifies the database connection
func (m *Manager) Ping(ctx context.Context) error {
	return m.db.Ping(ctx)
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}
