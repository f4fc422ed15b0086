package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/atozbot/internal/interfaces"
	"github.com/ternarybob/atozbot/internal/models"
)

// SessionStorage implements interfaces.SessionStorage for SQLite
type SessionStorage struct {
	db     *SQLiteDB
	logger arbor.ILogger
}

// NewSessionStorage creates a new SessionStorage instance
func NewSessionStorage(db *SQLiteDB, logger arbor.ILogger) interfaces.SessionStorage {
	return &SessionStorage{
		db:     db,
		logger: logger,
	}
}

const sessionColumns = `id, session_name, status, login_status, total_checks, total_accepted,
	total_rejected, generation, start_time, end_time, created_at, updated_at`

// CreateSession inserts a new session
func (s *SessionStorage) CreateSession(ctx context.Context, session *models.Session) error {
	query := `INSERT INTO bot_sessions (` + sessionColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	return s.db.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, query,
			session.ID,
			session.Name,
			string(session.Status),
			string(session.LoginStatus),
			session.TotalChecks,
			session.TotalAccepted,
			session.TotalRejected,
			session.Generation,
			nullMillis(session.StartTime),
			nullMillis(session.EndTime),
			toMillis(session.CreatedAt),
			toMillis(session.UpdatedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to create session: %w", err)
		}
		return nil
	})
}

// GetSession returns interfaces.ErrNotFound when id is unknown
func (s *SessionStorage) GetSession(ctx context.Context, id string) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM bot_sessions WHERE id = ?`

	session, err := scanSession(s.db.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, interfaces.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return session, nil
}

// UpdateSession writes every mutable column. A stored end_time is kept.
func (s *SessionStorage) UpdateSession(ctx context.Context, session *models.Session) error {
	query := `
		UPDATE bot_sessions SET
			session_name = ?,
			status = ?,
			login_status = ?,
			total_checks = ?,
			total_accepted = ?,
			total_rejected = ?,
			generation = ?,
			start_time = COALESCE(start_time, ?),
			end_time = COALESCE(end_time, ?),
			updated_at = ?
		WHERE id = ?
	`

	return s.db.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, query,
			session.Name,
			string(session.Status),
			string(session.LoginStatus),
			session.TotalChecks,
			session.TotalAccepted,
			session.TotalRejected,
			session.Generation,
			nullMillis(session.StartTime),
			nullMillis(session.EndTime),
			toMillis(session.UpdatedAt),
			session.ID,
		)
		if err != nil {
			return fmt.Errorf("failed to update session: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rows == 0 {
			return fmt.Errorf("session %s: %w", session.ID, interfaces.ErrNotFound)
		}
		return nil
	})
}

// ListSessions returns sessions newest first
func (s *SessionStorage) ListSessions(ctx context.Context, limit, offset int) ([]*models.Session, error) {
	if limit <= 0 {
		limit = 10
	}
	if offset < 0 {
		offset = 0
	}
	query := `SELECT ` + sessionColumns + ` FROM bot_sessions
		ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`

	return s.query(ctx, query, limit, offset)
}

// ActiveSessions returns sessions in starting or running, newest first
func (s *SessionStorage) ActiveSessions(ctx context.Context) ([]*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM bot_sessions
		WHERE status IN (?, ?) ORDER BY created_at DESC, rowid DESC`

	return s.query(ctx, query, string(models.SessionStatusStarting), string(models.SessionStatusRunning))
}

// StopActiveSessions bulk-moves starting/running sessions to stopped
func (s *SessionStorage) StopActiveSessions(ctx context.Context, at time.Time) (int64, error) {
	query := `
		UPDATE bot_sessions SET
			status = ?,
			end_time = COALESCE(end_time, ?),
			updated_at = ?
		WHERE status IN (?, ?)
	`

	var affected int64
	err := s.db.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, query,
			string(models.SessionStatusStopped),
			toMillis(at),
			toMillis(at),
			string(models.SessionStatusStarting),
			string(models.SessionStatusRunning),
		)
		if err != nil {
			return fmt.Errorf("failed to stop active sessions: %w", err)
		}
		affected, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return 0, err
	}

	if affected > 0 {
		s.logger.Info().Int64("sessions", affected).Msg("Marked stale active sessions stopped")
	}
	return affected, nil
}

func (s *SessionStorage) query(ctx context.Context, query string, args ...any) ([]*models.Session, error) {
	rows, err := s.db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

func scanSession(row rowScanner) (*models.Session, error) {
	var (
		session              models.Session
		status, loginStatus  string
		startTime, endTime   sql.NullInt64
		createdAt, updatedAt int64
	)

	err := row.Scan(
		&session.ID,
		&session.Name,
		&status,
		&loginStatus,
		&session.TotalChecks,
		&session.TotalAccepted,
		&session.TotalRejected,
		&session.Generation,
		&startTime,
		&endTime,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	session.Status = models.SessionStatus(status)
	session.LoginStatus = models.LoginStatus(loginStatus)
	session.StartTime = timePtr(startTime)
	session.EndTime = timePtr(endTime)
	session.CreatedAt = fromMillis(createdAt)
	session.UpdatedAt = fromMillis(updatedAt)
	return &session, nil
}
