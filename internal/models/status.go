package models

import "time"

// StatusSnapshot is the GET /api/bot/status payload
type StatusSnapshot struct {
	IsRunning     bool          `json:"is_running"`
	SessionID     *string       `json:"session_id"`
	SessionName   *string       `json:"session_name"`
	Status        SessionStatus `json:"status"`
	LoginStatus   LoginStatus   `json:"login_status"`
	TotalChecks   int64         `json:"total_checks"`
	TotalAccepted int64         `json:"total_accepted"`
	TotalRejected int64         `json:"total_rejected"`
	StartTime     *time.Time    `json:"start_time"`
	UptimeSeconds int64         `json:"uptime_seconds"`
	Generation    int64         `json:"generation,omitempty"`
	PID           int           `json:"pid,omitempty"`
}

// NotRunningSnapshot is returned when no worker is alive
func NotRunningSnapshot() *StatusSnapshot {
	return &StatusSnapshot{
		IsRunning:   false,
		Status:      SessionStatusStopped,
		LoginStatus: LoginStatusNotStarted,
	}
}

// SnapshotFromSession joins a live worker with its session row
func SnapshotFromSession(s *Session, pid int, now time.Time) *StatusSnapshot {
	id, name := s.ID, s.Name
	return &StatusSnapshot{
		IsRunning:     true,
		SessionID:     &id,
		SessionName:   &name,
		Status:        s.Status,
		LoginStatus:   s.LoginStatus,
		TotalChecks:   s.TotalChecks,
		TotalAccepted: s.TotalAccepted,
		TotalRejected: s.TotalRejected,
		StartTime:     s.StartTime,
		UptimeSeconds: int64(s.Uptime(now).Seconds()),
		Generation:    s.Generation,
		PID:           pid,
	}
}

// BotState is the cache mirror of the controller's current view
type BotState struct {
	Status     SessionStatus `json:"status"`
	SessionID  string        `json:"session_id"`
	Generation int64         `json:"generation"`
	PID        int           `json:"pid"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// BotEvent is an entry in the cache event log
type BotEvent struct {
	ID        string                 `json:"id"`
	SessionID string                 `json:"session_id"`
	Type      string                 `json:"type"`
	Message   string                 `json:"message,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}
