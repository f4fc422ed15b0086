// -----------------------------------------------------------------------
// Session - one run of the worker, from start to stop/error
// -----------------------------------------------------------------------

package models

import "time"

// SessionStatus is the lifecycle state of a session
type SessionStatus string

const (
	SessionStatusStarting SessionStatus = "starting"
	SessionStatusRunning  SessionStatus = "running"
	SessionStatusStopping SessionStatus = "stopping"
	SessionStatusStopped  SessionStatus = "stopped"
	SessionStatusError    SessionStatus = "error"
)

// sessionTransitions lists the allowed next states for each state.
// stopped and error are absorbing.
var sessionTransitions = map[SessionStatus][]SessionStatus{
	SessionStatusStarting: {SessionStatusRunning, SessionStatusStopping, SessionStatusStopped, SessionStatusError},
	SessionStatusRunning:  {SessionStatusStopping, SessionStatusStopped, SessionStatusError},
	SessionStatusStopping: {SessionStatusStopped, SessionStatusError},
}

// IsActive reports whether the session holds the single active-worker slot
func (s SessionStatus) IsActive() bool {
	return s == SessionStatusStarting || s == SessionStatusRunning
}

// IsTerminal reports whether the session has ended
func (s SessionStatus) IsTerminal() bool {
	return s == SessionStatusStopped || s == SessionStatusError
}

// CanTransitionTo reports whether moving from s to next is a legal transition.
// Re-asserting the current state is allowed.
func (s SessionStatus) CanTransitionTo(next SessionStatus) bool {
	if s == next {
		return true
	}
	for _, allowed := range sessionTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ParseSessionStatus converts a reported string to a SessionStatus
func ParseSessionStatus(s string) (SessionStatus, bool) {
	switch status := SessionStatus(s); status {
	case SessionStatusStarting, SessionStatusRunning, SessionStatusStopping, SessionStatusStopped, SessionStatusError:
		return status, true
	}
	return "", false
}

// LoginStatus tracks the worker's portal login
type LoginStatus string

const (
	LoginStatusNotStarted LoginStatus = "not_started"
	LoginStatusAttempting LoginStatus = "attempting"
	LoginStatusSuccess    LoginStatus = "success"
	LoginStatusFailed     LoginStatus = "failed"
)

// ParseLoginStatus converts a reported string to a LoginStatus
func ParseLoginStatus(s string) (LoginStatus, bool) {
	switch status := LoginStatus(s); status {
	case LoginStatusNotStarted, LoginStatusAttempting, LoginStatusSuccess, LoginStatusFailed:
		return status, true
	}
	return "", false
}

// SessionCounters are the absolute per-session totals reported by the worker
type SessionCounters struct {
	TotalChecks   int64 `json:"total_checks"`
	TotalAccepted int64 `json:"total_accepted"`
	TotalRejected int64 `json:"total_rejected"`
}

// Session is the durable record of one worker run
type Session struct {
	ID          string        `json:"id"`
	Name        string        `json:"session_name"`
	Status      SessionStatus `json:"status"`
	LoginStatus LoginStatus   `json:"login_status"`
	SessionCounters
	Generation int64      `json:"generation"` // Spawn epoch used to reject late callbacks
	StartTime  *time.Time `json:"start_time"`
	EndTime    *time.Time `json:"end_time"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// NewSession creates a session in the starting state
func NewSession(id, name string, generation int64, now time.Time) *Session {
	start := now
	return &Session{
		ID:          id,
		Name:        name,
		Status:      SessionStatusStarting,
		LoginStatus: LoginStatusAttempting,
		Generation:  generation,
		StartTime:   &start,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// End marks the session terminal. end_time is only ever set once.
func (s *Session) End(status SessionStatus, now time.Time) {
	s.Status = status
	if s.EndTime == nil {
		end := now
		s.EndTime = &end
	}
	s.UpdatedAt = now
}

// Uptime returns how long the session has been (or was) running
func (s *Session) Uptime(now time.Time) time.Duration {
	if s.StartTime == nil {
		return 0
	}
	if s.EndTime != nil {
		return s.EndTime.Sub(*s.StartTime)
	}
	return now.Sub(*s.StartTime)
}
