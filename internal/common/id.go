package common

import (
	"time"

	"github.com/google/uuid"
)

// NewSessionID generates a unique session ID
func NewSessionID() string {
	return uuid.New().String()
}

// NewTaskID generates a task ID with the "task_" prefix
func NewTaskID() string {
	return "task_" + uuid.New().String()
}

// NewEventID generates an event ID with the "evt_" prefix
func NewEventID() string {
	return "evt_" + uuid.New().String()
}

// DefaultSessionName derives a human label from the creation time
func DefaultSessionName(t time.Time) string {
	return "Session_" + t.UTC().Format("20060102_150405")
}
