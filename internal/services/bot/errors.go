package bot

import "errors"

var (
	// ErrAlreadyRunning rejects a start while a worker is alive
	ErrAlreadyRunning = errors.New("bot is already running")
	// ErrNotRunning rejects a stop when no worker or active session exists
	ErrNotRunning = errors.New("bot is not running")
	// ErrDependencyUnavailable rejects a start when a critical health check fails
	ErrDependencyUnavailable = errors.New("dependency unavailable")
)
