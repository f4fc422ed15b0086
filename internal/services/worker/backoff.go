package worker

import (
	"context"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/atozbot/internal/services/portal"
)

// ErrorPolicy controls how the loop backs off after failed cycles
type ErrorPolicy struct {
	// Ceiling is the consecutive-error count that triggers the cooldown
	Ceiling  int
	Base     time.Duration
	Step     time.Duration
	Cap      time.Duration
	Cooldown time.Duration
	// ReloginWait follows a failed re-login during recovery
	ReloginWait time.Duration
	// ReinitWait follows a failed browser reinitialisation
	ReinitWait time.Duration
}

// Backoff returns the wait after the n-th consecutive error: Base + n*Step, capped
func (p ErrorPolicy) Backoff(n int) time.Duration {
	if n < 0 {
		n = 0
	}
	wait := p.Base + time.Duration(n)*p.Step
	if p.Cap > 0 && wait > p.Cap {
		wait = p.Cap
	}
	return wait
}

// CeilingReached reports whether n consecutive errors call for the cooldown
func (p ErrorPolicy) CeilingReached(n int) bool {
	ceiling := p.Ceiling
	if ceiling <= 0 {
		ceiling = 10
	}
	return n >= ceiling
}

// retryTransient runs fn and retries it once when it fails with a transient
// network error
func retryTransient(ctx context.Context, logger arbor.ILogger, what string, fn func() error) error {
	err := fn()
	if err == nil || !portal.IsTransient(err) || ctx.Err() != nil {
		return err
	}
	logger.Debug().
		Str("step", what).
		Err(err).
		Msg("Transient network error, retrying once")
	return fn()
}

// sleepContext waits for d or until ctx is done
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
