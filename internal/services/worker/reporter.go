package worker

import (
	"context"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ternarybob/atozbot/internal/models"
)

// UpdateSender delivers callbacks to the controller
type UpdateSender interface {
	PostUpdate(ctx context.Context, update models.CallbackUpdate) error
}

// Reporter sends the worker's status callbacks. Delivery is best-effort:
// failures are logged and never returned to the loop. Progress updates pass
// through a token bucket; lifecycle and counter updates always go out.
type Reporter struct {
	sender     UpdateSender
	sessionID  string
	generation int64
	limiter    *rate.Limiter
	logger     arbor.ILogger
	now        func() time.Time
}

// NewReporter creates a reporter tagging every update with the session and generation
func NewReporter(sender UpdateSender, sessionID string, generation int64, progressPerSecond int, logger arbor.ILogger) *Reporter {
	if progressPerSecond <= 0 {
		progressPerSecond = 5
	}
	return &Reporter{
		sender:     sender,
		sessionID:  sessionID,
		generation: generation,
		limiter:    rate.NewLimiter(rate.Limit(progressPerSecond), progressPerSecond),
		logger:     logger,
		now:        time.Now,
	}
}

// Send delivers one update
func (r *Reporter) Send(ctx context.Context, updateType models.UpdateType, data models.UpdateData) {
	if updateType.IsProgress() && !r.limiter.Allow() {
		r.logger.Trace().Str("update_type", string(updateType)).Msg("Progress update throttled")
		return
	}

	update := models.CallbackUpdate{
		SessionID:  r.sessionID,
		Generation: r.generation,
		Type:       updateType,
		Data:       data,
		Timestamp:  r.now().UTC(),
	}

	// Final updates are sent while the loop's context is already cancelled
	sendCtx := context.WithoutCancel(ctx)
	if err := r.sender.PostUpdate(sendCtx, update); err != nil {
		r.logger.Warn().
			Str("update_type", string(updateType)).
			Err(err).
			Msg("Failed to deliver status update")
	}
}
