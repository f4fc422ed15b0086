package bot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/atozbot/internal/common"
	"github.com/ternarybob/atozbot/internal/interfaces"
	"github.com/ternarybob/atozbot/internal/models"
)

// UpdateResult reports what a callback changed
type UpdateResult struct {
	Session *models.Session `json:"session"`
	// Stale is set when the callback came from another generation or after
	// the session was recorded terminal; its status fields were ignored
	Stale bool `json:"stale"`
}

// HandleUpdate reconciles one worker callback into the session store, then
// mirrors it to the cache and the push channel. The store write is the only
// part that can fail the call.
func (s *Service) HandleUpdate(ctx context.Context, update *models.CallbackUpdate) (*UpdateResult, error) {
	logger := s.logger.WithCorrelationId(update.SessionID)

	s.recMu.Lock()
	session, foreign, stale, err := s.applyUpdate(ctx, update)
	s.recMu.Unlock()
	if err != nil {
		return nil, err
	}

	if update.Type == models.UpdateJobProcessed && update.Data.Job != nil && !foreign {
		job := *update.Data.Job
		job.SessionID = session.ID
		if job.ProcessedAt == nil {
			at := s.now()
			job.ProcessedAt = &at
		}
		if err := s.storage.JobRecordStorage().SaveJobRecord(ctx, &job); err != nil {
			logger.Error().Err(err).Str("ref", job.Ref).Msg("Failed to persist job record")
		}
	}

	// Everything below is best-effort mirroring after the store committed
	s.mirrorSession(ctx, session)
	if cur := s.current.Load(); cur != nil && cur.sessionID == session.ID {
		pid := 0
		if cur.process != nil {
			pid = cur.process.PID()
		}
		s.mirrorState(ctx, session.Status, session.ID, cur.generation, pid)
	}
	s.logUpdate(ctx, update)

	if s.events != nil {
		if err := s.events.Publish(ctx, interfaces.Event{Type: interfaces.EventBotUpdate, Payload: update}); err != nil {
			logger.Debug().Err(err).Msg("Update publish failed")
		}
	}

	return &UpdateResult{Session: session, Stale: stale}, nil
}

// applyUpdate does the read-modify-write. Caller holds recMu.
// foreign: the callback's generation does not match the session's.
// stale: status fields were ignored (foreign, or the session is terminal).
func (s *Service) applyUpdate(ctx context.Context, update *models.CallbackUpdate) (session *models.Session, foreign, stale bool, err error) {
	store := s.storage.SessionStorage()
	logger := s.logger.WithCorrelationId(update.SessionID)
	now := s.now()

	session, err = store.GetSession(ctx, update.SessionID)
	switch {
	case errors.Is(err, interfaces.ErrNotFound):
		session = models.NewSession(update.SessionID, common.DefaultSessionName(now), update.Generation, now)
		// Only the tracked worker may hold an active row; anything else is
		// recorded already ended so its counters are kept
		owned := s.ownsWorker(update.SessionID, update.Generation)
		if !owned {
			session.End(models.SessionStatusStopped, now)
		}
		if err := store.CreateSession(ctx, session); err != nil {
			return nil, false, false, fmt.Errorf("failed to create session %s: %w", update.SessionID, err)
		}
		if owned {
			logger.Info().Msg("Created session from worker callback")
		} else {
			logger.Warn().
				Int64("generation", update.Generation).
				Str("update_type", string(update.Type)).
				Msg("Callback from an untracked worker, session recorded as stopped")
		}
	case err != nil:
		return nil, false, false, fmt.Errorf("failed to load session %s: %w", update.SessionID, err)
	}

	foreign = update.Generation != 0 && session.Generation != 0 && update.Generation != session.Generation
	stale = foreign || session.Status.IsTerminal()

	if foreign {
		logger.Warn().
			Int64("update_generation", update.Generation).
			Int64("session_generation", session.Generation).
			Str("update_type", string(update.Type)).
			Msg("Ignoring callback from another worker generation")
		return session, true, true, nil
	}

	changed := false
	if status, login, ok := statusFromUpdate(update); ok {
		if stale {
			if status != "" && status != session.Status {
				logger.Debug().
					Str("reported", string(status)).
					Str("recorded", string(session.Status)).
					Msg("Ignoring late status for ended session")
			}
		} else {
			changed = s.applyStatus(session, status, login, now) || changed
		}
	}

	if counters, ok := update.Data.Counters(); ok {
		changed = applyCounters(session, counters, logger) || changed
	}

	if !changed {
		return session, false, stale, nil
	}

	session.UpdatedAt = now
	if err := store.UpdateSession(ctx, session); err != nil {
		return nil, false, false, fmt.Errorf("failed to update session %s: %w", session.ID, err)
	}
	return session, false, stale, nil
}

// ownsWorker reports whether the tracked worker is the one behind a callback
func (s *Service) ownsWorker(sessionID string, generation int64) bool {
	cur := s.current.Load()
	if cur == nil || cur.sessionID != sessionID {
		return false
	}
	return generation == 0 || cur.generation == generation
}

func (s *Service) applyStatus(session *models.Session, status models.SessionStatus, login models.LoginStatus, now time.Time) bool {
	changed := false
	if login != "" && login != session.LoginStatus {
		session.LoginStatus = login
		changed = true
	}
	if status == "" || status == session.Status {
		return changed
	}
	if !session.Status.CanTransitionTo(status) {
		s.logger.Warn().
			Str("session_id", session.ID).
			Str("from", string(session.Status)).
			Str("to", string(status)).
			Msg("Ignoring illegal session transition")
		return changed
	}
	if status.IsTerminal() {
		session.End(status, now)
	} else {
		session.Status = status
	}
	return true
}

// applyCounters overwrites with the worker's absolute totals but never lets one decrease
func applyCounters(session *models.Session, reported models.SessionCounters, logger arbor.ILogger) bool {
	changed := false
	apply := func(name string, current *int64, value int64) {
		switch {
		case value > *current:
			*current = value
			changed = true
		case value < *current:
			logger.Warn().
				Str("counter", name).
				Int64("recorded", *current).
				Int64("reported", value).
				Msg("Ignoring decreasing counter")
		}
	}
	apply("total_checks", &session.TotalChecks, reported.TotalChecks)
	apply("total_accepted", &session.TotalAccepted, reported.TotalAccepted)
	apply("total_rejected", &session.TotalRejected, reported.TotalRejected)
	return changed
}

// statusFromUpdate derives the session and login status a callback implies.
// Explicit data fields win over what the update type implies.
func statusFromUpdate(update *models.CallbackUpdate) (models.SessionStatus, models.LoginStatus, bool) {
	var status models.SessionStatus
	var login models.LoginStatus

	switch update.Type {
	case models.UpdateLoginAttempting:
		login = models.LoginStatusAttempting
	case models.UpdateLoginSuccessful:
		status, login = models.SessionStatusRunning, models.LoginStatusSuccess
	case models.UpdateLoginFailed:
		status, login = models.SessionStatusError, models.LoginStatusFailed
	case models.UpdateRunning:
		status = models.SessionStatusRunning
	case models.UpdateBotStopped:
		status = models.SessionStatusStopped
	case models.UpdateError:
		status = models.SessionStatusError
	}

	if parsed, ok := models.ParseSessionStatus(update.Data.Status); ok {
		status = parsed
	}
	if parsed, ok := models.ParseLoginStatus(update.Data.LoginStatus); ok {
		login = parsed
	}
	return status, login, status != "" || login != ""
}

func (s *Service) logUpdate(ctx context.Context, update *models.CallbackUpdate) {
	message := update.Data.Message
	if message == "" {
		message = update.Data.Error
	}
	data := map[string]interface{}{}
	if c, ok := update.Data.Counters(); ok {
		data["total_checks"] = c.TotalChecks
		data["total_accepted"] = c.TotalAccepted
		data["total_rejected"] = c.TotalRejected
	}
	if update.Data.Job != nil {
		data["ref"] = update.Data.Job.Ref
		data["outcome"] = string(update.Data.Job.Outcome)
	}
	if update.Data.ConsecutiveErrors > 0 {
		data["consecutive_errors"] = update.Data.ConsecutiveErrors
	}

	timestamp := update.Timestamp
	if timestamp.IsZero() {
		timestamp = s.now()
	}
	event := &models.BotEvent{
		ID:        common.NewEventID(),
		SessionID: update.SessionID,
		Type:      string(update.Type),
		Message:   message,
		Data:      data,
		Timestamp: timestamp,
	}
	if err := s.cache.LogEvent(ctx, event); err != nil {
		s.logger.Debug().Err(err).Str("cache", s.cache.Name()).Msg("Cache event log failed")
	}
}
