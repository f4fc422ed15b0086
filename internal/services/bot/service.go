// Package bot is the controller: it owns the worker lifecycle, reconciles
// worker callbacks into the session store and mirrors state to the cache.
package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/atozbot/internal/common"
	"github.com/ternarybob/atozbot/internal/interfaces"
	"github.com/ternarybob/atozbot/internal/models"
	"github.com/ternarybob/atozbot/internal/services/supervisor"
)

// Supervisor is the process control the controller needs
type Supervisor interface {
	Spawn(ctx context.Context, inv supervisor.Invocation) (supervisor.Process, error)
	Terminate(ctx context.Context, p supervisor.Process) error
	SweepOrphans(ctx context.Context, keep supervisor.Process) int
	WorkerLockHeld() bool
}

// activeWorker is the live child and the session it serves. Replaced as a
// whole under the lifecycle lock, read lock-free by status queries.
type activeWorker struct {
	process    supervisor.Process
	sessionID  string
	generation int64
}

// Service is the bot controller
type Service struct {
	// mu serialises start/stop/toggle/force-reset and the exit watcher
	mu sync.Mutex
	// recMu serialises session read-modify-write between callbacks and
	// lifecycle transitions. Lock order: mu before recMu.
	recMu sync.Mutex

	current    atomic.Pointer[activeWorker]
	generation atomic.Int64

	storage     interfaces.StorageManager
	cache       interfaces.StateCache
	events      interfaces.EventService
	supervisor  Supervisor
	health      *HealthChecker
	config      *common.Config
	configPaths []string
	logger      arbor.ILogger
	now         func() time.Time
}

// NewService creates the controller. configPaths are forwarded to spawned workers.
func NewService(
	storage interfaces.StorageManager,
	cache interfaces.StateCache,
	events interfaces.EventService,
	sup Supervisor,
	health *HealthChecker,
	config *common.Config,
	configPaths []string,
	logger arbor.ILogger,
) *Service {
	s := &Service{
		storage:     storage,
		cache:       cache,
		events:      events,
		supervisor:  sup,
		health:      health,
		config:      config,
		configPaths: configPaths,
		logger:      logger,
		now:         time.Now,
	}
	// Seeded from the clock so generations stay unique across controller restarts
	s.generation.Store(time.Now().UnixMilli())
	return s
}

// WithClock replaces the time source (tests)
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// IsRunning is the cheap liveness predicate
func (s *Service) IsRunning() bool {
	cur := s.current.Load()
	return cur != nil && supervisor.IsAlive(cur.process)
}

// Start creates a session and spawns its worker
func (s *Service) Start(ctx context.Context, name string) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startLocked(ctx, name)
}

// Stop marks the active session stopped, then terminates the worker
func (s *Service) Stop(ctx context.Context) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopLocked(ctx)
}

// Toggle starts when stopped and stops when running, under one lock so
// concurrent toggles cannot both spawn
func (s *Service) Toggle(ctx context.Context) (bool, *models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.IsRunning() {
		session, err := s.stopLocked(ctx)
		return false, session, err
	}
	session, err := s.startLocked(ctx, "")
	if err != nil {
		return false, nil, err
	}
	return true, session, nil
}

// ForceReset kills every worker, clears controller and cache state and
// stops every session row left starting/running. Returns the rows changed.
func (s *Service) ForceReset(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.current.Swap(nil)
	if cur != nil {
		if err := s.supervisor.Terminate(ctx, cur.process); err != nil {
			s.logger.Error().Err(err).Msg("Force reset: failed to terminate worker")
		}
	}
	killed := s.supervisor.SweepOrphans(ctx, nil)

	s.recMu.Lock()
	changed, err := s.storage.SessionStorage().StopActiveSessions(ctx, s.now())
	s.recMu.Unlock()
	if err != nil {
		return 0, fmt.Errorf("failed to stop active sessions: %w", err)
	}

	if err := s.cache.Reset(ctx); err != nil {
		s.logger.Warn().Err(err).Str("cache", s.cache.Name()).Msg("Force reset: cache reset failed")
	}
	s.mirrorState(ctx, models.SessionStatusStopped, "", 0, 0)

	s.logger.Warn().
		Int64("sessions_stopped", changed).
		Int("orphans_killed", killed).
		Msg("Bot force reset")
	s.publishLifecycle(ctx, "", "force_reset", fmt.Sprintf("%d sessions stopped", changed))

	return changed, nil
}

// GetStatus never blocks on the worker: it reads the liveness predicate and,
// only when alive, joins the session row
func (s *Service) GetStatus(ctx context.Context) *models.StatusSnapshot {
	cur := s.current.Load()
	if cur == nil || !supervisor.IsAlive(cur.process) {
		return models.NotRunningSnapshot()
	}

	session, err := s.storage.SessionStorage().GetSession(ctx, cur.sessionID)
	if err != nil {
		s.logger.Warn().Err(err).Str("session_id", cur.sessionID).Msg("Status: session read failed, trying cache")
		session, _ = s.cache.GetSession(ctx, cur.sessionID)
	}
	if session == nil {
		session = models.NewSession(cur.sessionID, "", cur.generation, s.now())
	}
	return models.SnapshotFromSession(session, cur.process.PID(), s.now())
}

// Shutdown stops the worker when the controller exits
func (s *Service) Shutdown(ctx context.Context) {
	if !s.IsRunning() {
		return
	}
	if _, err := s.Stop(ctx); err != nil && !errors.Is(err, ErrNotRunning) {
		s.logger.Warn().Err(err).Msg("Failed to stop worker on shutdown")
	}
}

func (s *Service) startLocked(ctx context.Context, name string) (*models.Session, error) {
	if s.IsRunning() {
		return nil, ErrAlreadyRunning
	}
	s.healLocked(ctx)

	if err := s.health.RequireCritical(ctx); err != nil {
		return nil, err
	}

	// A worker we do not own still holds the lock file: clear it so the new
	// worker can take the lock
	if s.supervisor.WorkerLockHeld() {
		s.logger.Warn().Msg("Worker lock held by an untracked process, sweeping orphans")
		s.supervisor.SweepOrphans(ctx, nil)
	}

	now := s.now()
	name = strings.TrimSpace(name)
	if name == "" {
		name = common.DefaultSessionName(now)
	}
	generation := s.generation.Add(1)
	session := models.NewSession(common.NewSessionID(), name, generation, now)

	if err := s.storage.SessionStorage().CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("%w: failed to create session: %v", ErrDependencyUnavailable, err)
	}

	logger := s.logger.WithCorrelationId(session.ID)
	process, err := s.supervisor.Spawn(ctx, supervisor.Invocation{
		SessionID:   session.ID,
		Generation:  generation,
		CallbackURL: s.config.CallbackBaseURL(),
		ConfigPaths: s.configPaths,
	})
	if err != nil {
		session.End(models.SessionStatusError, s.now())
		session.LoginStatus = models.LoginStatusNotStarted
		s.writeSession(ctx, session)
		s.mirrorSession(ctx, session)
		logger.Error().Err(err).Msg("Failed to spawn worker")
		return nil, fmt.Errorf("failed to spawn worker: %w", err)
	}

	s.current.Store(&activeWorker{process: process, sessionID: session.ID, generation: generation})
	supervisor.OnExit(process, func(code int) {
		s.handleExit(session.ID, generation, code)
	})

	logger.Info().
		Str("session_name", session.Name).
		Int64("generation", generation).
		Int("pid", process.PID()).
		Msg("Bot started")

	s.mirrorSession(ctx, session)
	s.mirrorState(ctx, session.Status, session.ID, generation, process.PID())
	s.publishLifecycle(ctx, session.ID, "started", session.Name)

	return session, nil
}

func (s *Service) stopLocked(ctx context.Context) (*models.Session, error) {
	cur := s.current.Load()
	if cur == nil || !supervisor.IsAlive(cur.process) {
		if s.healLocked(ctx) == 0 {
			return nil, ErrNotRunning
		}
		s.supervisor.SweepOrphans(ctx, nil)
		return nil, nil
	}

	// Marked stopped before the process is confirmed dead so status stays
	// fast while teardown runs. Late "running" callbacks see a terminal row.
	session, _ := s.endSession(ctx, cur.sessionID, models.SessionStatusStopped)
	if session == nil {
		// The row could not be read; the worker is still ours to stop
		session = models.NewSession(cur.sessionID, "", cur.generation, s.now())
		session.End(models.SessionStatusStopped, s.now())
	}
	s.current.Store(nil)
	s.mirrorState(ctx, models.SessionStatusStopped, cur.sessionID, cur.generation, 0)

	if err := s.supervisor.Terminate(ctx, cur.process); err != nil {
		s.logger.Error().Err(err).Str("session_id", cur.sessionID).Msg("Failed to terminate worker")
	}
	s.supervisor.SweepOrphans(ctx, nil)

	s.logger.WithCorrelationId(cur.sessionID).Info().Msg("Bot stopped")
	s.publishLifecycle(ctx, cur.sessionID, "stopped", "")

	return session, nil
}

// healLocked resets state left behind by a worker that died without the
// controller noticing, and by a previous controller instance. Returns how
// many sessions it stopped.
func (s *Service) healLocked(ctx context.Context) int64 {
	if cur := s.current.Load(); cur != nil && !supervisor.IsAlive(cur.process) {
		s.current.Store(nil)
		s.logger.Warn().Str("session_id", cur.sessionID).Msg("Worker handle was dead, resetting state")
		// Record the exit before the blanket stop below, in case the exit
		// watcher has not run yet
		s.endSession(ctx, cur.sessionID, exitStatus(cur.process.ExitCode()))
	}

	s.recMu.Lock()
	changed, err := s.storage.SessionStorage().StopActiveSessions(ctx, s.now())
	s.recMu.Unlock()
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to stop stale sessions")
		return 0
	}
	if changed > 0 {
		s.logger.Warn().Int64("sessions", changed).Msg("Stale active sessions marked stopped")
		s.mirrorState(ctx, models.SessionStatusStopped, "", 0, 0)
	}
	return changed
}

// handleExit runs when a worker exits. A session still active becomes
// stopped on a clean exit and error otherwise.
func (s *Service) handleExit(sessionID string, generation int64, code int) {
	ctx := context.Background()

	s.mu.Lock()
	defer s.mu.Unlock()

	if cur := s.current.Load(); cur != nil && cur.generation == generation {
		s.current.Store(nil)
	}

	status := exitStatus(code)
	logger := s.logger.WithCorrelationId(sessionID)
	if _, changed := s.endSession(ctx, sessionID, status); !changed {
		logger.Debug().Int("exit_code", code).Msg("Worker exited")
		return
	}

	logger.Warn().Int("exit_code", code).Str("status", string(status)).Msg("Worker exited on its own")
	s.mirrorState(ctx, status, sessionID, generation, 0)
	s.publishLifecycle(ctx, sessionID, "exited", fmt.Sprintf("exit code %d", code))
}

func exitStatus(code int) models.SessionStatus {
	if code != 0 {
		return models.SessionStatusError
	}
	return models.SessionStatusStopped
}

// endSession moves an active session to a terminal status. A session that
// is already terminal is returned unchanged with changed=false.
func (s *Service) endSession(ctx context.Context, id string, status models.SessionStatus) (session *models.Session, changed bool) {
	s.recMu.Lock()
	defer s.recMu.Unlock()

	session, err := s.storage.SessionStorage().GetSession(ctx, id)
	if err != nil {
		s.logger.Warn().Err(err).Str("session_id", id).Msg("Failed to load session")
		return nil, false
	}
	if session.Status.IsTerminal() {
		return session, false
	}

	session.End(status, s.now())
	s.writeSessionLocked(ctx, session)
	s.mirrorSession(ctx, session)
	return session, true
}

func (s *Service) writeSession(ctx context.Context, session *models.Session) {
	s.recMu.Lock()
	defer s.recMu.Unlock()
	s.writeSessionLocked(ctx, session)
}

func (s *Service) writeSessionLocked(ctx context.Context, session *models.Session) {
	if err := s.storage.SessionStorage().UpdateSession(ctx, session); err != nil {
		s.logger.Error().Err(err).Str("session_id", session.ID).Msg("Failed to update session")
	}
}

// mirrorSession writes the session snapshot and its counters to the cache.
// Cache failures are logged and never fail the caller.
func (s *Service) mirrorSession(ctx context.Context, session *models.Session) {
	if err := s.cache.PutSession(ctx, session); err != nil {
		s.logger.Debug().Err(err).Str("cache", s.cache.Name()).Msg("Cache session mirror failed")
	}
	err := s.cache.UpdateMetrics(ctx, session.ID, map[string]int64{
		"total_checks":   session.TotalChecks,
		"total_accepted": session.TotalAccepted,
		"total_rejected": session.TotalRejected,
	})
	if err != nil {
		s.logger.Debug().Err(err).Str("cache", s.cache.Name()).Msg("Cache metrics mirror failed")
	}
}

func (s *Service) mirrorState(ctx context.Context, status models.SessionStatus, sessionID string, generation int64, pid int) {
	err := s.cache.SetBotState(ctx, &models.BotState{
		Status:     status,
		SessionID:  sessionID,
		Generation: generation,
		PID:        pid,
		UpdatedAt:  s.now(),
	})
	if err != nil {
		s.logger.Debug().Err(err).Str("cache", s.cache.Name()).Msg("Cache state mirror failed")
	}
}

func (s *Service) publishLifecycle(ctx context.Context, sessionID, kind, message string) {
	event := &models.BotEvent{
		ID:        common.NewEventID(),
		SessionID: sessionID,
		Type:      kind,
		Message:   message,
		Timestamp: s.now(),
	}
	if err := s.cache.LogEvent(ctx, event); err != nil {
		s.logger.Debug().Err(err).Msg("Cache event log failed")
	}
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, interfaces.Event{Type: interfaces.EventBotLifecycle, Payload: event}); err != nil {
		s.logger.Debug().Err(err).Msg("Lifecycle publish failed")
	}
}
