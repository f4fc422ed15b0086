package bot

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/atozbot/internal/common"
	"github.com/ternarybob/atozbot/internal/interfaces"
	"github.com/ternarybob/atozbot/internal/models"
	"github.com/ternarybob/atozbot/internal/services/cache"
	"github.com/ternarybob/atozbot/internal/services/events"
	"github.com/ternarybob/atozbot/internal/services/supervisor"
	"github.com/ternarybob/atozbot/internal/storage/sqlite"
)

type testEnv struct {
	service  *Service
	launcher *supervisor.FakeLauncher
	sweeper  *supervisor.FakeSweeper
	storage  interfaces.StorageManager
	sessions *flakySessions
	cache    interfaces.StateCache
}

// flakyStorage lets a test make session reads fail
type flakyStorage struct {
	interfaces.StorageManager
	sessions *flakySessions
}

func (f *flakyStorage) SessionStorage() interfaces.SessionStorage {
	return f.sessions
}

type flakySessions struct {
	interfaces.SessionStorage
	failGets atomic.Bool
}

func (f *flakySessions) GetSession(ctx context.Context, id string) (*models.Session, error) {
	if f.failGets.Load() {
		return nil, errors.New("database is locked")
	}
	return f.SessionStorage.GetSession(ctx, id)
}

func setupTestService(t *testing.T, checks ...HealthCheck) *testEnv {
	t.Helper()
	logger := arbor.NewLogger()
	dir := t.TempDir()

	config := common.NewDefaultConfig()
	config.Storage.SQLite.Path = filepath.Join(dir, "atozbot.db")
	config.Storage.SQLite.WALMode = false
	config.Worker.LockFile = filepath.Join(dir, "worker.lock")

	storage, err := sqlite.NewManager(logger, &config.Storage.SQLite)
	require.NoError(t, err)
	t.Cleanup(func() { storage.Close() })

	launcher := supervisor.NewFakeLauncher()
	sweeper := &supervisor.FakeSweeper{}
	sup := supervisor.New(launcher, sweeper, 200*time.Millisecond, config.Worker.LockFile, logger)

	stateCache := cache.NewMemoryCache(100, time.Hour)
	eventService := events.NewService(logger)
	t.Cleanup(func() { eventService.Close() })

	sessions := &flakySessions{SessionStorage: storage.SessionStorage()}
	health := NewHealthChecker(time.Second, logger, checks...)
	service := NewService(&flakyStorage{StorageManager: storage, sessions: sessions}, stateCache, eventService, sup, health, config, nil, logger)

	return &testEnv{service: service, launcher: launcher, sweeper: sweeper, storage: storage, sessions: sessions, cache: stateCache}
}

func counters(checks, accepted, rejected int64) models.UpdateData {
	return models.UpdateData{}.WithCounters(models.SessionCounters{
		TotalChecks:   checks,
		TotalAccepted: accepted,
		TotalRejected: rejected,
	})
}

func TestStatus_NoSessionEverCreated(t *testing.T) {
	env := setupTestService(t)

	status := env.service.GetStatus(context.Background())
	assert.False(t, status.IsRunning)
	assert.Nil(t, status.SessionID)
	assert.Equal(t, models.LoginStatusNotStarted, status.LoginStatus)
}

func TestStartStop(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()

	session, err := env.service.Start(ctx, "  Morning run ")
	require.NoError(t, err)
	assert.Equal(t, "Morning run", session.Name)
	assert.Equal(t, models.SessionStatusStarting, session.Status)
	assert.True(t, env.service.IsRunning())

	invocations := env.launcher.Invocations()
	require.Len(t, invocations, 1)
	assert.Equal(t, session.ID, invocations[0].SessionID)
	assert.Equal(t, session.Generation, invocations[0].Generation)
	assert.Equal(t, "http://localhost:8000", invocations[0].CallbackURL)

	status := env.service.GetStatus(ctx)
	assert.True(t, status.IsRunning)
	require.NotNil(t, status.SessionID)
	assert.Equal(t, session.ID, *status.SessionID)
	assert.Equal(t, 1000, status.PID)

	_, err = env.service.Start(ctx, "")
	assert.True(t, errors.Is(err, ErrAlreadyRunning))

	stopped, err := env.service.Stop(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusStopped, stopped.Status)
	assert.NotNil(t, stopped.EndTime)
	assert.False(t, env.service.IsRunning())
	assert.Equal(t, 0, env.launcher.Live())

	stored, err := env.storage.SessionStorage().GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusStopped, stored.Status)

	state, err := env.cache.GetBotState(ctx)
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, models.SessionStatusStopped, state.Status)
}

func TestStart_DefaultSessionName(t *testing.T) {
	env := setupTestService(t)
	now := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	env.service.WithClock(func() time.Time { return now })

	session, err := env.service.Start(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "Session_20260304_050607", session.Name)
}

func TestStop_Idempotent(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()

	_, err := env.service.Start(ctx, "")
	require.NoError(t, err)

	_, err = env.service.Stop(ctx)
	require.NoError(t, err)

	_, err = env.service.Stop(ctx)
	assert.True(t, errors.Is(err, ErrNotRunning))

	active, err := env.storage.SessionStorage().ActiveSessions(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)
	assert.False(t, env.service.IsRunning())
}

func TestStop_EscalatesToKill(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()

	_, err := env.service.Start(ctx, "")
	require.NoError(t, err)
	process := env.launcher.Last()
	process.IgnoreTerminate = true

	_, err = env.service.Stop(ctx)
	require.NoError(t, err)
	assert.True(t, process.Killed())
	assert.False(t, supervisor.IsAlive(process))
}

func TestConcurrentStarts_SpawnOnce(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	started, rejected := 0, 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.service.Start(ctx, "")
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				started++
			} else if errors.Is(err, ErrAlreadyRunning) {
				rejected++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, started)
	assert.Equal(t, 9, rejected)
	assert.Len(t, env.launcher.Invocations(), 1)

	active, err := env.storage.SessionStorage().ActiveSessions(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestRapidToggles_AtMostOneLiveWorker(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, _ = env.service.Toggle(ctx)
			assert.LessOrEqual(t, env.launcher.Live(), 1)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, env.launcher.Live(), 1)
	active, err := env.storage.SessionStorage().ActiveSessions(ctx)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(active), 1)
	assert.Equal(t, env.launcher.Live() == 1, env.service.IsRunning())
}

func TestToggle(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()

	running, session, err := env.service.Toggle(ctx)
	require.NoError(t, err)
	assert.True(t, running)
	require.NotNil(t, session)

	running, stopped, err := env.service.Toggle(ctx)
	require.NoError(t, err)
	assert.False(t, running)
	require.NotNil(t, stopped)
	assert.Equal(t, session.ID, stopped.ID)
	assert.Equal(t, models.SessionStatusStopped, stopped.Status)
}

func TestStart_CriticalDependencyDown(t *testing.T) {
	env := setupTestService(t, HealthCheck{
		Name:     "portal",
		Critical: true,
		Check:    func(ctx context.Context) error { return errors.New("connection refused") },
	})
	ctx := context.Background()

	_, err := env.service.Start(ctx, "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDependencyUnavailable))
	assert.Contains(t, err.Error(), "portal")
	assert.Empty(t, env.launcher.Invocations())

	sessions, err := env.service.Sessions(ctx, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestStart_NonCriticalDependencyDown(t *testing.T) {
	env := setupTestService(t, HealthCheck{
		Name:  "cache",
		Check: func(ctx context.Context) error { return errors.New("unreachable") },
	})

	_, err := env.service.Start(context.Background(), "")
	require.NoError(t, err)

	report := env.service.Health(context.Background())
	assert.Equal(t, "degraded", report.Status)
	assert.True(t, report.Worker.Running)
}

func TestStart_SpawnFailureEndsSession(t *testing.T) {
	env := setupTestService(t)
	env.launcher.Err = supervisor.ErrFakeLaunch
	ctx := context.Background()

	_, err := env.service.Start(ctx, "")
	require.Error(t, err)
	assert.False(t, env.service.IsRunning())

	sessions, err := env.service.Sessions(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, models.SessionStatusError, sessions[0].Status)
	assert.NotNil(t, sessions[0].EndTime)
}

func TestForceReset_StuckRunningSession(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()

	// A row left running by a controller that died, with no live process
	stuck := models.NewSession("stuck", "Session_stuck", 1, time.Now().Add(-time.Hour))
	stuck.Status = models.SessionStatusRunning
	require.NoError(t, env.storage.SessionStorage().CreateSession(ctx, stuck))

	changed, err := env.service.ForceReset(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), changed)
	assert.Equal(t, 1, env.sweeper.Calls())

	got, err := env.storage.SessionStorage().GetSession(ctx, "stuck")
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusStopped, got.Status)
	assert.NotNil(t, got.EndTime)

	assert.False(t, env.service.IsRunning())
	assert.False(t, env.service.GetStatus(ctx).IsRunning)
}

func TestForceReset_KillsLiveWorker(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()

	session, err := env.service.Start(ctx, "")
	require.NoError(t, err)

	changed, err := env.service.ForceReset(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), changed)
	assert.Equal(t, 0, env.launcher.Live())

	got, err := env.storage.SessionStorage().GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusStopped, got.Status)
}

func TestStop_HealsStaleSession(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()

	stuck := models.NewSession("stuck", "Session_stuck", 1, time.Now())
	require.NoError(t, env.storage.SessionStorage().CreateSession(ctx, stuck))

	session, err := env.service.Stop(ctx)
	require.NoError(t, err)
	assert.Nil(t, session)

	got, err := env.storage.SessionStorage().GetSession(ctx, "stuck")
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusStopped, got.Status)
}

func TestExitWatcher(t *testing.T) {
	tests := []struct {
		name   string
		code   int
		expect models.SessionStatus
	}{
		{name: "clean exit", code: 0, expect: models.SessionStatusStopped},
		{name: "crash", code: 2, expect: models.SessionStatusError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupTestService(t)
			ctx := context.Background()

			session, err := env.service.Start(ctx, "")
			require.NoError(t, err)

			env.launcher.Last().Exit(tt.code)
			assert.False(t, env.service.IsRunning())

			assert.Eventually(t, func() bool {
				got, err := env.storage.SessionStorage().GetSession(ctx, session.ID)
				return err == nil && got.Status == tt.expect && got.EndTime != nil
			}, 2*time.Second, 10*time.Millisecond)

			// A new start is allowed straight away
			_, err = env.service.Start(ctx, "")
			require.NoError(t, err)
		})
	}
}

func TestHandleUpdate_LoginAndCounters(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()

	session, err := env.service.Start(ctx, "")
	require.NoError(t, err)

	result, err := env.service.HandleUpdate(ctx, &models.CallbackUpdate{
		SessionID:  session.ID,
		Generation: session.Generation,
		Type:       models.UpdateLoginSuccessful,
	})
	require.NoError(t, err)
	assert.False(t, result.Stale)
	assert.Equal(t, models.SessionStatusRunning, result.Session.Status)
	assert.Equal(t, models.LoginStatusSuccess, result.Session.LoginStatus)

	updates := []models.SessionCounters{
		{TotalChecks: 3, TotalAccepted: 1, TotalRejected: 1},
		{TotalChecks: 7, TotalAccepted: 1, TotalRejected: 2},
		{TotalChecks: 5, TotalAccepted: 0, TotalRejected: 1}, // regressed
		{TotalChecks: 9, TotalAccepted: 2, TotalRejected: 2},
	}
	var last models.SessionCounters
	for _, c := range updates {
		result, err := env.service.HandleUpdate(ctx, &models.CallbackUpdate{
			SessionID:  session.ID,
			Generation: session.Generation,
			Type:       models.UpdateDatabase,
			Data:       counters(c.TotalChecks, c.TotalAccepted, c.TotalRejected),
		})
		require.NoError(t, err)
		got := result.Session.SessionCounters
		assert.GreaterOrEqual(t, got.TotalChecks, last.TotalChecks)
		assert.GreaterOrEqual(t, got.TotalAccepted, last.TotalAccepted)
		assert.GreaterOrEqual(t, got.TotalRejected, last.TotalRejected)
		last = got
	}
	assert.Equal(t, models.SessionCounters{TotalChecks: 9, TotalAccepted: 2, TotalRejected: 2}, last)

	status := env.service.GetStatus(ctx)
	assert.Equal(t, int64(9), status.TotalChecks)

	metrics, err := env.service.Metrics(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(9), metrics["total_checks"])

	recent, err := env.service.Events(ctx, session.ID, 10)
	require.NoError(t, err)
	require.NotEmpty(t, recent)
	assert.Equal(t, string(models.UpdateDatabase), recent[0].Type)
}

func TestHandleUpdate_LateCallbackAfterStop(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()

	session, err := env.service.Start(ctx, "")
	require.NoError(t, err)
	_, err = env.service.Stop(ctx)
	require.NoError(t, err)

	data := counters(4, 1, 0)
	data.Status = string(models.SessionStatusRunning)
	result, err := env.service.HandleUpdate(ctx, &models.CallbackUpdate{
		SessionID:  session.ID,
		Generation: session.Generation,
		Type:       models.UpdateRunning,
		Data:       data,
	})
	require.NoError(t, err)
	assert.True(t, result.Stale)
	assert.Equal(t, models.SessionStatusStopped, result.Session.Status)
	assert.Equal(t, int64(4), result.Session.TotalChecks)

	assert.False(t, env.service.GetStatus(ctx).IsRunning)
}

func TestHandleUpdate_ForeignGeneration(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()

	session, err := env.service.Start(ctx, "")
	require.NoError(t, err)

	result, err := env.service.HandleUpdate(ctx, &models.CallbackUpdate{
		SessionID:  session.ID,
		Generation: session.Generation - 1,
		Type:       models.UpdateError,
		Data:       counters(50, 5, 5),
	})
	require.NoError(t, err)
	assert.True(t, result.Stale)

	got, err := env.storage.SessionStorage().GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusStarting, got.Status)
	assert.Equal(t, int64(0), got.TotalChecks)
}

func TestHandleUpdate_LoginFailedEndsSession(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()

	session, err := env.service.Start(ctx, "")
	require.NoError(t, err)

	result, err := env.service.HandleUpdate(ctx, &models.CallbackUpdate{
		SessionID:  session.ID,
		Generation: session.Generation,
		Type:       models.UpdateLoginFailed,
		Data:       models.UpdateData{Error: "bad credentials"},
	})
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusError, result.Session.Status)
	assert.Equal(t, models.LoginStatusFailed, result.Session.LoginStatus)
	assert.NotNil(t, result.Session.EndTime)
}

func TestHandleUpdate_JobProcessedPersistsRecord(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()

	session, err := env.service.Start(ctx, "")
	require.NoError(t, err)

	job := models.JobRecord{Ref: "R1", Language: "Spanish", ApptTime: "10:00"}.
		WithOutcome(models.JobOutcomeAccepted, "", time.Now())
	_, err = env.service.HandleUpdate(ctx, &models.CallbackUpdate{
		SessionID:  session.ID,
		Generation: session.Generation,
		Type:       models.UpdateJobProcessed,
		Data:       models.UpdateData{Job: &job},
	})
	require.NoError(t, err)

	jobs, err := env.service.Jobs(ctx, interfaces.JobFilter{SessionID: session.ID})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "R1", jobs[0].Ref)
	assert.Equal(t, session.ID, jobs[0].SessionID)
}

func TestHandleUpdate_UnknownSessionIsCreated(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()

	result, err := env.service.HandleUpdate(ctx, &models.CallbackUpdate{
		SessionID:  "external",
		Generation: 7,
		Type:       models.UpdateRunning,
		Data:       counters(4, 1, 2),
	})
	require.NoError(t, err)
	assert.True(t, result.Stale)
	assert.Equal(t, models.SessionStatusStopped, result.Session.Status)

	got, err := env.storage.SessionStorage().GetSession(ctx, "external")
	require.NoError(t, err)
	assert.Equal(t, int64(7), got.Generation)
	assert.Equal(t, int64(4), got.TotalChecks)
	assert.NotNil(t, got.EndTime)
	assert.False(t, env.service.GetStatus(ctx).IsRunning)
}

func TestHandleUpdate_UntrackedWorkerNeverAddsActiveSession(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()

	session, err := env.service.Start(ctx, "live")
	require.NoError(t, err)

	result, err := env.service.HandleUpdate(ctx, &models.CallbackUpdate{
		SessionID:  "orphan-worker-session",
		Generation: session.Generation,
		Type:       models.UpdateRunning,
	})
	require.NoError(t, err)
	assert.True(t, result.Stale)

	active, err := env.storage.SessionStorage().ActiveSessions(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, session.ID, active[0].ID)

	status := env.service.GetStatus(ctx)
	require.NotNil(t, status.SessionID)
	assert.Equal(t, session.ID, *status.SessionID)
}

func TestStop_UnreadableSessionStillReportsStop(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()

	started, err := env.service.Start(ctx, "")
	require.NoError(t, err)

	env.sessions.failGets.Store(true)
	stopped, err := env.service.Stop(ctx)
	env.sessions.failGets.Store(false)

	require.NoError(t, err)
	require.NotNil(t, stopped)
	assert.Equal(t, started.ID, stopped.ID)
	assert.Equal(t, models.SessionStatusStopped, stopped.Status)
	assert.False(t, env.service.IsRunning())
	assert.NotEmpty(t, env.launcher.Last().Signals())
	assert.Zero(t, env.launcher.Live())
}

func TestConfiguration_DefaultsAndUpdate(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()

	config, err := env.service.Configuration(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Telephone interpreting", config.JobTypeFilter)
	assert.Equal(t, 5, config.MaxAcceptPerRun)

	config.MaxAcceptPerRun = 0
	_, err = env.service.UpdateConfiguration(ctx, config)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))

	config.MaxAcceptPerRun = 3
	saved, err := env.service.UpdateConfiguration(ctx, config)
	require.NoError(t, err)
	assert.True(t, saved.IsActive)

	again, err := env.service.Configuration(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, again.MaxAcceptPerRun)
}

func TestTasks_EnqueueNextComplete(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()

	_, err := env.service.EnqueueTask(ctx, &models.Task{Type: "dance"})
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))

	low, err := env.service.EnqueueTask(ctx, &models.Task{Type: models.TaskTypeNavigation, Priority: 1})
	require.NoError(t, err)
	high, err := env.service.EnqueueTask(ctx, &models.Task{Type: models.TaskTypeJobCheck, Priority: 5})
	require.NoError(t, err)
	assert.Contains(t, low.ID, "task_")

	next, err := env.service.NextTask(ctx)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, high.ID, next.ID)

	require.NoError(t, env.service.CompleteTask(ctx, next.ID, true, "done", ""))
	err = env.service.CompleteTask(ctx, "task_missing", true, "", "")
	assert.True(t, errors.Is(err, interfaces.ErrNotFound))

	tasks, err := env.service.Tasks(ctx)
	require.NoError(t, err)
	assert.Len(t, tasks, 2)
}

func TestDashboard(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()

	_, err := env.service.Start(ctx, "")
	require.NoError(t, err)

	dashboard, err := env.service.Dashboard(ctx)
	require.NoError(t, err)
	assert.True(t, dashboard.Status.IsRunning)
	assert.Len(t, dashboard.RecentSessions, 1)
	assert.Equal(t, "memory", dashboard.Cache)
	assert.NotNil(t, dashboard.Last24h)
}
