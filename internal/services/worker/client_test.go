package worker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/atozbot/internal/common"
	"github.com/ternarybob/atozbot/internal/models"
)

func TestControllerClient_RoundTrips(t *testing.T) {
	var received models.CallbackUpdate
	mux := http.NewServeMux()
	mux.HandleFunc("/api/bot/realtime-update", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/api/bot/configuration", func(w http.ResponseWriter, r *http.Request) {
		cfg := common.NewDefaultConfig().Bot.Configuration(time.Now())
		cfg.MaxAcceptPerRun = 7
		_ = json.NewEncoder(w).Encode(cfg)
	})
	mux.HandleFunc("/api/bot/tasks/next", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "session-1", r.URL.Query().Get("session_id"))
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/api/bot/tasks/task_1/complete", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "task not found", http.StatusNotFound)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := NewControllerClient(server.URL+"/", time.Second, arbor.NewLogger())
	ctx := context.Background()

	update := models.CallbackUpdate{
		SessionID:  "session-1",
		Generation: 2,
		Type:       models.UpdateDatabase,
		Data:       models.UpdateData{Status: "running"}.WithCounters(models.SessionCounters{TotalChecks: 4}),
	}
	require.NoError(t, client.PostUpdate(ctx, update))
	assert.Equal(t, models.UpdateDatabase, received.Type)
	assert.Equal(t, int64(2), received.Generation)
	require.NotNil(t, received.Data.TotalChecks)
	assert.Equal(t, int64(4), *received.Data.TotalChecks)

	cfg, err := client.FetchConfiguration(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.MaxAcceptPerRun)

	task, err := client.NextTask(ctx, "session-1")
	require.NoError(t, err)
	assert.Nil(t, task)

	err = client.CompleteTask(ctx, "task_1", true, "done", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestControllerClient_BreakerOpensWhenControllerIsDown(t *testing.T) {
	client := NewControllerClient("http://127.0.0.1:1", 200*time.Millisecond, arbor.NewLogger())
	update := models.CallbackUpdate{SessionID: "s", Type: models.UpdateRunning}

	var lastErr error
	for i := 0; i < 6; i++ {
		lastErr = client.PostUpdate(context.Background(), update)
	}
	require.Error(t, lastErr)
	assert.Contains(t, lastErr.Error(), "circuit breaker is open")
}

type failingSender struct{ calls int }

func (f *failingSender) PostUpdate(ctx context.Context, update models.CallbackUpdate) error {
	f.calls++
	return errors.New("connection refused")
}

func TestReporter_ThrottlesOnlyProgress(t *testing.T) {
	sender := &failingSender{}
	reporter := NewReporter(sender, "session-1", 1, 1, arbor.NewLogger())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		reporter.Send(ctx, models.UpdateCheckingJobs, models.UpdateData{})
	}
	assert.Equal(t, 1, sender.calls)

	for i := 0; i < 3; i++ {
		reporter.Send(ctx, models.UpdateDatabase, models.UpdateData{})
	}
	assert.Equal(t, 4, sender.calls, "lifecycle updates are never throttled and failures are swallowed")
}

type scriptedFetcher struct {
	cfg   *models.BotConfiguration
	err   error
	calls int
}

func (s *scriptedFetcher) FetchConfiguration(ctx context.Context) (*models.BotConfiguration, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.cfg.Clone(), nil
}

func TestConfigSource_RefreshAndFallback(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	fallback := common.NewDefaultConfig().Bot.Configuration(now)
	remote := fallback.Clone()
	remote.MaxAcceptPerRun = 9

	fetcher := &scriptedFetcher{err: errors.New("controller unreachable")}
	source := NewConfigSource(fetcher, fallback, 30*time.Second, arbor.NewLogger())
	source.now = func() time.Time { return now }
	ctx := context.Background()

	assert.Equal(t, 5, source.Current(ctx).MaxAcceptPerRun, "fallback while unreachable")

	fetcher.err = nil
	fetcher.cfg = remote
	assert.Equal(t, 5, source.Current(ctx).MaxAcceptPerRun, "no refetch inside the refresh window")
	assert.Equal(t, 1, fetcher.calls)

	now = now.Add(31 * time.Second)
	assert.Equal(t, 9, source.Current(ctx).MaxAcceptPerRun)

	invalid := remote.Clone()
	invalid.MaxAcceptPerRun = 0
	fetcher.cfg = invalid
	now = now.Add(31 * time.Second)
	assert.Equal(t, 9, source.Current(ctx).MaxAcceptPerRun, "invalid configuration is ignored")

	got := source.Current(ctx)
	got.ExcludeTypes[0] = "mutated"
	assert.NotEqual(t, "mutated", source.Current(ctx).ExcludeTypes[0])
}

func TestErrorPolicy_Backoff(t *testing.T) {
	p := testOptions().Policy

	assert.Equal(t, 5*time.Second, p.Backoff(0))
	assert.Equal(t, 7*time.Second, p.Backoff(1))
	assert.Equal(t, 25*time.Second, p.Backoff(10))
	assert.Equal(t, 30*time.Second, p.Backoff(13))
	assert.Equal(t, 30*time.Second, p.Backoff(100))

	assert.False(t, p.CeilingReached(9))
	assert.True(t, p.CeilingReached(10))
	assert.True(t, ErrorPolicy{}.CeilingReached(10))
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := common.NewDefaultConfig()
	cfg.Portal.Username = "user"
	cfg.Portal.Password = "pass"

	opts := OptionsFromConfig(cfg, "session-1", 4)

	assert.Equal(t, "session-1", opts.SessionID)
	assert.Equal(t, int64(4), opts.Generation)
	assert.Equal(t, 3, opts.LoginAttempts)
	assert.Equal(t, 3*time.Second, opts.LoginBackoff)
	assert.Equal(t, 10, opts.Policy.Ceiling)
	assert.Equal(t, 30*time.Second, opts.Policy.Cap)
	assert.Equal(t, "user", opts.Credentials.Username)
}

func TestAcquireLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run", "worker.lock")

	assert.False(t, LockHeld(path))

	release, err := AcquireLock(path)
	require.NoError(t, err)
	assert.True(t, LockHeld(path))

	_, err = AcquireLock(path)
	require.ErrorIs(t, err, ErrLockHeld)

	release()
	assert.False(t, LockHeld(path))
}
