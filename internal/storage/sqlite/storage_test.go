package sqlite

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/atozbot/internal/common"
	"github.com/ternarybob/atozbot/internal/interfaces"
	"github.com/ternarybob/atozbot/internal/models"
)

func setupTestManager(t *testing.T) interfaces.StorageManager {
	t.Helper()
	config := &common.SQLiteConfig{
		Path:          filepath.Join(t.TempDir(), "test.db"),
		CacheSizeMB:   4,
		WALMode:       false,
		BusyTimeoutMS: 5000,
	}
	manager, err := NewManager(arbor.NewLogger(), config)
	require.NoError(t, err)
	t.Cleanup(func() { manager.Close() })
	return manager
}

func TestSessionStorage_CreateGetUpdate(t *testing.T) {
	store := setupTestManager(t).SessionStorage()
	ctx := context.Background()
	now := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

	session := models.NewSession("s1", "Session_20260601_090000", 3, now)
	require.NoError(t, store.CreateSession(ctx, session))

	got, err := store.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusStarting, got.Status)
	assert.Equal(t, models.LoginStatusAttempting, got.LoginStatus)
	assert.Equal(t, int64(3), got.Generation)
	require.NotNil(t, got.StartTime)
	assert.True(t, now.Equal(*got.StartTime))
	assert.Nil(t, got.EndTime)

	got.Status = models.SessionStatusRunning
	got.TotalChecks = 12
	got.TotalAccepted = 2
	got.UpdatedAt = now.Add(time.Minute)
	require.NoError(t, store.UpdateSession(ctx, got))

	got.End(models.SessionStatusStopped, now.Add(2*time.Minute))
	require.NoError(t, store.UpdateSession(ctx, got))

	// A later end time never replaces the stored one
	later := now.Add(time.Hour)
	got.EndTime = &later
	require.NoError(t, store.UpdateSession(ctx, got))

	final, err := store.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusStopped, final.Status)
	assert.Equal(t, int64(12), final.TotalChecks)
	assert.Equal(t, int64(2), final.TotalAccepted)
	require.NotNil(t, final.EndTime)
	assert.True(t, now.Add(2*time.Minute).Equal(*final.EndTime))
}

func TestSessionStorage_NotFound(t *testing.T) {
	store := setupTestManager(t).SessionStorage()
	ctx := context.Background()

	_, err := store.GetSession(ctx, "missing")
	assert.ErrorIs(t, err, interfaces.ErrNotFound)

	err = store.UpdateSession(ctx, models.NewSession("missing", "x", 1, time.Now()))
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
}

func TestSessionStorage_ListAndActive(t *testing.T) {
	store := setupTestManager(t).SessionStorage()
	ctx := context.Background()
	base := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

	for i, status := range []models.SessionStatus{
		models.SessionStatusStopped,
		models.SessionStatusRunning,
		models.SessionStatusError,
		models.SessionStatusStarting,
	} {
		s := models.NewSession(string(rune('a'+i)), "session", int64(i+1), base.Add(time.Duration(i)*time.Minute))
		s.Status = status
		require.NoError(t, store.CreateSession(ctx, s))
	}

	all, err := store.ListSessions(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, "d", all[0].ID, "newest first")

	page, err := store.ListSessions(ctx, 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "b", page[0].ID)

	active, err := store.ActiveSessions(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "d", active[0].ID)
	assert.Equal(t, "b", active[1].ID)

	changed, err := store.StopActiveSessions(ctx, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), changed)

	active, err = store.ActiveSessions(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	stopped, err := store.GetSession(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusStopped, stopped.Status)
	require.NotNil(t, stopped.EndTime)

	changed, err = store.StopActiveSessions(ctx, base.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, changed)
}

func TestSessionStorage_ConcurrentUpdates(t *testing.T) {
	store := setupTestManager(t).SessionStorage()
	ctx := context.Background()
	require.NoError(t, store.CreateSession(ctx, models.NewSession("s1", "x", 1, time.Now())))

	var wg sync.WaitGroup
	for i := 1; i <= 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			s := models.NewSession("s1", "x", 1, time.Now())
			s.TotalChecks = int64(n)
			assert.NoError(t, store.UpdateSession(ctx, s))
		}(i)
	}
	wg.Wait()

	got, err := store.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, got.TotalChecks, int64(1))
}

func TestConfigurationStorage_Upsert(t *testing.T) {
	store := setupTestManager(t).ConfigurationStorage()
	ctx := context.Background()

	_, err := store.GetActiveConfiguration(ctx)
	assert.ErrorIs(t, err, interfaces.ErrNotFound)

	cfg := common.NewDefaultConfig().Bot.Configuration(time.Now())
	saved, err := store.UpsertActiveConfiguration(ctx, cfg)
	require.NoError(t, err)
	assert.NotZero(t, saved.ID)

	cfg.MaxAcceptPerRun = 9
	cfg.ExcludeTypes = []string{"Onsite"}
	cfg.EnableQuickCheck = true
	updated, err := store.UpsertActiveConfiguration(ctx, cfg)
	require.NoError(t, err)
	assert.Equal(t, saved.ID, updated.ID, "active row is updated in place")

	active, err := store.GetActiveConfiguration(ctx)
	require.NoError(t, err)
	assert.Equal(t, 9, active.MaxAcceptPerRun)
	assert.Equal(t, []string{"Onsite"}, active.ExcludeTypes)
	assert.Equal(t, cfg.RequiredFields, active.RequiredFields)
	assert.True(t, active.EnableQuickCheck)
	assert.True(t, active.IsActive)
	assert.Equal(t, 0.5, active.CheckIntervalSeconds)
}

func TestJobRecordStorage_SaveAndList(t *testing.T) {
	manager := setupTestManager(t)
	ctx := context.Background()
	require.NoError(t, manager.SessionStorage().CreateSession(ctx, models.NewSession("s1", "x", 1, time.Now())))
	require.NoError(t, manager.SessionStorage().CreateSession(ctx, models.NewSession("s2", "x", 2, time.Now())))

	store := manager.JobRecordStorage()
	base := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	for i, outcome := range []models.JobOutcome{models.JobOutcomeAccepted, models.JobOutcomeRejected, models.JobOutcomeAccepted} {
		job := models.JobRecord{
			SessionID: "s1",
			Ref:       string(rune('A' + i)),
			Language:  "Spanish",
			ScrapedAt: base,
		}.WithOutcome(outcome, "", base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, store.SaveJobRecord(ctx, &job))
		assert.NotZero(t, job.ID)
	}
	other := models.JobRecord{SessionID: "s2", Ref: "Z"}.WithOutcome(models.JobOutcomeRejected, "missing required field: language", base.Add(time.Hour))
	require.NoError(t, store.SaveJobRecord(ctx, &other))

	all, err := store.ListJobRecords(ctx, interfaces.JobFilter{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, "Z", all[0].Ref, "newest first")
	assert.Equal(t, "missing required field: language", all[0].Reason)

	accepted, err := store.ListJobRecords(ctx, interfaces.JobFilter{SessionID: "s1", Outcome: models.JobOutcomeAccepted})
	require.NoError(t, err)
	require.Len(t, accepted, 2)
	assert.Equal(t, "C", accepted[0].Ref)
	assert.True(t, base.Equal(accepted[0].ScrapedAt))

	paged, err := store.ListJobRecords(ctx, interfaces.JobFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, paged, 1)
	assert.Equal(t, "C", paged[0].Ref)

	since, err := store.JobRecordsSince(ctx, base.Add(90*time.Second))
	require.NoError(t, err)
	require.Len(t, since, 2)
	assert.Equal(t, "C", since[0].Ref, "oldest first")
}

func TestAnalyticsStorage_SaveAndList(t *testing.T) {
	store := setupTestManager(t).AnalyticsStorage()
	ctx := context.Background()
	end := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	language := "Spanish"
	peak := 10

	for i := 0; i < 2; i++ {
		period := &models.AnalyticsPeriod{
			PeriodStart: end.Add(time.Duration(i-1) * 4 * time.Hour),
			PeriodEnd:   end.Add(time.Duration(i) * 4 * time.Hour),
			Analytics: models.Analytics{
				PeriodHours:          4,
				TotalJobs:            int64(10 + i),
				AcceptedJobs:         4,
				RejectedJobs:         6,
				AcceptanceRate:       40,
				MostCommonLanguage:   &language,
				PeakHour:             &peak,
				LanguageDistribution: map[string]int64{"Spanish": 7, "Polish": 3},
				HourlyDistribution:   map[int]int64{10: 6, 14: 4},
			},
		}
		require.NoError(t, store.SaveAnalyticsPeriod(ctx, period))
		assert.NotZero(t, period.ID)
	}

	periods, err := store.ListAnalyticsPeriods(ctx, 20)
	require.NoError(t, err)
	require.Len(t, periods, 2)
	latest := periods[0]
	assert.Equal(t, int64(11), latest.TotalJobs)
	require.NotNil(t, latest.MostCommonLanguage)
	assert.Equal(t, "Spanish", *latest.MostCommonLanguage)
	require.NotNil(t, latest.PeakHour)
	assert.Equal(t, 10, *latest.PeakHour)
	assert.Equal(t, int64(6), latest.HourlyDistribution[10])
	assert.Equal(t, int64(3), latest.LanguageDistribution["Polish"])
}
