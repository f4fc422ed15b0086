package bot

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/atozbot/internal/interfaces"
	"github.com/ternarybob/atozbot/internal/models"
)

func record(outcome models.JobOutcome, language, apptTime string, processed time.Time) *models.JobRecord {
	r := models.JobRecord{Ref: "R", Language: language, ApptTime: apptTime}.WithOutcome(outcome, "", processed)
	return &r
}

func TestComputeAnalytics(t *testing.T) {
	processed := time.Date(2026, 5, 1, 22, 15, 0, 0, time.UTC)
	records := []*models.JobRecord{
		record(models.JobOutcomeAccepted, "Spanish", "10:00", processed),
		record(models.JobOutcomeRejected, "Spanish", "10:30 - 11:30", processed),
		record(models.JobOutcomeRejected, "Polish", "2:15 PM", processed),
		record(models.JobOutcomeSkipped, "", "", processed),
	}

	a := ComputeAnalytics(records, 24)
	assert.Equal(t, 24, a.PeriodHours)
	assert.Equal(t, int64(4), a.TotalJobs)
	assert.Equal(t, int64(1), a.AcceptedJobs)
	assert.Equal(t, int64(2), a.RejectedJobs)
	assert.Equal(t, int64(1), a.SkippedJobs)
	assert.Equal(t, 25.0, a.AcceptanceRate)

	require.NotNil(t, a.MostCommonLanguage)
	assert.Equal(t, "Spanish", *a.MostCommonLanguage)
	assert.Equal(t, map[string]int64{"Spanish": 2, "Polish": 1}, a.LanguageDistribution)

	require.NotNil(t, a.PeakHour)
	assert.Equal(t, 10, *a.PeakHour)
	assert.Equal(t, map[int]int64{10: 2, 14: 1, 22: 1}, a.HourlyDistribution)
}

func TestComputeAnalytics_RateRounding(t *testing.T) {
	now := time.Now()
	records := []*models.JobRecord{
		record(models.JobOutcomeAccepted, "French", "", now),
		record(models.JobOutcomeRejected, "French", "", now),
		record(models.JobOutcomeRejected, "French", "", now),
	}
	a := ComputeAnalytics(records, 4)
	assert.Equal(t, 33.33, a.AcceptanceRate)
}

func TestComputeAnalytics_Empty(t *testing.T) {
	a := ComputeAnalytics(nil, 24)
	assert.Equal(t, int64(0), a.TotalJobs)
	assert.Equal(t, 0.0, a.AcceptanceRate)
	assert.Nil(t, a.MostCommonLanguage)
	assert.Nil(t, a.PeakHour)
	assert.NotNil(t, a.LanguageDistribution)
}

func TestSnapshotAnalytics(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()

	received := make(chan *models.AnalyticsPeriod, 1)
	err := env.service.events.Subscribe(interfaces.EventAnalytics, func(ctx context.Context, event interfaces.Event) error {
		received <- event.Payload.(*models.AnalyticsPeriod)
		return nil
	})
	require.NoError(t, err)

	session, err := env.service.Start(ctx, "")
	require.NoError(t, err)
	job := models.JobRecord{Ref: "R9", Language: "Urdu"}.WithOutcome(models.JobOutcomeAccepted, "", time.Now())
	_, err = env.service.HandleUpdate(ctx, &models.CallbackUpdate{
		SessionID:  session.ID,
		Generation: session.Generation,
		Type:       models.UpdateJobProcessed,
		Data:       models.UpdateData{Job: &job},
	})
	require.NoError(t, err)

	period, err := env.service.SnapshotAnalytics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, period.PeriodHours)
	assert.Equal(t, int64(1), period.TotalJobs)
	assert.Equal(t, 100.0, period.AcceptanceRate)

	select {
	case got := <-received:
		assert.Equal(t, int64(1), got.TotalJobs)
	case <-time.After(2 * time.Second):
		t.Fatal("analytics_update not published")
	}

	periods, err := env.service.AnalyticsPeriods(ctx, 10)
	require.NoError(t, err)
	require.Len(t, periods, 1)
	assert.Equal(t, int64(1), periods[0].TotalJobs)
}
