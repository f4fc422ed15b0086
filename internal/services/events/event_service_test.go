package events

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/atozbot/internal/interfaces"
	"github.com/ternarybob/atozbot/internal/models"
)

func TestPublishReachesSubscribersAfterCancel(t *testing.T) {
	svc := NewService(arbor.NewLogger())
	defer svc.Close()

	got := make(chan string, 1)
	require.NoError(t, svc.Subscribe(interfaces.EventBotUpdate, func(ctx context.Context, event interfaces.Event) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		got <- event.Payload.(*models.CallbackUpdate).SessionID
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, svc.Publish(ctx, interfaces.Event{
		Type:    interfaces.EventBotUpdate,
		Payload: &models.CallbackUpdate{SessionID: "s1"},
	}))

	select {
	case id := <-got:
		assert.Equal(t, "s1", id)
	case <-time.After(time.Second):
		t.Fatal("subscriber not called")
	}
}

func TestPublishSyncCollectsErrors(t *testing.T) {
	svc := NewService(arbor.NewLogger())
	var calls atomic.Int32
	boom := errors.New("boom")

	require.NoError(t, svc.Subscribe(interfaces.EventAnalytics, func(ctx context.Context, event interfaces.Event) error {
		calls.Add(1)
		return nil
	}))
	require.NoError(t, svc.Subscribe(interfaces.EventAnalytics, func(ctx context.Context, event interfaces.Event) error {
		calls.Add(1)
		return boom
	}))

	err := svc.PublishSync(context.Background(), interfaces.Event{Type: interfaces.EventAnalytics})
	require.Error(t, err)
	assert.True(t, errors.Is(err, boom))
	assert.Equal(t, int32(2), calls.Load())
}

func TestPanickingHandlerIsContained(t *testing.T) {
	svc := NewService(arbor.NewLogger())
	require.NoError(t, svc.Subscribe(interfaces.EventBotLifecycle, func(ctx context.Context, event interfaces.Event) error {
		panic("handler bug")
	}))

	assert.NoError(t, svc.PublishSync(context.Background(), interfaces.Event{Type: interfaces.EventBotLifecycle}))
}

func TestSubscribeAfterClose(t *testing.T) {
	svc := NewService(arbor.NewLogger())
	require.NoError(t, svc.Close())

	err := svc.Subscribe(interfaces.EventBotUpdate, func(context.Context, interfaces.Event) error { return nil })
	assert.ErrorIs(t, err, ErrClosed)
	assert.Error(t, svc.Subscribe(interfaces.EventBotUpdate, nil))
}

func TestLoggerSubscriberHandlesEveryPayload(t *testing.T) {
	logger := arbor.NewLogger()
	subscriber := NewLoggerSubscriber(logger)
	ctx := context.Background()

	payloads := []interface{}{
		&models.CallbackUpdate{SessionID: "s1", Type: models.UpdateRunning},
		&models.BotEvent{SessionID: "s1", Type: "stopped"},
		&models.AnalyticsPeriod{},
		nil,
	}
	for _, payload := range payloads {
		assert.NoError(t, subscriber(ctx, interfaces.Event{Type: interfaces.EventBotUpdate, Payload: payload}))
	}

	svc := NewService(logger)
	require.NoError(t, SubscribeLoggerToAllEvents(svc, logger))
	assert.Len(t, svc.handlers(interfaces.EventAnalytics), 1)
}

func TestSubscriberCountDropsToZeroOnClose(t *testing.T) {
	svc := NewService(arbor.NewLogger())

	assert.Zero(t, svc.SubscriberCount(interfaces.EventBotUpdate))
	noop := func(ctx context.Context, event interfaces.Event) error { return nil }
	require.NoError(t, svc.Subscribe(interfaces.EventBotUpdate, noop))
	require.NoError(t, svc.Subscribe(interfaces.EventBotUpdate, noop))
	assert.Equal(t, 2, svc.SubscriberCount(interfaces.EventBotUpdate))
	assert.Zero(t, svc.SubscriberCount(interfaces.EventAnalytics))

	require.NoError(t, svc.Close())
	assert.Zero(t, svc.SubscriberCount(interfaces.EventBotUpdate))
}
