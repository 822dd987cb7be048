package eventbus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oru-io/conduct/pkg/channels/gochannel"
	"github.com/oru-io/conduct/pkg/events"
	"github.com/oru-io/conduct/pkg/models"
)

func newTestBus(t *testing.T) EventBus {
	t.Helper()

	pub, sub, err := gochannel.CreateTestChannel(watermill.NopLogger{})
	require.NoError(t, err)

	return NewWatermillEventBus(pub, sub)
}

func TestPublishSubscribeRoundTrip(t *testing.T) {
	bus := newTestBus(t)

	var mu sync.Mutex

	var received []models.DueTrigger

	err := bus.Handle(events.EventTriggeredType, func(_ context.Context, event any) error {
		triggered, ok := event.(*events.EventTriggered)
		require.True(t, ok)

		mu.Lock()
		received = append(received, triggered.Trigger)
		mu.Unlock()

		return nil
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, bus.Subscribe(ctx))

	trigger := models.DueTrigger{
		TriggerID: "trig-1",
		EventID:   "ev-1",
		Type:      models.TriggerManual,
		Attempt:   1,
		FiredAt:   time.Now().UTC().Truncate(time.Second),
	}

	require.NoError(t, bus.Publish(ctx, "ev-1", events.EventTriggered{
		BaseEvent: events.NewBaseEvent(events.EventTriggeredType),
		Trigger:   trigger,
	}))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()

		return len(received) == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()

	assert.Equal(t, "trig-1", received[0].TriggerID)
	assert.Equal(t, models.TriggerManual, received[0].Type)
	assert.True(t, trigger.FiredAt.Equal(received[0].FiredAt))
}

func TestSubscribeDropsUnhandledTypes(t *testing.T) {
	bus := newTestBus(t)

	var handled sync.Map

	// Only workflow run requests are handled; the trigger topic also
	// carries EventTriggered, which must be acked and dropped.
	err := bus.Handle(events.WorkflowRunRequestedType, func(_ context.Context, event any) error {
		requested, ok := event.(*events.WorkflowRunRequested)
		require.True(t, ok)

		handled.Store(requested.WorkflowID, true)

		return nil
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, bus.Subscribe(ctx))

	require.NoError(t, bus.Publish(ctx, "ev-1", events.EventTriggered{
		BaseEvent: events.NewBaseEvent(events.EventTriggeredType),
		Trigger:   models.DueTrigger{TriggerID: "t", EventID: "ev-1", Type: models.TriggerManual, Attempt: 1, FiredAt: time.Now()},
	}))
	require.NoError(t, bus.Publish(ctx, "wf-1", events.WorkflowRunRequested{
		BaseEvent:  events.NewBaseEvent(events.WorkflowRunRequestedType),
		WorkflowID: "wf-1",
	}))

	assert.Eventually(t, func() bool {
		_, ok := handled.Load("wf-1")

		return ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestGenerateIDIsUnique(t *testing.T) {
	bus := newTestBus(t)

	seen := make(map[string]bool)

	for range 100 {
		id := bus.GenerateID()
		assert.False(t, seen[id])
		seen[id] = true
	}
}
