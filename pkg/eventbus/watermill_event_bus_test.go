package eventbus

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/nexuspro/flows/pkg/channels/gochannel"
	"github.com/nexuspro/flows/pkg/events"
	"github.com/nexuspro/flows/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBus(t *testing.T) *WatermillEventBus {
	t.Helper()

	ch, err := gochannel.CreateChannel(watermill.NopLogger{}, gochannel.Config{})
	require.NoError(t, err)

	bus := NewWatermillEventBus(slog.Default(), ch, ch)
	t.Cleanup(func() { _ = bus.Close() })

	return bus
}

func TestWatermillEventBus_DeliversByType(t *testing.T) {
	bus := newTestBus(t)

	received := make(chan *events.TriggerPublished, 1)
	completed := make(chan *events.RunCompleted, 1)

	require.NoError(t, bus.Handle(events.TriggerPublishedEvent, func(_ context.Context, event any) error {
		received <- event.(*events.TriggerPublished)

		return nil
	}))
	require.NoError(t, bus.Handle(events.RunCompletedEvent, func(_ context.Context, event any) error {
		completed <- event.(*events.RunCompleted)

		return nil
	}))
	require.NoError(t, bus.Subscribe(t.Context()))

	trigger := events.NewTriggerPublished(models.TriggerTypeNewLead, map[string]string{"lead_id": "7"})
	require.NoError(t, bus.Publish(t.Context(), "lead-7", trigger))

	run := &models.RunRecord{ID: "r1", GraphID: "g1", GraphVersion: 1, Status: models.RunStatusCompleted}
	require.NoError(t, bus.Publish(t.Context(), run.ID, events.ForRun(run, false).(Event)))

	select {
	case got := <-received:
		assert.Equal(t, trigger.ID, got.ID)
		assert.Equal(t, "7", got.Payload["lead_id"])
	case <-time.After(2 * time.Second):
		t.Fatal("trigger event not delivered")
	}

	select {
	case got := <-completed:
		assert.Equal(t, "r1", got.RunID)
	case <-time.After(2 * time.Second):
		t.Fatal("run event not delivered")
	}
}

func TestWatermillEventBus_RedeliversOnHandlerError(t *testing.T) {
	bus := newTestBus(t)

	var attempts atomic.Int32

	done := make(chan struct{})

	require.NoError(t, bus.Handle(events.TriggerPublishedEvent, func(context.Context, any) error {
		if attempts.Add(1) == 1 {
			return errors.New("transient")
		}

		close(done)

		return nil
	}))
	require.NoError(t, bus.Subscribe(t.Context()))

	require.NoError(t, bus.Publish(t.Context(), "k", events.NewTriggerPublished(models.TriggerTypeInboundMessage, nil)))

	select {
	case <-done:
		assert.Equal(t, int32(2), attempts.Load())
	case <-time.After(2 * time.Second):
		t.Fatal("message not redelivered")
	}
}

func TestWatermillEventBus_HandleUnknownType(t *testing.T) {
	bus := newTestBus(t)

	assert.Error(t, bus.Handle("workflow.finished", func(context.Context, any) error { return nil }))
}

func TestWatermillEventBus_SubscribeTwice(t *testing.T) {
	bus := newTestBus(t)

	require.NoError(t, bus.Handle(events.RunFailedEvent, func(context.Context, any) error { return nil }))
	require.NoError(t, bus.Subscribe(t.Context()))
	assert.ErrorIs(t, bus.Subscribe(t.Context()), ErrAlreadySubscribed)
}
