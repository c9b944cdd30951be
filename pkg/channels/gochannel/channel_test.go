package gochannel

import (
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/nexuspro/flows/pkg/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateChannel_RejectsInvalidBuffer(t *testing.T) {
	_, err := CreateChannel(watermill.NopLogger{}, Config{Buffer: -1})
	assert.ErrorContains(t, err, "invalid gochannel config")
}

func TestCreateChannel_ReplayDeliversToLateSubscriber(t *testing.T) {
	ch, err := CreateChannel(watermill.NopLogger{}, Config{Replay: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ch.Close() })

	msg := message.NewMessage(watermill.NewULID(), []byte(`{"type":"trigger.published"}`))
	msg.Metadata.Set(events.EventMetadataKey, "new_lead:L1")
	require.NoError(t, ch.Publish(events.TriggerTopic, msg))

	messages, err := ch.Subscribe(t.Context(), events.TriggerTopic)
	require.NoError(t, err)

	select {
	case got := <-messages:
		assert.Equal(t, msg.UUID, got.UUID)
		assert.Equal(t, "new_lead:L1", got.Metadata.Get(events.EventMetadataKey))
		got.Ack()
	case <-time.After(5 * time.Second):
		t.Fatal("replayed trigger was not delivered")
	}
}
