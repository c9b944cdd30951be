package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/nexuspro/flows/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTriggerPublished_JSONSerialization(t *testing.T) {
	original := NewTriggerPublished(models.TriggerTypeNewLead, map[string]string{"lead_id": "42"})

	jsonData, err := json.Marshal(original)
	require.NoError(t, err)
	assert.Contains(t, string(jsonData), `"trigger_type":"new_lead"`)
	assert.Contains(t, string(jsonData), `"type":"trigger.published"`)

	event, ok := New(TriggerPublishedEvent)
	require.True(t, ok)

	require.NoError(t, json.Unmarshal(jsonData, event))

	decoded := event.(*TriggerPublished)
	assert.Equal(t, original.ID, decoded.ID)
	assert.Equal(t, "42", decoded.Payload["lead_id"])
	assert.Equal(t, TriggerTopic, TopicFor(decoded.GetType()))
}

func TestForRun(t *testing.T) {
	resumeAt := time.Date(2026, 1, 2, 3, 4, 0, 0, time.UTC)

	tests := []struct {
		name     string
		status   models.RunStatus
		resumed  bool
		wantType EventType
	}{
		{name: "started", status: models.RunStatusRunning, wantType: RunStartedEvent},
		{name: "resumed", status: models.RunStatusRunning, resumed: true, wantType: RunResumedEvent},
		{name: "suspended", status: models.RunStatusSuspended, wantType: RunSuspendedEvent},
		{name: "completed", status: models.RunStatusCompleted, wantType: RunCompletedEvent},
		{name: "failed", status: models.RunStatusFailed, wantType: RunFailedEvent},
		{name: "cancelled", status: models.RunStatusCancelled, wantType: RunCancelledEvent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			run := &models.RunRecord{
				ID: "run-1", GraphID: "g", GraphVersion: 3, Status: tt.status,
				CurrentNodeID: "welcome", ResumeAt: &resumeAt, Error: "boom",
			}

			event := ForRun(run, tt.resumed)
			require.NotNil(t, event)

			typed, ok := event.(interface{ GetType() EventType })
			require.True(t, ok)
			assert.Equal(t, tt.wantType, typed.GetType())
			assert.Equal(t, Topic, TopicFor(typed.GetType()))

			payload, err := json.Marshal(event)
			require.NoError(t, err)
			assert.Contains(t, string(payload), `"run_id":"run-1"`)
			assert.Contains(t, string(payload), `"graph_version":3`)
		})
	}
}

func TestNew_UnknownType(t *testing.T) {
	_, ok := New("node.activation")
	assert.False(t, ok)
}
