package eventbus

import (
	"strings"
	"testing"

	"github.com/nexuspro/flows/pkg/models"
	"github.com/stretchr/testify/assert"
)

func TestTriggerKey(t *testing.T) {
	tests := []struct {
		name    string
		payload map[string]string
		want    string
	}{
		{name: "lead", payload: map[string]string{"lead_id": "L1", "contact_id": "C1"}, want: "new_lead:L1"},
		{name: "contact", payload: map[string]string{"contact_id": "C1"}, want: "new_lead:C1"},
		{name: "conversation", payload: map[string]string{"conversation_id": "T9", "lead_id": ""}, want: "new_lead:T9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TriggerKey(models.TriggerTypeNewLead, tt.payload))
		})
	}
}

func TestTriggerKey_WithoutSubjectIsUnique(t *testing.T) {
	first := TriggerKey(models.TriggerTypeSchedule, map[string]string{models.TickPayloadKey: "2026-03-01T10:00:00Z"})
	second := TriggerKey(models.TriggerTypeSchedule, nil)

	assert.True(t, strings.HasPrefix(first, "schedule:"))
	assert.NotEqual(t, first, second)
}
