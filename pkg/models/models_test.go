package models

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDuration_JSON(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected time.Duration
		wantErr  bool
	}{
		{name: "duration string", input: `"24h"`, expected: 24 * time.Hour},
		{name: "compound string", input: `"1h30m"`, expected: 90 * time.Minute},
		{name: "seconds number", input: `90`, expected: 90 * time.Second},
		{name: "empty string", input: `""`, expected: 0},
		{name: "null", input: `null`, expected: 0},
		{name: "garbage", input: `"tomorrow"`, wantErr: true},
		{name: "wrong type", input: `true`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var d Duration

			err := json.Unmarshal([]byte(tt.input), &d)
			if tt.wantErr {
				assert.Error(t, err)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.expected, d.Std())
		})
	}

	out, err := json.Marshal(DelayConfig{Duration: Duration(24 * time.Hour)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"duration":"24h0m0s"}`, string(out))
}

func TestRunStatus_IsTerminal(t *testing.T) {
	assert.False(t, RunStatusRunning.IsTerminal())
	assert.False(t, RunStatusSuspended.IsTerminal())
	assert.True(t, RunStatusCompleted.IsTerminal())
	assert.True(t, RunStatusFailed.IsTerminal())
	assert.True(t, RunStatusCancelled.IsTerminal())
}

func TestRunRecord_Clone(t *testing.T) {
	resumeAt := time.Now()
	run := &RunRecord{
		ID:        "run-1",
		Variables: map[string]string{"name": "Ada"},
		History:   []HistoryEntry{{NodeID: "trigger", Outcome: OutcomeSucceeded}},
		ResumeAt:  &resumeAt,
	}

	clone := run.Clone()
	clone.Variables["name"] = "Grace"
	clone.History[0].NodeID = "changed"
	*clone.ResumeAt = resumeAt.Add(time.Hour)

	assert.Equal(t, "Ada", run.Variables["name"])
	assert.Equal(t, "trigger", run.History[0].NodeID)
	assert.Equal(t, resumeAt, *run.ResumeAt)
	assert.Nil(t, (*RunRecord)(nil).Clone())
}

func TestWorkflowGraph_Navigation(t *testing.T) {
	graph := &WorkflowGraph{
		EntryNodeID: "trigger",
		Nodes: map[string]*Node{
			"trigger": {ID: "trigger", Kind: NodeKindTrigger, Trigger: &TriggerConfig{Type: TriggerTypeNewLead}},
			"cond":    {ID: "cond", Kind: NodeKindCondition, Condition: &ConditionConfig{Expression: "true"}},
			"a":       {ID: "a", Kind: NodeKindAction, Action: &ActionConfig{Type: ActionTypeSendMessage}},
			"b":       {ID: "b", Kind: NodeKindAction, Action: &ActionConfig{Type: ActionTypeSendMessage}},
		},
		Edges: []*Edge{
			{ID: "e1", SourceNodeID: "trigger", TargetNodeID: "cond"},
			{ID: "e2", SourceNodeID: "cond", SourcePort: PortFalse, TargetNodeID: "b"},
			{ID: "e3", SourceNodeID: "cond", SourcePort: PortTrue, TargetNodeID: "a"},
		},
	}

	assert.Equal(t, TriggerTypeNewLead, graph.TriggerType())
	assert.Len(t, graph.Outgoing("cond"), 2)

	edge, ok := graph.Next("cond", PortTrue)
	require.True(t, ok)
	assert.Equal(t, "a", edge.TargetNodeID)

	edge, ok = graph.Next("trigger", "")
	require.True(t, ok)
	assert.Equal(t, "cond", edge.TargetNodeID)

	_, ok = graph.Next("a", "")
	assert.False(t, ok)
}

func TestNode_Validation(t *testing.T) {
	validate := validator.New(validator.WithRequiredStructEnabled())

	valid := &Node{ID: "t", Kind: NodeKindTrigger, Trigger: &TriggerConfig{Type: TriggerTypeSchedule, Schedule: "0 9 * * *"}}
	require.NoError(t, validate.Struct(valid))

	missingSchedule := &Node{ID: "t", Kind: NodeKindTrigger, Trigger: &TriggerConfig{Type: TriggerTypeSchedule}}
	err := validate.Struct(missingSchedule)
	require.Error(t, err)

	var validationErrors validator.ValidationErrors
	require.True(t, errors.As(err, &validationErrors))
	assert.Equal(t, "Schedule", validationErrors[0].Field())

	badKind := &Node{ID: "x", Kind: "loop"}
	assert.Error(t, validate.Struct(badKind))
}
