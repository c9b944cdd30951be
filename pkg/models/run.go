package models

import (
	"maps"
	"time"
)

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSuspended RunStatus = "suspended"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// IsTerminal reports whether no further transition is allowed.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed || s == RunStatusCancelled
}

// Outcome values recorded in run history.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
	OutcomeSuspended = "suspended"
	OutcomeResumed   = "resumed"
	OutcomeCancelled = "cancelled"
)

// HistoryEntry records one node visit.
type HistoryEntry struct {
	NodeID    string    `json:"node_id"`
	Kind      NodeKind  `json:"kind,omitempty"`
	Outcome   string    `json:"outcome"`
	Port      string    `json:"port,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// RunRecord is the durable state of one execution of a pinned graph version.
// CurrentNodeID is the next node to execute, or the delay node while suspended.
// Revision is owned by the store and changes on every successful write.
type RunRecord struct {
	ID             string            `json:"id"`
	GraphID        string            `json:"graph_id"`
	GraphVersion   int               `json:"graph_version"`
	TriggerType    TriggerType       `json:"trigger_type,omitempty"`
	TriggerContext map[string]string `json:"trigger_context,omitempty"`
	Status         RunStatus         `json:"status"`
	CurrentNodeID  string            `json:"current_node_id"`
	Variables      map[string]string `json:"variables"`
	History        []HistoryEntry    `json:"history"`
	ResumeAt       *time.Time        `json:"resume_at,omitempty"`
	Error          string            `json:"error,omitempty"`
	Revision       int64             `json:"revision"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
	CompletedAt    *time.Time        `json:"completed_at,omitempty"`
}

// Clone returns a deep copy.
func (r *RunRecord) Clone() *RunRecord {
	if r == nil {
		return nil
	}

	clone := *r
	clone.TriggerContext = maps.Clone(r.TriggerContext)
	clone.Variables = maps.Clone(r.Variables)
	clone.History = append([]HistoryEntry(nil), r.History...)

	if r.ResumeAt != nil {
		resumeAt := *r.ResumeAt
		clone.ResumeAt = &resumeAt
	}

	if r.CompletedAt != nil {
		completedAt := *r.CompletedAt
		clone.CompletedAt = &completedAt
	}

	return &clone
}
