// Package models defines the workflow graph and run records shared by every component.
package models

import "time"

// NodeKind discriminates the node variants of a workflow graph.
type NodeKind string

const (
	NodeKindTrigger   NodeKind = "trigger"
	NodeKindAction    NodeKind = "action"
	NodeKindCondition NodeKind = "condition"
	NodeKindDelay     NodeKind = "delay"
)

// TriggerType identifies the external event that starts a run.
type TriggerType string

const (
	TriggerTypeNewLead        TriggerType = "new_lead"
	TriggerTypeInboundMessage TriggerType = "inbound_message"
	TriggerTypeSchedule       TriggerType = "schedule"
)

// TriggerTypes lists every trigger type the engine understands.
var TriggerTypes = []TriggerType{TriggerTypeNewLead, TriggerTypeInboundMessage, TriggerTypeSchedule}

// ActionType identifies the side effect performed by an action node.
type ActionType string

const (
	ActionTypeSendMessage    ActionType = "send_message"
	ActionTypeUpdateCRMField ActionType = "update_crm_field"
	ActionTypeWait           ActionType = "wait"
)

// FlowKind tells which editor collection a graph came from.
type FlowKind string

const (
	FlowKindAutomation FlowKind = "automation"
	FlowKindChatbot    FlowKind = "chatbot"
)

// Ports used on the outgoing edges of a condition node.
const (
	PortTrue  = "true"
	PortFalse = "false"
)

// TickPayloadKey carries the minute a schedule trigger fired for.
const TickPayloadKey = "tick"

// WorkflowGraph is one immutable version of a user-authored flow.
type WorkflowGraph struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"                  validate:"required"`
	Description string            `json:"description,omitempty"`
	Flow        FlowKind          `json:"flow,omitempty"        validate:"omitempty,oneof=automation chatbot"`
	Version     int               `json:"version"`
	Nodes       map[string]*Node  `json:"nodes"`
	Edges       []*Edge           `json:"edges"`
	EntryNodeID string            `json:"entry_node_id"`
	Variables   map[string]string `json:"variables,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// Edge connects a source node port to a target node.
type Edge struct {
	ID           string `json:"id"                    validate:"required"`
	SourceNodeID string `json:"source_node_id"        validate:"required"`
	SourcePort   string `json:"source_port,omitempty"`
	TargetNodeID string `json:"target_node_id"        validate:"required"`
}

// Node is a tagged union: exactly the block matching Kind is set.
type Node struct {
	ID        string           `json:"id"                  validate:"required"`
	Kind      NodeKind         `json:"kind"                validate:"required,oneof=trigger action condition delay"`
	Name      string           `json:"name,omitempty"`
	PositionX int              `json:"position_x"`
	PositionY int              `json:"position_y"`
	Trigger   *TriggerConfig   `json:"trigger,omitempty"`
	Action    *ActionConfig    `json:"action,omitempty"`
	Condition *ConditionConfig `json:"condition,omitempty"`
	Delay     *DelayConfig     `json:"delay,omitempty"`
}

// TriggerConfig configures a trigger node. Schedule is a 5-field cron spec.
type TriggerConfig struct {
	Type     TriggerType `json:"type"               validate:"required,oneof=new_lead inbound_message schedule"`
	Schedule string      `json:"schedule,omitempty" validate:"required_if=Type schedule"`
}

// ActionConfig configures an action node. Param values may reference run
// variables with {{name}} placeholders. Duration is only used by wait actions.
type ActionConfig struct {
	Type     ActionType        `json:"type"               validate:"required,oneof=send_message update_crm_field wait"`
	Params   map[string]string `json:"params,omitempty"`
	Duration Duration          `json:"duration,omitempty"`
}

// ConditionConfig holds the boolean expression evaluated against run variables.
type ConditionConfig struct {
	Expression string `json:"expression" validate:"required"`
}

// DelayConfig suspends a run for Duration.
type DelayConfig struct {
	Duration Duration `json:"duration" validate:"required"`
}

// GraphState is the mutable record kept next to the immutable versions.
type GraphState struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	LatestVersion int       `json:"latest_version"`
	Active        bool      `json:"active"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// EntryNode returns the node runs start from.
func (g *WorkflowGraph) EntryNode() (*Node, bool) {
	node, ok := g.Nodes[g.EntryNodeID]

	return node, ok && node != nil
}

// Outgoing returns the edges leaving nodeID in declaration order.
func (g *WorkflowGraph) Outgoing(nodeID string) []*Edge {
	var edges []*Edge

	for _, edge := range g.Edges {
		if edge != nil && edge.SourceNodeID == nodeID {
			edges = append(edges, edge)
		}
	}

	return edges
}

// Next returns the edge followed when leaving nodeID. For condition nodes the
// port selects the branch; any other node follows its single outgoing edge.
func (g *WorkflowGraph) Next(nodeID, port string) (*Edge, bool) {
	for _, edge := range g.Outgoing(nodeID) {
		if port == "" || edge.SourcePort == port {
			return edge, true
		}
	}

	return nil, false
}

// TriggerType returns the trigger type of the entry node, or "" when the
// graph has no usable entry.
func (g *WorkflowGraph) TriggerType() TriggerType {
	node, ok := g.EntryNode()
	if !ok || node.Kind != NodeKindTrigger || node.Trigger == nil {
		return ""
	}

	return node.Trigger.Type
}
