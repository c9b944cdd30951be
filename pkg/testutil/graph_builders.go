// Package testutil provides workflow graph builders shared by package tests.
package testutil

import (
	"fmt"
	"time"

	"github.com/nexuspro/flows/pkg/models"
)

// GraphBuilder assembles a WorkflowGraph node by node.
type GraphBuilder struct {
	graph *models.WorkflowGraph
	edges int
}

// NewGraph starts a graph with the given name and a trigger entry node.
func NewGraph(name string, triggerType models.TriggerType) *GraphBuilder {
	b := &GraphBuilder{
		graph: &models.WorkflowGraph{
			Name:      name,
			Flow:      models.FlowKindAutomation,
			Nodes:     map[string]*models.Node{},
			Edges:     []*models.Edge{},
			Variables: map[string]string{},
		},
	}

	b.Node(&models.Node{
		ID:      "trigger",
		Kind:    models.NodeKindTrigger,
		Name:    "Trigger",
		Trigger: &models.TriggerConfig{Type: triggerType},
	})
	b.graph.EntryNodeID = "trigger"

	return b
}

// Node adds a node.
func (b *GraphBuilder) Node(node *models.Node) *GraphBuilder {
	b.graph.Nodes[node.ID] = node

	return b
}

// Action adds an action node.
func (b *GraphBuilder) Action(id string, actionType models.ActionType, params map[string]string) *GraphBuilder {
	return b.Node(&models.Node{
		ID:     id,
		Kind:   models.NodeKindAction,
		Name:   id,
		Action: &models.ActionConfig{Type: actionType, Params: params},
	})
}

// Condition adds a condition node.
func (b *GraphBuilder) Condition(id, expression string) *GraphBuilder {
	return b.Node(&models.Node{
		ID:        id,
		Kind:      models.NodeKindCondition,
		Name:      id,
		Condition: &models.ConditionConfig{Expression: expression},
	})
}

// Delay adds a delay node.
func (b *GraphBuilder) Delay(id string, d time.Duration) *GraphBuilder {
	return b.Node(&models.Node{
		ID:    id,
		Kind:  models.NodeKindDelay,
		Name:  id,
		Delay: &models.DelayConfig{Duration: models.Duration(d)},
	})
}

// Edge connects source to target on the default port.
func (b *GraphBuilder) Edge(source, target string) *GraphBuilder {
	return b.PortEdge(source, "", target)
}

// PortEdge connects source to target on the given port.
func (b *GraphBuilder) PortEdge(source, port, target string) *GraphBuilder {
	b.edges++
	b.graph.Edges = append(b.graph.Edges, &models.Edge{
		ID:           fmt.Sprintf("e%d", b.edges),
		SourceNodeID: source,
		SourcePort:   port,
		TargetNodeID: target,
	})

	return b
}

// Variable sets a graph default variable.
func (b *GraphBuilder) Variable(name, value string) *GraphBuilder {
	b.graph.Variables[name] = value

	return b
}

// Schedule sets the cron spec of the trigger node.
func (b *GraphBuilder) Schedule(spec string) *GraphBuilder {
	b.graph.Nodes[b.graph.EntryNodeID].Trigger.Schedule = spec

	return b
}

// Build returns the graph.
func (b *GraphBuilder) Build() *models.WorkflowGraph {
	return b.graph
}

// WelcomeGraph is NewLead -> SendMessage("Welcome") -> Delay(24h) -> UpdateCrmField(stage=contacted).
func WelcomeGraph() *models.WorkflowGraph {
	return NewGraph("Welcome new leads", models.TriggerTypeNewLead).
		Action("welcome", models.ActionTypeSendMessage, map[string]string{
			"channel": "email",
			"to":      "{{email}}",
			"body":    "Welcome {{name}}",
		}).
		Delay("wait-a-day", 24*time.Hour).
		Action("mark-contacted", models.ActionTypeUpdateCRMField, map[string]string{
			"contact_id": "{{lead_id}}",
			"field":      "stage",
			"value":      "contacted",
		}).
		Edge("trigger", "welcome").
		Edge("welcome", "wait-a-day").
		Edge("wait-a-day", "mark-contacted").
		Build()
}

// BranchGraph routes on variables.amount > 100 to a "big" or "small" message.
func BranchGraph() *models.WorkflowGraph {
	return NewGraph("Route by amount", models.TriggerTypeInboundMessage).
		Condition("check-amount", "variables.amount > 100").
		Action("big", models.ActionTypeSendMessage, map[string]string{"body": "big order"}).
		Action("small", models.ActionTypeSendMessage, map[string]string{"body": "small order"}).
		Edge("trigger", "check-amount").
		PortEdge("check-amount", models.PortTrue, "big").
		PortEdge("check-amount", models.PortFalse, "small").
		Build()
}
