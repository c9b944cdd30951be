// Package graph validates workflow graphs and computes their topology.
package graph

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/nexuspro/flows/pkg/expression"
	"github.com/nexuspro/flows/pkg/models"
	"github.com/robfig/cron/v3"
)

// ErrInvalidGraph is wrapped by every ValidationError.
var ErrInvalidGraph = errors.New("invalid workflow graph")

var scheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule parses a 5-field cron spec as used by schedule triggers.
func ParseSchedule(spec string) (cron.Schedule, error) {
	return scheduleParser.Parse(spec)
}

// Violation names the offending node or edge id and why it is rejected.
type Violation struct {
	Target string `json:"target"`
	Reason string `json:"reason"`
}

func (v Violation) String() string {
	return v.Target + ": " + v.Reason
}

// ValidationResult lists violations (reject) and warnings (accept).
type ValidationResult struct {
	Violations []Violation `json:"violations"`
	Warnings   []Violation `json:"warnings,omitempty"`
}

// Valid reports whether the graph has no violations.
func (r ValidationResult) Valid() bool {
	return len(r.Violations) == 0
}

// Err returns a *ValidationError when the graph is invalid.
func (r ValidationResult) Err(graphID string) error {
	if r.Valid() {
		return nil
	}

	return &ValidationError{GraphID: graphID, Violations: r.Violations}
}

// ValidationError carries the full list of violations of a rejected graph.
type ValidationError struct {
	GraphID    string
	Violations []Violation
}

func (e *ValidationError) Error() string {
	reasons := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		reasons = append(reasons, v.String())
	}

	target := e.GraphID
	if target == "" {
		target = "(new)"
	}

	return fmt.Sprintf("graph %s has %d violation(s): %s", target, len(e.Violations), strings.Join(reasons, "; "))
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidGraph
}

// IsValidationError checks if an error is a graph validation failure.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidGraph)
}

// ParamChecker validates action parameters against the registered adapters.
type ParamChecker interface {
	ValidateParams(actionType models.ActionType, params map[string]string) error
}

// Option customises validation.
type Option func(*validation)

// WithParamChecker enables adapter-specific parameter checks.
func WithParamChecker(checker ParamChecker) Option {
	return func(v *validation) {
		v.params = checker
	}
}

// WithEvaluator shares a program cache with the engine.
func WithEvaluator(evaluator *expression.Evaluator) Option {
	return func(v *validation) {
		v.evaluator = evaluator
	}
}

type validation struct {
	graph     *models.WorkflowGraph
	validate  *validator.Validate
	evaluator *expression.Evaluator
	params    ParamChecker
	result    ValidationResult
}

var structValidator = validator.New(validator.WithRequiredStructEnabled())

// Validate checks a graph before it is saved or activated. A graph that fails
// is rejected as a whole; nothing is repaired.
func Validate(g *models.WorkflowGraph, opts ...Option) ValidationResult {
	v := &validation{
		graph:     g,
		validate:  structValidator,
		evaluator: expression.NewEvaluator(),
	}

	for _, opt := range opts {
		opt(v)
	}

	if g == nil {
		v.violate("graph", "graph is missing")

		return v.result
	}

	if strings.TrimSpace(g.Name) == "" {
		v.violate("graph", "name is required")
	}

	if g.Flow != "" && g.Flow != models.FlowKindAutomation && g.Flow != models.FlowKindChatbot {
		v.violate("graph", fmt.Sprintf("unknown flow kind %q", g.Flow))
	}

	if len(g.Nodes) == 0 {
		v.violate("graph", "graph has no nodes")

		return v.result
	}

	v.checkNodes()

	edgesOK := v.checkEdges()
	v.checkTrigger()
	v.checkOutDegree()

	if edgesOK {
		v.checkCycles()
	}

	if v.result.Valid() {
		_, unreachable := Topology(g)
		for _, id := range unreachable {
			v.result.Warnings = append(v.result.Warnings, Violation{Target: id, Reason: "node is unreachable from the entry node"})
		}
	}

	return v.result
}

func (v *validation) violate(target, reason string) {
	v.result.Violations = append(v.result.Violations, Violation{Target: target, Reason: reason})
}

func (v *validation) nodeIDs() []string {
	ids := make([]string, 0, len(v.graph.Nodes))
	for id := range v.graph.Nodes {
		ids = append(ids, id)
	}

	slices.Sort(ids)

	return ids
}

func (v *validation) checkNodes() {
	for _, id := range v.nodeIDs() {
		node := v.graph.Nodes[id]
		if node == nil {
			v.violate(id, "node is empty")

			continue
		}

		if node.ID != id {
			v.violate(id, fmt.Sprintf("node is keyed as %q but has id %q", id, node.ID))
		}

		if err := v.validate.Struct(node); err != nil {
			var fieldErrors validator.ValidationErrors
			if errors.As(err, &fieldErrors) {
				for _, fe := range fieldErrors {
					v.violate(id, fmt.Sprintf("field %s failed on %q", fe.Namespace(), fe.Tag()))
				}
			} else {
				v.violate(id, err.Error())
			}

			continue
		}

		v.checkKindBlock(id, node)
	}
}

func (v *validation) checkKindBlock(id string, node *models.Node) {
	blocks := []struct {
		kind models.NodeKind
		set  bool
	}{
		{models.NodeKindTrigger, node.Trigger != nil},
		{models.NodeKindAction, node.Action != nil},
		{models.NodeKindCondition, node.Condition != nil},
		{models.NodeKindDelay, node.Delay != nil},
	}

	for _, block := range blocks {
		kind, set := block.kind, block.set
		if kind == node.Kind && !set {
			v.violate(id, fmt.Sprintf("%s node is missing its %s configuration", node.Kind, kind))

			return
		}

		if kind != node.Kind && set {
			v.violate(id, fmt.Sprintf("%s node must not carry %s configuration", node.Kind, kind))

			return
		}
	}

	switch node.Kind {
	case models.NodeKindTrigger:
		if node.Trigger.Type == models.TriggerTypeSchedule {
			if _, err := ParseSchedule(node.Trigger.Schedule); err != nil {
				v.violate(id, fmt.Sprintf("invalid schedule %q: %v", node.Trigger.Schedule, err))
			}
		}
	case models.NodeKindAction:
		v.checkAction(id, node.Action)
	case models.NodeKindCondition:
		if err := v.evaluator.Compile(node.Condition.Expression); err != nil {
			v.violate(id, err.Error())
		}
	case models.NodeKindDelay:
		if node.Delay.Duration <= 0 {
			v.violate(id, "delay duration must be positive")
		}
	}
}

func (v *validation) checkAction(id string, action *models.ActionConfig) {
	if action.Type == models.ActionTypeWait {
		if action.Duration <= 0 {
			v.violate(id, "wait duration must be positive")
		}

		return
	}

	if v.params == nil {
		return
	}

	if err := v.params.ValidateParams(action.Type, action.Params); err != nil {
		v.violate(id, err.Error())
	}
}

func (v *validation) checkEdges() bool {
	ok := true
	seen := make(map[string]bool, len(v.graph.Edges))

	for i, edge := range v.graph.Edges {
		if edge == nil {
			v.violate(fmt.Sprintf("edges[%d]", i), "edge is empty")

			ok = false

			continue
		}

		target := edge.ID
		if target == "" {
			target = fmt.Sprintf("edges[%d]", i)
			v.violate(target, "edge id is required")
		}

		if edge.ID != "" && seen[edge.ID] {
			v.violate(target, "duplicate edge id")
		}

		seen[edge.ID] = true

		if _, exists := v.graph.Nodes[edge.SourceNodeID]; !exists || v.graph.Nodes[edge.SourceNodeID] == nil {
			v.violate(target, fmt.Sprintf("references unknown source node %q", edge.SourceNodeID))

			ok = false
		}

		if _, exists := v.graph.Nodes[edge.TargetNodeID]; !exists || v.graph.Nodes[edge.TargetNodeID] == nil {
			v.violate(target, fmt.Sprintf("references unknown target node %q", edge.TargetNodeID))

			ok = false
		}
	}

	return ok
}

func (v *validation) checkTrigger() {
	var triggers []string

	indegree := make(map[string]int, len(v.graph.Nodes))

	for _, edge := range v.graph.Edges {
		if edge != nil {
			indegree[edge.TargetNodeID]++
		}
	}

	for _, id := range v.nodeIDs() {
		node := v.graph.Nodes[id]
		if node == nil {
			continue
		}

		if node.Kind == models.NodeKindTrigger {
			triggers = append(triggers, id)

			if indegree[id] > 0 {
				v.violate(id, "trigger node must not have incoming edges")
			}

			continue
		}

		if indegree[id] == 0 {
			v.violate(id, "node has no incoming edge; only the trigger may be an entry point")
		}
	}

	switch len(triggers) {
	case 0:
		v.violate("graph", "graph must have exactly one trigger node, found none")
	case 1:
		if v.graph.EntryNodeID != triggers[0] {
			v.violate("graph", fmt.Sprintf("entry node %q must be the trigger node %q", v.graph.EntryNodeID, triggers[0]))
		}
	default:
		for _, id := range triggers {
			if id != v.graph.EntryNodeID {
				v.violate(id, fmt.Sprintf("graph must have exactly one trigger node, found %d", len(triggers)))
			}
		}
	}
}

func (v *validation) checkOutDegree() {
	for _, id := range v.nodeIDs() {
		node := v.graph.Nodes[id]
		if node == nil {
			continue
		}

		outgoing := v.graph.Outgoing(id)

		switch node.Kind {
		case models.NodeKindCondition:
			v.checkConditionPorts(id, outgoing)
		case models.NodeKindDelay:
			if len(outgoing) != 1 {
				v.violate(id, fmt.Sprintf("delay node must have exactly one outgoing edge, found %d", len(outgoing)))
			}
		case models.NodeKindAction, models.NodeKindTrigger:
			if len(outgoing) > 1 {
				v.violate(id, fmt.Sprintf("%s node must have at most one outgoing edge, found %d", node.Kind, len(outgoing)))
			}
		}
	}
}

func (v *validation) checkConditionPorts(id string, outgoing []*models.Edge) {
	if len(outgoing) != 2 {
		v.violate(id, fmt.Sprintf("condition node must have exactly two outgoing edges, found %d", len(outgoing)))

		return
	}

	ports := map[string]int{}
	for _, edge := range outgoing {
		ports[edge.SourcePort]++
	}

	if ports[models.PortTrue] != 1 || ports[models.PortFalse] != 1 {
		v.violate(id, `condition node edges must be labelled "true" and "false"`)
	}
}

// checkCycles walks from the entry node keeping a recursion stack.
func (v *validation) checkCycles() {
	if _, ok := v.graph.EntryNode(); !ok {
		if v.graph.EntryNodeID == "" {
			v.violate("graph", "entry node is not set")
		} else {
			v.violate("graph", fmt.Sprintf("entry node %q does not exist", v.graph.EntryNodeID))
		}

		return
	}

	visiting := make(map[string]bool)
	visited := make(map[string]bool)
	path := []string{}

	var visit func(id string) bool
	visit = func(id string) bool {
		visiting[id] = true
		path = append(path, id)

		for _, edge := range v.graph.Outgoing(id) {
			next := edge.TargetNodeID
			if visiting[next] {
				start := slices.Index(path, next)
				cycle := append(slices.Clone(path[start:]), next)
				v.violate(next, "cycle detected: "+strings.Join(cycle, " -> "))

				return false
			}

			if !visited[next] && !visit(next) {
				return false
			}
		}

		path = path[:len(path)-1]

		delete(visiting, id)

		visited[id] = true

		return true
	}

	visit(v.graph.EntryNodeID)
}
