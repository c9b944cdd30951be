package graph

import (
	"slices"

	"github.com/nexuspro/flows/pkg/models"
)

// Topology returns the nodes reachable from the entry node in breadth-first
// order, and the remaining nodes sorted by id.
func Topology(g *models.WorkflowGraph) ([]string, []string) {
	if g == nil {
		return nil, nil
	}

	var reachable []string

	seen := map[string]bool{}

	if _, ok := g.EntryNode(); ok {
		queue := []string{g.EntryNodeID}
		seen[g.EntryNodeID] = true

		for len(queue) > 0 {
			id := queue[0]
			queue = queue[1:]
			reachable = append(reachable, id)

			for _, edge := range g.Outgoing(id) {
				if _, exists := g.Nodes[edge.TargetNodeID]; exists && !seen[edge.TargetNodeID] {
					seen[edge.TargetNodeID] = true
					queue = append(queue, edge.TargetNodeID)
				}
			}
		}
	}

	var unreachable []string

	for id := range g.Nodes {
		if !seen[id] {
			unreachable = append(unreachable, id)
		}
	}

	slices.Sort(unreachable)

	return reachable, unreachable
}
