package validation

import (
	"fmt"
	"sort"

	"github.com/rendis/flowforge/pkg/schema"
)

// bodyGraph links each control step to the steps it runs: body members and
// retry targets. A cycle means a step would run itself recursively forever.
type bodyGraph struct {
	nodes map[string]bool
	edges map[string][]string
}

func newBodyGraph() *bodyGraph {
	return &bodyGraph{nodes: make(map[string]bool), edges: make(map[string][]string)}
}

func (g *bodyGraph) addNode(id string) {
	g.nodes[id] = true
}

func (g *bodyGraph) addEdge(from, to string) {
	g.nodes[from] = true
	g.nodes[to] = true
	g.edges[from] = append(g.edges[from], to)
}

// validateGraph runs cycle detection (Kahn's algorithm) over the body graph
// and warns about top-level steps that also run as a nested body member.
func validateGraph(def *schema.FlowDefinition, g *bodyGraph) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	inDegree := make(map[string]int, len(g.nodes))
	for id := range g.nodes {
		inDegree[id] += 0
		seen := make(map[string]bool, len(g.edges[id]))
		for _, to := range g.edges[id] {
			if seen[to] {
				continue
			}
			seen[to] = true
			inDegree[to]++
		}
	}

	queue := make([]string, 0, len(g.nodes))
	for id, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}
	sort.Strings(queue)

	visited := 0
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		visited++
		seen := make(map[string]bool, len(g.edges[node]))
		for _, to := range g.edges[node] {
			if seen[to] {
				continue
			}
			seen[to] = true
			inDegree[to]--
			if inDegree[to] == 0 {
				queue = append(queue, to)
			}
		}
	}

	if visited != len(g.nodes) {
		var cyclic []string
		for id, deg := range inDegree {
			if deg > 0 {
				cyclic = append(cyclic, id)
			}
		}
		sort.Strings(cyclic)
		result.AddError("steps", schema.ErrCodeFlowStructure,
			fmt.Sprintf("steps run themselves recursively: %v", cyclic))
		return result
	}

	nested := make(map[string]string)
	for from, tos := range g.edges {
		for _, to := range tos {
			nested[to] = from
		}
	}
	for i, s := range def.Steps {
		if owner, ok := nested[s.ID]; ok {
			result.AddWarning(fmt.Sprintf("steps[%d]", i), schema.ErrCodeValidation,
				fmt.Sprintf("step %q runs inside %q and again in top-level order", s.ID, owner))
		}
	}
	return result
}
