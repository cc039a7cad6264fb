package state

import (
	"sort"
)

// DependencyGraph models "depends-on" relations between migrations. Node
// identifiers are canonical "app.name" strings. The graph tolerates cycles:
// they are reported, never panicked over, because a cycle is a first-class
// conflict in this engine.
type DependencyGraph struct {
	nodes map[string]bool
	edges map[string][]string
}

// NewDependencyGraph creates an empty graph
func NewDependencyGraph() *DependencyGraph {
	return &DependencyGraph{
		nodes: make(map[string]bool),
		edges: make(map[string][]string),
	}
}

// AddNode registers a migration identifier
func (g *DependencyGraph) AddNode(id string) {
	g.nodes[id] = true
}

// AddDependency records that id depends on dep. Both endpoints are
// registered as nodes.
func (g *DependencyGraph) AddDependency(id, dep string) {
	g.AddNode(id)
	g.AddNode(dep)
	g.edges[id] = append(g.edges[id], dep)
}

// HasNode reports whether id is in the graph
func (g *DependencyGraph) HasNode(id string) bool {
	return g.nodes[id]
}

// Dependencies returns the direct dependencies of id
func (g *DependencyGraph) Dependencies(id string) []string {
	return g.edges[id]
}

// Nodes returns all node identifiers in sorted order
func (g *DependencyGraph) Nodes() []string {
	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// DetectCycles returns every dependency cycle found in the graph. Each cycle
// is reported as the node sequence that closes the loop, starting and ending
// at the same node.
func (g *DependencyGraph) DetectCycles() [][]string {
	const (
		white = 0 // unvisited
		gray  = 1 // on the current DFS path
		black = 2 // fully explored
	)

	colors := make(map[string]int)
	var cycles [][]string
	var path []string

	var visit func(id string)
	visit = func(id string) {
		colors[id] = gray
		path = append(path, id)

		for _, dep := range g.edges[id] {
			switch colors[dep] {
			case white:
				visit(dep)
			case gray:
				// Found a back edge; slice the cycle out of the current path
				start := 0
				for i, n := range path {
					if n == dep {
						start = i
						break
					}
				}
				cycle := append(append([]string{}, path[start:]...), dep)
				cycles = append(cycles, cycle)
			}
		}

		path = path[:len(path)-1]
		colors[id] = black
	}

	for _, id := range g.Nodes() {
		if colors[id] == white {
			visit(id)
		}
	}

	return cycles
}

// TransitiveDependencies returns the full dependency chain of id in
// apply-order (deepest dependency first). ok is false when the chain
// passes through a cycle, in which case the partial chain is returned.
func (g *DependencyGraph) TransitiveDependencies(id string) (chain []string, ok bool) {
	visited := make(map[string]bool)
	onPath := make(map[string]bool)
	ok = true

	var visit func(node string)
	visit = func(node string) {
		if onPath[node] {
			ok = false
			return
		}
		if visited[node] {
			return
		}
		visited[node] = true
		onPath[node] = true

		deps := append([]string{}, g.edges[node]...)
		sort.Strings(deps)
		for _, dep := range deps {
			visit(dep)
		}

		onPath[node] = false
		if node != id {
			chain = append(chain, node)
		}
	}

	visit(id)
	return chain, ok
}
