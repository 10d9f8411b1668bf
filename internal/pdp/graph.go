package pdp

import "maintenix.io/internal/auth"

// Graph is the role hierarchy as parent -> children adjacency.
type Graph map[string][]string

// NewGraph builds the adjacency list from stored edges.
func NewGraph(edges []auth.RoleEdge) Graph {
	g := make(Graph, len(edges))
	for _, e := range edges {
		g[e.ParentID] = append(g[e.ParentID], e.ChildID)
	}
	return g
}

// Closure returns every role reachable from start, start included, each once.
// The walk is breadth first with a visited set so cycles terminate.
func (g Graph) Closure(start []string) []string {
	visited := make(map[string]struct{}, len(start))
	queue := make([]string, 0, len(start))
	for _, id := range start {
		if id == "" {
			continue
		}
		if _, ok := visited[id]; ok {
			continue
		}
		visited[id] = struct{}{}
		queue = append(queue, id)
	}
	for i := 0; i < len(queue); i++ {
		for _, child := range g[queue[i]] {
			if _, ok := visited[child]; ok {
				continue
			}
			visited[child] = struct{}{}
			queue = append(queue, child)
		}
	}
	return queue
}
