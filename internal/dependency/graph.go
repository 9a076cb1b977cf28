package dependency

import (
	"sort"
)

// NodeID is the processing block id of a node.
type NodeID string

// Node is a processing block together with the blocks it depends on.
type Node struct {
	ID        NodeID
	DependsOn []NodeID
	// Status is the block's state status, empty when it has no state yet.
	Status string
}

// Graph answers dependency queries over one reconciliation snapshot. It is
// not safe for concurrent writes.
type Graph struct {
	nodes map[NodeID]*Node
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{nodes: make(map[NodeID]*Node)}
}

// AddNode adds (or replaces) a node in the graph.
func (g *Graph) AddNode(n Node) {
	if g.nodes == nil {
		g.nodes = make(map[NodeID]*Node)
	}
	copied := n
	copied.DependsOn = append([]NodeID(nil), n.DependsOn...)
	g.nodes[n.ID] = &copied
}

// Get returns the stored node or nil if it does not exist.
func (g *Graph) Get(id NodeID) *Node {
	return g.nodes[id]
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// Dependencies returns the immediate dependency ids of a node.
func (g *Graph) Dependencies(id NodeID) []NodeID {
	if n, ok := g.nodes[id]; ok {
		depsCopy := make([]NodeID, len(n.DependsOn))
		copy(depsCopy, n.DependsOn)
		return depsCopy
	}
	return nil
}

// Dependents returns the ids of nodes with a direct dependency on id, sorted.
func (g *Graph) Dependents(id NodeID) []NodeID {
	var res []NodeID
	for _, n := range g.nodes {
		for _, dep := range n.DependsOn {
			if dep == id {
				res = append(res, n.ID)
				break
			}
		}
	}
	sortIDs(res)
	return res
}

// Missing returns the dependencies of id that are not in the graph.
func (g *Graph) Missing(id NodeID) []NodeID {
	var res []NodeID
	for _, dep := range g.Dependencies(id) {
		if _, ok := g.nodes[dep]; !ok {
			res = append(res, dep)
		}
	}
	return res
}

// Unfinished returns the dependencies of id whose status is not finished.
// Dependencies missing from the graph count as unfinished.
func (g *Graph) Unfinished(id NodeID, finished string) []NodeID {
	var res []NodeID
	for _, dep := range g.Dependencies(id) {
		n, ok := g.nodes[dep]
		if !ok || n.Status != finished {
			res = append(res, dep)
		}
	}
	return res
}

// Cycle returns a dependency cycle reachable from id, starting and ending
// with the same node, or nil if there is none.
func (g *Graph) Cycle(id NodeID) []NodeID {
	const (
		unvisited = iota
		inProgress
		done
	)
	state := make(map[NodeID]int, len(g.nodes))
	var stack []NodeID

	var visit func(NodeID) []NodeID
	visit = func(n NodeID) []NodeID {
		switch state[n] {
		case inProgress:
			for i, s := range stack {
				if s == n {
					cycle := append([]NodeID(nil), stack[i:]...)
					return append(cycle, n)
				}
			}
		case done:
			return nil
		}
		node, ok := g.nodes[n]
		if !ok {
			return nil
		}
		state[n] = inProgress
		stack = append(stack, n)
		for _, dep := range node.DependsOn {
			if c := visit(dep); c != nil {
				return c
			}
		}
		stack = stack[:len(stack)-1]
		state[n] = done
		return nil
	}
	return visit(id)
}

func sortIDs(ids []NodeID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
