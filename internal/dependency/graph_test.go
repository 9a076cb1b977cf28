package dependency

import (
	"reflect"
	"testing"
)

func TestNew(t *testing.T) {
	g := New()
	if g == nil {
		t.Fatal("New() returned nil")
	}
	if g.nodes == nil {
		t.Fatal("nodes map not initialized")
	}
	if g.Len() != 0 {
		t.Fatalf("expected empty graph, got %d nodes", g.Len())
	}
}

func TestAddNode(t *testing.T) {
	tests := []struct {
		name     string
		nodes    []Node
		expected int
	}{
		{
			name:     "add single node",
			nodes:    []Node{{ID: "pb-a"}},
			expected: 1,
		},
		{
			name: "add chain",
			nodes: []Node{
				{ID: "pb-a"},
				{ID: "pb-b", DependsOn: []NodeID{"pb-a"}},
				{ID: "pb-c", DependsOn: []NodeID{"pb-b"}},
			},
			expected: 3,
		},
		{
			name: "replace existing node",
			nodes: []Node{
				{ID: "pb-a", Status: "WAITING"},
				{ID: "pb-a", Status: "FINISHED"},
			},
			expected: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := New()
			for _, node := range tt.nodes {
				g.AddNode(node)
			}
			if g.Len() != tt.expected {
				t.Errorf("expected %d nodes, got %d", tt.expected, g.Len())
			}
			last := tt.nodes[len(tt.nodes)-1]
			if node := g.Get(last.ID); node == nil {
				t.Errorf("node %s not found", last.ID)
			} else if node.Status != last.Status {
				t.Errorf("status mismatch: expected %q, got %q", last.Status, node.Status)
			}
		})
	}
}

func TestAddNode_CopiesDependencies(t *testing.T) {
	deps := []NodeID{"pb-a"}
	g := New()
	g.AddNode(Node{ID: "pb-b", DependsOn: deps})
	deps[0] = "pb-z"

	if got := g.Dependencies("pb-b"); !reflect.DeepEqual(got, []NodeID{"pb-a"}) {
		t.Errorf("graph shares caller's slice: %v", got)
	}
}

func TestDependents(t *testing.T) {
	g := New()
	g.AddNode(Node{ID: "pb-a"})
	g.AddNode(Node{ID: "pb-c", DependsOn: []NodeID{"pb-a"}})
	g.AddNode(Node{ID: "pb-b", DependsOn: []NodeID{"pb-a", "pb-a"}})

	if got := g.Dependents("pb-a"); !reflect.DeepEqual(got, []NodeID{"pb-b", "pb-c"}) {
		t.Errorf("expected [pb-b pb-c], got %v", got)
	}
	if got := g.Dependents("pb-c"); len(got) != 0 {
		t.Errorf("expected no dependents, got %v", got)
	}
}

func TestMissingAndUnfinished(t *testing.T) {
	g := New()
	g.AddNode(Node{ID: "pb-a", Status: "FINISHED"})
	g.AddNode(Node{ID: "pb-b", Status: "RUNNING"})
	g.AddNode(Node{ID: "pb-c", DependsOn: []NodeID{"pb-a", "pb-b", "pb-gone"}})

	if got := g.Missing("pb-c"); !reflect.DeepEqual(got, []NodeID{"pb-gone"}) {
		t.Errorf("Missing: expected [pb-gone], got %v", got)
	}
	if got := g.Unfinished("pb-c", "FINISHED"); !reflect.DeepEqual(got, []NodeID{"pb-b", "pb-gone"}) {
		t.Errorf("Unfinished: expected [pb-b pb-gone], got %v", got)
	}
	if got := g.Unfinished("pb-a", "FINISHED"); len(got) != 0 {
		t.Errorf("Unfinished: expected none for a block without dependencies, got %v", got)
	}
}

func TestCycle(t *testing.T) {
	g := New()
	g.AddNode(Node{ID: "pb-a", DependsOn: []NodeID{"pb-b"}})
	g.AddNode(Node{ID: "pb-b", DependsOn: []NodeID{"pb-c"}})
	g.AddNode(Node{ID: "pb-c", DependsOn: []NodeID{"pb-a"}})
	g.AddNode(Node{ID: "pb-d", DependsOn: []NodeID{"pb-a"}})
	g.AddNode(Node{ID: "pb-e", DependsOn: []NodeID{"pb-missing"}})
	g.AddNode(Node{ID: "pb-self", DependsOn: []NodeID{"pb-self"}})

	if got := g.Cycle("pb-a"); !reflect.DeepEqual(got, []NodeID{"pb-a", "pb-b", "pb-c", "pb-a"}) {
		t.Errorf("expected cycle through pb-a, got %v", got)
	}
	if got := g.Cycle("pb-d"); len(got) == 0 {
		t.Error("expected the cycle reachable from pb-d to be found")
	}
	if got := g.Cycle("pb-e"); got != nil {
		t.Errorf("expected no cycle, got %v", got)
	}
	if got := g.Cycle("pb-self"); !reflect.DeepEqual(got, []NodeID{"pb-self", "pb-self"}) {
		t.Errorf("expected self cycle, got %v", got)
	}
}
