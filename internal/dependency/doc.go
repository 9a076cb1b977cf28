// Package dependency provides a small directed graph of processing blocks
// and the blocks they depend on.
//
// The reconciler builds one graph per cycle from the processing blocks and
// states of its snapshot. It uses it to explain why a waiting block is not
// released yet: which dependencies are unfinished, which do not exist, and
// whether the block is part of a dependency cycle that can never finish.
//
// # Usage Example
//
//	g := dependency.New()
//	g.AddNode(dependency.Node{ID: "pb-a", Status: "WAITING"})
//	g.AddNode(dependency.Node{ID: "pb-b", DependsOn: []dependency.NodeID{"pb-a", "pb-gone"}})
//
//	g.Unfinished("pb-b", "FINISHED") // [pb-a pb-gone]
//	g.Missing("pb-b")                // [pb-gone]
//	g.Dependents("pb-a")             // [pb-b]
//
// The graph is not safe for concurrent writes.
package dependency
