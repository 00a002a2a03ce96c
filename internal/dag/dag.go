// Package dag maintains the dependency graph the executor schedules from.
//
// The graph mirrors the study tree: a parent node must complete before any
// of its children may be submitted. Edge bookkeeping and validation are
// delegated to dominikbraun/graph; this package adds the node lookup and
// the dependency counting the executor's unlocking logic needs.
package dag

import (
	"fmt"
	"sync"

	"github.com/dominikbraun/graph"

	"github.com/vk/studygridgo/internal/tree"
)

// Graph is the executor-facing dependency graph. All operations are
// concurrency-safe.
type Graph struct {
	g     graph.Graph[string, string]
	nodes map[string]*tree.Node

	mutex     sync.Mutex
	remaining map[string]int
}

// FromTree builds the dependency graph of all non-root tree nodes.
func FromTree(t *tree.Tree) (*Graph, error) {
	d := &Graph{
		g:         graph.New(graph.StringHash, graph.Directed(), graph.Acyclic()),
		nodes:     make(map[string]*tree.Node),
		remaining: make(map[string]int),
	}

	var buildErr error
	t.Walk(func(n *tree.Node) {
		if buildErr != nil {
			return
		}
		id := n.ID()
		if err := d.g.AddVertex(id); err != nil {
			buildErr = fmt.Errorf("failed to add node %s: %w", id, err)
			return
		}
		d.nodes[id] = n
	})
	if buildErr != nil {
		return nil, buildErr
	}

	t.Walk(func(n *tree.Node) {
		if buildErr != nil {
			return
		}
		if n.Parent == nil || n.Parent.Name == "" {
			return
		}
		if err := d.g.AddEdge(n.Parent.ID(), n.ID()); err != nil {
			buildErr = fmt.Errorf("failed to link %s -> %s: %w", n.Parent.ID(), n.ID(), err)
		}
	})
	if buildErr != nil {
		return nil, buildErr
	}

	if err := d.initCounters(); err != nil {
		return nil, err
	}
	if err := d.DetectCycles(); err != nil {
		return nil, fmt.Errorf("error validating dependency graph: %w", err)
	}
	return d, nil
}

func (d *Graph) initCounters() error {
	preds, err := d.g.PredecessorMap()
	if err != nil {
		return fmt.Errorf("failed to compute predecessors: %w", err)
	}
	d.mutex.Lock()
	defer d.mutex.Unlock()
	for id, deps := range preds {
		d.remaining[id] = len(deps)
	}
	return nil
}

// Len returns the number of nodes in the graph.
func (d *Graph) Len() int {
	return len(d.nodes)
}

// Node returns the tree node with the given ID.
func (d *Graph) Node(id string) (*tree.Node, error) {
	n, ok := d.nodes[id]
	if !ok {
		return nil, fmt.Errorf("node %s not found in graph", id)
	}
	return n, nil
}

// Roots returns all nodes with no dependencies, i.e. the first generation.
func (d *Graph) Roots() []*tree.Node {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	var roots []*tree.Node
	for id, count := range d.remaining {
		if count == 0 {
			roots = append(roots, d.nodes[id])
		}
	}
	return roots
}

// Dependents returns the nodes that directly depend on the given node.
func (d *Graph) Dependents(id string) ([]*tree.Node, error) {
	adjacency, err := d.g.AdjacencyMap()
	if err != nil {
		return nil, fmt.Errorf("failed to compute adjacency: %w", err)
	}
	edges, ok := adjacency[id]
	if !ok {
		return nil, fmt.Errorf("node %s not found in graph", id)
	}

	dependents := make([]*tree.Node, 0, len(edges))
	for target := range edges {
		dependents = append(dependents, d.nodes[target])
	}
	return dependents, nil
}

// Dependencies returns the nodes the given node directly depends on.
func (d *Graph) Dependencies(id string) ([]*tree.Node, error) {
	preds, err := d.g.PredecessorMap()
	if err != nil {
		return nil, fmt.Errorf("failed to compute predecessors: %w", err)
	}
	edges, ok := preds[id]
	if !ok {
		return nil, fmt.Errorf("node %s not found in graph", id)
	}

	dependencies := make([]*tree.Node, 0, len(edges))
	for source := range edges {
		dependencies = append(dependencies, d.nodes[source])
	}
	return dependencies, nil
}

// DecrementDepCount marks one dependency of the node as satisfied and
// returns the number still outstanding.
func (d *Graph) DecrementDepCount(id string) int {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.remaining[id]--
	return d.remaining[id]
}

// DetectCycles validates that the graph is schedulable. The tree structure
// makes cycles impossible by construction, but the check is kept so the
// graph stays correct if edges ever come from somewhere richer than the
// tree.
func (d *Graph) DetectCycles() error {
	if _, err := graph.TopologicalSort(d.g); err != nil {
		return fmt.Errorf("dependency cycle detected: %w", err)
	}
	return nil
}
