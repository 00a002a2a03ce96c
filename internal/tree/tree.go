package tree

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/vk/studygridgo/internal/study"
)

// Tree is the expanded job tree of a study.
type Tree struct {
	// Study is the read-only study the tree was expanded from.
	Study *study.Study
	// StudyDir is the directory of the study file; template folders are
	// resolved against it.
	StudyDir string
	// OutputRoot is the directory the node folders are created under.
	OutputRoot string
	// Root is a synthetic generation-0 node. Its children are the first
	// generation's jobs.
	Root *Node
}

// Build expands the study into a job tree rooted at outputRoot.
//
// When the study carries an explicit children tree, its levels map onto the
// generations in order. Levels the children tree does not reach are filled
// with a single default node per branch, so every branch of the pipeline
// traverses all generations.
func Build(s *study.Study, studyDir, outputRoot string) (*Tree, error) {
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid study: %w", err)
	}

	root := &Node{Dir: outputRoot, status: StatusPending}
	t := &Tree{
		Study:      s,
		StudyDir:   studyDir,
		OutputRoot: outputRoot,
		Root:       root,
	}

	if err := t.expand(root, 1, s.Children); err != nil {
		return nil, err
	}
	return t, nil
}

// expand creates the nodes of generation gen under parent.
func (t *Tree) expand(parent *Node, gen int, children map[string]*study.ChildSpec) error {
	if gen > len(t.Study.Generations) {
		if len(children) > 0 {
			return fmt.Errorf("node %s has children beyond the last generation", parent.ID())
		}
		return nil
	}

	template := t.Study.Generations[gen]

	if len(children) == 0 {
		// Default expansion: one node per generation, chained.
		child := t.newNode(parent, fmt.Sprintf("generation_%d", gen), gen, template, nil)
		return t.expand(child, gen+1, nil)
	}

	for _, name := range sortedNames(children) {
		spec := children[name]
		var params map[string]any
		var grandchildren map[string]*study.ChildSpec
		if spec != nil {
			params = spec.Parameters
			grandchildren = spec.Children
		}
		child := t.newNode(parent, name, gen, template, params)
		if err := t.expand(child, gen+1, grandchildren); err != nil {
			return err
		}
	}
	return nil
}

func (t *Tree) newNode(parent *Node, name string, gen int, template *study.Generation, params map[string]any) *Node {
	node := &Node{
		Name:       name,
		Generation: gen,
		Dir:        filepath.Join(parent.Dir, name),
		Template:   template,
		Parameters: params,
		Parent:     parent,
		status:     StatusPending,
	}
	parent.Children = append(parent.Children, node)
	return node
}

// Nodes returns all non-root nodes in level order.
func (t *Tree) Nodes() []*Node {
	var nodes []*Node
	t.Walk(func(n *Node) {
		nodes = append(nodes, n)
	})
	return nodes
}

// Find returns the node with the given ID, or nil.
func (t *Tree) Find(id string) *Node {
	var found *Node
	t.Walk(func(n *Node) {
		if n.ID() == id {
			found = n
		}
	})
	return found
}

// sortedNames keeps the expansion deterministic; YAML mappings carry no
// usable order once decoded into a map.
func sortedNames(children map[string]*study.ChildSpec) []string {
	names := make([]string, 0, len(children))
	for name := range children {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
