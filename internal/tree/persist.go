package tree

import (
	"encoding/json"
	"fmt"
	"os"
)

// SnapshotName is the default file name of the persisted tree, written
// next to the output root.
const SnapshotName = "study_tree.json"

// Snapshot is the JSON form of a node subtree, persisted after
// materialization and again when the run finishes.
type Snapshot struct {
	Name       string      `json:"name,omitempty"`
	Generation int         `json:"generation,omitempty"`
	Dir        string      `json:"dir,omitempty"`
	Status     Status      `json:"status"`
	JobID      string      `json:"job_id,omitempty"`
	Children   []*Snapshot `json:"children,omitempty"`
}

// Snapshot captures the current state of the whole tree.
func (t *Tree) Snapshot() *Snapshot {
	return snapshotNode(t.Root)
}

func snapshotNode(n *Node) *Snapshot {
	s := &Snapshot{
		Name:       n.Name,
		Generation: n.Generation,
		Dir:        n.Dir,
		Status:     n.Status(),
		JobID:      n.JobID(),
	}
	for _, child := range n.Children {
		s.Children = append(s.Children, snapshotNode(child))
	}
	return s
}

// WriteJSON persists the tree snapshot to path.
func (t *Tree) WriteJSON(path string) error {
	raw, err := json.MarshalIndent(t.Snapshot(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode tree snapshot: %w", err)
	}
	if err := os.WriteFile(path, append(raw, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write tree snapshot %s: %w", path, err)
	}
	return nil
}

// LoadJSON reads a previously persisted tree snapshot.
func LoadJSON(path string) (*Snapshot, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tree snapshot %s: %w", path, err)
	}
	var s Snapshot
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("corrupt tree snapshot %s: %w", path, err)
	}
	return &s, nil
}
