package tree

import (
	"path/filepath"
	"sync"

	"github.com/vk/studygridgo/internal/study"
)

// Status is the lifecycle state of a node.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCloned    Status = "cloned"
	StatusSubmitted Status = "submitted"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusSkipped
}

// Node is a single job in the study tree.
type Node struct {
	// Name is the node's name within its parent, e.g. "xtrack_0004".
	Name string
	// Generation is the 1-based stage number this node belongs to.
	Generation int
	// Dir is the node's working directory, nested under its parent's.
	Dir string
	// Template is the generation template the node was expanded from.
	Template *study.Generation
	// Parameters are merged into the node's config.yaml.
	Parameters map[string]any

	Parent   *Node
	Children []*Node

	mu     sync.Mutex
	status Status
	jobID  string
}

// ID returns the node's tree-unique identifier: the slash-joined path of
// names from the first generation down to the node.
func (n *Node) ID() string {
	if n.Parent == nil || n.Parent.Name == "" {
		return n.Name
	}
	return n.Parent.ID() + "/" + n.Name
}

// Status returns the node's current lifecycle state.
func (n *Node) Status() Status {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.status
}

// SetStatus updates the node's lifecycle state.
func (n *Node) SetStatus(s Status) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.status = s
}

// JobID returns the backend job identifier, if the node was submitted.
func (n *Node) JobID() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.jobID
}

// SetJobID records the backend job identifier for the node.
func (n *Node) SetJobID(id string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.jobID = id
}

// RunScript returns the path of the node's generated run script.
func (n *Node) RunScript() string {
	return filepath.Join(n.Dir, "run.sh")
}

// ConfigFile returns the path of the node's merged config.yaml.
func (n *Node) ConfigFile() string {
	return filepath.Join(n.Dir, "config.yaml")
}
