// Package executor runs the study tree: it dispatches ready nodes to
// their backends with a bounded worker pool, polls the submitted jobs to
// completion, and unlocks children as their parents finish. A failed node
// cancels the run and marks everything downstream of it as skipped.
package executor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/vk/studygridgo/internal/backend"
	"github.com/vk/studygridgo/internal/ctxlog"
	"github.com/vk/studygridgo/internal/dag"
	"github.com/vk/studygridgo/internal/tree"
)

// RetryPolicy bounds resubmission of transiently failing submits. Only the
// submit call is retried; a job that was accepted and then failed is a
// real failure.
type RetryPolicy struct {
	// MaxAttempts is the total number of submit attempts, minimum 1.
	MaxAttempts int
	// Backoff is the delay between attempts.
	Backoff time.Duration
}

// Executor coordinates one run over a dependency graph.
type Executor struct {
	graph        *dag.Graph
	registry     *backend.Registry
	workers      int
	pollInterval time.Duration
	retry        RetryPolicy

	wg sync.WaitGroup

	mutex    sync.Mutex
	finished map[string]bool
	errs     []error
}

// New creates an executor for the given graph.
func New(graph *dag.Graph, registry *backend.Registry, workers int, pollInterval time.Duration, retry RetryPolicy) *Executor {
	if workers <= 0 {
		workers = 1
	}
	if pollInterval <= 0 {
		pollInterval = 30 * time.Second
	}
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = 1
	}
	return &Executor{
		graph:        graph,
		registry:     registry,
		workers:      workers,
		pollInterval: pollInterval,
		retry:        retry,
		finished:     make(map[string]bool),
	}
}

// Run executes the graph and blocks until every node reached a terminal
// state. It returns the joined errors of all failed nodes.
func (e *Executor) Run(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	readyChan := make(chan *tree.Node, e.graph.Len())
	e.wg.Add(e.graph.Len())

	roots := e.graph.Roots()
	logger.Debug("Seeding ready queue with root nodes.", "count", len(roots))
	for _, n := range roots {
		readyChan <- n
	}

	var workers sync.WaitGroup
	for workerID := 0; workerID < e.workers; workerID++ {
		workers.Add(1)
		go func(id int) {
			defer workers.Done()
			e.worker(ctx, readyChan, cancel, id)
		}(workerID)
	}

	e.wg.Wait()
	close(readyChan)
	workers.Wait()

	e.mutex.Lock()
	defer e.mutex.Unlock()
	return errors.Join(e.errs...)
}

// finishNode records a node's terminal state exactly once and releases its
// slot in the run's wait group. It reports whether this call was the one
// that finished the node.
func (e *Executor) finishNode(n *tree.Node, status tree.Status) bool {
	e.mutex.Lock()
	if e.finished[n.ID()] {
		e.mutex.Unlock()
		return false
	}
	e.finished[n.ID()] = true
	e.mutex.Unlock()

	n.SetStatus(status)
	e.wg.Done()
	return true
}

// recordError collects a node failure for the run's final error.
func (e *Executor) recordError(err error) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	e.errs = append(e.errs, err)
}

// skipDependents transitively marks everything downstream of n as skipped.
// Skipped nodes never enter the ready queue, so their wait-group slots are
// released here.
func (e *Executor) skipDependents(ctx context.Context, n *tree.Node) {
	logger := ctxlog.FromContext(ctx)

	dependents, err := e.graph.Dependents(n.ID())
	if err != nil {
		logger.Error("Failed to get dependents for failed node.", "node", n.ID(), "error", err)
		return
	}
	for _, dependent := range dependents {
		if e.finishNode(dependent, tree.StatusSkipped) {
			logger.Warn("Skipping node: upstream failure.", "node", dependent.ID(), "failed_upstream", n.ID())
			e.skipDependents(ctx, dependent)
		}
	}
}
