package executor

import (
	"context"
	"fmt"

	"github.com/vk/studygridgo/internal/ctxlog"
	"github.com/vk/studygridgo/internal/tree"
)

// worker is the processing loop for a single concurrent worker.
func (e *Executor) worker(ctx context.Context, readyChan chan *tree.Node, cancel context.CancelFunc, workerID int) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Worker started.", "worker_id", workerID)

	for n := range readyChan {
		workerLogger := logger.With("worker_id", workerID, "node", n.ID())

		if ctx.Err() != nil {
			if e.finishNode(n, tree.StatusSkipped) {
				workerLogger.Warn("Skipping node: run cancelled.")
				e.skipDependents(ctx, n)
			}
			continue
		}

		workerLogger.Debug("Worker picked up node.")
		if err := e.runNode(ctx, n); err != nil {
			workerLogger.Error("Node failed.", "error", err)
			e.recordError(fmt.Errorf("node %s: %w", n.ID(), err))
			e.finishNode(n, tree.StatusFailed)
			cancel()
			e.skipDependents(ctx, n)
			continue
		}

		workerLogger.Info("Node completed.")
		e.finishNode(n, tree.StatusCompleted)

		dependents, err := e.graph.Dependents(n.ID())
		if err != nil {
			workerLogger.Error("Failed to get dependents for completed node.", "error", err)
			continue
		}
		for _, dependent := range dependents {
			if e.graph.DecrementDepCount(dependent.ID()) == 0 {
				workerLogger.Debug("Unlocking dependent node.", "dependent", dependent.ID())
				readyChan <- dependent
			}
		}
	}

	logger.Debug("Worker finished.", "worker_id", workerID)
}
