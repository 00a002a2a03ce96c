package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/vk/studygridgo/internal/backend"
	"github.com/vk/studygridgo/internal/ctxlog"
	"github.com/vk/studygridgo/internal/tree"
)

// runNode submits a node's job and follows it to a terminal state.
func (e *Executor) runNode(ctx context.Context, n *tree.Node) error {
	b, err := e.registry.Get(n.Template.RunOn)
	if err != nil {
		return err
	}

	jobID, err := e.submit(ctx, b, n)
	if err != nil {
		return err
	}

	n.SetJobID(jobID)
	n.SetStatus(tree.StatusSubmitted)
	if err := n.Tag(tree.TagStarted); err != nil {
		return err
	}

	return e.await(ctx, b, n, jobID)
}

// submit hands the node to its backend, retrying per the retry policy.
func (e *Executor) submit(ctx context.Context, b backend.Backend, n *tree.Node) (string, error) {
	logger := ctxlog.FromContext(ctx)

	var lastErr error
	for attempt := 1; attempt <= e.retry.MaxAttempts; attempt++ {
		jobID, err := b.Submit(ctx, n)
		if err == nil {
			return jobID, nil
		}
		lastErr = err

		if attempt < e.retry.MaxAttempts {
			logger.Warn("Submit failed, retrying.",
				"node", n.ID(), "attempt", attempt, "backoff", e.retry.Backoff, "error", err)
			select {
			case <-time.After(e.retry.Backoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
	}
	return "", fmt.Errorf("submit failed after %d attempts: %w", e.retry.MaxAttempts, lastErr)
}

// await polls the backend until the job is terminal. The node's tag log is
// checked alongside: schedulers forget finished jobs, and the job script
// itself is the authority on whether the work completed.
func (e *Executor) await(ctx context.Context, b backend.Backend, n *tree.Node, jobID string) error {
	logger := ctxlog.FromContext(ctx)

	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	for {
		state, err := b.Status(ctx, jobID)
		if err != nil {
			// A status query failure is not a job failure; the next tick
			// may succeed. Meanwhile the tag log can still conclude the
			// job.
			logger.Warn("Status query failed.", "node", n.ID(), "job_id", jobID, "error", err)
			if done, tagErr := n.HasTag(tree.TagCompleted); tagErr == nil && done {
				return e.conclude(n, backend.StateGone, jobID)
			}
		} else {
			switch state {
			case backend.StateRunning:
				n.SetStatus(tree.StatusRunning)
			case backend.StateFailed:
				return fmt.Errorf("backend reports job %s as failed", jobID)
			case backend.StateCompleted, backend.StateGone:
				return e.conclude(n, state, jobID)
			}
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// conclude decides the outcome of a job the backend is done with.
func (e *Executor) conclude(n *tree.Node, state backend.State, jobID string) error {
	failed, err := n.HasTag(tree.TagFailed)
	if err != nil {
		return err
	}
	if failed {
		return fmt.Errorf("job %s tagged itself as failed", jobID)
	}

	completed, err := n.HasTag(tree.TagCompleted)
	if err != nil {
		return err
	}

	switch {
	case state == backend.StateCompleted:
		// The job script may not participate in tagging; the backend's
		// word is enough.
		return nil
	case completed:
		return nil
	default:
		return fmt.Errorf("job %s disappeared from the scheduler without completing", jobID)
	}
}
