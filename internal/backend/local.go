package backend

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/vk/studygridgo/internal/ctxlog"
	"github.com/vk/studygridgo/internal/study"
	"github.com/vk/studygridgo/internal/tree"
)

// LocalPC runs jobs as local child processes, one at a time per submit.
// There is no external scheduler to ask for status, so the backend tracks
// its own processes.
type LocalPC struct {
	opts Options
	run  commandRunner

	mutex sync.Mutex
	jobs  map[string]*localJob
}

type localJob struct {
	done chan struct{}
	err  error
}

// NewLocalPC returns the local process backend.
func NewLocalPC(opts Options) *LocalPC {
	return &LocalPC{
		opts: opts,
		run:  runCommand,
		jobs: make(map[string]*localJob),
	}
}

// Name implements Backend.
func (l *LocalPC) Name() study.RunOn {
	return study.RunOnLocalPC
}

// Script implements Backend.
func (l *LocalPC) Script(n *tree.Node) ([]byte, error) {
	return renderScript(n, l.opts, nil)
}

// Submit implements Backend. The process runs in the background; the
// returned job ID is a locally generated UUID.
func (l *LocalPC) Submit(ctx context.Context, n *tree.Node) (string, error) {
	logger := ctxlog.FromContext(ctx)
	jobID := uuid.NewString()
	job := &localJob{done: make(chan struct{})}

	l.mutex.Lock()
	l.jobs[jobID] = job
	l.mutex.Unlock()

	logger.Debug("Spawning local job.", "node", n.ID(), "job_id", jobID)
	go func() {
		defer close(job.done)
		_, err := l.run(ctx, n.Dir, "bash", n.RunScript())
		job.err = err
	}()

	return jobID, nil
}

// Status implements Backend.
func (l *LocalPC) Status(ctx context.Context, jobID string) (State, error) {
	l.mutex.Lock()
	job, ok := l.jobs[jobID]
	l.mutex.Unlock()
	if !ok {
		return StateGone, nil
	}

	select {
	case <-job.done:
		if job.err != nil {
			return StateFailed, nil
		}
		return StateCompleted, nil
	default:
		return StateRunning, nil
	}
}

// Wait blocks until the given job's process has exited. It exists so a
// synchronous caller (and the tests) can join a spawned job.
func (l *LocalPC) Wait(ctx context.Context, jobID string) error {
	l.mutex.Lock()
	job, ok := l.jobs[jobID]
	l.mutex.Unlock()
	if !ok {
		return fmt.Errorf("unknown local job %s", jobID)
	}

	select {
	case <-job.done:
		return job.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
