package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/studygridgo/internal/backend"
	"github.com/vk/studygridgo/internal/dag"
	"github.com/vk/studygridgo/internal/study"
	"github.com/vk/studygridgo/internal/tree"
)

// stubBackend is a scriptable in-memory backend.
type stubBackend struct {
	name     study.RunOn
	submitFn func(n *tree.Node) (string, error)
	statusFn func(jobID string) (backend.State, error)

	mutex     sync.Mutex
	submitted []string
}

func (s *stubBackend) Name() study.RunOn { return s.name }

func (s *stubBackend) Script(n *tree.Node) ([]byte, error) {
	return []byte("#!/bin/bash\ntrue\n"), nil
}

func (s *stubBackend) Submit(_ context.Context, n *tree.Node) (string, error) {
	s.mutex.Lock()
	s.submitted = append(s.submitted, n.ID())
	s.mutex.Unlock()
	if s.submitFn != nil {
		return s.submitFn(n)
	}
	return "job-" + n.Name, nil
}

func (s *stubBackend) Status(_ context.Context, jobID string) (backend.State, error) {
	if s.statusFn != nil {
		return s.statusFn(jobID)
	}
	return backend.StateCompleted, nil
}

func (s *stubBackend) submittedIDs() []string {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return append([]string(nil), s.submitted...)
}

// setup builds a two-generation tree (base -> scan_a, scan_b) with real
// node directories, a registry serving every generation through the stub,
// and the dependency graph.
func setup(t *testing.T, stub *stubBackend) (*tree.Tree, *dag.Graph, *backend.Registry) {
	t.Helper()

	s := &study.Study{
		Generations: map[int]*study.Generation{
			1: {JobFolder: "jobs/build", JobExecutable: "build.py", RunOn: study.RunOnLocalPC, Context: study.ContextCPU},
			2: {JobFolder: "jobs/track", JobExecutable: "track.py", RunOn: study.RunOnLocalPC, Context: study.ContextCPU},
		},
		Children: map[string]*study.ChildSpec{
			"base": {Children: map[string]*study.ChildSpec{
				"scan_a": {},
				"scan_b": {},
			}},
		},
	}

	tr, err := tree.Build(s, t.TempDir(), t.TempDir())
	require.NoError(t, err)
	tr.Walk(func(n *tree.Node) {
		require.NoError(t, os.MkdirAll(n.Dir, 0o755))
	})

	g, err := dag.FromTree(tr)
	require.NoError(t, err)

	stub.name = study.RunOnLocalPC
	r := backend.NewRegistry()
	r.Register(stub)
	return tr, g, r
}

func newExecutor(g *dag.Graph, r *backend.Registry) *Executor {
	return New(g, r, 4, time.Millisecond, RetryPolicy{})
}

func TestRunCompletesWholeTree(t *testing.T) {
	stub := &stubBackend{}
	tr, g, r := setup(t, stub)

	require.NoError(t, newExecutor(g, r).Run(context.Background()))

	tr.Walk(func(n *tree.Node) {
		assert.Equal(t, tree.StatusCompleted, n.Status(), "node %s", n.ID())
		assert.NotEmpty(t, n.JobID())
	})

	// The parent is always submitted before its children.
	ids := stub.submittedIDs()
	require.Len(t, ids, 3)
	assert.Equal(t, "base", ids[0])
	assert.ElementsMatch(t, []string{"base/scan_a", "base/scan_b"}, ids[1:])

	// The executor tags submission; the stub never tags completion, the
	// backend state is the authority here.
	started, err := tr.Find("base").HasTag(tree.TagStarted)
	require.NoError(t, err)
	assert.True(t, started)
}

func TestRootFailureSkipsDependents(t *testing.T) {
	stub := &stubBackend{
		submitFn: func(n *tree.Node) (string, error) {
			return "", fmt.Errorf("schedd unreachable")
		},
	}
	tr, g, r := setup(t, stub)

	err := newExecutor(g, r).Run(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, "node base")
	assert.ErrorContains(t, err, "schedd unreachable")

	assert.Equal(t, tree.StatusFailed, tr.Find("base").Status())
	assert.Equal(t, tree.StatusSkipped, tr.Find("base/scan_a").Status())
	assert.Equal(t, tree.StatusSkipped, tr.Find("base/scan_b").Status())

	// Children were never handed to the backend.
	assert.Equal(t, []string{"base"}, stub.submittedIDs())
}

func TestSubmitRetry(t *testing.T) {
	var attempts int
	var mutex sync.Mutex
	stub := &stubBackend{
		submitFn: func(n *tree.Node) (string, error) {
			mutex.Lock()
			defer mutex.Unlock()
			attempts++
			if attempts < 3 {
				return "", fmt.Errorf("transient submit error")
			}
			return "job-ok", nil
		},
	}
	_, g, r := setup(t, stub)

	// Single-node graph keeps the attempt counting simple.
	exec := New(g, r, 1, time.Millisecond, RetryPolicy{MaxAttempts: 3, Backoff: time.Millisecond})

	// Only generation 1 submits flakily; children then succeed on their
	// first attempt each.
	require.NoError(t, exec.Run(context.Background()))
	mutex.Lock()
	defer mutex.Unlock()
	assert.GreaterOrEqual(t, attempts, 3)
}

func TestRetryExhaustion(t *testing.T) {
	stub := &stubBackend{
		submitFn: func(n *tree.Node) (string, error) {
			return "", fmt.Errorf("no slots")
		},
	}
	_, g, r := setup(t, stub)

	exec := New(g, r, 1, time.Millisecond, RetryPolicy{MaxAttempts: 2, Backoff: time.Millisecond})
	err := exec.Run(context.Background())
	assert.ErrorContains(t, err, "after 2 attempts")
}

func TestGoneJobWithoutTagsFails(t *testing.T) {
	stub := &stubBackend{
		statusFn: func(jobID string) (backend.State, error) {
			return backend.StateGone, nil
		},
	}
	tr, g, r := setup(t, stub)

	err := newExecutor(g, r).Run(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, "disappeared from the scheduler")
	assert.Equal(t, tree.StatusFailed, tr.Find("base").Status())
}

func TestGoneJobWithCompletedTagSucceeds(t *testing.T) {
	stub := &stubBackend{}
	tr, g, r := setup(t, stub)

	// Jobs tag their own completion; the scheduler has already forgotten
	// them by the time we poll.
	stub.statusFn = func(jobID string) (backend.State, error) {
		return backend.StateGone, nil
	}
	stub.submitFn = func(n *tree.Node) (string, error) {
		require.NoError(t, n.Tag(tree.TagCompleted))
		return "job-" + n.Name, nil
	}

	require.NoError(t, newExecutor(g, r).Run(context.Background()))
	assert.Equal(t, tree.StatusCompleted, tr.Find("base/scan_b").Status())
}

func TestFailedTagWins(t *testing.T) {
	stub := &stubBackend{}
	tr, g, r := setup(t, stub)

	stub.submitFn = func(n *tree.Node) (string, error) {
		if n.ID() == "base" {
			require.NoError(t, n.Tag(tree.TagFailed))
		}
		return "job-" + n.Name, nil
	}

	err := newExecutor(g, r).Run(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, "tagged itself as failed")
	assert.Equal(t, tree.StatusFailed, tr.Find("base").Status())
	assert.Equal(t, tree.StatusSkipped, tr.Find("base/scan_a").Status())
}

func TestPollTransitions(t *testing.T) {
	var polls int
	var mutex sync.Mutex
	stub := &stubBackend{
		statusFn: func(jobID string) (backend.State, error) {
			mutex.Lock()
			defer mutex.Unlock()
			polls++
			switch {
			case polls%3 == 1:
				return backend.StatePending, nil
			case polls%3 == 2:
				return backend.StateRunning, nil
			default:
				return backend.StateCompleted, nil
			}
		},
	}
	tr, g, r := setup(t, stub)

	require.NoError(t, newExecutor(g, r).Run(context.Background()))
	tr.Walk(func(n *tree.Node) {
		assert.Equal(t, tree.StatusCompleted, n.Status())
	})
}

func TestCancelledContext(t *testing.T) {
	stub := &stubBackend{
		statusFn: func(jobID string) (backend.State, error) {
			return backend.StateRunning, nil
		},
	}
	_, g, r := setup(t, stub)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := newExecutor(g, r).Run(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}
