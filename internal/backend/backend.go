// Package backend implements the execution backends jobs are dispatched
// to: a local process spawner and the HTCondor and Slurm schedulers, each
// with a Singularity-containerized variant.
//
// A backend turns a materialized tree node into a running job: it renders
// the node's run script, submits it, and answers status queries. The
// scheduler CLIs (condor_submit, sbatch, squeue, sacct) are invoked, not
// reimplemented; a missing CLI surfaces as a submit or status error.
package backend

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/vk/studygridgo/internal/study"
	"github.com/vk/studygridgo/internal/tree"
)

// State is a backend's view of a submitted job.
type State string

const (
	// StatePending means the job is queued but not yet running.
	StatePending State = "pending"
	// StateRunning means the job is executing.
	StateRunning State = "running"
	// StateCompleted means the job finished without a reported failure.
	StateCompleted State = "completed"
	// StateFailed means the backend reports the job as failed.
	StateFailed State = "failed"
	// StateGone means the backend no longer knows the job. Schedulers
	// forget finished jobs quickly; the node's tag log decides the
	// outcome in that case.
	StateGone State = "gone"
)

// Terminal reports whether the state is final from the backend's side.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateGone
}

// Backend executes the jobs of one run_on value.
type Backend interface {
	// Name is the run_on value the backend serves.
	Name() study.RunOn
	// Script renders the full run script for a node.
	Script(n *tree.Node) ([]byte, error)
	// Submit hands the node's run script to the backend and returns the
	// backend's job identifier.
	Submit(ctx context.Context, n *tree.Node) (string, error)
	// Status reports the backend's view of a previously submitted job.
	Status(ctx context.Context, jobID string) (State, error)
}

// Options carries the study- and site-level settings shared by all
// backends.
type Options struct {
	// EnvScript is sourced at the top of every run script. Empty disables
	// it.
	EnvScript string
	// SlurmPartition is passed to sbatch when set (from a cluster
	// profile).
	SlurmPartition string
}

// commandRunner executes an external command in dir and returns its
// combined output. Tests substitute it to avoid needing scheduler CLIs.
type commandRunner func(ctx context.Context, dir, name string, args ...string) (string, error)

// runCommand is the production commandRunner.
func runCommand(ctx context.Context, dir, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Run(); err != nil {
		return out.String(), fmt.Errorf("%s failed: %w: %s", name, err, strings.TrimSpace(out.String()))
	}
	return out.String(), nil
}
