package backend

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/vk/studygridgo/internal/ctxlog"
	"github.com/vk/studygridgo/internal/study"
	"github.com/vk/studygridgo/internal/tree"
)

// sbatchRE matches sbatch's confirmation line: "Submitted batch job 2723147".
var sbatchRE = regexp.MustCompile(`Submitted batch job (\d+)`)

// Slurm submits jobs through sbatch. With docker enabled it serves the
// slurm_docker backend and the payload runs inside `singularity exec`.
type Slurm struct {
	opts   Options
	docker bool
	run    commandRunner
}

// NewSlurm returns the Slurm backend, containerized when docker is true.
func NewSlurm(opts Options, docker bool) *Slurm {
	return &Slurm{opts: opts, docker: docker, run: runCommand}
}

// Name implements Backend.
func (s *Slurm) Name() study.RunOn {
	if s.docker {
		return study.RunOnSlurmDocker
	}
	return study.RunOnSlurm
}

// Script implements Backend. Slurm reads its directives from #SBATCH
// comments at the top of the submitted script.
func (s *Slurm) Script(n *tree.Node) ([]byte, error) {
	directives := []string{
		fmt.Sprintf("#SBATCH --job-name=%s", n.Name),
		"#SBATCH --output=slurm.out",
		"#SBATCH --error=slurm.err",
	}
	if s.opts.SlurmPartition != "" {
		directives = append(directives, fmt.Sprintf("#SBATCH --partition=%s", s.opts.SlurmPartition))
	}
	if n.Template.Context.NeedsGPU() {
		directives = append(directives, "#SBATCH --gres=gpu:1")
	}
	return renderScript(n, s.opts, directives)
}

// Submit implements Backend.
func (s *Slurm) Submit(ctx context.Context, n *tree.Node) (string, error) {
	logger := ctxlog.FromContext(ctx)

	out, err := s.run(ctx, n.Dir, "sbatch", "run.sh")
	if err != nil {
		return "", fmt.Errorf("sbatch for node %s: %w", n.ID(), err)
	}

	jobID, err := parseSbatch(out)
	if err != nil {
		return "", fmt.Errorf("node %s: %w", n.ID(), err)
	}
	logger.Info("Submitted Slurm job.", "node", n.ID(), "job_id", jobID)
	return jobID, nil
}

func parseSbatch(out string) (string, error) {
	m := sbatchRE.FindStringSubmatch(out)
	if m == nil {
		return "", fmt.Errorf("unable to parse sbatch output: %q", strings.TrimSpace(out))
	}
	return m[1], nil
}

// Status implements Backend. squeue answers for queued and running jobs;
// once squeue no longer lists the job, sacct has the final state.
func (s *Slurm) Status(ctx context.Context, jobID string) (State, error) {
	out, err := s.run(ctx, "", "squeue", "-h", "-j", jobID, "-o", "%T")
	if err == nil {
		if state, ok := parseSqueueState(out); ok {
			return state, nil
		}
	}

	out, err = s.run(ctx, "", "sacct", "-n", "-X", "-j", jobID, "-o", "State")
	if err != nil {
		return StateGone, fmt.Errorf("sacct for job %s: %w", jobID, err)
	}
	return parseSacctState(out), nil
}

// parseSqueueState maps squeue's %T output. An empty answer means squeue
// no longer knows the job.
func parseSqueueState(out string) (State, bool) {
	switch strings.TrimSpace(out) {
	case "":
		return StateGone, false
	case "PENDING", "CONFIGURING", "REQUEUED", "SUSPENDED":
		return StatePending, true
	case "RUNNING", "COMPLETING":
		return StateRunning, true
	case "COMPLETED":
		return StateCompleted, true
	case "FAILED", "CANCELLED", "TIMEOUT", "NODE_FAIL", "OUT_OF_MEMORY", "PREEMPTED":
		return StateFailed, true
	default:
		return StateRunning, true
	}
}

// parseSacctState maps sacct's State column. Cancelled states come with a
// suffix ("CANCELLED by 123"), so match on the prefix.
func parseSacctState(out string) State {
	state := strings.TrimSpace(out)
	if i := strings.IndexByte(state, '\n'); i >= 0 {
		state = strings.TrimSpace(state[:i])
	}
	switch {
	case state == "":
		return StateGone
	case state == "COMPLETED":
		return StateCompleted
	case state == "PENDING":
		return StatePending
	case state == "RUNNING", state == "COMPLETING":
		return StateRunning
	case strings.HasPrefix(state, "CANCELLED"),
		state == "FAILED", state == "TIMEOUT", state == "NODE_FAIL", state == "OUT_OF_MEMORY":
		return StateFailed
	default:
		return StateGone
	}
}

var _ Backend = (*Slurm)(nil)
