package backend

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/vk/studygridgo/internal/ctxlog"
	"github.com/vk/studygridgo/internal/study"
	"github.com/vk/studygridgo/internal/tree"
)

// submitFileName is the HTCondor submit description written next to the
// run script.
const submitFileName = "submit.sub"

// condorTerseRE matches `condor_submit -terse` output, e.g.
// "12345.0 - 12345.0".
var condorTerseRE = regexp.MustCompile(`^(\d+\.\d+)`)

// HTCondor submits jobs through condor_submit. With docker enabled it
// serves the htc_docker backend: the submit description advertises the
// Singularity image and the run script wraps the payload in
// `singularity exec`.
type HTCondor struct {
	opts   Options
	docker bool
	run    commandRunner
}

// NewHTCondor returns the HTCondor backend, containerized when docker is
// true.
func NewHTCondor(opts Options, docker bool) *HTCondor {
	return &HTCondor{opts: opts, docker: docker, run: runCommand}
}

// Name implements Backend.
func (h *HTCondor) Name() study.RunOn {
	if h.docker {
		return study.RunOnHTCDocker
	}
	return study.RunOnHTC
}

// Script implements Backend.
func (h *HTCondor) Script(n *tree.Node) ([]byte, error) {
	return renderScript(n, h.opts, nil)
}

// submitDescription renders the condor submit file for a node.
func (h *HTCondor) submitDescription(n *tree.Node) string {
	var b strings.Builder
	b.WriteString("universe   = vanilla\n")
	b.WriteString("executable = run.sh\n")
	b.WriteString("output     = condor.out\n")
	b.WriteString("error      = condor.err\n")
	b.WriteString("log        = condor.log\n")
	fmt.Fprintf(&b, "+JobFlavour = %q\n", n.Template.HTCJobFlavor)
	if h.docker {
		fmt.Fprintf(&b, "+SingularityImage = %q\n", n.Template.SingularityImage)
	}
	if n.Template.Context.NeedsGPU() {
		b.WriteString("request_gpus = 1\n")
	}
	b.WriteString("queue\n")
	return b.String()
}

// Submit implements Backend. It writes the submit description into the
// node's folder and parses the cluster ID out of condor_submit's terse
// output.
func (h *HTCondor) Submit(ctx context.Context, n *tree.Node) (string, error) {
	logger := ctxlog.FromContext(ctx)

	subFile := filepath.Join(n.Dir, submitFileName)
	if err := os.WriteFile(subFile, []byte(h.submitDescription(n)), 0o644); err != nil {
		return "", fmt.Errorf("failed to write submit description: %w", err)
	}

	out, err := h.run(ctx, n.Dir, "condor_submit", "-terse", submitFileName)
	if err != nil {
		return "", fmt.Errorf("condor_submit for node %s: %w", n.ID(), err)
	}

	jobID, err := parseCondorSubmit(out)
	if err != nil {
		return "", fmt.Errorf("node %s: %w", n.ID(), err)
	}
	logger.Info("Submitted HTCondor job.", "node", n.ID(), "job_id", jobID, "flavor", n.Template.HTCJobFlavor)
	return jobID, nil
}

func parseCondorSubmit(out string) (string, error) {
	m := condorTerseRE.FindStringSubmatch(strings.TrimSpace(out))
	if m == nil {
		return "", fmt.Errorf("unable to parse condor_submit output: %q", strings.TrimSpace(out))
	}
	return m[1], nil
}

// Status implements Backend. It asks condor_q for the numeric JobStatus;
// a job condor_q no longer lists is StateGone and the node's tag log
// decides the outcome.
func (h *HTCondor) Status(ctx context.Context, jobID string) (State, error) {
	out, err := h.run(ctx, "", "condor_q", jobID, "-af", "JobStatus")
	if err != nil {
		return StateGone, fmt.Errorf("condor_q for job %s: %w", jobID, err)
	}
	return parseCondorStatus(out), nil
}

// parseCondorStatus maps HTCondor's numeric JobStatus codes.
func parseCondorStatus(out string) State {
	code, err := strconv.Atoi(strings.TrimSpace(out))
	if err != nil {
		return StateGone
	}
	switch code {
	case 1: // idle
		return StatePending
	case 2: // running
		return StateRunning
	case 4: // completed
		return StateCompleted
	case 6: // transferring output
		return StateRunning
	case 3, 5: // removed, held
		return StateFailed
	default:
		return StateGone
	}
}

var _ Backend = (*HTCondor)(nil)
