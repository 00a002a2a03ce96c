package backend

import (
	"fmt"
	"strings"

	"github.com/vk/studygridgo/internal/tree"
)

// payload returns the command that runs the node's executable, with
// stdout/stderr captured next to it. Python payloads go through the
// interpreter; anything else is expected to be executable on its own.
func payload(n *tree.Node) string {
	exe := n.Template.JobExecutable
	if strings.HasSuffix(exe, ".py") {
		return fmt.Sprintf("python %s > output.python 2> error.python", exe)
	}
	return fmt.Sprintf("./%s > output.txt 2> error.txt", exe)
}

// renderScript builds a run script for the node.
//
// The script always changes into the node's absolute working directory
// first: HTCondor and Slurm start jobs in a scratch directory, and the
// node folders live on a shared filesystem. For containerized backends the
// whole payload, including the environment activation, runs inside
// `singularity exec` so the container's interpreter is the one doing the
// work. GPU contexts add `--nv` to expose the host devices.
func renderScript(n *tree.Node, opts Options, directives []string) ([]byte, error) {
	if n.Template == nil {
		return nil, fmt.Errorf("node %s has no generation template", n.ID())
	}

	var b strings.Builder
	b.WriteString("#!/bin/bash\n")
	for _, d := range directives {
		b.WriteString(d)
		b.WriteByte('\n')
	}
	b.WriteString("set -e\n")

	inner := []string{fmt.Sprintf("cd %s", n.Dir)}
	if opts.EnvScript != "" {
		inner = append([]string{fmt.Sprintf("source %s", opts.EnvScript)}, inner...)
	}
	inner = append(inner, payload(n))

	if n.Template.RunOn.Containerized() {
		flags := "exec"
		if n.Template.Context.NeedsGPU() {
			flags = "exec --nv"
		}
		b.WriteString(fmt.Sprintf("singularity %s %s bash -c '%s'\n",
			flags, n.Template.SingularityImage, strings.Join(inner, " && ")))
	} else {
		for _, line := range inner {
			b.WriteString(line)
			b.WriteByte('\n')
		}
	}

	return []byte(b.String()), nil
}
