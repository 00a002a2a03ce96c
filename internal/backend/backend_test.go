package backend

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/studygridgo/internal/study"
	"github.com/vk/studygridgo/internal/tree"
)

func testNode(t *testing.T, gen *study.Generation) *tree.Node {
	t.Helper()
	return &tree.Node{
		Name:       "xtrack_0000",
		Generation: 2,
		Dir:        t.TempDir(),
		Template:   gen,
	}
}

// fakeRunner records invocations and plays back canned output.
type fakeRunner struct {
	calls  [][]string
	output string
	err    error
}

func (f *fakeRunner) run(_ context.Context, dir, name string, args ...string) (string, error) {
	call := append([]string{dir, name}, args...)
	f.calls = append(f.calls, call)
	return f.output, f.err
}

func TestLocalScript(t *testing.T) {
	n := testNode(t, &study.Generation{
		JobFolder:     "jobs/build",
		JobExecutable: "build.py",
		RunOn:         study.RunOnLocalPC,
		Context:       study.ContextCPU,
	})

	b := NewLocalPC(Options{EnvScript: "/opt/miniconda/bin/activate"})
	script, err := b.Script(n)
	require.NoError(t, err)

	content := string(script)
	assert.Contains(t, content, "#!/bin/bash\n")
	assert.Contains(t, content, "source /opt/miniconda/bin/activate\n")
	assert.Contains(t, content, "cd "+n.Dir+"\n")
	assert.Contains(t, content, "python build.py > output.python 2> error.python\n")
	assert.NotContains(t, content, "singularity")
}

func TestContainerizedScript(t *testing.T) {
	n := testNode(t, &study.Generation{
		JobFolder:        "jobs/track",
		JobExecutable:    "track.py",
		RunOn:            study.RunOnHTCDocker,
		Context:          study.ContextCupy,
		HTCJobFlavor:     "workday",
		SingularityImage: "/cvmfs/images/xsuite",
	})

	b := NewHTCondor(Options{EnvScript: "/opt/env/activate"}, true)
	script, err := b.Script(n)
	require.NoError(t, err)

	content := string(script)
	assert.Contains(t, content, "singularity exec --nv /cvmfs/images/xsuite bash -c")
	assert.Contains(t, content, "source /opt/env/activate && cd "+n.Dir+" && python track.py")
}

func TestNonPythonPayload(t *testing.T) {
	n := testNode(t, &study.Generation{
		JobFolder:     "jobs/post",
		JobExecutable: "postprocess.sh",
		RunOn:         study.RunOnLocalPC,
		Context:       study.ContextCPU,
	})

	b := NewLocalPC(Options{})
	script, err := b.Script(n)
	require.NoError(t, err)
	assert.Contains(t, string(script), "./postprocess.sh > output.txt 2> error.txt\n")
}

func TestSlurmScriptDirectives(t *testing.T) {
	n := testNode(t, &study.Generation{
		JobFolder:        "jobs/track",
		JobExecutable:    "track.py",
		RunOn:            study.RunOnSlurmDocker,
		Context:          study.ContextOpenCL,
		SingularityImage: "/cvmfs/images/xsuite",
	})

	b := NewSlurm(Options{SlurmPartition: "gpu_long"}, true)
	script, err := b.Script(n)
	require.NoError(t, err)

	content := string(script)
	assert.Contains(t, content, "#SBATCH --job-name=xtrack_0000\n")
	assert.Contains(t, content, "#SBATCH --partition=gpu_long\n")
	assert.Contains(t, content, "#SBATCH --gres=gpu:1\n")
	assert.Contains(t, content, "singularity exec --nv")
}

func TestLocalSubmitAndStatus(t *testing.T) {
	n := testNode(t, &study.Generation{
		JobFolder:     "jobs/build",
		JobExecutable: "build.py",
		RunOn:         study.RunOnLocalPC,
		Context:       study.ContextCPU,
	})
	require.NoError(t, os.WriteFile(n.RunScript(), []byte("#!/bin/bash\nexit 0\n"), 0o755))

	b := NewLocalPC(Options{})
	ctx := context.Background()

	jobID, err := b.Submit(ctx, n)
	require.NoError(t, err)
	require.NotEmpty(t, jobID)

	require.NoError(t, b.Wait(ctx, jobID))
	state, err := b.Status(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, state)
}

func TestLocalFailure(t *testing.T) {
	n := testNode(t, &study.Generation{
		JobFolder:     "jobs/build",
		JobExecutable: "build.py",
		RunOn:         study.RunOnLocalPC,
		Context:       study.ContextCPU,
	})
	require.NoError(t, os.WriteFile(n.RunScript(), []byte("#!/bin/bash\nexit 3\n"), 0o755))

	b := NewLocalPC(Options{})
	ctx := context.Background()

	jobID, err := b.Submit(ctx, n)
	require.NoError(t, err)
	assert.Error(t, b.Wait(ctx, jobID))

	state, err := b.Status(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, state)

	state, err = b.Status(ctx, "not-a-job")
	require.NoError(t, err)
	assert.Equal(t, StateGone, state)
}

func TestHTCondorSubmit(t *testing.T) {
	n := testNode(t, &study.Generation{
		JobFolder:        "jobs/track",
		JobExecutable:    "track.py",
		RunOn:            study.RunOnHTCDocker,
		Context:          study.ContextCupy,
		HTCJobFlavor:     "testmatch",
		SingularityImage: "/cvmfs/images/xsuite",
	})

	runner := &fakeRunner{output: "8574321.0 - 8574321.0\n"}
	b := NewHTCondor(Options{}, true)
	b.run = runner.run

	jobID, err := b.Submit(context.Background(), n)
	require.NoError(t, err)
	assert.Equal(t, "8574321.0", jobID)

	// The submit description is written into the node folder.
	raw, err := os.ReadFile(filepath.Join(n.Dir, submitFileName))
	require.NoError(t, err)
	content := string(raw)
	assert.Contains(t, content, "universe   = vanilla\n")
	assert.Contains(t, content, `+JobFlavour = "testmatch"`)
	assert.Contains(t, content, `+SingularityImage = "/cvmfs/images/xsuite"`)
	assert.Contains(t, content, "request_gpus = 1\n")

	require.Len(t, runner.calls, 1)
	assert.Equal(t, []string{n.Dir, "condor_submit", "-terse", submitFileName}, runner.calls[0])
}

func TestParseCondorSubmit(t *testing.T) {
	id, err := parseCondorSubmit("8574321.0 - 8574321.0")
	require.NoError(t, err)
	assert.Equal(t, "8574321.0", id)

	_, err = parseCondorSubmit("ERROR: no schedd")
	assert.ErrorContains(t, err, "unable to parse")
}

func TestParseCondorStatus(t *testing.T) {
	assert.Equal(t, StatePending, parseCondorStatus("1\n"))
	assert.Equal(t, StateRunning, parseCondorStatus("2"))
	assert.Equal(t, StateFailed, parseCondorStatus("5"))
	assert.Equal(t, StateCompleted, parseCondorStatus("4"))
	assert.Equal(t, StateRunning, parseCondorStatus("6"))
	assert.Equal(t, StateGone, parseCondorStatus(""))
}

func TestSlurmSubmit(t *testing.T) {
	n := testNode(t, &study.Generation{
		JobFolder:     "jobs/track",
		JobExecutable: "track.py",
		RunOn:         study.RunOnSlurm,
		Context:       study.ContextCPU,
	})

	runner := &fakeRunner{output: "Submitted batch job 2723147\n"}
	b := NewSlurm(Options{}, false)
	b.run = runner.run

	jobID, err := b.Submit(context.Background(), n)
	require.NoError(t, err)
	assert.Equal(t, "2723147", jobID)

	require.Len(t, runner.calls, 1)
	assert.Equal(t, []string{n.Dir, "sbatch", "run.sh"}, runner.calls[0])

	_, err = parseSbatch("sbatch: error: invalid partition")
	assert.ErrorContains(t, err, "unable to parse")
}

func TestParseSqueueState(t *testing.T) {
	state, ok := parseSqueueState("PENDING\n")
	assert.True(t, ok)
	assert.Equal(t, StatePending, state)

	state, ok = parseSqueueState("RUNNING")
	assert.True(t, ok)
	assert.Equal(t, StateRunning, state)

	state, ok = parseSqueueState("FAILED")
	assert.True(t, ok)
	assert.Equal(t, StateFailed, state)

	_, ok = parseSqueueState("")
	assert.False(t, ok)
}

func TestParseSacctState(t *testing.T) {
	assert.Equal(t, StateCompleted, parseSacctState(" COMPLETED \n"))
	assert.Equal(t, StateFailed, parseSacctState("CANCELLED by 1182\n"))
	assert.Equal(t, StateFailed, parseSacctState("TIMEOUT"))
	assert.Equal(t, StateRunning, parseSacctState("RUNNING"))
	assert.Equal(t, StateGone, parseSacctState(""))
}

func TestRegistry(t *testing.T) {
	r := Default(Options{})

	for _, name := range []study.RunOn{
		study.RunOnLocalPC, study.RunOnHTC, study.RunOnHTCDocker,
		study.RunOnSlurm, study.RunOnSlurmDocker,
	} {
		b, err := r.Get(name)
		require.NoError(t, err)
		assert.Equal(t, name, b.Name())
	}

	_, err := r.Get("cloud")
	assert.ErrorContains(t, err, "no backend registered")

	assert.Panics(t, func() {
		r.Register(NewLocalPC(Options{}))
	})
}

func TestRegistryValidate(t *testing.T) {
	r := NewRegistry()
	r.Register(NewLocalPC(Options{}))

	s := &study.Study{
		Generations: map[int]*study.Generation{
			1: {JobFolder: "a", JobExecutable: "a.py", RunOn: study.RunOnLocalPC, Context: study.ContextCPU},
			2: {JobFolder: "b", JobExecutable: "b.py", RunOn: study.RunOnSlurm, Context: study.ContextCPU},
		},
	}
	err := r.Validate(s)
	assert.ErrorContains(t, err, "generation 2")

	r.Register(NewSlurm(Options{}, false))
	assert.NoError(t, r.Validate(s))
}

func TestStateTerminal(t *testing.T) {
	assert.True(t, StateCompleted.Terminal())
	assert.True(t, StateFailed.Terminal())
	assert.True(t, StateGone.Terminal())
	assert.False(t, StatePending.Terminal())
	assert.False(t, StateRunning.Terminal())
}
