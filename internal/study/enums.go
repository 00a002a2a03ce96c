package study

// RunOn names the execution backend a generation's jobs are dispatched to.
type RunOn string

const (
	RunOnLocalPC     RunOn = "local_pc"
	RunOnHTC         RunOn = "htc"
	RunOnHTCDocker   RunOn = "htc_docker"
	RunOnSlurm       RunOn = "slurm"
	RunOnSlurmDocker RunOn = "slurm_docker"
)

// Valid reports whether r is one of the known backends.
func (r RunOn) Valid() bool {
	switch r {
	case RunOnLocalPC, RunOnHTC, RunOnHTCDocker, RunOnSlurm, RunOnSlurmDocker:
		return true
	}
	return false
}

// IsHTCondor reports whether r submits through HTCondor.
func (r RunOn) IsHTCondor() bool {
	return r == RunOnHTC || r == RunOnHTCDocker
}

// IsSlurm reports whether r submits through Slurm.
func (r RunOn) IsSlurm() bool {
	return r == RunOnSlurm || r == RunOnSlurmDocker
}

// Containerized reports whether jobs run inside a Singularity image.
func (r RunOn) Containerized() bool {
	return r == RunOnHTCDocker || r == RunOnSlurmDocker
}

// Context names the compute context the job payload runs with.
type Context string

const (
	ContextCPU    Context = "cpu"
	ContextCupy   Context = "cupy"
	ContextOpenCL Context = "opencl"
)

// Valid reports whether c is one of the known compute contexts.
func (c Context) Valid() bool {
	switch c {
	case ContextCPU, ContextCupy, ContextOpenCL:
		return true
	}
	return false
}

// NeedsGPU reports whether the context requires a GPU allocation from the
// scheduler.
func (c Context) NeedsGPU() bool {
	return c == ContextCupy || c == ContextOpenCL
}
