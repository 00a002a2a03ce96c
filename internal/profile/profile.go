// Package profile loads operator-side cluster profiles.
//
// A profile describes a site's scheduler: which HTCondor job flavors it
// accepts, where unpacked Singularity images live, which Slurm partition
// to use, and the environment script jobs should source. Profiles are HCL
// files, found recursively under the profiles directory. They are
// optional; without them studies are validated against the schema alone.
package profile

import (
	"fmt"
	"path"
	"slices"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/vk/studygridgo/internal/fsutil"
	"github.com/vk/studygridgo/internal/study"
)

// Cluster is one cluster block of a profile file.
type Cluster struct {
	// Name is the block label, e.g. cluster "cern_htc" { ... }.
	Name string `hcl:"name,label"`
	// Scheduler is "local", "htc" or "slurm".
	Scheduler string `hcl:"scheduler"`
	// JobFlavors lists the HTCondor flavors the site accepts. Empty means
	// any flavor is allowed.
	JobFlavors []string `hcl:"job_flavors,optional"`
	// ImageRoot is prepended to relative singularity_image values.
	ImageRoot string `hcl:"image_root,optional"`
	// SetupEnv overrides the study's setup_env_script when the study
	// carries none.
	SetupEnv string `hcl:"setup_env,optional"`
	// Partition is passed to sbatch on Slurm clusters.
	Partition string `hcl:"partition,optional"`
}

// profileFile is the top-level layout of one .hcl profile file.
type profileFile struct {
	Clusters []*Cluster `hcl:"cluster,block"`
}

// Set is the collection of clusters loaded from a profiles directory.
type Set struct {
	Clusters []*Cluster
}

// Load parses all .hcl files under dir into a Set.
func Load(dir string) (*Set, error) {
	filePaths, err := fsutil.FindFilesByExtension(dir, ".hcl")
	if err != nil {
		return nil, fmt.Errorf("failed to find profile files in %s: %w", dir, err)
	}

	set := &Set{}
	parser := hclparse.NewParser()
	for _, filePath := range filePaths {
		hclFile, diags := parser.ParseHCLFile(filePath)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to parse profile file %s: %w", filePath, diags)
		}

		var parsed profileFile
		if diags := gohcl.DecodeBody(hclFile.Body, nil, &parsed); diags.HasErrors() {
			return nil, fmt.Errorf("failed to decode profile file %s: %w", filePath, diags)
		}

		for _, cluster := range parsed.Clusters {
			if err := cluster.validate(); err != nil {
				return nil, fmt.Errorf("profile file %s: %w", filePath, err)
			}
			set.Clusters = append(set.Clusters, cluster)
		}
	}

	return set, nil
}

func (c *Cluster) validate() error {
	switch c.Scheduler {
	case "local", "htc", "slurm":
		return nil
	}
	return fmt.Errorf("cluster %q: unknown scheduler %q", c.Name, c.Scheduler)
}

// ForScheduler returns the first cluster serving the given backend, or
// nil when the profiles do not cover it.
func (s *Set) ForScheduler(runOn study.RunOn) *Cluster {
	var want string
	switch {
	case runOn == study.RunOnLocalPC:
		want = "local"
	case runOn.IsHTCondor():
		want = "htc"
	case runOn.IsSlurm():
		want = "slurm"
	default:
		return nil
	}

	for _, cluster := range s.Clusters {
		if cluster.Scheduler == want {
			return cluster
		}
	}
	return nil
}

// Validate cross-checks a study against the loaded profiles: HTCondor
// flavors must be ones the site accepts. Generations whose scheduler has
// no profile are left alone.
func (s *Set) Validate(st *study.Study) error {
	for _, n := range st.OrderedGenerations() {
		gen := st.Generations[n]
		cluster := s.ForScheduler(gen.RunOn)
		if cluster == nil {
			continue
		}
		if gen.RunOn.IsHTCondor() && len(cluster.JobFlavors) > 0 {
			if !slices.Contains(cluster.JobFlavors, gen.HTCJobFlavor) {
				return fmt.Errorf("generation %d: cluster %q does not accept htc_job_flavor %q",
					n, cluster.Name, gen.HTCJobFlavor)
			}
		}
	}
	return nil
}

// ResolveImage resolves a singularity image reference against the
// cluster's image root. Absolute references pass through.
func (c *Cluster) ResolveImage(image string) string {
	if c == nil || c.ImageRoot == "" || path.IsAbs(image) {
		return image
	}
	return path.Join(c.ImageRoot, image)
}
