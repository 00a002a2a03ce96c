package study

import "fmt"

// Validate checks the study for schema errors that would make the pipeline
// ambiguous or unsubmittable.
//
// Backend-conditional fields are only required when the selected backend
// consumes them: htc_job_flavor for HTCondor backends, singularity_image
// for containerized backends. Inapplicable fields that happen to be set
// are ignored, never an error, so a study can move between backends by
// editing run_on alone.
func (s *Study) Validate() error {
	if len(s.Generations) == 0 {
		return fmt.Errorf("study defines no generations")
	}

	for i, n := range s.OrderedGenerations() {
		if n != i+1 {
			return fmt.Errorf("generation numbers must be contiguous starting at 1, got %v", s.OrderedGenerations())
		}

		gen := s.Generations[n]
		if gen == nil {
			return fmt.Errorf("generation %d is empty", n)
		}
		if err := gen.validate(); err != nil {
			return fmt.Errorf("generation %d: %w", n, err)
		}
	}

	return s.validateChildren()
}

func (g *Generation) validate() error {
	if g.JobFolder == "" {
		return fmt.Errorf("job_folder must not be empty")
	}
	if g.JobExecutable == "" {
		return fmt.Errorf("job_executable must not be empty")
	}
	if !g.RunOn.Valid() {
		return fmt.Errorf("unknown run_on backend %q", g.RunOn)
	}
	if !g.Context.Valid() {
		return fmt.Errorf("unknown context %q", g.Context)
	}

	if g.RunOn.IsHTCondor() && g.HTCJobFlavor == "" {
		return fmt.Errorf("htc_job_flavor is required when run_on is %q", g.RunOn)
	}
	if g.RunOn.Containerized() && g.SingularityImage == "" {
		return fmt.Errorf("singularity_image is required when run_on is %q", g.RunOn)
	}

	return nil
}

// validateChildren checks that the explicit job tree, when present, is not
// deeper than the number of generations.
func (s *Study) validateChildren() error {
	depth := childDepth(s.Children)
	if depth > len(s.Generations) {
		return fmt.Errorf("children tree is %d levels deep but the study has only %d generations", depth, len(s.Generations))
	}
	return nil
}

func childDepth(children map[string]*ChildSpec) int {
	max := 0
	for _, child := range children {
		if child == nil {
			continue
		}
		if d := childDepth(child.Children); d > max {
			max = d
		}
	}
	if len(children) == 0 {
		return 0
	}
	return max + 1
}
