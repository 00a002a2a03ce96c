package study

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// NoEnvScript is the sentinel value meaning "do not source any environment
// script before running a job". Study files written by older tooling carry
// it instead of omitting the key.
const NoEnvScript = "none"

// Study is the root object of a study file. It is decoded from the
// document's top-level "root" key.
type Study struct {
	// SetupEnvScript is sourced at the top of every generated run script.
	// Empty or the NoEnvScript sentinel disables it.
	SetupEnvScript string `yaml:"setup_env_script"`

	// Generations maps the stage number to its template definition.
	// Numeric order defines the pipeline stage order.
	Generations map[int]*Generation `yaml:"generations"`

	// Children optionally names the concrete jobs of the first generation,
	// each carrying parameters merged into the job's config file and,
	// recursively, the jobs of the next generation. When absent, every
	// generation contributes a single job chained to its predecessor.
	Children map[string]*ChildSpec `yaml:"children"`
}

// Generation is one pipeline stage template.
type Generation struct {
	JobFolder        string   `yaml:"job_folder"`
	JobExecutable    string   `yaml:"job_executable"`
	FilesToClone     []string `yaml:"files_to_clone"`
	RunOn            RunOn    `yaml:"run_on"`
	Context          Context  `yaml:"context"`
	HTCJobFlavor     string   `yaml:"htc_job_flavor"`
	SingularityImage string   `yaml:"singularity_image"`
}

// ChildSpec is one named job in the study's explicit job tree.
type ChildSpec struct {
	Parameters map[string]any        `yaml:"parameters"`
	Children   map[string]*ChildSpec `yaml:"children"`
}

// UnmarshalYAML accepts both layouts of a child node: the explicit
// parameters: key, and the legacy layout where parameter keys sit inline
// on the node mapping next to children. Inline keys and the parameters:
// block merge; the parameters: block wins on conflict.
func (c *ChildSpec) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("child node must be a mapping")
	}

	inline := make(map[string]any)
	var explicit map[string]any

	for i := 0; i+1 < len(value.Content); i += 2 {
		keyNode, valNode := value.Content[i], value.Content[i+1]
		switch keyNode.Value {
		case "children":
			if err := valNode.Decode(&c.Children); err != nil {
				return err
			}
		case "parameters":
			if err := valNode.Decode(&explicit); err != nil {
				return err
			}
		default:
			var v any
			if err := valNode.Decode(&v); err != nil {
				return err
			}
			inline[keyNode.Value] = v
		}
	}

	for k, v := range explicit {
		inline[k] = v
	}
	if len(inline) > 0 {
		c.Parameters = inline
	}
	return nil
}

// studyFile is the top-level document layout for decoding.
type studyFile struct {
	Root *Study `yaml:"root"`
}

// Load reads and decodes the study file at path.
func Load(path string) (*Study, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read study file %s: %w", path, err)
	}

	s, err := Unmarshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode study file %s: %w", path, err)
	}
	return s, nil
}

// Unmarshal decodes a study from raw YAML bytes.
func Unmarshal(raw []byte) (*Study, error) {
	var file studyFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}
	if file.Root == nil {
		return nil, fmt.Errorf("study document has no 'root' key")
	}
	return file.Root, nil
}

// OrderedGenerations returns the generation numbers in ascending order.
func (s *Study) OrderedGenerations() []int {
	numbers := make([]int, 0, len(s.Generations))
	for n := range s.Generations {
		numbers = append(numbers, n)
	}
	sort.Ints(numbers)
	return numbers
}

// EnvScript returns the setup environment script path, or an empty string
// when none is configured (including the legacy "none" sentinel).
func (s *Study) EnvScript() string {
	if s.SetupEnvScript == NoEnvScript {
		return ""
	}
	return s.SetupEnvScript
}
