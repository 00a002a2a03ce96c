package backend

import (
	"fmt"
	"log/slog"

	"github.com/vk/studygridgo/internal/study"
)

// Registry maps run_on values to their backend implementations.
type Registry struct {
	backends map[study.RunOn]Backend
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{backends: make(map[study.RunOn]Backend)}
}

// Register adds a backend. Registering the same run_on twice is a
// programmer error and panics.
func (r *Registry) Register(b Backend) {
	name := b.Name()
	if _, exists := r.backends[name]; exists {
		panic(fmt.Sprintf("backend for %q already registered", name))
	}
	slog.Debug("Registering backend.", "run_on", name)
	r.backends[name] = b
}

// Get returns the backend serving the given run_on value.
func (r *Registry) Get(name study.RunOn) (Backend, error) {
	b, ok := r.backends[name]
	if !ok {
		return nil, fmt.Errorf("no backend registered for run_on %q", name)
	}
	return b, nil
}

// Validate checks that every generation of the study has a registered
// backend, so a run cannot fail halfway through on a missing one.
func (r *Registry) Validate(s *study.Study) error {
	for _, n := range s.OrderedGenerations() {
		gen := s.Generations[n]
		if _, err := r.Get(gen.RunOn); err != nil {
			return fmt.Errorf("generation %d: %w", n, err)
		}
	}
	return nil
}

// Default builds a registry with all production backends.
func Default(opts Options) *Registry {
	r := NewRegistry()
	r.Register(NewLocalPC(opts))
	r.Register(NewHTCondor(opts, false))
	r.Register(NewHTCondor(opts, true))
	r.Register(NewSlurm(opts, false))
	r.Register(NewSlurm(opts, true))
	return r
}
