// Package app wires the application together: logger, cluster profiles,
// backend registry, study loading, tree materialization and execution.
package app

import (
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/vk/studygridgo/internal/backend"
	"github.com/vk/studygridgo/internal/profile"
	"github.com/vk/studygridgo/internal/study"
	"github.com/vk/studygridgo/internal/tree"
)

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW     io.Writer
	logger   *slog.Logger
	config   *Config
	registry *backend.Registry
	study    *study.Study
	studyDir string
	profiles *profile.Set

	mutex sync.Mutex
	tree  *tree.Tree
}

// NewApp is the constructor for the main application. It returns a fully
// initialized App instance with its own isolated logger and backend
// registry. Failing to load the study or the profiles is a fatal startup
// error and panics; main recovers it into a clean exit message.
func NewApp(outW io.Writer, appConfig *Config, backends ...backend.Backend) *App {
	logger := newLogger(appConfig.LogLevel, appConfig.LogFormat, outW)
	logger.Debug("Logger configured successfully.")

	profiles := &profile.Set{}
	if appConfig.ProfilesPath != "" {
		var err error
		profiles, err = profile.Load(appConfig.ProfilesPath)
		if err != nil {
			panic(fmt.Errorf("failed to load cluster profiles: %w", err))
		}
		logger.Debug("Cluster profiles loaded.", "clusters", len(profiles.Clusters))
	}

	st, err := study.Load(appConfig.StudyPath)
	if err != nil {
		panic(fmt.Errorf("failed to load study: %w", err))
	}
	if err := st.Validate(); err != nil {
		panic(fmt.Errorf("invalid study: %w", err))
	}
	if err := profiles.Validate(st); err != nil {
		panic(fmt.Errorf("study rejected by cluster profiles: %w", err))
	}
	logger.Debug("Study loaded and validated.", "generations", len(st.Generations))

	resolveImages(st, profiles)

	reg := registryFor(st, profiles, backends...)
	if err := reg.Validate(st); err != nil {
		// Mismatch between study and compiled-in backends is a programmer
		// error at this point.
		panic(err)
	}
	logger.Debug("Backend registry validated against study.")

	return &App{
		outW:     outW,
		logger:   logger,
		config:   appConfig,
		registry: reg,
		study:    st,
		studyDir: filepath.Dir(appConfig.StudyPath),
		profiles: profiles,
	}
}

// registryFor assembles the backend registry: the production set by
// default, or the explicitly passed backends (tests).
func registryFor(st *study.Study, profiles *profile.Set, backends ...backend.Backend) *backend.Registry {
	if len(backends) > 0 {
		reg := backend.NewRegistry()
		for _, b := range backends {
			reg.Register(b)
		}
		return reg
	}

	opts := backend.Options{EnvScript: st.EnvScript()}
	if opts.EnvScript == "" {
		for _, n := range st.OrderedGenerations() {
			if cluster := profiles.ForScheduler(st.Generations[n].RunOn); cluster != nil && cluster.SetupEnv != "" {
				opts.EnvScript = cluster.SetupEnv
				break
			}
		}
	}
	if cluster := profiles.ForScheduler(study.RunOnSlurm); cluster != nil {
		opts.SlurmPartition = cluster.Partition
	}
	return backend.Default(opts)
}

// resolveImages rewrites relative singularity_image references against the
// matching cluster's image root.
func resolveImages(st *study.Study, profiles *profile.Set) {
	for _, n := range st.OrderedGenerations() {
		gen := st.Generations[n]
		if !gen.RunOn.Containerized() {
			continue
		}
		gen.SingularityImage = profiles.ForScheduler(gen.RunOn).ResolveImage(gen.SingularityImage)
	}
}

// Registry returns the application's backend registry. This is primarily
// for testing.
func (a *App) Registry() *backend.Registry {
	return a.registry
}

// Tree returns the materialized job tree, or nil before Run built it.
func (a *App) Tree() *tree.Tree {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	return a.tree
}

func (a *App) setTree(t *tree.Tree) {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	a.tree = t
}
