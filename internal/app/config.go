package app

import (
	"errors"
	"time"
)

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	StudyPath    string // study YAML file
	OutputRoot   string // directory the job tree is materialized under
	ProfilesPath string // cluster profile hcl files, optional

	DryRun        bool
	WorkerCount   int
	PollInterval  time.Duration
	SubmitRetries int
	StatusPort    int
	LogFormat     string
	LogLevel      string
}

// NewConfig validates a Config literal.
func NewConfig(cfg Config) (*Config, error) {
	if cfg.StudyPath == "" {
		return nil, errors.New("StudyPath is a required configuration field and cannot be empty")
	}
	if cfg.OutputRoot == "" {
		return nil, errors.New("OutputRoot is a required configuration field and cannot be empty")
	}

	return &cfg, nil
}
