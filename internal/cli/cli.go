// Package cli parses command-line arguments into an app configuration.
package cli

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/vk/studygridgo/internal/app"
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

// Parse processes command-line arguments. It returns a populated app
// Config, a boolean indicating if the program should exit cleanly, or an
// ExitError.
func Parse(args []string, output io.Writer) (*app.Config, bool, error) {
	slog.Debug("CLI parser started.")
	flagSet := flag.NewFlagSet("studygridgo", flag.ContinueOnError)
	flagSet.SetOutput(output)

	// Custom usage/help text function
	flagSet.Usage = func() {
		fmt.Fprint(output, `
StudyGridGo - orchestrates multi-generation simulation studies across
local, HTCondor and Slurm backends.

Usage:
  studygridgo [options] [STUDY_PATH]

Arguments:
  STUDY_PATH
    Path to the study YAML file.

Options:
`)
		flagSet.PrintDefaults()
	}

	studyFlag := flagSet.String("study", "", "Path to the study YAML file.")
	sFlag := flagSet.String("s", "", "Path to the study YAML file (shorthand).")
	outputFlag := flagSet.String("output", "study_output", "Directory the job tree is materialized under.")
	profilesFlag := flagSet.String("profiles", "", "Path to a directory of cluster profile .hcl files.")
	dryRunFlag := flagSet.Bool("dry-run", false, "Validate and materialize the tree without submitting anything.")
	workersFlag := flagSet.Int("workers", 10, "Number of concurrent workers for the executor.")
	pollFlag := flagSet.Duration("poll-interval", 30*time.Second, "Interval between scheduler status queries.")
	retriesFlag := flagSet.Int("submit-retries", 3, "Submit attempts per job before the node fails.")
	statusPortFlag := flagSet.Int("status-port", 0, "Port for the HTTP status server. 0 is disabled.")
	logFormatFlag := flagSet.String("log-format", "json", "Log output format. Options: 'text' or 'json'.")
	logLevelFlag := flagSet.String("log-level", "info", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")

	if err := flagSet.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}
	slog.Debug("Arguments parsed successfully.")

	path := ""
	if *studyFlag != "" {
		path = *studyFlag
	} else if *sFlag != "" {
		path = *sFlag
	} else if flagSet.NArg() > 0 {
		path = flagSet.Arg(0)
	}
	slog.Debug("Study path determined.", "path", path)

	if path == "" {
		slog.Debug("No study path provided, printing usage and exiting.")
		flagSet.Usage()
		return nil, true, nil
	}

	logFormat := strings.ToLower(*logFormatFlag)
	if logFormat != "text" && logFormat != "json" {
		return nil, false, &ExitError{Code: 2, Message: "invalid log-format: must be 'text' or 'json'"}
	}

	logLevel := strings.ToLower(*logLevelFlag)
	switch logLevel {
	case "debug", "info", "warn", "error":
		// valid
	default:
		return nil, false, &ExitError{Code: 2, Message: "invalid log-level: must be 'debug', 'info', 'warn', or 'error'"}
	}
	slog.Debug("CLI parameter validation complete.")

	appConfig, err := app.NewConfig(app.Config{
		StudyPath:     path,
		OutputRoot:    *outputFlag,
		ProfilesPath:  *profilesFlag,
		DryRun:        *dryRunFlag,
		WorkerCount:   *workersFlag,
		PollInterval:  *pollFlag,
		SubmitRetries: *retriesFlag,
		StatusPort:    *statusPortFlag,
		LogFormat:     logFormat,
		LogLevel:      logLevel,
	})
	if err != nil {
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}
	return appConfig, false, nil
}
