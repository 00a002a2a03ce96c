// Package study defines the YAML schema of a study file and its loader.
//
// A study describes a multi-generation batch simulation pipeline. Each
// generation names a template job folder, the executable to run inside it,
// auxiliary files to clone next to it, and the execution backend the
// resulting jobs are dispatched to. The study is loaded once at startup
// and treated as read-only for the rest of the run.
package study
