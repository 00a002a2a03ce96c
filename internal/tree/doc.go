// Package tree builds and materializes the study's job tree.
//
// Every generation of the study contributes one level of nodes. A node owns
// a working directory on disk, cloned from its generation's template
// folder, with its parameters merged into a per-node config.yaml and a
// backend-generated run script next to it. Job scripts report progress by
// appending tags to the node's tag log, which is also how the executor and
// the jobs agree on completion.
package tree
