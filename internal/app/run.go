package app

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/vk/studygridgo/internal/ctxlog"
	"github.com/vk/studygridgo/internal/dag"
	"github.com/vk/studygridgo/internal/executor"
	"github.com/vk/studygridgo/internal/tree"
)

// Run executes the main application logic: build the tree, materialize
// it, and (unless dry-run) submit it generation by generation.
func (a *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.")

	if a.config.StatusPort > 0 {
		a.startStatusServer(a.config.StatusPort)
	}

	t, err := tree.Build(a.study, a.studyDir, a.config.OutputRoot)
	if err != nil {
		return fmt.Errorf("failed to build study tree: %w", err)
	}
	a.setTree(t)
	a.logger.Info("Study tree built.", "node_count", len(t.Nodes()))

	if err := t.MakeFolders(ctx, a.scriptFor); err != nil {
		return fmt.Errorf("failed to materialize study tree: %w", err)
	}
	snapshotPath := filepath.Join(a.config.OutputRoot, tree.SnapshotName)
	if err := t.WriteJSON(snapshotPath); err != nil {
		return err
	}
	a.logger.Info("Study tree materialized.", "output_root", a.config.OutputRoot, "snapshot", snapshotPath)

	if a.config.DryRun {
		a.logger.Info("Dry run requested, nothing submitted.")
		return nil
	}

	graph, err := dag.FromTree(t)
	if err != nil {
		return fmt.Errorf("failed to build dependency graph: %w", err)
	}

	a.logger.Info("🚀 Starting execution...", "workers", a.config.WorkerCount)
	exec := executor.New(graph, a.registry, a.config.WorkerCount, a.config.PollInterval,
		executor.RetryPolicy{MaxAttempts: a.config.SubmitRetries, Backoff: a.config.PollInterval})
	runErr := exec.Run(ctx)

	if err := t.WriteJSON(snapshotPath); err != nil {
		a.logger.Error("Failed to write final tree snapshot.", "error", err)
	}

	if runErr != nil {
		return fmt.Errorf("execution failed: %w", runErr)
	}
	a.logger.Info("🏁 Execution finished.")
	return nil
}

// scriptFor renders a node's run script through its backend.
func (a *App) scriptFor(n *tree.Node) ([]byte, error) {
	b, err := a.registry.Get(n.Template.RunOn)
	if err != nil {
		return nil, err
	}
	return b.Script(n)
}
