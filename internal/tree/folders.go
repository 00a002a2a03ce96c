package tree

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/vk/studygridgo/internal/ctxlog"
	"github.com/vk/studygridgo/internal/fsutil"
)

// ScriptFunc renders the run script for a node. The tree stays agnostic of
// backends; the caller passes in the generator, the same way the legacy
// tree builder received its run-script generator as an argument.
type ScriptFunc func(*Node) ([]byte, error)

// defaultCloneParallelism bounds concurrent folder cloning. Template
// folders live on network filesystems often enough that unbounded fan-out
// hurts more than it helps.
const defaultCloneParallelism = 8

// MakeFolders materializes every node of the tree on disk: working
// directory, executable and auxiliary files cloned from the generation
// template, merged config.yaml, and the backend run script.
func (t *Tree) MakeFolders(ctx context.Context, script ScriptFunc) error {
	logger := ctxlog.FromContext(ctx)
	nodes := t.Nodes()
	logger.Debug("Materializing study tree.", "node_count", len(nodes), "output_root", t.OutputRoot)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(defaultCloneParallelism)

	for _, n := range nodes {
		n := n
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := t.makeFolder(n, script); err != nil {
				return fmt.Errorf("node %s: %w", n.ID(), err)
			}
			n.SetStatus(StatusCloned)
			logger.Debug("Node folder ready.", "node", n.ID(), "dir", n.Dir)
			return nil
		})
	}

	return g.Wait()
}

func (t *Tree) makeFolder(n *Node, script ScriptFunc) error {
	if err := os.MkdirAll(n.Dir, 0o755); err != nil {
		return fmt.Errorf("failed to create working directory: %w", err)
	}

	templateDir := t.TemplateDir(n)
	clone := append([]string{n.Template.JobExecutable}, n.Template.FilesToClone...)
	for _, name := range clone {
		src := filepath.Join(templateDir, name)
		dst := filepath.Join(n.Dir, name)

		info, err := os.Stat(src)
		if err != nil {
			return fmt.Errorf("file to clone %q not found in template %s: %w", name, templateDir, err)
		}
		if info.IsDir() {
			err = fsutil.CopyTree(src, dst)
		} else {
			err = fsutil.CopyFile(src, dst)
		}
		if err != nil {
			return err
		}
	}

	if err := t.writeConfig(n); err != nil {
		return err
	}

	content, err := script(n)
	if err != nil {
		return fmt.Errorf("failed to render run script: %w", err)
	}
	if err := os.WriteFile(n.RunScript(), content, 0o755); err != nil {
		return fmt.Errorf("failed to write run script: %w", err)
	}
	return nil
}

// writeConfig writes the node's config.yaml: a config.yaml cloned from
// the generation template is the baseline, node parameters overlay it,
// plus the bookkeeping keys the job scripts expect.
func (t *Tree) writeConfig(n *Node) error {
	merged := make(map[string]any, len(n.Parameters)+1)

	raw, err := os.ReadFile(n.ConfigFile())
	switch {
	case err == nil:
		if err := yaml.Unmarshal(raw, &merged); err != nil {
			return fmt.Errorf("invalid template config.yaml for node %s: %w", n.ID(), err)
		}
		if merged == nil {
			merged = make(map[string]any, len(n.Parameters)+1)
		}
	case !os.IsNotExist(err):
		return fmt.Errorf("failed to read template config for node %s: %w", n.ID(), err)
	}

	for k, v := range n.Parameters {
		merged[k] = v
	}
	merged["log_file"] = TagLogName

	raw, err = yaml.Marshal(merged)
	if err != nil {
		return fmt.Errorf("failed to encode node config: %w", err)
	}
	if err := os.WriteFile(n.ConfigFile(), raw, 0o644); err != nil {
		return fmt.Errorf("failed to write node config: %w", err)
	}
	return nil
}

// TemplateDir resolves the node's generation template folder against the
// study file's directory.
func (t *Tree) TemplateDir(n *Node) string {
	if filepath.IsAbs(n.Template.JobFolder) {
		return n.Template.JobFolder
	}
	return filepath.Join(t.StudyDir, n.Template.JobFolder)
}
