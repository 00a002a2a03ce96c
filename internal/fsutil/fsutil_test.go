package fsutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopyFilePreservesPermissions(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	src := filepath.Join(dir, "run.sh")
	require.NoError(t, os.WriteFile(src, []byte("#!/bin/bash\n"), 0o755))

	dst := filepath.Join(dir, "copy.sh")
	require.NoError(t, CopyFile(src, dst))

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "#!/bin/bash\n", string(data))

	info, err := os.Stat(dst)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())
}

func TestCopyFileRejectsNonRegularSource(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	err := CopyFile(dir, filepath.Join(dir, "out"))
	assert.ErrorContains(t, err, "not a regular file")

	err = CopyFile(filepath.Join(dir, "missing"), filepath.Join(dir, "out"))
	assert.ErrorContains(t, err, "failed to stat source file")
}

func TestCopyTree(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	src := filepath.Join(dir, "template")
	require.NoError(t, os.MkdirAll(filepath.Join(src, "nested"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "main.py"), []byte("print()\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "nested", "data.txt"), []byte("42\n"), 0o644))
	require.NoError(t, os.Symlink("/etc/passwd", filepath.Join(src, "escape")))

	dst := filepath.Join(dir, "out")
	require.NoError(t, CopyTree(src, dst))

	assert.FileExists(t, filepath.Join(dst, "main.py"))

	data, err := os.ReadFile(filepath.Join(dst, "nested", "data.txt"))
	require.NoError(t, err)
	assert.Equal(t, "42\n", string(data))

	// Symlinks in the template are skipped, not followed.
	assert.NoFileExists(t, filepath.Join(dst, "escape"))
}

func TestFindFilesByExtension(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))
	for _, name := range []string{"a.hcl", "b.txt", "sub/c.hcl"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
	}

	files, err := FindFilesByExtension(dir, ".hcl")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		filepath.Join(dir, "a.hcl"),
		filepath.Join(dir, "sub", "c.hcl"),
	}, files)

	assert.Panics(t, func() {
		FindFilesByExtension(dir, "")
	})
}
