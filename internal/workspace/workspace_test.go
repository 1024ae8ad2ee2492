package workspace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveDefaults(t *testing.T) {
	l := Resolve("/proj", "", "", "")
	assert.Equal(t, "/proj/philosophy.md", filepath.ToSlash(l.PhilosophyPath))
	assert.Equal(t, "/proj/task.md", filepath.ToSlash(l.TaskPath))
	assert.Equal(t, "/proj/workspace", filepath.ToSlash(l.WorkspaceDir))
}

func TestResolveOverrides(t *testing.T) {
	l := Resolve("/proj", "/other/task.md", "/other/phil.md", "/other/ws")
	assert.Equal(t, "/other/task.md", filepath.ToSlash(l.TaskPath))
	assert.Equal(t, "/other/phil.md", filepath.ToSlash(l.PhilosophyPath))
	assert.Equal(t, "/other/ws", filepath.ToSlash(l.WorkspaceDir))
}

func TestEnsureWorkspaceDirCreatesNested(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b", "workspace")
	require.NoError(t, EnsureWorkspaceDir(dir))
	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestInitScaffoldsProject(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "project")
	require.NoError(t, Init(dir))

	for _, name := range []string{"philosophy.md", "task.md", ".isomoiraignore"} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, "expected %s to exist", name)
	}
	info, err := os.Stat(filepath.Join(dir, "workspace"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	task, err := os.ReadFile(filepath.Join(dir, "task.md"))
	require.NoError(t, err)
	assert.Contains(t, string(task), "## Domain Knowledge")
}

func TestInitRefusesExistingDirectory(t *testing.T) {
	dir := t.TempDir()
	err := Init(dir)
	assert.ErrorIs(t, err, ErrProjectExists)
}
