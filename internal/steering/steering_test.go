package steering

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadFileSafeMissing(t *testing.T) {
	assert.Equal(t, "", ReadFileSafe(filepath.Join(t.TempDir(), "nope.md")))
}

func TestReadFileSafeExisting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "task.md")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))
	assert.Equal(t, "hello", ReadFileSafe(path))
}

func TestLoadScopeFilesReadsNamedFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.py"), []byte("print(1)"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.py"), []byte("print(2)"), 0o644))

	task := "## Objective\nDo the thing.\n\n## Scope\n- a.py\n- b.py\n- missing.py\n\n## Constraints\nnone\n"
	files := LoadScopeFiles(task, dir)

	assert.Equal(t, "print(1)", files["a.py"])
	assert.Equal(t, "print(2)", files["b.py"])
	_, ok := files["missing.py"]
	assert.False(t, ok)
}

func TestLoadScopeFilesNoScopeSection(t *testing.T) {
	files := LoadScopeFiles("## Objective\nNo scope here.\n", t.TempDir())
	assert.Empty(t, files)
}

func TestAppendDKAmendmentCreatesSectionWhenAbsent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "task.md")
	task := "## Objective\nDo it.\n"

	updated, err := AppendDKAmendment(path, task, 1, "use json.dumps not str()", 10000)
	require.NoError(t, err)
	assert.Contains(t, updated, "## Domain Knowledge")
	assert.Contains(t, updated, "[Auto-DK iteration 1]")
	assert.Contains(t, updated, "use json.dumps not str()")

	onDisk, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, updated, string(onDisk))
}

func TestAppendDKAmendmentAppendsWithinExistingSection(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "task.md")
	task := "## Objective\nDo it.\n\n## Domain Knowledge\n- existing note\n\n## Constraints\nnone\n"

	updated, err := AppendDKAmendment(path, task, 2, "second note", 10000)
	require.NoError(t, err)
	assert.Contains(t, updated, "existing note")
	assert.Contains(t, updated, "[Auto-DK iteration 2] second note")
	assert.Less(t, indexOf(updated, "existing note"), indexOf(updated, "## Constraints"))
}

func TestAppendDKAmendmentTruncatesLongAddition(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "task.md")
	long := make([]byte, 900)
	for i := range long {
		long[i] = 'x'
	}

	updated, err := AppendDKAmendment(path, "## Objective\nDo it.\n", 1, string(long), 10000)
	require.NoError(t, err)

	tag := "[Auto-DK iteration 1] "
	start := indexOf(updated, tag) + len(tag)
	end := indexOf(updated[start:], "\n") + start
	assert.LessOrEqual(t, end-start, 500)
}

func TestAppendDKAmendmentRefusesOverSizeCap(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "task.md")
	task := "## Objective\nDo it.\n"

	_, err := AppendDKAmendment(path, task, 1, "a fairly long addition that pushes past a tiny cap", 5)
	require.Error(t, err)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "must not write the file when the cap is exceeded")
}

func TestOriginalTaskSize(t *testing.T) {
	assert.Equal(t, 5, OriginalTaskSize("hello"))
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}
