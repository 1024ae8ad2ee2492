package sandbox

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckBlocksForegroundProcesses(t *testing.T) {
	reason := Check("tail -f /var/log/syslog", "/ws")
	require.NotNil(t, reason)
	assert.Contains(t, reason.Message, "foreground/interactive")
}

func TestCheckBlocksDisallowedSudo(t *testing.T) {
	reason := Check("sudo reboot", "/ws")
	require.NotNil(t, reason)
	assert.Contains(t, reason.Message, "not on the allowed list")
}

func TestCheckAllowsAllowlistedSudo(t *testing.T) {
	reason := Check("sudo apt-get update", "/ws")
	assert.Nil(t, reason)
}

func TestCheckAllowsWritesInsideWorkspace(t *testing.T) {
	reason := Check("echo hi > output.txt", "/ws")
	assert.Nil(t, reason)
}

func TestCheckBlocksWritesOutsideWorkspace(t *testing.T) {
	reason := Check("echo hi > /etc/passwd", "/ws")
	require.NotNil(t, reason)
	assert.Contains(t, reason.Message, "writes outside workspace")
}

func TestCheckAllowsDevNull(t *testing.T) {
	reason := Check("some-command > /dev/null", "/ws")
	assert.Nil(t, reason)
}

func TestIsInsideWorkspaceRejectsSiblingDirWithSamePrefix(t *testing.T) {
	// "/ws2" must never be treated as inside "/ws": a naive
	// strings.HasPrefix("/ws2", "/ws") comparison would wrongly allow it.
	assert.False(t, isInsideWorkspace("/ws2/evil.txt", "/ws"))
}

func TestIsInsideWorkspaceAllowsNestedPath(t *testing.T) {
	assert.True(t, isInsideWorkspace("sub/dir/file.txt", "/ws"))
}

func TestIsInsideWorkspaceRejectsTraversal(t *testing.T) {
	assert.False(t, isInsideWorkspace("../outside.txt", "/ws"))
}

func TestExecuteReturnsBlockedResultWithoutRunning(t *testing.T) {
	res, err := Execute(context.Background(), "vim somefile.py", "/ws")
	require.NoError(t, err)
	assert.True(t, res.Blocked)
	assert.Equal(t, -1, res.ReturnCode)
}

func TestExecuteRunsAllowedCommand(t *testing.T) {
	res, err := Execute(context.Background(), "echo hello", t.TempDir())
	require.NoError(t, err)
	assert.False(t, res.Blocked)
	assert.Equal(t, 0, res.ReturnCode)
	assert.Contains(t, res.Stdout, "hello")
}
