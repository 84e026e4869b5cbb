package checkpoint_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teamforge/core/internal/checkpoint"
)

// fakeRunner records every invocation and lets a test script canned stdout
// per command name, avoiding any real git/process execution.
type fakeRunner struct {
	calls  []string
	status string
	sha    string
}

func (f *fakeRunner) Run(_ context.Context, _ string, name string, args ...string) (string, error) {
	f.calls = append(f.calls, name+" "+joinArgs(args))
	switch {
	case name == "git" && len(args) > 0 && args[0] == "status":
		return f.status, nil
	case name == "git" && len(args) > 0 && args[0] == "rev-parse":
		return f.sha, nil
	default:
		return "", nil
	}
}

func joinArgs(args []string) string {
	out := ""
	for i, a := range args {
		if i > 0 {
			out += " "
		}
		out += a
	}
	return out
}

func TestGitCheckpointManager_CreateCheckpoint_CommitsAndRecords(t *testing.T) {
	runner := &fakeRunner{status: " M file.go\n", sha: "abc123\n"}
	mgr := checkpoint.NewGitCheckpointManager("/repo", runner)

	cp, err := mgr.CreateCheckpoint(context.Background(), "task-1", "pre-review", "starting review")
	require.NoError(t, err)
	assert.Equal(t, "abc123", cp.CommitSHA)
	assert.Equal(t, "task-1", cp.TaskID)

	list := mgr.ListCheckpoints("task-1")
	require.Len(t, list, 1)
	assert.Same(t, cp, list[0])
}

func TestGitCheckpointManager_CreateCheckpoint_AllowsEmptyCommit(t *testing.T) {
	runner := &fakeRunner{status: "", sha: "def456\n"}
	mgr := checkpoint.NewGitCheckpointManager("/repo", runner)

	_, err := mgr.CreateCheckpoint(context.Background(), "task-1", "post-pass", "nothing changed")
	require.NoError(t, err)
	assert.Contains(t, runner.calls, "git commit --allow-empty -m [team-review] task-1 post-pass: nothing changed")
}

func TestGitCheckpointManager_Rollback_RequiresCommitSHA(t *testing.T) {
	mgr := checkpoint.NewGitCheckpointManager("/repo", &fakeRunner{})
	err := mgr.Rollback(context.Background(), "task-1", nil)
	assert.Error(t, err)
}

func TestNullCheckpointManager_SynthesizesDistinctSHAs(t *testing.T) {
	mgr := checkpoint.NewNullCheckpointManager()

	cp1, err := mgr.CreateCheckpoint(context.Background(), "task-1", "pre-review", "")
	require.NoError(t, err)
	cp2, err := mgr.CreateCheckpoint(context.Background(), "task-1", "post-pass", "")
	require.NoError(t, err)

	assert.NotEqual(t, cp1.CommitSHA, cp2.CommitSHA)
	assert.NoError(t, mgr.Rollback(context.Background(), "task-1", cp1))
	assert.Len(t, mgr.ListCheckpoints("task-1"), 2)
}
