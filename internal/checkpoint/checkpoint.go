// Package checkpoint provides git-backed snapshot-and-rollback for the
// Review Loop and YOLO Orchestrator, grounded on orc/internal/git's
// Checkpoint/CreateCheckpoint/Rewind (internal/git/checkpoint.go), stripped
// of orc's worktree/branch/PR machinery (out of scope here — the git CLI is
// an external collaborator per spec §1, only checkpoint create/rollback is
// part of the hard core).
package checkpoint

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// Checkpoint is one git snapshot taken before or after a review cycle.
type Checkpoint struct {
	TaskID    string
	Label     string // e.g. "pre-review", "post-pass"
	Message   string
	CommitSHA string
	CreatedAt time.Time
}

// Manager is the interface the Review Loop and YOLO Orchestrator consume.
type Manager interface {
	CreateCheckpoint(ctx context.Context, taskID, label, message string) (*Checkpoint, error)
	Rollback(ctx context.Context, taskID string, cp *Checkpoint) error
	ListCheckpoints(taskID string) []*Checkpoint
}

// CommandRunner abstracts process execution so tests never shell out, mirroring
// the injectable-clock/filesystem principle from the design notes.
type CommandRunner interface {
	Run(ctx context.Context, dir string, name string, args ...string) (stdout string, err error)
}

// ExecRunner runs real OS commands.
type ExecRunner struct{}

// Run implements CommandRunner using os/exec.
func (ExecRunner) Run(ctx context.Context, dir, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return out.String(), fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, out.String())
	}
	return out.String(), nil
}

// GitCheckpointManager implements Manager by shelling out to git, scoped to
// workDir, tagging commits "[team-review] <taskID> <label>: <message>".
type GitCheckpointManager struct {
	workDir string
	runner  CommandRunner

	mu          sync.Mutex
	checkpoints map[string][]*Checkpoint
}

// NewGitCheckpointManager creates a manager rooted at workDir. A nil runner
// defaults to ExecRunner.
func NewGitCheckpointManager(workDir string, runner CommandRunner) *GitCheckpointManager {
	if runner == nil {
		runner = ExecRunner{}
	}
	return &GitCheckpointManager{
		workDir:     workDir,
		runner:      runner,
		checkpoints: make(map[string][]*Checkpoint),
	}
}

// CreateCheckpoint stages all changes and commits (allowing an empty commit
// when there's nothing to stage, so a checkpoint always has a SHA to roll
// back to).
func (m *GitCheckpointManager) CreateCheckpoint(ctx context.Context, taskID, label, message string) (*Checkpoint, error) {
	if _, err := m.runner.Run(ctx, m.workDir, "git", "add", "-A"); err != nil {
		return nil, fmt.Errorf("stage changes: %w", err)
	}

	status, err := m.runner.Run(ctx, m.workDir, "git", "status", "--porcelain")
	if err != nil {
		return nil, fmt.Errorf("check status: %w", err)
	}

	commitMsg := fmt.Sprintf("[team-review] %s %s: %s", taskID, label, message)
	args := []string{"commit", "-m", commitMsg}
	if strings.TrimSpace(status) == "" {
		args = []string{"commit", "--allow-empty", "-m", commitMsg}
	}
	if _, err := m.runner.Run(ctx, m.workDir, "git", args...); err != nil {
		return nil, fmt.Errorf("create checkpoint commit: %w", err)
	}

	sha, err := m.runner.Run(ctx, m.workDir, "git", "rev-parse", "HEAD")
	if err != nil {
		return nil, fmt.Errorf("resolve checkpoint sha: %w", err)
	}

	cp := &Checkpoint{
		TaskID:    taskID,
		Label:     label,
		Message:   message,
		CommitSHA: strings.TrimSpace(sha),
		CreatedAt: time.Now(),
	}

	m.mu.Lock()
	m.checkpoints[taskID] = append(m.checkpoints[taskID], cp)
	m.mu.Unlock()

	return cp, nil
}

// Rollback hard-resets the working tree to the checkpoint's commit.
func (m *GitCheckpointManager) Rollback(ctx context.Context, taskID string, cp *Checkpoint) error {
	if cp == nil || cp.CommitSHA == "" {
		return fmt.Errorf("rollback: checkpoint has no commit sha")
	}
	_, err := m.runner.Run(ctx, m.workDir, "git", "reset", "--hard", cp.CommitSHA)
	return err
}

// ListCheckpoints returns the checkpoints recorded for taskID, oldest first.
func (m *GitCheckpointManager) ListCheckpoints(taskID string) []*Checkpoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Checkpoint, len(m.checkpoints[taskID]))
	copy(out, m.checkpoints[taskID])
	return out
}

// NullCheckpointManager records calls without touching the filesystem, for
// tests and dry runs.
type NullCheckpointManager struct {
	mu          sync.Mutex
	checkpoints map[string][]*Checkpoint
	seq         int
}

// NewNullCheckpointManager creates a no-op manager.
func NewNullCheckpointManager() *NullCheckpointManager {
	return &NullCheckpointManager{checkpoints: make(map[string][]*Checkpoint)}
}

// CreateCheckpoint synthesizes a fake commit sha and records it.
func (m *NullCheckpointManager) CreateCheckpoint(_ context.Context, taskID, label, message string) (*Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	cp := &Checkpoint{
		TaskID:    taskID,
		Label:     label,
		Message:   message,
		CommitSHA: fmt.Sprintf("null-%d", m.seq),
		CreatedAt: time.Now(),
	}
	m.checkpoints[taskID] = append(m.checkpoints[taskID], cp)
	return cp, nil
}

// Rollback is a no-op that always succeeds.
func (m *NullCheckpointManager) Rollback(context.Context, string, *Checkpoint) error { return nil }

// ListCheckpoints returns the checkpoints recorded for taskID.
func (m *NullCheckpointManager) ListCheckpoints(taskID string) []*Checkpoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Checkpoint, len(m.checkpoints[taskID]))
	copy(out, m.checkpoints[taskID])
	return out
}
