package teamstate_test

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teamforge/core/internal/teamstate"
	"github.com/teamforge/core/internal/types"
)

func TestAppendAndLoad_DedupsTaskByIDLatestWins(t *testing.T) {
	dir := t.TempDir()
	store, err := teamstate.Open(dir)
	require.NoError(t, err)

	require.NoError(t, store.AppendTask(types.Task{ID: "t1", Status: types.TaskPending}))
	require.NoError(t, store.AppendTask(types.Task{ID: "t1", Status: types.TaskInProgress}))
	require.NoError(t, store.AppendTask(types.Task{ID: "t1", Status: types.TaskCompleted}))
	require.NoError(t, store.Close())

	view, err := teamstate.Load(dir, time.Now(), types.KnowledgeRetention)
	require.NoError(t, err)
	require.Contains(t, view.Tasks, "t1")
	assert.Equal(t, types.TaskCompleted, view.Tasks["t1"].Status)
}

func TestAppendAndLoad_YoloSnapshotIsLatestOnly(t *testing.T) {
	dir := t.TempDir()
	store, err := teamstate.Open(dir)
	require.NoError(t, err)

	require.NoError(t, store.AppendYoloSnapshot(types.YoloState{Phase: types.YoloExecuting}))
	require.NoError(t, store.AppendYoloSnapshot(types.YoloState{Phase: types.YoloSynthesizing}))
	require.NoError(t, store.Close())

	view, err := teamstate.Load(dir, time.Now(), types.KnowledgeRetention)
	require.NoError(t, err)
	require.NotNil(t, view.Yolo)
	assert.Equal(t, types.YoloSynthesizing, view.Yolo.Phase)
}

func TestAppendAndLoad_GateResultsDedupedByKey(t *testing.T) {
	dir := t.TempDir()
	store, err := teamstate.Open(dir)
	require.NoError(t, err)

	require.NoError(t, store.AppendGateResult("t1:1", types.QualityGateResult{CycleNumber: 1, AggregateScore: 60}))
	require.NoError(t, store.AppendGateResult("t1:1", types.QualityGateResult{CycleNumber: 1, AggregateScore: 92}))
	require.NoError(t, store.AppendGateResult("t1:2", types.QualityGateResult{CycleNumber: 2, AggregateScore: 95}))
	require.NoError(t, store.Close())

	view, err := teamstate.Load(dir, time.Now(), types.KnowledgeRetention)
	require.NoError(t, err)
	require.Len(t, view.Gates, 2)
	assert.Equal(t, 92, view.Gates["t1:1"].AggregateScore)
}

func TestLoad_PrunesExpiredKnowledgeEntries(t *testing.T) {
	dir := t.TempDir()
	store, err := teamstate.Open(dir)
	require.NoError(t, err)

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.AppendKnowledge(types.KnowledgeEntry{ID: "k1", Content: "old", Timestamp: now.Add(-20 * 24 * time.Hour)}))
	require.NoError(t, store.AppendKnowledge(types.KnowledgeEntry{ID: "k2", Content: "fresh", Timestamp: now.Add(-1 * time.Hour)}))
	require.NoError(t, store.Close())

	view, err := teamstate.Load(dir, now, types.KnowledgeRetention)
	require.NoError(t, err)
	require.Len(t, view.Knowledge, 1)
	assert.Equal(t, "fresh", view.Knowledge[0].Content)
}

func TestLoad_MissingFileIsNotAnError(t *testing.T) {
	dir := t.TempDir()
	view, err := teamstate.Load(dir, time.Now(), types.KnowledgeRetention)
	require.NoError(t, err)
	assert.Empty(t, view.Tasks)
}

func TestLoad_SkipsMalformedTrailingLine(t *testing.T) {
	dir := t.TempDir()
	store, err := teamstate.Open(dir)
	require.NoError(t, err)
	require.NoError(t, store.AppendTask(types.Task{ID: "t1", Status: types.TaskPending}))
	require.NoError(t, store.Close())

	f, err := os.OpenFile(dir+"/"+teamstate.FileName, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("{not valid json\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	view, err := teamstate.Load(dir, time.Now(), types.KnowledgeRetention)
	require.NoError(t, err)
	assert.Contains(t, view.Tasks, "t1")
}

func TestCompact_RewritesLogFromView(t *testing.T) {
	dir := t.TempDir()
	store, err := teamstate.Open(dir)
	require.NoError(t, err)
	require.NoError(t, store.AppendTask(types.Task{ID: "t1", Status: types.TaskPending}))
	require.NoError(t, store.AppendTask(types.Task{ID: "t1", Status: types.TaskCompleted}))
	require.NoError(t, store.Close())

	view, err := teamstate.Load(dir, time.Now(), types.KnowledgeRetention)
	require.NoError(t, err)
	require.NoError(t, teamstate.Compact(dir, view))

	reloaded, err := teamstate.Load(dir, time.Now(), types.KnowledgeRetention)
	require.NoError(t, err)
	require.Contains(t, reloaded.Tasks, "t1")
	assert.Equal(t, types.TaskCompleted, reloaded.Tasks["t1"].Status)
}
