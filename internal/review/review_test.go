package review_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teamforge/core/internal/checkpoint"
	"github.com/teamforge/core/internal/config"
	"github.com/teamforge/core/internal/diffcollector"
	"github.com/teamforge/core/internal/events"
	"github.com/teamforge/core/internal/gate"
	"github.com/teamforge/core/internal/review"
	"github.com/teamforge/core/internal/types"
)

func fakeDiff(taskID string) *diffcollector.Diff {
	return &diffcollector.Diff{TaskID: taskID, Files: []diffcollector.FileDiff{{Path: "main.go", Additions: 3}}}
}

func passingStages(cfg config.GateConfig) gate.StageResults {
	results := gate.StageResults{}
	for name, stageCfg := range cfg.Stages {
		if stageCfg.Enabled {
			results[name] = types.StageResult{Name: name, Score: 95, Passed: true, Executed: true}
		}
	}
	return results
}

func failingStages(cfg config.GateConfig) gate.StageResults {
	results := passingStages(cfg)
	arch := results[types.StageArchitecture]
	arch.Passed = false
	arch.Score = 10
	arch.Issues = []string{"God class"}
	results[types.StageArchitecture] = arch
	return results
}

func newLoop(t *testing.T, pipeline review.Pipeline, escalator review.Escalator) (*review.Loop, *events.Bus) {
	t.Helper()
	bus := events.NewBus()
	loop := review.New(review.Options{
		GateConfig:  config.DefaultGateConfig(),
		Checkpoints: checkpoint.NewNullCheckpointManager(),
		Diffs:       diffcollector.CollectorFunc(func(_ context.Context, taskID string) (*diffcollector.Diff, error) { return fakeDiff(taskID), nil }),
		Pipeline:    pipeline,
		Escalator:   escalator,
		Bus:         bus,
		ReviewModel: "claude-opus-4-6", ReviewProvider: "anthropic",
	})
	return loop, bus
}

func TestEnqueue_NonCodeTaskBypassesToSkipped(t *testing.T) {
	loop, bus := newLoop(t, nil, nil)
	var skipped bool
	bus.Subscribe(events.TopicReviewSkipped, func(any) { skipped = true })

	loop.Enqueue("team-1", types.Task{ID: "t1", TaskType: "research"}, "tm-1")
	assert.True(t, skipped)
	_, ok := loop.GetReviewState("t1")
	assert.False(t, ok, "non-code tasks never get a review state")
}

func TestRunCycle_PassPublishesPassedAndCheckpoints(t *testing.T) {
	cfg := config.DefaultGateConfig()
	pipeline := review.PipelineFunc(func(_ context.Context, _ types.Task, _ *diffcollector.Diff) (gate.StageResults, error) {
		return passingStages(cfg), nil
	})
	loop, bus := newLoop(t, pipeline, nil)
	var passed bool
	bus.Subscribe(events.TopicReviewPassed, func(any) { passed = true })

	task := types.Task{ID: "t1", TaskType: "backend"}
	loop.Enqueue("team-1", task, "tm-1")

	outcome, err := loop.RunCycle(context.Background(), "team-1", task)
	require.NoError(t, err)
	assert.True(t, outcome.Result.Passed)
	assert.True(t, passed)

	state, ok := loop.GetReviewState("t1")
	require.True(t, ok)
	assert.Equal(t, types.ReviewPassed, state.Status)
}

func TestRunCycle_FailUnderMaxCyclesPublishesFailed(t *testing.T) {
	cfg := config.DefaultGateConfig()
	pipeline := review.PipelineFunc(func(_ context.Context, _ types.Task, _ *diffcollector.Diff) (gate.StageResults, error) {
		return failingStages(cfg), nil
	})
	loop, bus := newLoop(t, pipeline, nil)
	var failed bool
	bus.Subscribe(events.TopicReviewFailed, func(any) { failed = true })

	task := types.Task{ID: "t1", TaskType: "backend"}
	loop.Enqueue("team-1", task, "tm-1")
	outcome, err := loop.RunCycle(context.Background(), "team-1", task)
	require.NoError(t, err)
	assert.False(t, outcome.Result.Passed)
	assert.True(t, failed)

	state, _ := loop.GetReviewState("t1")
	assert.Equal(t, types.ReviewAwaitingRework, state.Status)
	assert.Equal(t, 1, state.CycleCount)
}

func TestRunCycle_EscalatesAtMaxCycles(t *testing.T) {
	cfg := config.DefaultGateConfig()
	cfg.MaxReviewCycles = 1
	pipeline := review.PipelineFunc(func(_ context.Context, _ types.Task, _ *diffcollector.Diff) (gate.StageResults, error) {
		return failingStages(cfg), nil
	})
	escalated := false
	escalator := review.EscalatorFunc(func(_ context.Context, _ string, _ types.Task, _ types.ReviewState, _ string) error {
		escalated = true
		return nil
	})

	bus := events.NewBus()
	loop := review.New(review.Options{
		GateConfig:  cfg,
		Checkpoints: checkpoint.NewNullCheckpointManager(),
		Diffs:       diffcollector.CollectorFunc(func(_ context.Context, taskID string) (*diffcollector.Diff, error) { return fakeDiff(taskID), nil }),
		Pipeline:    pipeline,
		Escalator:   escalator,
		Bus:         bus,
	})
	var escalatedEvent bool
	bus.Subscribe(events.TopicReviewEscalated, func(any) { escalatedEvent = true })

	task := types.Task{ID: "t1", TaskType: "backend"}
	loop.Enqueue("team-1", task, "tm-1")
	outcome, err := loop.RunCycle(context.Background(), "team-1", task)
	require.NoError(t, err)
	assert.False(t, outcome.Result.Passed)
	assert.True(t, escalated)
	assert.True(t, escalatedEvent)

	state, _ := loop.GetReviewState("t1")
	assert.Equal(t, types.ReviewEscalated, state.Status)
}

func TestRunCycle_DiffUnavailableLeavesAwaitingRework(t *testing.T) {
	bus := events.NewBus()
	loop := review.New(review.Options{
		GateConfig:  config.DefaultGateConfig(),
		Checkpoints: checkpoint.NewNullCheckpointManager(),
		Diffs:       diffcollector.CollectorFunc(func(_ context.Context, _ string) (*diffcollector.Diff, error) { return nil, errors.New("boom") }),
		Bus:         bus,
	})
	task := types.Task{ID: "t1", TaskType: "backend"}
	loop.Enqueue("team-1", task, "tm-1")

	_, err := loop.RunCycle(context.Background(), "team-1", task)
	assert.Error(t, err)
	state, _ := loop.GetReviewState("t1")
	assert.Equal(t, types.ReviewAwaitingRework, state.Status)
	assert.Equal(t, 0, state.CycleCount, "diff failure must not consume a review cycle")
}

func TestEnqueue_QueueOverflowEvictsOldest(t *testing.T) {
	loop, bus := newLoop(t, nil, nil)
	var fullCount int
	bus.Subscribe(events.TopicReviewQueueFull, func(any) { fullCount++ })

	for i := 0; i < types.MaxReviewQueue+5; i++ {
		loop.Enqueue("team-1", types.Task{ID: "t" + string(rune('a'+i%26)) + string(rune('0'+i/26)), TaskType: "backend"}, "tm-1")
	}
	assert.Equal(t, 5, fullCount)
	assert.Equal(t, types.MaxReviewQueue, loop.QueueDepth())
}
