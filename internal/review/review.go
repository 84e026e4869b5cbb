// Package review implements the Review Loop Orchestrator: the state machine
// that takes a teammate's diff through the quality-gate pipeline, decides
// pass/retry/escalate, and snapshots the workspace with git checkpoints
// around each cycle. Grounded on orc/internal/executor's cross-phase retry
// bookkeeping and backpressure verdicts (internal/executor/retry.go,
// internal/executor/backpressure.go) — that package decided whether to
// retry a failed phase and formatted a blocking report; this loop
// generalizes the same retry-until-cap-then-escalate shape from build
// phases to AI code review cycles, and adds the non-code bypass and
// cross-teammate queueing the original domain never needed.
package review

import (
	"context"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/teamforge/core/internal/checkpoint"
	"github.com/teamforge/core/internal/config"
	"github.com/teamforge/core/internal/diffcollector"
	"github.com/teamforge/core/internal/errors"
	"github.com/teamforge/core/internal/events"
	"github.com/teamforge/core/internal/gate"
	"github.com/teamforge/core/internal/tracing"
	"github.com/teamforge/core/internal/types"
)

// Pipeline runs every enabled quality-gate stage against a collected diff.
// It is the injected AI-evaluation boundary: the loop only knows the stage
// results it gets back, never how they were produced.
type Pipeline interface {
	RunStages(ctx context.Context, task types.Task, diff *diffcollector.Diff) (gate.StageResults, error)
}

// PipelineFunc adapts a plain function to Pipeline.
type PipelineFunc func(ctx context.Context, task types.Task, diff *diffcollector.Diff) (gate.StageResults, error)

// RunStages implements Pipeline.
func (f PipelineFunc) RunStages(ctx context.Context, task types.Task, diff *diffcollector.Diff) (gate.StageResults, error) {
	return f(ctx, task, diff)
}

// Escalator notifies a human or a higher-privileged teammate that a task
// exhausted its review cycles without passing.
type Escalator interface {
	Escalate(ctx context.Context, teamID string, task types.Task, state types.ReviewState, report string) error
}

// EscalatorFunc adapts a plain function to Escalator.
type EscalatorFunc func(ctx context.Context, teamID string, task types.Task, state types.ReviewState, report string) error

// Escalate implements Escalator.
func (f EscalatorFunc) Escalate(ctx context.Context, teamID string, task types.Task, state types.ReviewState, report string) error {
	return f(ctx, teamID, task, state, report)
}

// Outcome is the return value of RunCycle, bundling the gate result with
// whatever report text should be surfaced to the teammate or escalation target.
type Outcome struct {
	Result types.QualityGateResult
	State  types.ReviewState
	Report string // feedback (on fail) or success summary (on pass)
}

// Loop is the review loop orchestrator for one process (potentially many teams).
type Loop struct {
	cfg         config.GateConfig
	checkpoints checkpoint.Manager
	diffs       diffcollector.Collector
	pipeline    Pipeline
	escalator   Escalator
	breaker     *gobreaker.CircuitBreaker
	bus         *events.Bus
	now         func() time.Time

	reviewModel    string
	reviewProvider string

	mu     sync.Mutex
	states map[string]*types.ReviewState // keyed by taskID
	queue  []string                      // taskIDs awaiting a cycle run, FIFO, cap types.MaxReviewQueue
}

// Options bundles Loop's injected collaborators.
type Options struct {
	GateConfig     config.GateConfig
	Checkpoints    checkpoint.Manager
	Diffs          diffcollector.Collector
	Pipeline       Pipeline
	Escalator      Escalator
	Bus            *events.Bus
	ReviewModel    string
	ReviewProvider string
}

// New creates a review loop with a circuit breaker wrapping the escalation
// callback — an escalation target (human paging system, higher-tier
// teammate) that is itself down shouldn't be hammered on every exhausted
// review; the breaker trips after repeated escalation failures and fails
// fast until it recovers.
func New(opts Options) *Loop {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "review-escalation",
		MaxRequests: 1,
		Interval:    0,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})
	return &Loop{
		cfg:            opts.GateConfig,
		checkpoints:    opts.Checkpoints,
		diffs:          opts.Diffs,
		pipeline:       opts.Pipeline,
		escalator:      opts.Escalator,
		breaker:        breaker,
		bus:            opts.Bus,
		now:            time.Now,
		reviewModel:    opts.ReviewModel,
		reviewProvider: opts.ReviewProvider,
		states:         make(map[string]*types.ReviewState),
	}
}

// WithClock overrides the clock, for deterministic tests.
func (l *Loop) WithClock(now func() time.Time) *Loop {
	l.now = now
	return l
}

// ReviewEvent is the payload published on every review:* topic.
type ReviewEvent struct {
	TeamID string
	Task   types.Task
	State  types.ReviewState
	Report string
}

// Enqueue submits task for review. Non-code task types bypass the pipeline
// entirely and publish review:skipped. Otherwise it initializes a fresh
// ReviewState (or resumes the existing non-terminal one, if this task was
// already mid-review) and pushes the task onto the FIFO queue, evicting the
// oldest queued task and publishing review:queue_full if the queue is at
// capacity.
func (l *Loop) Enqueue(teamID string, task types.Task, teammateID string) {
	if types.NonCodeTaskTypes[task.TaskType] {
		l.bus.Publish(events.TopicReviewSkipped, ReviewEvent{TeamID: teamID, Task: task})
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	state, resumed := l.states[task.ID]
	if !resumed || state.Status.IsTerminal() {
		state = &types.ReviewState{
			TeamID:     teamID,
			TaskID:     task.ID,
			TeammateID: teammateID,
			MaxCycles:  l.cfg.MaxReviewCycles,
			Status:     types.ReviewPending,
			StartedAt:  l.now(),
		}
		l.states[task.ID] = state
	}

	for _, id := range l.queue {
		if id == task.ID {
			return // already queued
		}
	}
	l.queue = append(l.queue, task.ID)
	if len(l.queue) > types.MaxReviewQueue {
		evicted := l.queue[0]
		l.queue = l.queue[1:]
		l.bus.Publish(events.TopicReviewQueueFull, ReviewEvent{TeamID: teamID, Task: types.Task{ID: evicted}})
	}
}

// dequeue pops task.ID from the queue if present (it may have already been
// evicted, in which case RunCycle still runs — eviction only drops the
// queue slot, not the in-progress review).
func (l *Loop) dequeue(taskID string) {
	for i, id := range l.queue {
		if id == taskID {
			l.queue = append(l.queue[:i], l.queue[i+1:]...)
			return
		}
	}
}

// GetReviewState returns a snapshot of a task's review state, if tracked.
func (l *Loop) GetReviewState(taskID string) (types.ReviewState, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.states[taskID]
	if !ok {
		return types.ReviewState{}, false
	}
	return *st, true
}

// RunCycle executes one review cycle for task: checkpoint, diff collect,
// run the quality-gate pipeline, record the cycle, and decide pass / retry /
// escalate.
func (l *Loop) RunCycle(ctx context.Context, teamID string, task types.Task) (Outcome, error) {
	ctx, endSpan := tracing.StartSpan(ctx, "review.RunCycle", "team_id", teamID, "task_id", task.ID)
	defer endSpan()

	l.mu.Lock()
	state, ok := l.states[task.ID]
	l.mu.Unlock()
	if !ok {
		return Outcome{}, errors.New(errors.CodeUnknownTask, "no review state for task").WithWhy("RunCycle called before Enqueue")
	}

	l.dequeue(task.ID)

	if _, err := l.checkpoints.CreateCheckpoint(ctx, task.ID, "pre-review", "snapshot before review cycle"); err != nil {
		return Outcome{}, errors.Wrap(errors.CodeCheckpointFailed, "create pre-review checkpoint", err)
	}

	diff, err := l.diffs.Collect(ctx, task.ID)
	if err != nil || diff.Empty() {
		l.mu.Lock()
		state.Status = types.ReviewAwaitingRework
		l.mu.Unlock()
		l.bus.Publish(events.TopicReviewError, ReviewEvent{TeamID: teamID, Task: task, State: *state})
		return Outcome{}, errors.Wrap(errors.CodeDiffUnavailable, "collect diff for review", err)
	}

	l.bus.Publish(events.TopicReviewStarted, ReviewEvent{TeamID: teamID, Task: task, State: *state})

	stages, err := l.pipeline.RunStages(ctx, task, diff)
	if err != nil {
		return Outcome{}, errors.Wrap(errors.CodeGatePipelineErr, "run quality gate pipeline", err)
	}

	l.mu.Lock()
	cycle := state.CycleCount + 1
	result := gate.Evaluate(l.cfg, stages, cycle, l.reviewModel, l.reviewProvider)
	state.CycleCount = cycle
	state.CycleHistory = append(state.CycleHistory, result)
	state.TrimCycleHistory()
	l.mu.Unlock()

	if result.Passed {
		return l.onPass(ctx, teamID, task, state, result)
	}
	if state.CycleCount < state.MaxCycles {
		return l.onRetry(teamID, task, state, result)
	}
	return l.onEscalate(ctx, teamID, task, state, result)
}

func (l *Loop) onPass(ctx context.Context, teamID string, task types.Task, state *types.ReviewState, result types.QualityGateResult) (Outcome, error) {
	if _, err := l.checkpoints.CreateCheckpoint(ctx, task.ID, "post-pass", "snapshot after quality gate pass"); err != nil {
		return Outcome{}, errors.Wrap(errors.CodeCheckpointFailed, "create post-pass checkpoint", err)
	}
	l.mu.Lock()
	state.Status = types.ReviewPassed
	state.EndedAt = l.now()
	l.mu.Unlock()

	report := gate.FormatSuccessReport(result)
	l.bus.Publish(events.TopicReviewPassed, ReviewEvent{TeamID: teamID, Task: task, State: *state, Report: report})
	return Outcome{Result: result, State: *state, Report: report}, nil
}

func (l *Loop) onRetry(teamID string, task types.Task, state *types.ReviewState, result types.QualityGateResult) (Outcome, error) {
	l.mu.Lock()
	state.Status = types.ReviewAwaitingRework
	l.mu.Unlock()

	report := gate.FormatFailureReport(result)
	l.bus.Publish(events.TopicReviewFailed, ReviewEvent{TeamID: teamID, Task: task, State: *state, Report: report})
	if missing := gate.ExtractMissingRequirements(result); len(missing) > 0 {
		l.bus.Publish(events.TopicReviewRemediationNeeded, ReviewEvent{TeamID: teamID, Task: task, State: *state, Report: report})
	}
	return Outcome{Result: result, State: *state, Report: report}, nil
}

func (l *Loop) onEscalate(ctx context.Context, teamID string, task types.Task, state *types.ReviewState, result types.QualityGateResult) (Outcome, error) {
	report := gate.FormatFailureReport(result)

	l.mu.Lock()
	state.Status = types.ReviewEscalated
	l.mu.Unlock()
	l.bus.Publish(events.TopicReviewEscalating, ReviewEvent{TeamID: teamID, Task: task, State: *state, Report: report})

	_, err := l.breaker.Execute(func() (any, error) {
		return nil, l.escalator.Escalate(ctx, teamID, task, *state, report)
	})

	l.mu.Lock()
	state.EndedAt = l.now()
	l.mu.Unlock()

	if err != nil {
		return Outcome{Result: result, State: *state, Report: report}, errors.Wrap(errors.CodeGatePipelineErr, "escalate exhausted review", err)
	}
	l.bus.Publish(events.TopicReviewEscalated, ReviewEvent{TeamID: teamID, Task: task, State: *state, Report: report})
	return Outcome{Result: result, State: *state, Report: report}, nil
}

// EvictStaleReviews drops terminal review states older than maxAge (from
// EndedAt), bounding unbounded memory growth across a long-lived process.
func (l *Loop) EvictStaleReviews(maxAge time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	evicted := 0
	for id, st := range l.states {
		if st.Status.IsTerminal() && !st.EndedAt.IsZero() && now.Sub(st.EndedAt) > maxAge {
			delete(l.states, id)
			evicted++
		}
	}
	return evicted
}

// QueueDepth returns the current FIFO queue length, for observability.
func (l *Loop) QueueDepth() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}
