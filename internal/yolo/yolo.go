// Package yolo implements the YOLO Orchestrator: the autonomous driver that
// takes a single goal through spec generation, task decomposition, phased
// execution under the Review Loop, integration checking, remediation, and
// synthesis, bounded by cost/time/remediation circuit breakers. Grounded on
// orc/internal/orchestrator's scheduler (internal/orchestrator/scheduler.go)
// for the phase-batch/concurrency-bounded execution shape, and on
// golang.org/x/sync's errgroup+semaphore pattern (used across the pack for
// bounded fan-out) for the maxConcurrency-bounded phase batching the
// original scheduler didn't need. Actual per-task execution (spawning a
// teammate, driving it through the Review Loop) is delegated to the injected
// PhaseExecutor; the Run itself only owns the phase state machine and the
// circuit breakers around it.
package yolo

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/teamforge/core/internal/errors"
	"github.com/teamforge/core/internal/events"
	"github.com/teamforge/core/internal/manager"
	"github.com/teamforge/core/internal/types"
)

// SpecGenerator produces a working spec from a freeform goal.
type SpecGenerator interface {
	GenerateSpec(ctx context.Context, goal string) (string, error)
}

// TaskDecomposer breaks a spec into tasks, optionally grouped into phases.
type TaskDecomposer interface {
	Decompose(ctx context.Context, spec string) ([]types.Task, []types.Phase, error)
}

// PhaseExecutor hands one task to a teammate and blocks until the task
// reaches a terminal status (completed/failed), however that teammate's work
// is actually driven (review loop, direct completion, etc).
type PhaseExecutor interface {
	ExecuteTask(ctx context.Context, teamID string, task types.Task) error
}

// IntegrationChecker verifies the combined output of a batch of tasks
// integrates cleanly; a false result carries the problems found.
type IntegrationChecker interface {
	CheckIntegration(ctx context.Context, teamID string) (ok bool, problems []string, err error)
}

// Synthesizer produces the final summary once all work is done.
type Synthesizer interface {
	Synthesize(ctx context.Context, teamID string) (string, error)
}

// validPhaseTransitions encodes the non-pause/abort edges of the phase graph.
var validPhaseTransitions = map[types.YoloPhase]map[types.YoloPhase]bool{
	types.YoloIdle:              {types.YoloSpecGeneration: true},
	types.YoloSpecGeneration:    {types.YoloTaskDecomposition: true},
	types.YoloTaskDecomposition: {types.YoloExecuting: true},
	types.YoloExecuting:         {types.YoloReviewing: true, types.YoloIntegrationCheck: true},
	types.YoloReviewing:         {types.YoloExecuting: true, types.YoloIntegrationCheck: true},
	types.YoloIntegrationCheck:  {types.YoloRemediating: true, types.YoloSynthesizing: true},
	types.YoloRemediating:       {types.YoloExecuting: true},
	types.YoloSynthesizing:      {types.YoloCompleted: true},
}

func canTransition(from, to types.YoloPhase) bool {
	if to == types.YoloAborted {
		return !from.IsTerminal()
	}
	if to == types.YoloPaused {
		return !from.IsTerminal() && from != types.YoloPaused
	}
	next, ok := validPhaseTransitions[from]
	return ok && next[to]
}

// Run is one autonomous YOLO execution for a team.
type Run struct {
	teamID string
	cfg    types.YoloConfig
	bus    *events.Bus
	mgr    *manager.Manager

	specGen    SpecGenerator
	decomposer TaskDecomposer
	executor   PhaseExecutor
	integrator IntegrationChecker
	synth      Synthesizer

	now               func() time.Time
	costCheckInterval time.Duration

	mu           sync.Mutex
	state        types.YoloState
	pausedFrom   types.YoloPhase
	costStop     chan struct{}
	timeoutTimer *time.Timer
}

// Options bundles a Run's injected collaborators.
type Options struct {
	TeamID     string
	Config     types.YoloConfig
	Bus        *events.Bus
	Manager    *manager.Manager
	SpecGen    SpecGenerator
	Decomposer TaskDecomposer
	Executor   PhaseExecutor
	Integrator IntegrationChecker
	Synth      Synthesizer
}

// New creates a YOLO run in the idle phase.
func New(opts Options) *Run {
	return &Run{
		teamID:     opts.TeamID,
		cfg:        opts.Config,
		bus:        opts.Bus,
		mgr:        opts.Manager,
		specGen:    opts.SpecGen,
		decomposer: opts.Decomposer,
		executor:   opts.Executor,
		integrator: opts.Integrator,
		synth:      opts.Synth,
		now:        time.Now,
		state:      types.YoloState{Phase: types.YoloIdle, Config: opts.Config},
	}
}

// WithClock overrides the clock, for deterministic tests.
func (r *Run) WithClock(now func() time.Time) *Run {
	r.now = now
	return r
}

// WithCostCheckInterval overrides the cost-cap polling interval, for tests
// that want to observe a tick without waiting defaultCostCheckInterval.
func (r *Run) WithCostCheckInterval(d time.Duration) *Run {
	r.costCheckInterval = d
	return r
}

// State returns a snapshot of the run's current state.
func (r *Run) State() types.YoloState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Run) transition(to types.YoloPhase) error {
	r.mu.Lock()
	from := r.state.Phase
	if !canTransition(from, to) {
		r.mu.Unlock()
		return errors.New(errors.CodeInvalidTransition, "illegal yolo phase transition").
			WithWhy(fmt.Sprintf("%s -> %s", from, to))
	}
	r.state.Phase = to
	if to.IsTerminal() {
		r.state.CompletedAt = r.now()
	}
	snapshot := r.state
	r.mu.Unlock()
	r.bus.Publish(events.TopicYoloPhaseChanged, snapshot)
	return nil
}

// Start begins the run's circuit breakers and drives it from idle through
// spec generation, task decomposition, and the execution cycle (including
// any remediation rounds) until the run completes, aborts, or errors.
func (r *Run) Start(ctx context.Context, goal string) error {
	r.mu.Lock()
	r.state.StartedAt = r.now()
	r.mu.Unlock()

	r.startCircuitBreakers(ctx)

	if err := r.transition(types.YoloSpecGeneration); err != nil {
		return err
	}
	spec, err := r.specGen.GenerateSpec(ctx, goal)
	if err != nil {
		r.Abort("spec generation failed: " + err.Error())
		return err
	}

	if err := r.transition(types.YoloTaskDecomposition); err != nil {
		return err
	}
	tasks, _, err := r.decomposer.Decompose(ctx, spec)
	if err != nil {
		r.Abort("task decomposition failed: " + err.Error())
		return err
	}
	for _, t := range tasks {
		if _, err := r.mgr.CreateTask(r.teamID, t); err != nil {
			r.Abort("task registration failed: " + err.Error())
			return err
		}
	}

	return r.runExecutionCycle(ctx, tasks)
}

// runExecutionCycle executes tasks in ascending PhaseOrder batches, each
// batch bounded to cfg.MaxConcurrency concurrent teammates via a weighted
// semaphore, then checks integration and either synthesizes, remediates, or
// aborts once remediation rounds are exhausted.
func (r *Run) runExecutionCycle(ctx context.Context, tasks []types.Task) error {
	if err := r.transition(types.YoloExecuting); err != nil {
		return err
	}
	if err := r.executeBatches(ctx, tasks); err != nil {
		return err
	}

	if err := r.transition(types.YoloIntegrationCheck); err != nil {
		return err
	}
	ok, problems, err := r.integrator.CheckIntegration(ctx, r.teamID)
	if err != nil {
		r.Abort("integration check failed: " + err.Error())
		return err
	}
	if ok {
		return r.runSynthesis(ctx)
	}
	return r.runRemediation(ctx, problems)
}

func (r *Run) executeBatches(ctx context.Context, tasks []types.Task) error {
	byPhase := make(map[int][]types.Task)
	for _, t := range tasks {
		byPhase[t.PhaseOrder] = append(byPhase[t.PhaseOrder], t)
	}
	orders := make([]int, 0, len(byPhase))
	for o := range byPhase {
		orders = append(orders, o)
	}
	sort.Ints(orders)

	maxConcurrency := r.cfg.MaxConcurrency
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}

	for _, order := range orders {
		sem := semaphore.NewWeighted(int64(maxConcurrency))
		g, gctx := errgroup.WithContext(ctx)
		for _, task := range byPhase[order] {
			task := task
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			g.Go(func() error {
				defer sem.Release(1)
				return r.executor.ExecuteTask(gctx, r.teamID, task)
			})
		}
		if err := g.Wait(); err != nil {
			r.Abort("task execution failed: " + err.Error())
			return err
		}
	}
	return nil
}

func (r *Run) runSynthesis(ctx context.Context) error {
	if err := r.transition(types.YoloSynthesizing); err != nil {
		return err
	}
	summary, err := r.synth.Synthesize(ctx, r.teamID)
	if err != nil {
		r.Abort("synthesis failed: " + err.Error())
		return err
	}
	r.mu.Lock()
	r.state.Summary = summary
	r.mu.Unlock()
	r.stopCircuitBreakers()
	return r.transition(types.YoloCompleted)
}

func (r *Run) runRemediation(ctx context.Context, problems []string) error {
	r.mu.Lock()
	r.state.RemediationRound++
	round := r.state.RemediationRound
	r.mu.Unlock()

	if round > r.cfg.MaxRemediationRounds {
		r.Abort("remediation rounds exhausted")
		return errors.New(errors.CodeMaxRemediation, "max remediation rounds exceeded").
			WithWhy(fmt.Sprintf("%d rounds attempted, cap %d", round, r.cfg.MaxRemediationRounds))
	}

	if err := r.transition(types.YoloRemediating); err != nil {
		return err
	}

	remediationTasks := make([]types.Task, 0, len(problems))
	for i, p := range problems {
		t := types.Task{
			ID:         fmt.Sprintf("%s-remediation-%d-%d", r.teamID, round, i),
			Title:      "Remediate: " + p,
			Status:     types.TaskPending,
			PhaseOrder: 0,
			TaskType:   "backend",
		}
		if _, err := r.mgr.CreateTask(r.teamID, t); err != nil {
			return err
		}
		remediationTasks = append(remediationTasks, t)
	}
	r.mu.Lock()
	for _, t := range remediationTasks {
		r.state.RemediationTasks = append(r.state.RemediationTasks, t.ID)
	}
	r.mu.Unlock()

	return r.runExecutionCycle(ctx, remediationTasks)
}

// ProposeSpecChange records a spec-evolution proposal. If the run's config
// requires approval, the proposal stays pending until ApproveProposal or
// RejectProposal is called; otherwise, when AdaptiveSpecs is enabled, it is
// auto-approved immediately.
func (r *Run) ProposeSpecChange(taskID, description string) types.SpecEvolutionProposal {
	r.mu.Lock()
	proposal := types.SpecEvolutionProposal{
		ID:     fmt.Sprintf("%s-proposal-%d", r.teamID, len(r.state.PendingProposals)+1),
		TaskID: taskID, Description: description,
		Status: types.ProposalPending, CreatedAt: r.now(),
	}
	if !r.cfg.RequireApprovalForSpecChanges && r.cfg.AdaptiveSpecs {
		proposal.Status = types.ProposalApproved
	}
	r.state.PendingProposals = append(r.state.PendingProposals, proposal)
	r.mu.Unlock()
	r.bus.Publish(events.TopicYoloSpecEvolutionProposed, proposal)
	return proposal
}

// ApproveProposal marks a pending proposal approved.
func (r *Run) ApproveProposal(id string) error {
	return r.resolveProposal(id, types.ProposalApproved)
}

// RejectProposal marks a pending proposal rejected.
func (r *Run) RejectProposal(id string) error {
	return r.resolveProposal(id, types.ProposalRejected)
}

func (r *Run) resolveProposal(id string, status types.SpecChangeProposalStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, p := range r.state.PendingProposals {
		if p.ID == id {
			r.state.PendingProposals[i].Status = status
			return nil
		}
	}
	return errors.New(errors.CodeUnknownTask, "unknown spec evolution proposal").WithWhy(id)
}

// defaultCostCheckInterval is how often the cost-cap breaker polls
// GetCostSummary during a run.
const defaultCostCheckInterval = 10 * time.Second

// startCircuitBreakers starts the cost-check ticker and the timeout timer.
// Both are resumable pauses (§4.10), not aborts — only max-remediation
// exhaustion aborts a run. The cap is checked once synchronously up front so
// a run that starts already over cap (e.g. cost accrued by a prior phase)
// pauses immediately instead of waiting a full tick.
func (r *Run) startCircuitBreakers(ctx context.Context) {
	if r.costOverCap() {
		_ = r.Pause("cost-cap")
		return
	}

	interval := r.costCheckInterval
	if interval <= 0 {
		interval = defaultCostCheckInterval
	}

	r.mu.Lock()
	r.costStop = make(chan struct{})
	r.timeoutTimer = time.AfterFunc(r.cfg.TimeoutDuration, func() {
		_ = r.Pause("timeout")
	})
	stop := r.costStop
	r.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if r.costOverCap() {
					_ = r.Pause("cost-cap")
					return
				}
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (r *Run) costOverCap() bool {
	summary, err := r.mgr.GetCostSummary(r.teamID)
	return err == nil && summary.TotalCostUSD >= r.cfg.CostCapUSD
}

func (r *Run) stopCircuitBreakers() {
	r.mu.Lock()
	if r.timeoutTimer != nil {
		r.timeoutTimer.Stop()
	}
	if r.costStop != nil {
		close(r.costStop)
		r.costStop = nil
	}
	r.mu.Unlock()
}

// Pause moves the run to paused, remembering the phase to resume into.
func (r *Run) Pause(reason string) error {
	r.mu.Lock()
	r.pausedFrom = r.state.Phase
	r.mu.Unlock()
	r.mu.Lock()
	r.state.PauseReason = reason
	r.mu.Unlock()
	return r.transition(types.YoloPaused)
}

// Resume returns from paused to the phase the run was paused from. Pause and
// resume are side-channel moves outside validPhaseTransitions, so the phase
// is set directly rather than through canTransition.
func (r *Run) Resume() error {
	r.mu.Lock()
	if r.state.Phase != types.YoloPaused {
		r.mu.Unlock()
		return errors.New(errors.CodeInvalidTransition, "resume called while not paused")
	}
	r.state.Phase = r.pausedFrom
	r.state.PauseReason = ""
	snapshot := r.state
	r.mu.Unlock()
	r.bus.Publish(events.TopicYoloPhaseChanged, snapshot)
	return nil
}

// Abort is non-reversible: it stops the circuit breakers and moves the phase
// to aborted. It is idempotent — aborting an already-terminal run is a no-op.
func (r *Run) Abort(reason string) {
	r.stopCircuitBreakers()

	r.mu.Lock()
	if r.state.Phase.IsTerminal() {
		r.mu.Unlock()
		return
	}
	r.state.Phase = types.YoloAborted
	r.state.PauseReason = reason
	r.state.CompletedAt = r.now()
	snapshot := r.state
	r.mu.Unlock()

	r.bus.Publish(events.TopicYoloPhaseChanged, snapshot)
}
