// Package manager implements the Team Manager: the central registry for
// teams, teammates, tasks, messages, activity, and cost, and the chokepoint
// that intercepts every task-status transition to enforce completion
// contracts and fire the cross-team synthesis trigger. Grounded on
// orc/internal/orchestrator's scheduler (internal/orchestrator/scheduler.go)
// for the registry-plus-event-fan-out shape, generalized from scheduling one
// kind of work item to owning every collection the rest of the system reads.
package manager

import (
	"context"
	"sync"
	"time"

	"github.com/teamforge/core/internal/errors"
	"github.com/teamforge/core/internal/events"
	"github.com/teamforge/core/internal/tracing"
	"github.com/teamforge/core/internal/types"
)

// ArtifactChecker verifies a completion contract's required paths exist in
// the workspace. Injected so the manager never touches the filesystem
// directly.
type ArtifactChecker interface {
	Exists(workspaceDir, path string) bool
	NonEmpty(workspaceDir, path string) bool
}

// ReviewEnqueuer submits a task into the Review Loop. Injected so the
// manager's task-completion intercept can route completions into review
// without importing the review loop's pipeline/escalation wiring directly.
type ReviewEnqueuer interface {
	Enqueue(teamID string, task types.Task, teammateID string)
}

// ArtifactCheckerFunc adapts two plain functions to ArtifactChecker.
type ArtifactCheckerFunc struct {
	ExistsFn   func(workspaceDir, path string) bool
	NonEmptyFn func(workspaceDir, path string) bool
}

// Exists implements ArtifactChecker.
func (f ArtifactCheckerFunc) Exists(workspaceDir, path string) bool {
	return f.ExistsFn(workspaceDir, path)
}

// NonEmpty implements ArtifactChecker.
func (f ArtifactCheckerFunc) NonEmpty(workspaceDir, path string) bool {
	return f.NonEmptyFn(workspaceDir, path)
}

type teamRecord struct {
	team        types.Team
	teammates   map[string]*types.Teammate
	tasks       map[string]*types.Task
	phases      map[string]*types.Phase
	messages    []types.Message
	activity    []types.ActivityEvent
	gates       map[string]types.QualityGateResult // taskID -> latest result
	synthesized bool
}

// Manager is the team manager for one process.
type Manager struct {
	bus      *events.Bus
	artifact ArtifactChecker
	review   ReviewEnqueuer
	now      func() time.Time

	mu    sync.Mutex
	teams map[string]*teamRecord
}

// New creates a team manager publishing onto bus.
func New(bus *events.Bus, artifact ArtifactChecker) *Manager {
	return &Manager{
		bus:      bus,
		artifact: artifact,
		now:      time.Now,
		teams:    make(map[string]*teamRecord),
	}
}

// WithClock overrides the clock, for deterministic tests.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// WithReviewLoop attaches the Review Loop so UpdateTaskStatus's completion
// intercept can route completions into it (§4.11). Without a loop attached,
// completions apply directly, gated only by the completion contract.
func (m *Manager) WithReviewLoop(review ReviewEnqueuer) *Manager {
	m.review = review
	return m
}

// CreateTeam registers a new team and publishes team:created.
func (m *Manager) CreateTeam(team types.Team) types.Team {
	m.mu.Lock()
	defer m.mu.Unlock()
	if team.CreatedAt.IsZero() {
		team.CreatedAt = m.now()
	}
	if team.Status == "" {
		team.Status = types.TeamActive
	}
	m.teams[team.ID] = &teamRecord{
		team:      team,
		teammates: make(map[string]*types.Teammate),
		tasks:     make(map[string]*types.Task),
		phases:    make(map[string]*types.Phase),
		gates:     make(map[string]types.QualityGateResult),
	}
	m.bus.Publish(events.TopicTeamCreated, team)
	return team
}

func (m *Manager) record(teamID string) (*teamRecord, error) {
	rec, ok := m.teams[teamID]
	if !ok {
		return nil, errors.New(errors.CodeUnknownTeam, "unknown team").WithWhy(teamID)
	}
	return rec, nil
}

// GetTeam returns a snapshot of team state.
func (m *Manager) GetTeam(teamID string) (types.Team, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, err := m.record(teamID)
	if err != nil {
		return types.Team{}, err
	}
	return rec.team, nil
}

// AddTeammate registers a teammate on teamID and publishes teammate:spawned.
func (m *Manager) AddTeammate(teamID string, tm types.Teammate) error {
	m.mu.Lock()
	rec, err := m.record(teamID)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	rec.teammates[tm.ID] = &tm
	rec.team.Members = append(rec.team.Members, tm.ID)
	m.mu.Unlock()
	m.bus.Publish(events.TopicTeammateSpawned, tm)
	return nil
}

// UpdateTeammateStatus updates a teammate's status and publishes teammate:updated.
func (m *Manager) UpdateTeammateStatus(teamID, teammateID string, status types.TeammateStatus) error {
	m.mu.Lock()
	rec, err := m.record(teamID)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	tm, ok := rec.teammates[teammateID]
	if !ok {
		m.mu.Unlock()
		return errors.New(errors.CodeUnknownTeammate, "unknown teammate").WithWhy(teammateID)
	}
	tm.Status = status
	snapshot := *tm
	m.mu.Unlock()
	m.bus.Publish(events.TopicTeammateUpdated, snapshot)
	if status == types.TeammateShutdown || status == types.TeammateFailed {
		m.bus.Publish(events.TopicTeammateShutdown, snapshot)
	}
	return nil
}

// UpdateTeammateUsage accumulates token/cost usage and publishes cost:updated.
func (m *Manager) UpdateTeammateUsage(teamID, teammateID string, usage types.TokenUsage) error {
	m.mu.Lock()
	rec, err := m.record(teamID)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	tm, ok := rec.teammates[teammateID]
	if !ok {
		m.mu.Unlock()
		return errors.New(errors.CodeUnknownTeammate, "unknown teammate").WithWhy(teammateID)
	}
	tm.Usage.Input += usage.Input
	tm.Usage.Output += usage.Output
	tm.Usage.CostUSD += usage.CostUSD
	summary := m.costSummaryLocked(rec)
	m.mu.Unlock()
	m.bus.Publish(events.TopicCostUpdated, summary)
	return nil
}

// CostSummary is the aggregate cost view for a team.
type CostSummary struct {
	TeamID       string
	TotalCostUSD float64
	TotalInput   int64
	TotalOutput  int64
	ByTeammate   map[string]types.TokenUsage
}

func (m *Manager) costSummaryLocked(rec *teamRecord) CostSummary {
	summary := CostSummary{TeamID: rec.team.ID, ByTeammate: make(map[string]types.TokenUsage, len(rec.teammates))}
	for id, tm := range rec.teammates {
		summary.ByTeammate[id] = tm.Usage
		summary.TotalCostUSD += tm.Usage.CostUSD
		summary.TotalInput += tm.Usage.Input
		summary.TotalOutput += tm.Usage.Output
	}
	return summary
}

// GetCostSummary returns the aggregate cost view for a team.
func (m *Manager) GetCostSummary(teamID string) (CostSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, err := m.record(teamID)
	if err != nil {
		return CostSummary{}, err
	}
	return m.costSummaryLocked(rec), nil
}

// CreateTask registers a task on teamID, evicting the oldest task if the
// team is at MaxTasksPerTeam, and publishes task:created.
func (m *Manager) CreateTask(teamID string, task types.Task) (types.Task, error) {
	m.mu.Lock()
	rec, err := m.record(teamID)
	if err != nil {
		m.mu.Unlock()
		return types.Task{}, err
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = m.now()
	}
	if task.Status == "" {
		task.Status = types.TaskPending
	}
	if len(rec.tasks) >= types.MaxTasksPerTeam {
		m.evictOldestTaskLocked(rec)
	}
	rec.tasks[task.ID] = &task
	rec.synthesized = false
	m.mu.Unlock()
	m.bus.Publish(events.TopicTaskCreated, task)
	return task, nil
}

func (m *Manager) evictOldestTaskLocked(rec *teamRecord) {
	var oldestID string
	var oldestAt time.Time
	for id, t := range rec.tasks {
		if oldestID == "" || t.CreatedAt.Before(oldestAt) {
			oldestID = id
			oldestAt = t.CreatedAt
		}
	}
	if oldestID != "" {
		delete(rec.tasks, oldestID)
	}
}

// GetTask returns a snapshot of one task.
func (m *Manager) GetTask(teamID, taskID string) (types.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, err := m.record(teamID)
	if err != nil {
		return types.Task{}, err
	}
	t, ok := rec.tasks[taskID]
	if !ok {
		return types.Task{}, errors.New(errors.CodeUnknownTask, "unknown task").WithWhy(taskID)
	}
	return *t, nil
}

// UpdateTaskStatus is the sole chokepoint for task-status transitions. It
// validates the transition and — for the pivotal completion intercept of
// §4.11 — decides what "completed" actually means:
//
//   - bypassReviewLoop=true with a loop attached (the Review Loop finalizing
//     its own decision) applies newStatus directly.
//   - With no loop attached, a completion whose contract has missing/empty
//     required artifacts is forced to failed; otherwise newStatus applies.
//     bypassReviewLoop makes no difference here.
//   - bypassReviewLoop=false with a loop attached instead validates the
//     completion contract: missing/empty required artifacts force the task
//     straight to failed (enqueue is skipped); otherwise the task moves to
//     in_review and is enqueued for review rather than being marked complete
//     here.
//
// Once every non-lead-held task across the team is terminal, it fires the
// cross-team synthesis trigger exactly once.
func (m *Manager) UpdateTaskStatus(teamID, taskID string, newStatus types.TaskStatus, leadTeammateID string, bypassReviewLoop bool) (types.Task, error) {
	_, endSpan := tracing.StartSpan(context.Background(), "manager.UpdateTaskStatus", "team_id", teamID, "task_id", taskID, "new_status", string(newStatus))
	defer endSpan()

	m.mu.Lock()
	rec, err := m.record(teamID)
	if err != nil {
		m.mu.Unlock()
		return types.Task{}, err
	}
	task, ok := rec.tasks[taskID]
	if !ok {
		m.mu.Unlock()
		return types.Task{}, errors.New(errors.CodeUnknownTask, "unknown task").WithWhy(taskID)
	}

	finalStatus := newStatus
	intercepted := newStatus == types.TaskCompleted && !bypassReviewLoop && m.review != nil
	if intercepted {
		if task.Contract != nil && m.artifact != nil && !m.contractSatisfiedLocked(rec.team.WorkspaceDir, *task.Contract) {
			finalStatus = types.TaskFailed
		} else {
			finalStatus = types.TaskInReview
		}
	} else if newStatus == types.TaskCompleted && m.review == nil && task.Contract != nil && m.artifact != nil {
		if !m.contractSatisfiedLocked(rec.team.WorkspaceDir, *task.Contract) {
			finalStatus = types.TaskFailed
		}
	}

	if !types.CanTransition(task.Status, finalStatus) {
		m.mu.Unlock()
		return types.Task{}, errors.New(errors.CodeInvalidTransition, "illegal task transition").
			WithWhy(string(task.Status) + " -> " + string(finalStatus))
	}

	task.Status = finalStatus
	if finalStatus.IsTerminal() {
		task.CompletedAt = m.now()
	}
	snapshot := *task
	enqueueForReview := finalStatus == types.TaskInReview
	m.mu.Unlock()

	m.bus.Publish(events.TopicTaskUpdated, snapshot)
	if enqueueForReview {
		m.review.Enqueue(teamID, snapshot, leadTeammateID)
	}
	m.maybeFireSynthesis(teamID, leadTeammateID)
	return snapshot, nil
}

func (m *Manager) contractSatisfiedLocked(workspaceDir string, contract types.CompletionContract) bool {
	for _, path := range contract.RequiredPaths {
		if !m.artifact.Exists(workspaceDir, path) {
			return false
		}
		if contract.RequireNonEmpty && !m.artifact.NonEmpty(workspaceDir, path) {
			return false
		}
	}
	return true
}

// maybeFireSynthesis publishes synthesis:requested once all tasks not
// assigned to leadTeammateID are terminal (completed or failed) — the
// conservative reading: a lead-held task (the lead is still actively
// coordinating it) never blocks synthesis, since the lead itself drives
// synthesis and can't be waiting on itself.
func (m *Manager) maybeFireSynthesis(teamID, leadTeammateID string) {
	m.mu.Lock()
	rec, ok := m.teams[teamID]
	if !ok || rec.synthesized {
		m.mu.Unlock()
		return
	}
	allTerminal := true
	for _, t := range rec.tasks {
		if t.Assignee == leadTeammateID {
			continue
		}
		if !t.Status.IsTerminal() {
			allTerminal = false
			break
		}
	}
	if !allTerminal || len(rec.tasks) == 0 {
		m.mu.Unlock()
		return
	}
	rec.synthesized = true
	teamID2 := rec.team.ID
	m.mu.Unlock()
	m.bus.Publish(events.TopicSynthesisRequested, teamID2)
}

// RecordMessage appends a message, evicting oldest-first at MaxMessagesPerTeam.
func (m *Manager) RecordMessage(teamID string, msg types.Message) error {
	m.mu.Lock()
	rec, err := m.record(teamID)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = m.now()
	}
	rec.messages = append(rec.messages, msg)
	if len(rec.messages) > types.MaxMessagesPerTeam {
		rec.messages = rec.messages[len(rec.messages)-types.MaxMessagesPerTeam:]
	}
	m.mu.Unlock()
	m.bus.Publish(events.TopicMessageSent, msg)
	return nil
}

// RecordActivity appends an activity event, evicting oldest-first at MaxActivityPerTeam.
func (m *Manager) RecordActivity(teamID string, ev types.ActivityEvent) error {
	m.mu.Lock()
	rec, err := m.record(teamID)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = m.now()
	}
	rec.activity = append(rec.activity, ev)
	if len(rec.activity) > types.MaxActivityPerTeam {
		rec.activity = rec.activity[len(rec.activity)-types.MaxActivityPerTeam:]
	}
	m.mu.Unlock()
	m.bus.Publish(events.TopicActivity, ev)
	return nil
}

// RecordGateResult stores the latest quality-gate result for a task.
func (m *Manager) RecordGateResult(teamID, taskID string, result types.QualityGateResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, err := m.record(teamID)
	if err != nil {
		return err
	}
	rec.gates[taskID] = result
	return nil
}

// ListActivity returns a team's activity ring buffer, oldest first.
func (m *Manager) ListActivity(teamID string) ([]types.ActivityEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, err := m.record(teamID)
	if err != nil {
		return nil, err
	}
	out := make([]types.ActivityEvent, len(rec.activity))
	copy(out, rec.activity)
	return out, nil
}

// ListTasks returns every task tracked for a team.
func (m *Manager) ListTasks(teamID string) ([]types.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, err := m.record(teamID)
	if err != nil {
		return nil, err
	}
	out := make([]types.Task, 0, len(rec.tasks))
	for _, t := range rec.tasks {
		out = append(out, *t)
	}
	return out, nil
}

// CleanupTeam marks a team completed and publishes team:cleanup.
func (m *Manager) CleanupTeam(teamID string) error {
	m.mu.Lock()
	rec, err := m.record(teamID)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	rec.team.Status = types.TeamCompleted
	snapshot := rec.team
	m.mu.Unlock()
	m.bus.Publish(events.TopicTeamCleanup, snapshot)
	return nil
}
