package types

import "time"

// TaskStatus is the lifecycle status of a Task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskInReview   TaskStatus = "in_review"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

// IsTerminal reports whether a status is terminal (no further transitions).
func (s TaskStatus) IsTerminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// validTransitions encodes the allowed status graph from §3.
var validTransitions = map[TaskStatus]map[TaskStatus]bool{
	TaskPending:    {TaskInProgress: true},
	TaskInProgress: {TaskInReview: true, TaskCompleted: true, TaskFailed: true},
	TaskInReview:   {TaskCompleted: true, TaskInProgress: true, TaskFailed: true},
	TaskCompleted:  {},
	TaskFailed:     {},
}

// CanTransition reports whether moving from `from` to `to` is a legal transition.
func CanTransition(from, to TaskStatus) bool {
	next, ok := validTransitions[from]
	if !ok {
		return false
	}
	return next[to]
}

// CompletionContract declares the artifacts a task must produce before it may
// be marked completed.
type CompletionContract struct {
	RequiredPaths   []string
	RequireNonEmpty bool
}

// Task is a unit of work, optionally scoped to a phase.
type Task struct {
	ID           string
	Title        string
	Description  string
	Status       TaskStatus
	Creator      string
	Assignee     string // optional
	CreatedAt    time.Time
	CompletedAt  time.Time
	PhaseID      string // optional
	PhaseOrder   int
	Requirements []string // requirement ids (REQ-xxx)
	Dependencies []string // task ids
	TaskType     string   // inferred task type, e.g. "research", "backend"
	Domain       string   // routing.Domain classification, cached
	Contract     *CompletionContract
}

// PhaseStatus is the lifecycle status of a Phase.
type PhaseStatus string

const (
	PhasePending    PhaseStatus = "pending"
	PhaseInProgress PhaseStatus = "in-progress"
	PhaseCompleted  PhaseStatus = "completed"
	PhaseBlocked    PhaseStatus = "blocked"
)

// Phase groups tasks that must complete together before the next phase begins.
type Phase struct {
	ID          string
	Name        string
	Order       int
	Status      PhaseStatus
	TaskIDs     []string
	CompletedAt time.Time
}

// NonCodeTaskTypes are task types the Review Loop skips: Enqueue publishes
// review:skipped without running the pipeline or changing the task's status.
var NonCodeTaskTypes = map[string]bool{
	"research": true,
	"planning": true,
	"search":   true,
	"explore":  true,
	"docs":     true,
}

// MessageType distinguishes message kinds on the team message bus.
type MessageType string

const (
	MessageDirect    MessageType = "message"
	MessageFeedback  MessageType = "feedback"
	MessageBroadcast MessageType = "broadcast"
)

// AllTeammates is the sentinel "to" value meaning "broadcast to all".
const AllTeammates = "all"

// Message is an append-only entry on the team message bus.
type Message struct {
	ID        string
	From      string
	To        string // teammate id or AllTeammates
	Content   string
	Timestamp time.Time
	Type      MessageType
}

// ActivityType enumerates the closed set of activity event kinds.
type ActivityType string

const (
	ActivityTeammateSpawned    ActivityType = "teammate_spawned"
	ActivityTeammateUpdated    ActivityType = "teammate_updated"
	ActivityTeammateShutdown   ActivityType = "teammate_shutdown"
	ActivityTaskCreated        ActivityType = "task_created"
	ActivityTaskAssigned       ActivityType = "task_assigned"
	ActivityTaskStatusChanged  ActivityType = "task_status_changed"
	ActivityMessageSent        ActivityType = "message_sent"
	ActivityToolCall           ActivityType = "tool_call"
	ActivityToolResult         ActivityType = "tool_result"
	ActivityToolBlocked        ActivityType = "tool_blocked"
	ActivityReviewStarted      ActivityType = "review_started"
	ActivityReviewPassed       ActivityType = "review_passed"
	ActivityReviewFailed       ActivityType = "review_failed"
	ActivityReviewEscalating   ActivityType = "review_escalating"
	ActivityReviewEscalated    ActivityType = "review_escalated"
	ActivityReviewSkipped      ActivityType = "review_skipped"
	ActivityQueueFull          ActivityType = "review_queue_full"
	ActivityHealthStall        ActivityType = "health_stall"
	ActivityHealthErrorLoop    ActivityType = "health_error_loop"
	ActivityRetryStorm         ActivityType = "retry_storm"
	ActivityRetryStormThrottle ActivityType = "retry_storm_throttle"
	ActivityRetryStormKill     ActivityType = "retry_storm_kill"
	ActivityContextExhaustion  ActivityType = "context_exhaustion"
	ActivityFileConflict       ActivityType = "file_conflict"
	ActivityPhaseChanged       ActivityType = "phase_changed"
	ActivityCostUpdated        ActivityType = "cost_updated"
	ActivitySynthesisRequested ActivityType = "synthesis_requested"
)

// ActivityEvent is an entry in the per-team ring buffer.
type ActivityEvent struct {
	ID           string
	Timestamp    time.Time
	Type         ActivityType
	Details      string
	TeammateID   string
	TeammateName string
	TaskID       string
}

// KnowledgeType enumerates the closed set of knowledge entry kinds.
type KnowledgeType string

const (
	KnowledgePattern           KnowledgeType = "pattern"
	KnowledgeDiscovery         KnowledgeType = "discovery"
	KnowledgeDecision          KnowledgeType = "decision"
	KnowledgeWarning           KnowledgeType = "warning"
	KnowledgeInterfaceContract KnowledgeType = "interface-contract"
)

// KnowledgeEntry is a published discovery/pattern/warning on the team knowledge bus.
type KnowledgeEntry struct {
	ID        string
	Type      KnowledgeType
	Content   string
	Source    string // teammate id
	Files     []string
	Tags      []string
	Timestamp time.Time
	TTL       time.Duration // zero means "no TTL, retention window applies"
}

// Expired reports whether the entry should no longer be returned from queries.
func (k *KnowledgeEntry) Expired(now time.Time, retention time.Duration) bool {
	if k.TTL > 0 && now.Sub(k.Timestamp) >= k.TTL {
		return true
	}
	return now.Sub(k.Timestamp) > retention
}

// FileEditor identifies one editor of a tracked file.
type FileEditor struct {
	TeammateID   string
	TeammateName string
	Timestamp    time.Time
}

// FileConflict records a detected ownership conflict.
type FileConflict struct {
	Path     string
	Editors  []FileEditor
	Detected time.Time
	Blocked  bool
}
