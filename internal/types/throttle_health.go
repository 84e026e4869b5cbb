package types

import "time"

// ToolCallRecord is one entry in a bounded ring of recent tool calls.
type ToolCallRecord struct {
	Timestamp   time.Time
	InputPrefix string // first 100 chars of the input
}

// ThrottleToolState is the per-tool throttle state for one teammate session.
type ThrottleToolState struct {
	Tool          string
	LifetimeCalls int
	WindowBudget  int
	RecentCalls   []ToolCallRecord // capped ring
	BackoffCount  int
	CooldownUntil time.Time
	SlowStart     bool
	Blocked       bool
	BlockReason   string
}

// ToolResultRecord is one entry in a bounded ring of recent tool results.
type ToolResultRecord struct {
	Timestamp time.Time
	Tool      string
	IsError   bool
	Preview   string // <=500 chars
}

// RetryStormStage is the escalation stage of the retry-storm detector.
type RetryStormStage string

const (
	StormNone      RetryStormStage = "none"
	StormWarned    RetryStormStage = "warned"
	StormThrottled RetryStormStage = "throttled"
	StormKilled    RetryStormStage = "killed"
)

// HealthIssueType enumerates the kinds of health issue that can be recorded.
type HealthIssueType string

const (
	IssueStall              HealthIssueType = "stall"
	IssueErrorLoop          HealthIssueType = "error-loop"
	IssueRetryStorm         HealthIssueType = "retry-storm"
	IssueRetryStormThrottle HealthIssueType = "retry-storm-throttle"
	IssueRetryStormKill     HealthIssueType = "retry-storm-kill"
	IssueContextExhaustion  HealthIssueType = "context-exhaustion"
	IssueSoftProbe          HealthIssueType = "soft-probe"
)

// HealthIssue is one bounded, debounced issue recorded against a teammate.
type HealthIssue struct {
	Type      HealthIssueType
	Timestamp time.Time
	Detail    string
}

// HealthState is the per-teammate health snapshot maintained by the monitor.
type HealthState struct {
	TeamID            string
	TeammateID        string
	TeammateName      string
	LastActivityAt    time.Time
	CurrentTaskID     string
	ConsecutiveErrors int
	LastErrorTool     string
	RecentToolCalls   []ToolCallRecord   // cap 20
	RecentResults     []ToolResultRecord // cap 20
	ContextUsage      float64            // 0..1
	StormStage        RetryStormStage
	StormCount        int
	Issues            []HealthIssue // cap 20
}
