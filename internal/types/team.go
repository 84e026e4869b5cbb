// Package types defines the shared data model for the team orchestration core:
// teams, teammates, tasks, phases, messages, activity, knowledge, and the
// bounded resource caps that every owning component must enforce.
package types

import "time"

// TeamStatus is the lifecycle status of a Team.
type TeamStatus string

const (
	TeamActive     TeamStatus = "active"
	TeamCleaningUp TeamStatus = "cleaning-up"
	TeamCompleted  TeamStatus = "completed"
)

// Team is the top-level grouping for a collaborative objective.
type Team struct {
	ID            string
	Name          string
	LeadSessionID string
	Status        TeamStatus
	CreatedAt     time.Time
	Members       []string // teammate ids, ordered
	ModelPreset   string   // optional
	WorkspaceDir  string   // project root; keys the learning store and state store paths
}

// TeammateRole is the fixed role of a teammate within a team.
type TeammateRole string

const (
	RoleLead       TeammateRole = "lead"
	RoleHead       TeammateRole = "head"
	RoleWorker     TeammateRole = "worker"
	RoleReviewer   TeammateRole = "reviewer"
	RoleEscalation TeammateRole = "escalation"
)

// TeammateStatus is the lifecycle status of a Teammate.
type TeammateStatus string

const (
	TeammateSpawning TeammateStatus = "spawning"
	TeammateActive   TeammateStatus = "active"
	TeammateBusy     TeammateStatus = "busy"
	TeammateShutdown TeammateStatus = "shutdown"
	TeammateFailed   TeammateStatus = "failed"
)

// TokenUsage tracks cumulative token/cost consumption for a teammate.
type TokenUsage struct {
	Input   int64
	Output  int64
	CostUSD float64
}

// Teammate is a single agent participating in a team.
type Teammate struct {
	ID          string
	Name        string
	Role        TeammateRole
	ModelID     string
	ProviderID  string
	Status      TeammateStatus
	CurrentTask string // optional task id
	Usage       TokenUsage
	SkillSlugs  []string // routing-derived skill hints carried into the spawn prompt
}

// IsTerminal reports whether the teammate has reached shutdown or failed.
func (t *Teammate) IsTerminal() bool {
	return t.Status == TeammateShutdown || t.Status == TeammateFailed
}

// Resource caps enforced by owning components (oldest-first eviction).
const (
	MaxActivityPerTeam = 1500
	MaxMessagesPerTeam = 2000
	MaxTasksPerTeam    = 3000
	MaxReviewQueue     = 50
	MaxRecentToolCalls = 20
	MaxHealthIssues    = 20
	MaxFileConflicts   = 50
	KnowledgeRetention = 14 * 24 * time.Hour
	LearningWindow     = 30 * 24 * time.Hour
)
