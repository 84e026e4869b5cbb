package types

import "time"

// YoloPhase is the phase of the autonomous YOLO driver's state machine.
type YoloPhase string

const (
	YoloIdle              YoloPhase = "idle"
	YoloSpecGeneration    YoloPhase = "spec-generation"
	YoloTaskDecomposition YoloPhase = "task-decomposition"
	YoloExecuting         YoloPhase = "executing"
	YoloReviewing         YoloPhase = "reviewing"
	YoloIntegrationCheck  YoloPhase = "integration-check"
	YoloRemediating       YoloPhase = "remediating"
	YoloSynthesizing      YoloPhase = "synthesizing"
	YoloCompleted         YoloPhase = "completed"
	YoloAborted           YoloPhase = "aborted"
	YoloPaused            YoloPhase = "paused"
)

// IsTerminal reports whether the phase ends the run.
func (p YoloPhase) IsTerminal() bool {
	return p == YoloCompleted || p == YoloAborted
}

// SpecChangeProposalStatus is the lifecycle of an adaptive-spec proposal.
type SpecChangeProposalStatus string

const (
	ProposalPending  SpecChangeProposalStatus = "pending"
	ProposalApproved SpecChangeProposalStatus = "approved"
	ProposalRejected SpecChangeProposalStatus = "rejected"
)

// SpecEvolutionProposal is a smart-mode proposal to amend the running spec.
type SpecEvolutionProposal struct {
	ID          string
	TaskID      string
	Description string
	Status      SpecChangeProposalStatus
	CreatedAt   time.Time
}

// YoloConfig configures the circuit breakers and concurrency of a YOLO run.
type YoloConfig struct {
	CostCapUSD                    float64
	TimeoutDuration               time.Duration
	MaxConcurrency                int
	MaxRemediationRounds          int
	AdaptiveSpecs                 bool
	RequireApprovalForSpecChanges bool
}

// DefaultYoloConfig returns the documented numeric defaults.
func DefaultYoloConfig() YoloConfig {
	return YoloConfig{
		CostCapUSD:                    5.0,
		TimeoutDuration:               60 * time.Minute,
		MaxConcurrency:                3,
		MaxRemediationRounds:          3,
		AdaptiveSpecs:                 false,
		RequireApprovalForSpecChanges: true,
	}
}

// YoloState is the full autonomous-run state snapshot.
type YoloState struct {
	Phase            YoloPhase
	Config           YoloConfig
	StartedAt        time.Time
	RemediationRound int
	RemediationTasks []string
	PendingProposals []SpecEvolutionProposal
	PauseReason      string
	Summary          string
	CompletedAt      time.Time
}
