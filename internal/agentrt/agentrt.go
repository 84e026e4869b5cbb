// Package agentrt defines the external Agent Runtime interface. The runtime
// performs LLM calls and tool execution; the orchestration core only spawns,
// messages, and shuts down sessions through this interface (it never
// inspects tokens or model output directly — that crosses into the quality
// gate / health monitor, which receive pre-digested signals instead).
package agentrt

import (
	"context"

	"github.com/teamforge/core/internal/types"
)

// TeammateSpec describes the session to spawn.
type TeammateSpec struct {
	TeamID     string
	Role       types.TeammateRole
	ModelID    string
	ProviderID string
	Prompt     string
	SkillSlugs []string
}

// SessionHandle is an opaque handle to a spawned agent session.
type SessionHandle string

// Runtime is the injected callback interface for the agent runtime.
type Runtime interface {
	Spawn(ctx context.Context, spec TeammateSpec) (SessionHandle, error)
	Send(ctx context.Context, session SessionHandle, message string) error
	Shutdown(ctx context.Context, session SessionHandle) error
}
