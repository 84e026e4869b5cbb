// Package throttle implements the three-layer tool-call throttle: a hard,
// un-gameable per-tool lifetime budget (layer 1), a wall-clock
// minimum-interval floor (layer 1.5), and a secondary AIMD sliding-window
// congestion controller (layer 2). Conceptually grounded on
// orc/internal/executor's deterministic backpressure checks (quality
// feedback gating further iterations, internal/executor/backpressure.go) and
// cross-phase retry bookkeeping (internal/executor/retry.go), adapted here
// into a call-budget gate consulted before every tool invocation rather than
// a post-hoc test/lint/build check.
package throttle

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/teamforge/core/internal/config"
	"github.com/teamforge/core/internal/types"
)

// clock abstracts time.Now so tests are deterministic.
type clock func() time.Time

// blockReasonTemplate is the required phrasing for a hard-budget block (I5):
// it must mention synthesizing findings, the team lead, and SendMessage.
const blockReasonTemplate = "Tool call budget exhausted for %s. Synthesize your findings and send them to the team-lead via SendMessage."

const defaultHardBlockReason = "Tool %s blocked — try a different tool or synthesize your findings."

// CheckResult is the outcome of a Check call.
type CheckResult struct {
	Allowed bool
	Reason  string
}

// ToolState is the observable snapshot returned by GetToolState.
type ToolState struct {
	Budget         int
	CallsInWindow  int
	Blocked        bool
	CooldownActive bool
	SlowStart      bool
	TotalCalls     int
	MaxCalls       int
}

// Throttle is the per-teammate-session tool-call throttle.
type Throttle struct {
	cfg config.ThrottleConfig
	now clock

	mu       sync.Mutex
	states   map[string]*types.ThrottleToolState
	limiters map[string]*rate.Limiter
}

// New creates a throttle for one teammate session.
func New(cfg config.ThrottleConfig) *Throttle {
	return &Throttle{
		cfg:      cfg,
		now:      time.Now,
		states:   make(map[string]*types.ThrottleToolState),
		limiters: make(map[string]*rate.Limiter),
	}
}

// WithClock overrides the clock, for deterministic tests.
func (t *Throttle) WithClock(now clock) *Throttle {
	t.now = now
	return t
}

func (t *Throttle) hardCap(tool string) int {
	if cap, ok := t.cfg.MaxCallsPerTool[tool]; ok {
		return cap
	}
	return t.cfg.DefaultMaxCalls
}

func (t *Throttle) state(tool string) *types.ThrottleToolState {
	st, ok := t.states[tool]
	if !ok {
		st = &types.ThrottleToolState{Tool: tool, WindowBudget: t.cfg.InitialWindow, SlowStart: true}
		t.states[tool] = st
	}
	return st
}

// burstLimiter returns the per-tool wall-clock rate limiter, creating it on
// first use. Disabled (always-allow) when MinCallInterval is unset.
func (t *Throttle) burstLimiter(tool string) *rate.Limiter {
	lim, ok := t.limiters[tool]
	if !ok {
		limit := rate.Inf
		if t.cfg.MinCallInterval > 0 {
			limit = rate.Every(t.cfg.MinCallInterval)
		}
		lim = rate.NewLimiter(limit, 1)
		t.limiters[tool] = lim
	}
	return lim
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// Check consults every layer before a tool call is allowed to proceed.
// input is the tool's raw input; only its first 100 characters
// are retained/considered.
func (t *Throttle) Check(tool, input string) CheckResult {
	t.mu.Lock()
	defer t.mu.Unlock()

	prefix := truncate(input, 100)
	st := t.state(tool)
	now := t.now()

	// External hard block (set by the Health Monitor) always wins.
	if st.Blocked {
		reason := st.BlockReason
		if reason == "" {
			reason = fmt.Sprintf(defaultHardBlockReason, tool)
		}
		return CheckResult{Allowed: false, Reason: reason}
	}

	// Layer 1: hard lifetime budget. Un-gameable — not reset by input
	// variation or by intervening successes.
	cap := t.hardCap(tool)
	if st.LifetimeCalls >= cap {
		st.Blocked = true
		st.BlockReason = fmt.Sprintf(blockReasonTemplate, tool)
		return CheckResult{Allowed: false, Reason: st.BlockReason}
	}

	// Layer 1.5: wall-clock burst floor. Independent of the AIMD window's
	// bookkeeping, this catches a burst that arrives faster than any window
	// accounting would react to (e.g. a runaway loop issuing calls with no
	// delay at all). AllowN only consumes the token when it returns true, so
	// a denied call here never counts against the budget below.
	lim := t.burstLimiter(tool)
	if !lim.AllowN(now, 1) {
		return CheckResult{Allowed: false, Reason: fmt.Sprintf("tool %s calls arriving faster than the minimum interval", tool)}
	}

	// Layer 2: AIMD sliding window. Drop calls older than the window from
	// consideration (they don't count toward budget consumption, but we
	// retain up to types.MaxRecentToolCalls of them for similarity checks).
	cutoff := now.Add(-t.cfg.WindowPeriod)
	windowCalls := 0
	similarToRecent := false
	for i := len(st.RecentCalls) - 1; i >= 0; i-- {
		rc := st.RecentCalls[i]
		if rc.Timestamp.Before(cutoff) {
			break
		}
		windowCalls++
	}
	recentN := st.RecentCalls
	if len(recentN) > 3 {
		recentN = recentN[len(recentN)-3:]
	}
	for _, rc := range recentN {
		if rc.InputPrefix == prefix {
			similarToRecent = true
			break
		}
	}

	if now.Before(st.CooldownUntil) {
		return CheckResult{Allowed: false, Reason: fmt.Sprintf("tool %s is in cooldown until window budget recovers", tool)}
	}

	if windowCalls >= st.WindowBudget && similarToRecent {
		st.WindowBudget = maxInt(st.WindowBudget/2, t.cfg.InitialWindow)
		st.CooldownUntil = now.Add(t.cfg.Cooldown)
		st.BackoffCount++
		if st.BackoffCount > t.cfg.MaxBackoffs {
			st.Blocked = true
			st.BlockReason = fmt.Sprintf(defaultHardBlockReason, tool)
			return CheckResult{Allowed: false, Reason: st.BlockReason}
		}
		return CheckResult{Allowed: false, Reason: fmt.Sprintf("tool %s window budget exhausted, backing off", tool)}
	}

	// Allowed: record the call.
	st.LifetimeCalls++
	st.RecentCalls = append(st.RecentCalls, types.ToolCallRecord{Timestamp: now, InputPrefix: prefix})
	if len(st.RecentCalls) > types.MaxRecentToolCalls {
		st.RecentCalls = st.RecentCalls[len(st.RecentCalls)-types.MaxRecentToolCalls:]
	}

	// A diverse (non-similar) success grows the window: doubles during
	// slow-start up to ssthresh, then +1 per success up to maxWindow. A call
	// with no earlier call to compare against does not grow it.
	if !similarToRecent && len(recentN) > 0 {
		if st.SlowStart && st.WindowBudget < t.cfg.SSThresh {
			st.WindowBudget = minInt(st.WindowBudget*2, t.cfg.SSThresh)
		} else {
			st.SlowStart = false
			st.WindowBudget = minInt(st.WindowBudget+1, t.cfg.MaxWindow)
		}
	}

	return CheckResult{Allowed: true}
}

// HardBlockTool is called by the Health Monitor to externally block a tool,
// independent of the budget/window state. Other tools keep working.
func (t *Throttle) HardBlockTool(tool, reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.state(tool)
	st.Blocked = true
	if reason == "" {
		reason = fmt.Sprintf(defaultHardBlockReason, tool)
	}
	st.BlockReason = reason
}

// GetToolState returns an observable snapshot for prompt injection / debugging.
func (t *Throttle) GetToolState(tool string) ToolState {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.state(tool)
	now := t.now()
	cutoff := now.Add(-t.cfg.WindowPeriod)
	inWindow := 0
	for i := len(st.RecentCalls) - 1; i >= 0; i-- {
		if st.RecentCalls[i].Timestamp.Before(cutoff) {
			break
		}
		inWindow++
	}
	return ToolState{
		Budget:         st.WindowBudget,
		CallsInWindow:  inWindow,
		Blocked:        st.Blocked,
		CooldownActive: now.Before(st.CooldownUntil),
		SlowStart:      st.SlowStart,
		TotalCalls:     st.LifetimeCalls,
		MaxCalls:       t.hardCap(tool),
	}
}

// GetResolvedBudgets returns the merged hard-cap map plus a "_default" entry,
// suitable for injection into agent prompts.
func (t *Throttle) GetResolvedBudgets() map[string]int {
	out := make(map[string]int, len(t.cfg.MaxCallsPerTool)+1)
	for tool, cap := range t.cfg.MaxCallsPerTool {
		out[tool] = cap
	}
	out["_default"] = t.cfg.DefaultMaxCalls
	return out
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// ValidateBlockReason checks the I5 invariant phrasing (used by tests).
func ValidateBlockReason(reason string) bool {
	lower := strings.ToLower(reason)
	return strings.Contains(lower, "synthesize your findings") &&
		strings.Contains(lower, "team-lead") &&
		strings.Contains(lower, "sendmessage")
}
