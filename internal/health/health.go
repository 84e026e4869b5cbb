// Package health implements the Health Monitor: a per-team interval timer
// that watches teammate activity for stalls, error loops, and retry storms,
// and reports context-window exhaustion. Conceptually grounded on
// orc/internal/executor's retry/backpressure bookkeeping
// (internal/executor/retry.go, internal/executor/backpressure.go) — that
// package tracks consecutive failures across phase retries to decide when to
// stop retrying; here the same "consecutive similar failure" shape is
// adapted into a live monitor that watches tool calls/results instead of
// phase outcomes, and emits debounced events on the shared bus rather than
// returning a verdict to a caller.
package health

import (
	"strings"
	"sync"
	"time"

	"github.com/teamforge/core/internal/config"
	"github.com/teamforge/core/internal/events"
	"github.com/teamforge/core/internal/types"
)

type clock func() time.Time

// key identifies one teammate's state.
type key struct {
	teamID     string
	teammateID string
}

type debounceKey struct {
	key
	issue types.HealthIssueType
}

// Monitor is the health monitor for one process (potentially many teams).
type Monitor struct {
	cfg config.HealthConfig
	bus *events.Bus
	now clock

	mu        sync.Mutex
	states    map[key]*types.HealthState
	lastEmit  map[debounceKey]time.Time
	tickers   map[string]*time.Ticker
	stopChans map[string]chan struct{}
}

// New creates a health monitor publishing onto bus.
func New(cfg config.HealthConfig, bus *events.Bus) *Monitor {
	return &Monitor{
		cfg:       cfg,
		bus:       bus,
		now:       time.Now,
		states:    make(map[key]*types.HealthState),
		lastEmit:  make(map[debounceKey]time.Time),
		tickers:   make(map[string]*time.Ticker),
		stopChans: make(map[string]chan struct{}),
	}
}

// WithClock overrides the clock, for deterministic tests.
func (m *Monitor) WithClock(now clock) *Monitor {
	m.now = now
	return m
}

func (m *Monitor) stateFor(teamID, teammateID, teammateName string) *types.HealthState {
	k := key{teamID, teammateID}
	st, ok := m.states[k]
	if !ok {
		st = &types.HealthState{TeamID: teamID, TeammateID: teammateID, TeammateName: teammateName, LastActivityAt: m.now()}
		m.states[k] = st
	}
	return st
}

// stallProfile finds the longest matching model-id prefix, falling back to
// the built-in default when nothing matches.
func stallProfile(cfg config.HealthConfig, modelID string) config.StallProfile {
	lower := strings.ToLower(modelID)
	var best config.StallProfile
	bestLen := -1
	found := false
	for prefix, profile := range cfg.StallProfiles {
		if strings.HasPrefix(lower, prefix) && len(prefix) > bestLen {
			best = profile
			bestLen = len(prefix)
			found = true
		}
	}
	if !found {
		return config.StallProfile{ExpectedSilence: 30 * time.Second, SoftProbe: 120 * time.Second, HardStall: 300 * time.Second}
	}
	return best
}

// RecordToolCall records a tool invocation, updating the retry-storm
// detector. A change of approach (a different input prefix) resets the storm
// stage back to none — the detector targets teammates stuck repeating
// themselves, not teammates doing varied exploratory work. The tool name is
// not compared: the same input prefix on a different tool continues the run.
func (m *Monitor) RecordToolCall(teamID, teammateID, teammateName, taskID, tool, input string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.stateFor(teamID, teammateID, teammateName)
	now := m.now()
	st.LastActivityAt = now
	st.CurrentTaskID = taskID

	prefix := input
	if len(prefix) > 100 {
		prefix = prefix[:100]
	}

	st.RecentToolCalls = append(st.RecentToolCalls, types.ToolCallRecord{Timestamp: now, InputPrefix: prefix})
	if len(st.RecentToolCalls) > types.MaxRecentToolCalls {
		st.RecentToolCalls = st.RecentToolCalls[len(st.RecentToolCalls)-types.MaxRecentToolCalls:]
	}

	// StormCount counts how many calls from the tail of the ring (including
	// this one) share the same input prefix, so it reflects this call, not
	// the one before it.
	run := 0
	for i := len(st.RecentToolCalls) - 1; i >= 0 && st.RecentToolCalls[i].InputPrefix == prefix; i-- {
		run++
	}
	if run > 1 {
		st.StormCount = run
	} else {
		st.StormCount = 0
		st.StormStage = types.StormNone
	}
}

// RecordToolResult records a tool outcome, tracking consecutive errors and a
// bounded preview ring of recent results.
func (m *Monitor) RecordToolResult(teamID, teammateID, teammateName, tool string, isError bool, preview string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.stateFor(teamID, teammateID, teammateName)
	now := m.now()
	st.LastActivityAt = now

	if len(preview) > 500 {
		preview = preview[:500]
	}
	st.RecentResults = append(st.RecentResults, types.ToolResultRecord{Timestamp: now, Tool: tool, IsError: isError, Preview: preview})
	if len(st.RecentResults) > types.MaxRecentToolCalls {
		st.RecentResults = st.RecentResults[len(st.RecentResults)-types.MaxRecentToolCalls:]
	}

	if isError {
		st.ConsecutiveErrors++
		st.LastErrorTool = tool
	} else {
		st.ConsecutiveErrors = 0
		st.LastErrorTool = ""
	}
}

// RecordContextUsage records the teammate's latest observed context-window
// fraction (0..1), used for context-exhaustion detection.
func (m *Monitor) RecordContextUsage(teamID, teammateID, teammateName string, usage float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.stateFor(teamID, teammateID, teammateName)
	st.ContextUsage = usage
}

func (m *Monitor) debounced(dk debounceKey, now time.Time) bool {
	last, ok := m.lastEmit[dk]
	if ok && now.Sub(last) < m.cfg.DebounceInterval {
		return true
	}
	m.lastEmit[dk] = now
	return false
}

func (m *Monitor) pushIssue(st *types.HealthState, issue types.HealthIssue) {
	st.Issues = append(st.Issues, issue)
	if len(st.Issues) > types.MaxHealthIssues {
		st.Issues = st.Issues[len(st.Issues)-types.MaxHealthIssues:]
	}
}

// CheckHealth runs one detection pass over every tracked teammate on the
// team and publishes debounced events for any issue found.
func (m *Monitor) CheckHealth(teamID string, modelByTeammate map[string]string) {
	m.mu.Lock()
	now := m.now()
	var toPublish []struct {
		topic   events.Topic
		payload any
	}
	for k, st := range m.states {
		if k.teamID != teamID {
			continue
		}
		m.checkStall(k, st, modelByTeammate[k.teammateID], now, &toPublish)
		m.checkErrorLoop(k, st, now, &toPublish)
		m.checkRetryStorm(k, st, now, &toPublish)
		m.checkContextExhaustion(k, st, now, &toPublish)
	}
	m.mu.Unlock()

	for _, p := range toPublish {
		m.bus.Publish(p.topic, p.payload)
	}
}

type publishEntry = struct {
	topic   events.Topic
	payload any
}

func (m *Monitor) checkStall(k key, st *types.HealthState, modelID string, now time.Time, out *[]publishEntry) {
	profile := stallProfile(m.cfg, modelID)
	silence := now.Sub(st.LastActivityAt)

	switch {
	case silence >= profile.HardStall:
		dk := debounceKey{k, types.IssueStall}
		if m.debounced(dk, now) {
			return
		}
		m.pushIssue(st, types.HealthIssue{Type: types.IssueStall, Timestamp: now, Detail: "no activity for " + silence.String()})
		*out = append(*out, publishEntry{events.TopicHealthStall, *st})
	case silence >= profile.SoftProbe:
		dk := debounceKey{k, types.IssueSoftProbe}
		if m.debounced(dk, now) {
			return
		}
		m.pushIssue(st, types.HealthIssue{Type: types.IssueSoftProbe, Timestamp: now, Detail: "no activity for " + silence.String()})
		*out = append(*out, publishEntry{events.TopicHealthSoftProbe, *st})
	}
}

func (m *Monitor) checkErrorLoop(k key, st *types.HealthState, now time.Time, out *[]publishEntry) {
	if st.ConsecutiveErrors < m.cfg.ErrorLoopThreshold {
		return
	}
	dk := debounceKey{k, types.IssueErrorLoop}
	if m.debounced(dk, now) {
		return
	}
	m.pushIssue(st, types.HealthIssue{Type: types.IssueErrorLoop, Timestamp: now, Detail: st.LastErrorTool + " failed " + itoa(st.ConsecutiveErrors) + " times in a row"})
	*out = append(*out, publishEntry{events.TopicHealthErrorLoop, *st})
}

func (m *Monitor) checkRetryStorm(k key, st *types.HealthState, now time.Time, out *[]publishEntry) {
	if st.StormCount == 0 {
		return
	}
	warnThreshold := m.cfg.RetryStormWarnThreshold
	if lastTool := lastCallTool(st); config.ResearchTools[lastTool] {
		warnThreshold = m.cfg.RetryStormResearchToolsWarn
	}

	killAt := warnThreshold + m.cfg.RetryStormKillOffset
	throttleAt := warnThreshold + m.cfg.RetryStormThrottleOffset

	switch {
	case st.StormCount >= killAt && st.StormStage != types.StormKilled:
		st.StormStage = types.StormKilled
		dk := debounceKey{k, types.IssueRetryStormKill}
		if m.debounced(dk, now) {
			return
		}
		m.pushIssue(st, types.HealthIssue{Type: types.IssueRetryStormKill, Timestamp: now, Detail: "repeated identical calls, kill threshold reached"})
		*out = append(*out, publishEntry{events.TopicHealthRetryStormKill, *st})
	case st.StormCount >= throttleAt && st.StormStage != types.StormThrottled && st.StormStage != types.StormKilled:
		st.StormStage = types.StormThrottled
		dk := debounceKey{k, types.IssueRetryStormThrottle}
		if m.debounced(dk, now) {
			return
		}
		m.pushIssue(st, types.HealthIssue{Type: types.IssueRetryStormThrottle, Timestamp: now, Detail: "repeated identical calls, throttling"})
		*out = append(*out, publishEntry{events.TopicHealthRetryStormThrottle, *st})
	case st.StormCount >= warnThreshold && st.StormStage == types.StormNone:
		st.StormStage = types.StormWarned
		dk := debounceKey{k, types.IssueRetryStorm}
		if m.debounced(dk, now) {
			return
		}
		m.pushIssue(st, types.HealthIssue{Type: types.IssueRetryStorm, Timestamp: now, Detail: "repeated identical calls, warning"})
		*out = append(*out, publishEntry{events.TopicHealthRetryStorm, *st})
	}
}

func (m *Monitor) checkContextExhaustion(k key, st *types.HealthState, now time.Time, out *[]publishEntry) {
	if st.ContextUsage < m.cfg.ContextWarningThreshold {
		return
	}
	dk := debounceKey{k, types.IssueContextExhaustion}
	if m.debounced(dk, now) {
		return
	}
	m.pushIssue(st, types.HealthIssue{Type: types.IssueContextExhaustion, Timestamp: now, Detail: "context usage above warning threshold"})
	*out = append(*out, publishEntry{events.TopicHealthContextExhaustion, *st})
}

func lastCallTool(st *types.HealthState) string {
	// RecentToolCalls only carries an input prefix, not the tool name; the
	// tool is threaded separately via RecordToolResult's Tool field instead.
	if n := len(st.RecentResults); n > 0 {
		return st.RecentResults[n-1].Tool
	}
	return ""
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// StartMonitoring begins a periodic CheckHealth loop for teamID. Calling it
// again for an already-monitored team is a no-op.
func (m *Monitor) StartMonitoring(teamID string, modelByTeammate func() map[string]string) {
	m.mu.Lock()
	if _, ok := m.tickers[teamID]; ok {
		m.mu.Unlock()
		return
	}
	ticker := time.NewTicker(m.cfg.CheckInterval)
	stop := make(chan struct{})
	m.tickers[teamID] = ticker
	m.stopChans[teamID] = stop
	m.mu.Unlock()

	go func() {
		for {
			select {
			case <-ticker.C:
				m.CheckHealth(teamID, modelByTeammate())
			case <-stop:
				return
			}
		}
	}()
}

// StopMonitoring halts the periodic loop for teamID. Idempotent.
func (m *Monitor) StopMonitoring(teamID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ticker, ok := m.tickers[teamID]; ok {
		ticker.Stop()
		delete(m.tickers, teamID)
	}
	if stop, ok := m.stopChans[teamID]; ok {
		close(stop)
		delete(m.stopChans, teamID)
	}
}

// RemoveTeammate discards tracked state for one teammate. Idempotent.
func (m *Monitor) RemoveTeammate(teamID, teammateID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, key{teamID, teammateID})
}

// ClearTeam discards all tracked state for a team, without stopping its
// monitoring loop (callers should StopMonitoring first if that's desired).
func (m *Monitor) ClearTeam(teamID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.states {
		if k.teamID == teamID {
			delete(m.states, k)
		}
	}
}

// Dispose stops every monitoring loop and discards all state. Idempotent.
func (m *Monitor) Dispose() {
	m.mu.Lock()
	teams := make([]string, 0, len(m.tickers))
	for teamID := range m.tickers {
		teams = append(teams, teamID)
	}
	m.mu.Unlock()
	for _, teamID := range teams {
		m.StopMonitoring(teamID)
	}
	m.mu.Lock()
	m.states = make(map[key]*types.HealthState)
	m.mu.Unlock()
}

// GetState returns a snapshot of one teammate's health state, if tracked.
func (m *Monitor) GetState(teamID, teammateID string) (types.HealthState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[key{teamID, teammateID}]
	if !ok {
		return types.HealthState{}, false
	}
	return *st, true
}
