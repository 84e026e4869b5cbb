package throttle_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teamforge/core/internal/config"
	"github.com/teamforge/core/internal/throttle"
)

func TestCheck_HardBudgetBlocksAtCap(t *testing.T) {
	cfg := config.DefaultThrottleConfig()
	cfg.MaxCallsPerTool["WebSearch"] = 2
	cfg.MinCallInterval = 0
	th := throttle.New(cfg)

	for i := 0; i < 2; i++ {
		res := th.Check("WebSearch", "distinct query "+string(rune('a'+i)))
		require.True(t, res.Allowed, "call %d should be allowed within budget", i)
	}

	res := th.Check("WebSearch", "one more query")
	assert.False(t, res.Allowed)
	assert.True(t, throttle.ValidateBlockReason(res.Reason), "reason must mention synthesis/team-lead/SendMessage: %q", res.Reason)
}

func TestCheck_HardBudgetIsUngameable(t *testing.T) {
	cfg := config.DefaultThrottleConfig()
	cfg.MaxCallsPerTool["Read"] = 1
	cfg.MinCallInterval = 0
	th := throttle.New(cfg)

	require.True(t, th.Check("Read", "file_a.go").Allowed)
	res := th.Check("Read", "completely different file_b.go")
	assert.False(t, res.Allowed, "varying the input must not reset the lifetime budget")
}

func TestCheck_SlowStartWindowGrowth(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := config.DefaultThrottleConfig()
	cfg.MaxCallsPerTool["Bash"] = 100
	cfg.MinCallInterval = 0
	th := throttle.New(cfg).WithClock(func() time.Time { return now })

	require.Equal(t, 2, th.GetToolState("Bash").Budget)
	require.True(t, th.Check("Bash", "cmd-1").Allowed)
	require.True(t, th.Check("Bash", "cmd-2").Allowed)
	assert.Equal(t, 4, th.GetToolState("Bash").Budget, "slow start doubles the window on diverse success")
}

func TestCheck_WindowExhaustionOnRepeatedSimilarCalls(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := config.DefaultThrottleConfig()
	cfg.MaxCallsPerTool["Bash"] = 100
	cfg.InitialWindow = 1
	cfg.MinCallInterval = 0
	th := throttle.New(cfg).WithClock(func() time.Time { return now })

	require.True(t, th.Check("Bash", "git status").Allowed)
	// Second identical call exceeds the 1-call window budget with a similar
	// recent call present -> backoff.
	res := th.Check("Bash", "git status")
	assert.False(t, res.Allowed)
	st := th.GetToolState("Bash")
	assert.True(t, st.CooldownActive)
}

func TestCheck_MaxBackoffsHardBlocks(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := config.DefaultThrottleConfig()
	cfg.MaxCallsPerTool["Bash"] = 1000
	cfg.InitialWindow = 1
	cfg.MaxBackoffs = 2
	cfg.Cooldown = 0
	cfg.MinCallInterval = 0
	th := throttle.New(cfg).WithClock(func() time.Time { return now })

	require.True(t, th.Check("Bash", "git status").Allowed)
	for i := 0; i < cfg.MaxBackoffs; i++ {
		res := th.Check("Bash", "git status")
		assert.False(t, res.Allowed)
	}
	res := th.Check("Bash", "git status")
	assert.False(t, res.Allowed)
	assert.True(t, th.GetToolState("Bash").Blocked)
}

func TestHardBlockTool_OverridesLayers(t *testing.T) {
	cfg := config.DefaultThrottleConfig()
	th := throttle.New(cfg)
	th.HardBlockTool("Edit", "")
	res := th.Check("Edit", "anything")
	assert.False(t, res.Allowed)
	assert.Contains(t, res.Reason, "Edit")
}

func TestCheck_MinCallIntervalBlocksBurst(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := config.DefaultThrottleConfig()
	cfg.MaxCallsPerTool["Bash"] = 1000
	cfg.MinCallInterval = 200 * time.Millisecond
	th := throttle.New(cfg).WithClock(func() time.Time { return now })

	require.True(t, th.Check("Bash", "cmd-1").Allowed)
	res := th.Check("Bash", "cmd-2")
	assert.False(t, res.Allowed, "a second call at the same instant must be blocked by the wall-clock floor")
	assert.Contains(t, res.Reason, "Bash")

	now = now.Add(200 * time.Millisecond)
	assert.True(t, th.Check("Bash", "cmd-3").Allowed, "a call after the interval elapses should be allowed again")
}

func TestCheck_MinCallIntervalDisabledWhenZero(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := config.DefaultThrottleConfig()
	cfg.MaxCallsPerTool["Bash"] = 1000
	cfg.MinCallInterval = 0
	th := throttle.New(cfg).WithClock(func() time.Time { return now })

	require.True(t, th.Check("Bash", "cmd-1").Allowed)
	assert.True(t, th.Check("Bash", "cmd-2").Allowed, "MinCallInterval of 0 disables the burst floor entirely")
}

func TestGetResolvedBudgets_IncludesDefault(t *testing.T) {
	cfg := config.DefaultThrottleConfig()
	th := throttle.New(cfg)
	budgets := th.GetResolvedBudgets()
	assert.Equal(t, cfg.DefaultMaxCalls, budgets["_default"])
	assert.Equal(t, cfg.MaxCallsPerTool["WebSearch"], budgets["WebSearch"])
}
