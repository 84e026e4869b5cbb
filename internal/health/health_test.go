package health_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teamforge/core/internal/config"
	"github.com/teamforge/core/internal/events"
	"github.com/teamforge/core/internal/health"
)

type capture struct {
	mu     sync.Mutex
	topics []events.Topic
}

func (c *capture) sub(bus *events.Bus, topics ...events.Topic) {
	for _, t := range topics {
		topic := t
		bus.Subscribe(topic, func(any) {
			c.mu.Lock()
			c.topics = append(c.topics, topic)
			c.mu.Unlock()
		})
	}
}

func (c *capture) has(topic events.Topic) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range c.topics {
		if t == topic {
			return true
		}
	}
	return false
}

func TestCheckHealth_StallDetection(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	bus := events.NewBus()
	cap := &capture{}
	cap.sub(bus, events.TopicHealthStall, events.TopicHealthSoftProbe)

	cfg := config.DefaultHealthConfig()
	mon := health.New(cfg, bus).WithClock(func() time.Time { return now })
	mon.RecordToolCall("team-1", "tm-1", "builder", "task-1", "Bash", "ls")

	now = now.Add(400 * time.Second) // past claude-sonnet hard stall (300s)
	mon.WithClock(func() time.Time { return now })
	mon.CheckHealth("team-1", map[string]string{"tm-1": "claude-sonnet-4-6"})

	assert.True(t, cap.has(events.TopicHealthStall))
}

func TestCheckHealth_ErrorLoop(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	bus := events.NewBus()
	cap := &capture{}
	cap.sub(bus, events.TopicHealthErrorLoop)

	cfg := config.DefaultHealthConfig()
	mon := health.New(cfg, bus).WithClock(func() time.Time { return now })

	for i := 0; i < cfg.ErrorLoopThreshold; i++ {
		mon.RecordToolResult("team-1", "tm-1", "builder", "Bash", true, "error output")
	}
	mon.CheckHealth("team-1", map[string]string{"tm-1": "claude-sonnet-4-6"})
	assert.True(t, cap.has(events.TopicHealthErrorLoop))

	st, ok := mon.GetState("team-1", "tm-1")
	require.True(t, ok)
	assert.Equal(t, cfg.ErrorLoopThreshold, st.ConsecutiveErrors)
}

func TestRecordToolResult_SuccessResetsConsecutiveErrors(t *testing.T) {
	bus := events.NewBus()
	cfg := config.DefaultHealthConfig()
	mon := health.New(cfg, bus)

	mon.RecordToolResult("team-1", "tm-1", "builder", "Bash", true, "boom")
	mon.RecordToolResult("team-1", "tm-1", "builder", "Bash", false, "ok")

	st, ok := mon.GetState("team-1", "tm-1")
	require.True(t, ok)
	assert.Equal(t, 0, st.ConsecutiveErrors)
}

func TestRecordToolCall_ApproachChangeResetsStormCount(t *testing.T) {
	bus := events.NewBus()
	cfg := config.DefaultHealthConfig()
	mon := health.New(cfg, bus)

	mon.RecordToolCall("team-1", "tm-1", "builder", "task-1", "Bash", "git status")
	mon.RecordToolCall("team-1", "tm-1", "builder", "task-1", "Bash", "git status")
	st, ok := mon.GetState("team-1", "tm-1")
	require.True(t, ok)
	assert.Equal(t, 2, st.StormCount, "storm count reflects both identical calls, not just the repeat")

	mon.RecordToolCall("team-1", "tm-1", "builder", "task-1", "Bash", "git diff --stat")
	st, _ = mon.GetState("team-1", "tm-1")
	assert.Equal(t, 0, st.StormCount, "changing approach resets storm count")
}

func TestCheckHealth_RetryStormThresholds(t *testing.T) {
	bus := events.NewBus()
	cap := &capture{}
	cap.sub(bus, events.TopicHealthRetryStorm, events.TopicHealthRetryStormThrottle, events.TopicHealthRetryStormKill)

	cfg := config.DefaultHealthConfig()
	mon := health.New(cfg, bus)

	repeat := func(n int) {
		for i := 0; i < n; i++ {
			mon.RecordToolCall("team-1", "tm-1", "builder", "task-1", "Bash", "flaky command")
		}
	}

	// Defaults: warn=5, throttle=warn+3=8, kill=warn+7=12.
	repeat(4)
	mon.CheckHealth("team-1", map[string]string{"tm-1": "claude-sonnet-4-6"})
	assert.False(t, cap.has(events.TopicHealthRetryStorm), "four identical calls must not yet warn")

	repeat(1) // 5th identical call
	mon.CheckHealth("team-1", map[string]string{"tm-1": "claude-sonnet-4-6"})
	assert.True(t, cap.has(events.TopicHealthRetryStorm), "fifth identical call hits the warn threshold")
	assert.False(t, cap.has(events.TopicHealthRetryStormThrottle))

	repeat(3) // 8th identical call
	mon.CheckHealth("team-1", map[string]string{"tm-1": "claude-sonnet-4-6"})
	assert.True(t, cap.has(events.TopicHealthRetryStormThrottle), "eighth identical call hits the throttle threshold")
	assert.False(t, cap.has(events.TopicHealthRetryStormKill))

	repeat(4) // 12th identical call
	mon.CheckHealth("team-1", map[string]string{"tm-1": "claude-sonnet-4-6"})
	assert.True(t, cap.has(events.TopicHealthRetryStormKill), "twelfth identical call hits the kill threshold")
}

func TestCheckHealth_ContextExhaustion(t *testing.T) {
	bus := events.NewBus()
	cap := &capture{}
	cap.sub(bus, events.TopicHealthContextExhaustion)

	cfg := config.DefaultHealthConfig()
	mon := health.New(cfg, bus)
	mon.RecordContextUsage("team-1", "tm-1", "builder", 0.9)
	mon.CheckHealth("team-1", map[string]string{"tm-1": "claude-sonnet-4-6"})

	assert.True(t, cap.has(events.TopicHealthContextExhaustion))
}

func TestStartStopMonitoring_Idempotent(t *testing.T) {
	bus := events.NewBus()
	cfg := config.DefaultHealthConfig()
	cfg.CheckInterval = 10 * time.Millisecond
	mon := health.New(cfg, bus)

	mon.StartMonitoring("team-1", func() map[string]string { return nil })
	mon.StartMonitoring("team-1", func() map[string]string { return nil }) // no-op second call
	mon.StopMonitoring("team-1")
	mon.StopMonitoring("team-1") // no-op second call
	mon.Dispose()
}

func TestRemoveTeammateAndClearTeam(t *testing.T) {
	bus := events.NewBus()
	cfg := config.DefaultHealthConfig()
	mon := health.New(cfg, bus)

	mon.RecordToolCall("team-1", "tm-1", "builder", "task-1", "Bash", "ls")
	mon.RemoveTeammate("team-1", "tm-1")
	_, ok := mon.GetState("team-1", "tm-1")
	assert.False(t, ok)

	mon.RecordToolCall("team-1", "tm-2", "reviewer", "task-1", "Read", "file.go")
	mon.ClearTeam("team-1")
	_, ok = mon.GetState("team-1", "tm-2")
	assert.False(t, ok)
}
