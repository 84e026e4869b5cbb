// Package config assembles the orchestration core's configuration: the
// quality-gate stage weights, the throttle's hard budgets and AIMD window,
// and the health monitor's timing thresholds and model-aware stall profiles
// (the YOLO circuit-breaker defaults live in types.DefaultYoloConfig, not
// here). Partial, user-supplied structs are deep-merged
// over the built-in defaults with dario.cat/mergo (the teacher, orc, hand-
// rolls its config merge field-by-field in internal/config/resolution.go;
// our nested stage/threshold structs are exactly mergo's use case, so we
// promote it from the pack's indirect dependency set to a direct one).
package config

import (
	"time"

	"dario.cat/mergo"

	"github.com/teamforge/core/internal/types"
)

// StageConfig is the per-stage configuration merged into the gate pipeline.
type StageConfig struct {
	Enabled bool
	Weight  int
	Binary  bool
}

// GateConfig configures the quality-gate pipeline.
type GateConfig struct {
	Stages          map[types.StageName]StageConfig
	PassThreshold   int
	MaxReviewCycles int

	// Bypass sub-thresholds, tightened by learning guidance.
	EnforceTDD                bool
	ArchitectureMaxDiffLines  int
	ErrorsRequirePassingTests bool
	ErrorsMinTestCount        int
}

// minPassThreshold and maxPassThreshold bound PassThreshold after merge.
const (
	minPassThreshold = 70
	maxPassThreshold = 95
)

// DefaultGateConfig returns the documented default stage weights.
func DefaultGateConfig() GateConfig {
	return GateConfig{
		Stages: map[types.StageName]StageConfig{
			types.StageSyntax:         {Enabled: true, Weight: 0, Binary: true},
			types.StageTests:          {Enabled: true, Weight: 20, Binary: true},
			types.StageArchitecture:   {Enabled: true, Weight: 25},
			types.StageSimplicity:     {Enabled: true, Weight: 10},
			types.StageErrors:         {Enabled: true, Weight: 25},
			types.StageCompleteness:   {Enabled: true, Weight: 25},
			types.StageSpecCompliance: {Enabled: true, Weight: 20},
			types.StageTraceability:   {Enabled: true, Weight: 15},
			types.StageRolloutSafety:  {Enabled: true, Weight: 10},
		},
		PassThreshold:            90,
		MaxReviewCycles:          3,
		ArchitectureMaxDiffLines: 400,
		ErrorsMinTestCount:       1,
	}
}

// ClampPassThreshold clamps a threshold to [70, 95].
func ClampPassThreshold(v int) int {
	if v < minPassThreshold {
		return minPassThreshold
	}
	if v > maxPassThreshold {
		return maxPassThreshold
	}
	return v
}

// MergeGateConfig deep-merges partial (user-supplied, possibly zero-valued
// fields) over base and clamps PassThreshold. Stage fields merge by name: a
// stage present in partial.Stages overrides only that stage's entry via
// mergo (so e.g. a partial {Weight: 30} for "architecture" leaves that
// stage's Enabled/Binary untouched), other stages retain base's values
// unchanged. Top-level scalars use explicit non-zero overrides since mergo's
// WithOverride would also clobber an intentionally-false bool with base's
// true default.
func MergeGateConfig(base GateConfig, partial *GateConfig) (GateConfig, error) {
	result := base
	if partial == nil {
		return result, nil
	}
	merged := make(map[types.StageName]StageConfig, len(base.Stages))
	for name, cfg := range base.Stages {
		merged[name] = cfg
	}
	for name, cfg := range partial.Stages {
		existing := merged[name]
		if err := mergo.Merge(&existing, cfg, mergo.WithOverride); err != nil {
			return result, err
		}
		merged[name] = existing
	}
	result.Stages = merged
	result.PassThreshold = ClampPassThreshold(pickNonZeroInt(partial.PassThreshold, base.PassThreshold))
	if partial.MaxReviewCycles > 0 {
		result.MaxReviewCycles = partial.MaxReviewCycles
	}
	if partial.ArchitectureMaxDiffLines > 0 {
		result.ArchitectureMaxDiffLines = partial.ArchitectureMaxDiffLines
	}
	if partial.ErrorsMinTestCount > 0 {
		result.ErrorsMinTestCount = partial.ErrorsMinTestCount
	}
	result.EnforceTDD = result.EnforceTDD || partial.EnforceTDD
	result.ErrorsRequirePassingTests = result.ErrorsRequirePassingTests || partial.ErrorsRequirePassingTests
	return result, nil
}

func pickNonZeroInt(preferred, fallback int) int {
	if preferred != 0 {
		return preferred
	}
	return fallback
}

// ThrottleConfig configures the tool-call throttle.
type ThrottleConfig struct {
	MaxCallsPerTool map[string]int // hard lifetime cap by tool name
	DefaultMaxCalls int            // cap for tools not listed

	InitialWindow int
	SSThresh      int
	MaxWindow     int
	WindowPeriod  time.Duration
	MaxBackoffs   int
	Cooldown      time.Duration

	// MinCallInterval is a wall-clock floor between calls to the same tool,
	// independent of the AIMD window — it catches a burst that arrives
	// faster than any window accounting would react to.
	MinCallInterval time.Duration
}

// DefaultThrottleConfig returns the documented defaults.
func DefaultThrottleConfig() ThrottleConfig {
	return ThrottleConfig{
		MaxCallsPerTool: map[string]int{
			"WebSearch": 7,
			"WebFetch":  10,
			"Bash":      10,
			"Read":      20,
			"Grep":      20,
			"Glob":      20,
			"Edit":      15,
			"Write":     10,
		},
		DefaultMaxCalls: 15,
		InitialWindow:   2,
		SSThresh:        8,
		MaxWindow:       15,
		WindowPeriod:    60 * time.Second,
		MaxBackoffs:     3,
		Cooldown:        10 * time.Second,
		MinCallInterval: 200 * time.Millisecond,
	}
}

// MergeThrottleConfig overlays user overrides onto base.
func MergeThrottleConfig(base ThrottleConfig, overrides map[string]int) ThrottleConfig {
	result := base
	merged := make(map[string]int, len(base.MaxCallsPerTool)+len(overrides))
	for k, v := range base.MaxCallsPerTool {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	result.MaxCallsPerTool = merged
	return result
}

// StallProfile defines the model-aware stall timing for one model family.
type StallProfile struct {
	ExpectedSilence time.Duration
	SoftProbe       time.Duration
	HardStall       time.Duration
}

// HealthConfig configures the health monitor.
type HealthConfig struct {
	CheckInterval               time.Duration
	StallTimeout                time.Duration
	ErrorLoopThreshold          int
	RetryStormWarnThreshold     int
	RetryStormResearchToolsWarn int
	RetryStormThrottleOffset    int
	RetryStormKillOffset        int
	ContextWarningThreshold     float64
	DebounceInterval            time.Duration

	// StallProfiles keyed by lowercase model-id prefix.
	StallProfiles map[string]StallProfile
}

// ResearchTools get a relaxed retry-storm warn threshold (10 instead of 5)
// because legitimately exploring agents repeat similar searches.
var ResearchTools = map[string]bool{
	"WebSearch": true,
	"WebFetch":  true,
	"Read":      true,
	"Grep":      true,
	"Glob":      true,
}

// DefaultHealthConfig returns the documented defaults.
func DefaultHealthConfig() HealthConfig {
	return HealthConfig{
		CheckInterval:               30 * time.Second,
		StallTimeout:                300 * time.Second,
		ErrorLoopThreshold:          3,
		RetryStormWarnThreshold:     5,
		RetryStormResearchToolsWarn: 10,
		RetryStormThrottleOffset:    3,
		RetryStormKillOffset:        7,
		ContextWarningThreshold:     0.85,
		DebounceInterval:            120 * time.Second,
		StallProfiles: map[string]StallProfile{
			"claude-haiku":  {15 * time.Second, 60 * time.Second, 180 * time.Second},
			"claude-sonnet": {30 * time.Second, 90 * time.Second, 300 * time.Second},
			"claude-opus":   {45 * time.Second, 120 * time.Second, 300 * time.Second},
			"gpt-":          {45 * time.Second, 120 * time.Second, 360 * time.Second},
			"o1":            {60 * time.Second, 150 * time.Second, 420 * time.Second},
			"o3":            {60 * time.Second, 150 * time.Second, 420 * time.Second},
			"o4":            {60 * time.Second, 150 * time.Second, 420 * time.Second},
			"codex":         {60 * time.Second, 150 * time.Second, 360 * time.Second},
			"gemini":        {30 * time.Second, 90 * time.Second, 300 * time.Second},
			"deepseek":      {45 * time.Second, 120 * time.Second, 360 * time.Second},
		},
	}
}

// defaultStallProfile is used when no model-id prefix matches.
var defaultStallProfile = StallProfile{30 * time.Second, 120 * time.Second, 300 * time.Second}

// MergeStallProfiles deep-merges user overrides (keyed by model id) over the
// built-in profile table.
func MergeStallProfiles(base map[string]StallProfile, overrides map[string]StallProfile) map[string]StallProfile {
	merged := make(map[string]StallProfile, len(base)+len(overrides))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range overrides {
		existing, ok := merged[k]
		if !ok {
			merged[k] = v
			continue
		}
		if v.ExpectedSilence > 0 {
			existing.ExpectedSilence = v.ExpectedSilence
		}
		if v.SoftProbe > 0 {
			existing.SoftProbe = v.SoftProbe
		}
		if v.HardStall > 0 {
			existing.HardStall = v.HardStall
		}
		merged[k] = existing
	}
	return merged
}
