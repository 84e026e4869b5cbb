package learning_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teamforge/core/internal/config"
	"github.com/teamforge/core/internal/learning"
)

func TestGetLearningGuidance_InsufficientHistoryDefault(t *testing.T) {
	dir := t.TempDir()
	store, err := learning.Open(dir)
	require.NoError(t, err)

	g := store.GetLearningGuidance()
	assert.True(t, g.InsufficientHistory)
	assert.False(t, g.PreferManaged)
	assert.False(t, g.TightenErrorBypass)
}

func TestGetLearningGuidance_PrefersManagedOnHighFailureRate(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	dir := t.TempDir()
	store, err := learning.Open(dir)
	require.NoError(t, err)
	store.WithClock(func() time.Time { return now })

	for i := 0; i < 10; i++ {
		passed := i >= 4 // 4/10 failing = 0.4 failure rate, above 0.28 threshold
		require.NoError(t, store.RecordEvent(learning.QualityEvent{
			Timestamp: now.Add(-time.Duration(i) * time.Hour), TaskID: "t", Passed: passed,
			AggregateScore: 90, ErrorsScore: 90,
		}))
	}

	g := store.GetLearningGuidance()
	require.False(t, g.InsufficientHistory)
	assert.True(t, g.PreferManaged)
}

func TestGetLearningGuidance_TightensErrorBypassOnLowScores(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	dir := t.TempDir()
	store, err := learning.Open(dir)
	require.NoError(t, err)
	store.WithClock(func() time.Time { return now })

	for i := 0; i < 10; i++ {
		require.NoError(t, store.RecordEvent(learning.QualityEvent{
			Timestamp: now.Add(-time.Duration(i) * time.Hour), TaskID: "t", Passed: true,
			AggregateScore: 95, ErrorsScore: 60, // low error score
		}))
	}

	g := store.GetLearningGuidance()
	assert.True(t, g.TightenErrorBypass)
}

func TestRecordEvent_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	store, err := learning.Open(dir)
	require.NoError(t, err)
	require.NoError(t, store.RecordEvent(learning.QualityEvent{TaskID: "t1", Passed: true, AggregateScore: 90, ErrorsScore: 90}))

	reopened, err := learning.Open(dir)
	require.NoError(t, err)
	g := reopened.GetLearningGuidance()
	assert.True(t, g.InsufficientHistory)
	assert.Equal(t, 1, g.SampleSize)
}

func TestApplyLearningGuidanceToQualityConfig_TightensWhenRecommended(t *testing.T) {
	cfg := config.DefaultGateConfig()
	g := learning.Guidance{TightenErrorBypass: true}
	out := learning.ApplyLearningGuidanceToQualityConfig(cfg, g)
	assert.GreaterOrEqual(t, out.PassThreshold, 92)
	assert.True(t, out.EnforceTDD)
	assert.LessOrEqual(t, out.ArchitectureMaxDiffLines, 30)
	assert.True(t, out.ErrorsRequirePassingTests)
	assert.GreaterOrEqual(t, out.ErrorsMinTestCount, 2)
	assert.False(t, cfg.ErrorsRequirePassingTests, "original config must not be mutated")
	assert.False(t, cfg.EnforceTDD, "original config must not be mutated")
}

func TestApplyLearningGuidanceToQualityConfig_PreservesStricterExistingBounds(t *testing.T) {
	cfg := config.DefaultGateConfig()
	cfg.PassThreshold = 95
	cfg.ArchitectureMaxDiffLines = 20
	g := learning.Guidance{TightenErrorBypass: true}
	out := learning.ApplyLearningGuidanceToQualityConfig(cfg, g)
	assert.Equal(t, 95, out.PassThreshold, "tightening must not lower an already-stricter pass threshold")
	assert.Equal(t, 20, out.ArchitectureMaxDiffLines, "tightening must not raise an already-stricter diff budget")
}

func TestApplyLearningGuidanceToQualityConfig_NoOpWhenNotRecommended(t *testing.T) {
	cfg := config.DefaultGateConfig()
	out := learning.ApplyLearningGuidanceToQualityConfig(cfg, learning.Guidance{})
	assert.Equal(t, cfg, out)
}
