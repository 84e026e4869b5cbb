package metrics_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teamforge/core/internal/events"
	"github.com/teamforge/core/internal/metrics"
	"github.com/teamforge/core/internal/review"
	"github.com/teamforge/core/internal/types"
)

func TestSubscribe_ReviewEscalationIncrementsCounter(t *testing.T) {
	c := metrics.New()
	bus := events.NewBus()
	c.Subscribe(bus)

	bus.Publish(events.TopicReviewEscalated, review.ReviewEvent{TeamID: "team-a"})

	families, err := c.Registry().Gather()
	require.NoError(t, err)
	found := false
	for _, mf := range families {
		if strings.Contains(mf.GetName(), "review_escalations_total") {
			found = true
			require.Len(t, mf.Metric, 1)
			assert.Equal(t, "team-a", mf.Metric[0].Label[0].GetValue())
			assert.Equal(t, float64(1), mf.Metric[0].GetCounter().GetValue())
		}
	}
	assert.True(t, found, "expected a teamforge_review_escalations_total metric family")
}

func TestSubscribe_YoloPhaseChangeIncrementsCounter(t *testing.T) {
	c := metrics.New()
	bus := events.NewBus()
	c.Subscribe(bus)

	bus.Publish(events.TopicYoloPhaseChanged, types.YoloState{Phase: types.YoloExecuting})

	families, err := c.Registry().Gather()
	require.NoError(t, err)
	found := false
	for _, mf := range families {
		if strings.Contains(mf.GetName(), "yolo_phase_changes_total") {
			found = true
			require.Len(t, mf.Metric, 1)
			assert.Equal(t, float64(1), mf.Metric[0].GetCounter().GetValue())
		}
	}
	assert.True(t, found, "expected a teamforge_yolo_phase_changes_total metric family")
}

func TestRecordReviewCycles_IsNilSafe(t *testing.T) {
	var c *metrics.Collector
	assert.NotPanics(t, func() {
		c.RecordReviewCycles("pass", 2)
		c.RecordQualityGateScore(true, 95)
		c.RecordThrottleBlock("Bash")
		c.RecordFileConflict()
	})
}

func TestHandler_ServesMetricsEndpoint(t *testing.T) {
	c := metrics.New()
	assert.NotNil(t, c.Handler())
}
