// Package metrics exposes Prometheus counters and gauges for the
// orchestration core, grounded on kadirpekel-hector's
// pkg/observability/metrics.go: a namespaced registry, CounterVec/
// HistogramVec/GaugeVec fields grouped by subsystem, nil-safe Record*
// methods so a disabled collector is a free no-op, and a Handler() for
// mounting the scrape endpoint. Unlike hector's metrics, which is called
// directly from HTTP middleware and agent-call call sites, this collector
// subscribes to the shared internal/events.Bus and derives most metrics from
// the same events the Audit Logger and CLI already consume. Review cycle
// counts, gate scores, throttle blocks, and file conflicts have no bus
// subscription here; they are recorded only through the direct Record*
// methods.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/teamforge/core/internal/events"
	"github.com/teamforge/core/internal/review"
	"github.com/teamforge/core/internal/types"
)

// Collector holds the orchestration core's Prometheus metrics.
type Collector struct {
	registry *prometheus.Registry

	qualityGateTotal  *prometheus.CounterVec
	qualityGateScore  *prometheus.HistogramVec
	reviewCycles      *prometheus.HistogramVec
	reviewEscalations *prometheus.CounterVec
	healthIssues      *prometheus.CounterVec
	throttleBlocks    *prometheus.CounterVec
	fileConflicts     prometheus.Counter
	yoloPhaseChanges  *prometheus.CounterVec
	teammatesActive   prometheus.Gauge
}

// New creates a Collector with namespace "teamforge" and registers it on a
// private registry (never the global DefaultRegisterer, so multiple teams
// or test runs in the same process never collide).
func New() *Collector {
	c := &Collector{registry: prometheus.NewRegistry()}

	c.qualityGateTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "teamforge", Subsystem: "quality_gate", Name: "completed_total",
		Help: "Quality gate evaluations, labeled by pass/fail.",
	}, []string{"result"})

	c.qualityGateScore = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "teamforge", Subsystem: "quality_gate", Name: "score",
		Help:    "Weighted quality gate score per evaluation.",
		Buckets: prometheus.LinearBuckets(0, 10, 11),
	}, []string{"result"})

	c.reviewCycles = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "teamforge", Subsystem: "review", Name: "cycles",
		Help:    "Review cycles consumed before a task left the review loop.",
		Buckets: prometheus.LinearBuckets(1, 1, 6),
	}, []string{"outcome"})

	c.reviewEscalations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "teamforge", Subsystem: "review", Name: "escalations_total",
		Help: "Reviews that exhausted their cycle budget and escalated to the team lead.",
	}, []string{"team_id"})

	c.healthIssues = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "teamforge", Subsystem: "health", Name: "issues_total",
		Help: "Health Monitor issues, labeled by kind (stall, error-loop, retry-storm).",
	}, []string{"kind"})

	c.throttleBlocks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "teamforge", Subsystem: "throttle", Name: "blocks_total",
		Help: "Tool calls blocked by the throttle's hard budget or AIMD window.",
	}, []string{"tool"})

	c.fileConflicts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "teamforge", Subsystem: "ownership", Name: "file_conflicts_total",
		Help: "File ownership conflicts detected between teammates.",
	})

	c.yoloPhaseChanges = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "teamforge", Subsystem: "yolo", Name: "phase_changes_total",
		Help: "YOLO orchestrator phase transitions, labeled by destination phase.",
	}, []string{"phase"})

	c.teammatesActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "teamforge", Subsystem: "team", Name: "teammates_active",
		Help: "Teammates currently spawned, across all teams in this process.",
	})

	c.registry.MustRegister(
		c.qualityGateTotal, c.qualityGateScore, c.reviewCycles, c.reviewEscalations,
		c.healthIssues, c.throttleBlocks, c.fileConflicts, c.yoloPhaseChanges, c.teammatesActive,
	)
	return c
}

// Registry returns the private Prometheus registry backing this collector.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler returns an http.Handler serving this collector's scrape endpoint.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Subscribe wires the collector onto bus, deriving metrics from the same
// events internal/audit and the CLI already consume. Returns the
// subscriptions so the caller can unsubscribe them on shutdown.
func (c *Collector) Subscribe(bus *events.Bus) []events.Subscription {
	var subs []events.Subscription

	subs = append(subs, bus.Subscribe(events.TopicReviewEscalated, func(payload any) {
		c.reviewEscalations.WithLabelValues(teamIDOf(payload)).Inc()
	}))

	subs = append(subs, bus.Subscribe(events.TopicReviewFailed, func(payload any) {
		c.qualityGateTotal.WithLabelValues("fail").Inc()
	}))
	subs = append(subs, bus.Subscribe(events.TopicReviewEscalating, func(payload any) {
		c.qualityGateTotal.WithLabelValues("fail").Inc()
	}))

	subs = append(subs, bus.Subscribe(events.TopicReviewPassed, func(payload any) {
		c.qualityGateTotal.WithLabelValues("pass").Inc()
	}))

	subs = append(subs, bus.Subscribe(events.TopicHealthStall, func(payload any) {
		c.healthIssues.WithLabelValues("stall").Inc()
	}))
	subs = append(subs, bus.Subscribe(events.TopicHealthErrorLoop, func(payload any) {
		c.healthIssues.WithLabelValues("error-loop").Inc()
	}))
	subs = append(subs, bus.Subscribe(events.TopicHealthRetryStorm, func(payload any) {
		c.healthIssues.WithLabelValues("retry-storm").Inc()
	}))

	subs = append(subs, bus.Subscribe(events.TopicYoloPhaseChanged, func(payload any) {
		if st, ok := payload.(types.YoloState); ok {
			c.yoloPhaseChanges.WithLabelValues(string(st.Phase)).Inc()
		}
	}))

	subs = append(subs, bus.Subscribe(events.TopicTeammateSpawned, func(payload any) {
		if _, ok := payload.(types.Teammate); ok {
			c.teammatesActive.Inc()
		}
	}))
	subs = append(subs, bus.Subscribe(events.TopicTeammateShutdown, func(payload any) {
		if _, ok := payload.(types.Teammate); ok {
			c.teammatesActive.Dec()
		}
	}))

	return subs
}

// RecordReviewCycles records the number of cycles a task consumed before it
// left the review loop. It is not fed from the bus: the caller passes the
// final cycle count directly.
func (c *Collector) RecordReviewCycles(outcome string, cycles int) {
	if c == nil {
		return
	}
	c.reviewCycles.WithLabelValues(outcome).Observe(float64(cycles))
}

// RecordQualityGateScore records a gate evaluation's weighted score.
func (c *Collector) RecordQualityGateScore(passed bool, score int) {
	if c == nil {
		return
	}
	result := "fail"
	if passed {
		result = "pass"
	}
	c.qualityGateScore.WithLabelValues(result).Observe(float64(score))
}

// RecordThrottleBlock records a tool call denied by the throttle.
func (c *Collector) RecordThrottleBlock(tool string) {
	if c == nil {
		return
	}
	c.throttleBlocks.WithLabelValues(tool).Inc()
}

// RecordFileConflict records a file ownership conflict.
func (c *Collector) RecordFileConflict() {
	if c == nil {
		return
	}
	c.fileConflicts.Inc()
}

func teamIDOf(payload any) string {
	if ev, ok := payload.(review.ReviewEvent); ok {
		return ev.TeamID
	}
	return "unknown"
}
