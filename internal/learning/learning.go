// Package learning implements the Learning Store: a per-workspace, rolling
// window of quality-gate outcomes that produces guidance nudging future
// runs toward a managed architecture or a tighter error-bypass threshold
// once the recent track record looks shaky. Grounded on the retry/backoff
// bookkeeping in orc/internal/executor/retry.go — that package decides
// whether to keep retrying a phase from its recent outcome history; this
// store generalizes the same "recent track record decides future behavior"
// shape from one phase's retries to a whole workspace's review history.
package learning

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/teamforge/core/internal/config"
	"github.com/teamforge/core/internal/types"
)

// FileName is the learning store's filename, fixed by the on-disk format —
// NOT namespaced under this project's own .team-forge convention, since
// learning history is meant to survive and inform whichever orchestration
// tool a workspace uses next.
const FileName = "agent-team-learning.json"

// ProjectDir is the directory the learning file lives under.
const ProjectDir = ".craft-agent"

// MaxEvents bounds the rolling history retained on disk.
const MaxEvents = 300

// recentCount, together with types.LearningWindow, bounds the slice guidance
// actually reasons over (the most recent N events within the last 30 days).
const recentCount = 40

// minHistoryForGuidance is the minimum number of in-window events needed
// before guidance deviates from the conservative, no-nudge default.
const minHistoryForGuidance = 6

const (
	failureRateThreshold = 0.28
	retryRateThreshold   = 0.35
	errorScoreThreshold  = 82
	aggregateThreshold   = 85
)

// QualityEvent is one recorded review-cycle outcome.
type QualityEvent struct {
	Timestamp         time.Time `json:"timestamp"`
	TaskID            string    `json:"taskId"`
	Passed            bool      `json:"passed"`
	CyclesUsed        int       `json:"cyclesUsed"`
	AggregateScore    int       `json:"aggregateScore"`
	ArchitectureScore int       `json:"architectureScore"`
	SimplicityScore   int       `json:"simplicityScore"`
	ErrorsScore       int       `json:"errorsScore"`
	CompletenessScore int       `json:"completenessScore"`
	Escalated         bool      `json:"escalated"`
}

// fileFormat is the on-disk JSON shape.
type fileFormat struct {
	Events []QualityEvent `json:"events"`
}

// Guidance is the derived recommendation handed to the routing/gate layers.
type Guidance struct {
	InsufficientHistory bool
	PreferManaged       bool
	TightenErrorBypass  bool
	SampleSize          int
	FailureRate         float64
	RetryRate           float64
	AvgErrorScore       float64
	AvgAggregate        float64
}

// Store is a per-workspace learning store backed by a JSON file.
type Store struct {
	path string
	now  func() time.Time
	idx  *SQLiteIndex // optional additive query index, nil unless WithSQLiteIndex is called

	mu     sync.Mutex
	events []QualityEvent
}

// Open loads (or initializes) the learning store for workspaceDir.
func Open(workspaceDir string) (*Store, error) {
	path := filepath.Join(workspaceDir, ProjectDir, FileName)
	s := &Store{path: path, now: time.Now}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, err
	}
	var ff fileFormat
	if err := json.Unmarshal(data, &ff); err != nil {
		return nil, err
	}
	s.events = ff.Events
	return s, nil
}

// WithClock overrides the clock, for deterministic tests.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// WithSQLiteIndex attaches the additive query index. Every future
// RecordEvent also mirrors into it; the JSON file stays canonical
// regardless (index mirror failures never fail RecordEvent).
func (s *Store) WithSQLiteIndex(idx *SQLiteIndex) *Store {
	s.idx = idx
	return s
}

// RecordEvent appends an event, trimming to MaxEvents oldest-first, and
// persists the store to disk.
func (s *Store) RecordEvent(e QualityEvent) error {
	s.mu.Lock()
	if e.Timestamp.IsZero() {
		e.Timestamp = s.now()
	}
	s.events = append(s.events, e)
	if len(s.events) > MaxEvents {
		s.events = s.events[len(s.events)-MaxEvents:]
	}
	events := append([]QualityEvent(nil), s.events...)
	idx := s.idx
	s.mu.Unlock()

	if idx != nil {
		_ = idx.Mirror(context.Background(), e) // best-effort; JSON below is canonical
	}
	return s.persist(events)
}

func (s *Store) persist(events []QualityEvent) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(fileFormat{Events: events}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o644)
}

// recentWindowLocked returns up to recentCount events from the last 30 days,
// newest last (chronological order, as recorded).
func (s *Store) recentWindowLocked() []QualityEvent {
	now := s.now()
	cutoff := now.Add(-types.LearningWindow)

	var inWindow []QualityEvent
	for _, e := range s.events {
		if e.Timestamp.After(cutoff) {
			inWindow = append(inWindow, e)
		}
	}
	sort.Slice(inWindow, func(i, j int) bool { return inWindow[i].Timestamp.Before(inWindow[j].Timestamp) })
	if len(inWindow) > recentCount {
		inWindow = inWindow[len(inWindow)-recentCount:]
	}
	return inWindow
}

// GetLearningGuidance derives the current recommendation from the recent
// window of events. With fewer than minHistoryForGuidance in-window events,
// it returns the conservative InsufficientHistory default (no nudges).
func (s *Store) GetLearningGuidance() Guidance {
	s.mu.Lock()
	defer s.mu.Unlock()

	window := s.recentWindowLocked()
	if len(window) < minHistoryForGuidance {
		return Guidance{InsufficientHistory: true, SampleSize: len(window)}
	}

	var failed, retried int
	var sumAgg, sumErr int
	for _, e := range window {
		if !e.Passed {
			failed++
		}
		if e.CyclesUsed > 1 {
			retried++
		}
		sumAgg += e.AggregateScore
		sumErr += e.ErrorsScore
	}
	n := float64(len(window))
	failureRate := float64(failed) / n
	retryRate := float64(retried) / n
	avgAgg := float64(sumAgg) / n
	avgErr := float64(sumErr) / n

	g := Guidance{
		SampleSize:    len(window),
		FailureRate:   failureRate,
		RetryRate:     retryRate,
		AvgErrorScore: avgErr,
		AvgAggregate:  avgAgg,
	}
	if failureRate >= failureRateThreshold || retryRate >= retryRateThreshold {
		g.PreferManaged = true
	}
	if avgErr < errorScoreThreshold || avgAgg < aggregateThreshold {
		g.TightenErrorBypass = true
	}
	return g
}

// tightenedPassThreshold and tightenedArchitectureMaxDiffLines are the
// bounds learning guidance pushes the gate config toward (§4.8): pass
// threshold rises to at least this value, diff-line budget shrinks to at
// most this value.
const (
	tightenedPassThreshold            = 92
	tightenedArchitectureMaxDiffLines = 30
)

// ApplyLearningGuidanceToQualityConfig is a pure transform applying g onto a
// copy of cfg: when TightenErrorBypass is set, it raises passThreshold to
// max(current, 92), enables enforceTDD, tightens architecture maxDiffLines
// to min(current, 30), and requires passing tests with minTestCount ≥ 2. It
// returns cfg unchanged when no tightening is requested and never mutates cfg.
func ApplyLearningGuidanceToQualityConfig(cfg config.GateConfig, g Guidance) config.GateConfig {
	out := cfg
	if g.TightenErrorBypass {
		if out.PassThreshold < tightenedPassThreshold {
			out.PassThreshold = tightenedPassThreshold
		}
		out.EnforceTDD = true
		if out.ArchitectureMaxDiffLines > tightenedArchitectureMaxDiffLines {
			out.ArchitectureMaxDiffLines = tightenedArchitectureMaxDiffLines
		}
		out.ErrorsRequirePassingTests = true
		if out.ErrorsMinTestCount < 2 {
			out.ErrorsMinTestCount = 2
		}
	}
	return out
}
