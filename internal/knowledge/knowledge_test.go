package knowledge_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teamforge/core/internal/knowledge"
	"github.com/teamforge/core/internal/types"
)

func TestQuery_FiltersByTagAndOrdersNewestFirst(t *testing.T) {
	bus := knowledge.New(14 * 24 * time.Hour)
	bus.Publish("team-1", types.KnowledgeEntry{Type: types.KnowledgePattern, Content: "use context cancellation", Tags: []string{"go", "concurrency"}})
	bus.Publish("team-1", types.KnowledgeEntry{Type: types.KnowledgeDiscovery, Content: "the api rate limits at 10rps", Tags: []string{"api"}})

	results := bus.Query("team-1", []string{"concurrency"}, 10)
	require.Len(t, results, 1)
	assert.Equal(t, "use context cancellation", results[0].Content)
}

func TestQuery_PrunesExpiredEntries(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	bus := knowledge.New(time.Hour).WithClock(func() time.Time { return now })
	bus.Publish("team-1", types.KnowledgeEntry{Type: types.KnowledgeWarning, Content: "stale entry", Tags: []string{"x"}})

	now = now.Add(2 * time.Hour)
	bus.WithClock(func() time.Time { return now })
	results := bus.Query("team-1", nil, 0)
	assert.Empty(t, results)
}

func TestQueryByFile_MatchesFileReference(t *testing.T) {
	bus := knowledge.New(14 * 24 * time.Hour)
	bus.Publish("team-1", types.KnowledgeEntry{Type: types.KnowledgeDecision, Content: "switched to sqlx", Files: []string{"internal/db/conn.go"}})
	bus.Publish("team-1", types.KnowledgeEntry{Type: types.KnowledgeDecision, Content: "unrelated", Files: []string{"internal/api/router.go"}})

	results := bus.QueryByFile("team-1", "internal/db/conn.go")
	require.Len(t, results, 1)
	assert.Equal(t, "switched to sqlx", results[0].Content)
}

func TestQueryText_RanksSubstringAboveTokenOverlap(t *testing.T) {
	bus := knowledge.New(14 * 24 * time.Hour)
	bus.Publish("team-1", types.KnowledgeEntry{Content: "retry storm detection uses a sliding window"})
	bus.Publish("team-1", types.KnowledgeEntry{Content: "sliding window congestion control for throttle"})
	bus.Publish("team-1", types.KnowledgeEntry{Content: "the window of retries keeps sliding forward"})

	results := bus.QueryText("team-1", "sliding window", 10)
	require.NotEmpty(t, results)
	require.Len(t, results, 3)
	assert.Equal(t, "the window of retries keeps sliding forward", results[2].Content, "token-only overlap ranks below substring matches even when newest")
}

func TestRecordFileEdit_SynthesizesWarningOnOverlap(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	bus := knowledge.New(14 * 24 * time.Hour).WithClock(func() time.Time { return now })

	entry, conflict := bus.RecordFileEdit("team-1", "a.go", "tm-1", "builder")
	assert.Empty(t, entry.ID)
	assert.Nil(t, conflict)

	now = now.Add(5 * time.Second)
	bus.WithClock(func() time.Time { return now })
	entry, conflict = bus.RecordFileEdit("team-1", "a.go", "tm-2", "reviewer")
	assert.NotEmpty(t, entry.ID)
	require.NotNil(t, conflict)
	assert.Len(t, conflict.Editors, 2)
}

func TestRecordFileEdit_NoWarningOutsideWindow(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	bus := knowledge.New(14 * 24 * time.Hour).WithClock(func() time.Time { return now })

	bus.RecordFileEdit("team-1", "a.go", "tm-1", "builder")
	now = now.Add(time.Minute)
	bus.WithClock(func() time.Time { return now })
	_, conflict := bus.RecordFileEdit("team-1", "a.go", "tm-2", "reviewer")
	assert.Nil(t, conflict)
}

func TestBuildPromptContext_RespectsMaxEntries(t *testing.T) {
	bus := knowledge.New(14 * 24 * time.Hour)
	for i := 0; i < 5; i++ {
		bus.Publish("team-1", types.KnowledgeEntry{Type: types.KnowledgePattern, Content: "pattern about retries and backoff"})
	}
	ctx := bus.BuildPromptContext("team-1", "retries", knowledge.PromptContextOptions{MaxEntries: 2})
	assert.Equal(t, 2, countLines(ctx))
}

func countLines(s string) int {
	n := 0
	for _, c := range s {
		if c == '\n' {
			n++
		}
	}
	return n
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, knowledge.EstimateTokens(0))
	assert.Equal(t, 1, knowledge.EstimateTokens(1))
	assert.Equal(t, 25, knowledge.EstimateTokens(100))
}
