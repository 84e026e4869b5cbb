// Package knowledge implements the Team Knowledge Bus: an append-only,
// tag- and file-indexed store of patterns/discoveries/decisions/warnings
// that teammates publish for each other, with TTL/retention pruning and a
// prompt-context builder. Grounded on the query/scoring shape of
// orc/internal/plan's requirement lookup (substring and token-overlap
// matching against free text), adapted from matching spec requirements to
// matching free-form knowledge entries against a task prompt.
package knowledge

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/teamforge/core/internal/types"
)

// fileEditWindow is how recently two teammates must have touched the same
// file for recordFileEdit to synthesize a warning entry.
const fileEditWindow = 30 * time.Second

type fileEdit struct {
	teammateID   string
	teammateName string
	at           time.Time
}

// Bus is the knowledge bus for one process (potentially many teams).
type Bus struct {
	retention time.Duration
	now       func() time.Time

	mu        sync.Mutex
	entries   map[string][]types.KnowledgeEntry // teamID -> entries, newest last
	lastEdits map[string]map[string]fileEdit    // teamID -> path -> last edit
	seq       int
}

// New creates a knowledge bus with the given retention window (entries
// without an explicit TTL expire after retention).
func New(retention time.Duration) *Bus {
	return &Bus{
		retention: retention,
		now:       time.Now,
		entries:   make(map[string][]types.KnowledgeEntry),
		lastEdits: make(map[string]map[string]fileEdit),
	}
}

// WithClock overrides the clock, for deterministic tests.
func (b *Bus) WithClock(now func() time.Time) *Bus {
	b.now = now
	return b
}

func (b *Bus) nextID() string {
	b.seq++
	return "kb-" + itoa(b.seq)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

// Publish records a knowledge entry for teamID, assigning it an ID and
// timestamp if not already set.
func (b *Bus) Publish(teamID string, entry types.KnowledgeEntry) types.KnowledgeEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	if entry.ID == "" {
		entry.ID = b.nextID()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = b.now()
	}
	b.entries[teamID] = append(b.entries[teamID], entry)
	return entry
}

// pruneLocked removes expired entries for teamID. Caller must hold b.mu.
func (b *Bus) pruneLocked(teamID string) {
	now := b.now()
	list := b.entries[teamID]
	kept := list[:0:0]
	for _, e := range list {
		if !e.Expired(now, b.retention) {
			kept = append(kept, e)
		}
	}
	b.entries[teamID] = kept
}

// Query returns entries for teamID matching at least one of tags
// (OR semantics), newest first, capped at limit (0 means unbounded).
func (b *Bus) Query(teamID string, tags []string, limit int) []types.KnowledgeEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pruneLocked(teamID)

	wanted := make(map[string]bool, len(tags))
	for _, t := range tags {
		wanted[strings.ToLower(t)] = true
	}

	var out []types.KnowledgeEntry
	list := b.entries[teamID]
	for i := len(list) - 1; i >= 0; i-- {
		e := list[i]
		if len(wanted) > 0 {
			match := false
			for _, tag := range e.Tags {
				if wanted[strings.ToLower(tag)] {
					match = true
					break
				}
			}
			if !match {
				continue
			}
		}
		out = append(out, e)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// QueryByFile returns non-expired entries referencing path, newest first.
func (b *Bus) QueryByFile(teamID, path string) []types.KnowledgeEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pruneLocked(teamID)

	var out []types.KnowledgeEntry
	list := b.entries[teamID]
	for i := len(list) - 1; i >= 0; i-- {
		e := list[i]
		for _, f := range e.Files {
			if f == path {
				out = append(out, e)
				break
			}
		}
	}
	return out
}

func tokenize(s string) map[string]bool {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9' || r == '-' || r == '_')
	})
	out := make(map[string]bool, len(fields))
	for _, f := range fields {
		if len(f) >= 2 {
			out[f] = true
		}
	}
	return out
}

func score(entry types.KnowledgeEntry, qLower string, qTokens map[string]bool) int {
	content := strings.ToLower(entry.Content)
	s := 0
	if qLower != "" && strings.Contains(content, qLower) {
		s += 10
	}
	entryTokens := tokenize(entry.Content)
	for t := range qTokens {
		if entryTokens[t] {
			s++
		}
	}
	return s
}

// QueryText ranks entries for teamID by substring match plus token overlap
// against q, newest-first among ties, capped at limit.
func (b *Bus) QueryText(teamID, q string, limit int) []types.KnowledgeEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pruneLocked(teamID)

	qLower := strings.ToLower(strings.TrimSpace(q))
	qTokens := tokenize(q)

	list := append([]types.KnowledgeEntry(nil), b.entries[teamID]...)
	type scored struct {
		entry types.KnowledgeEntry
		score int
		idx   int
	}
	var ranked []scored
	for i, e := range list {
		sc := score(e, qLower, qTokens)
		if sc > 0 {
			ranked = append(ranked, scored{e, sc, i})
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].idx > ranked[j].idx
	})

	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	out := make([]types.KnowledgeEntry, len(ranked))
	for i, r := range ranked {
		out[i] = r.entry
	}
	return out
}

// RecordFileEdit tracks a file modification for conflict-warning synthesis.
// If a different teammate touched the same path within fileEditWindow, a
// synthetic KnowledgeWarning entry is published and returned alongside the
// synthesized FileConflict; otherwise both return values are zero.
func (b *Bus) RecordFileEdit(teamID, path, teammateID, teammateName string) (types.KnowledgeEntry, *types.FileConflict) {
	b.mu.Lock()
	now := b.now()
	if b.lastEdits[teamID] == nil {
		b.lastEdits[teamID] = make(map[string]fileEdit)
	}
	prev, had := b.lastEdits[teamID][path]
	b.lastEdits[teamID][path] = fileEdit{teammateID: teammateID, teammateName: teammateName, at: now}

	overlap := had && prev.teammateID != teammateID && now.Sub(prev.at) <= fileEditWindow
	b.mu.Unlock()

	if !overlap {
		return types.KnowledgeEntry{}, nil
	}

	entry := b.Publish(teamID, types.KnowledgeEntry{
		Type:      types.KnowledgeWarning,
		Content:   teammateName + " and " + prev.teammateName + " both edited " + path + " within " + fileEditWindow.String(),
		Source:    teammateID,
		Files:     []string{path},
		Tags:      []string{"file-conflict", path},
		Timestamp: now,
	})
	conflict := &types.FileConflict{
		Path: path,
		Editors: []types.FileEditor{
			{TeammateID: prev.teammateID, TeammateName: prev.teammateName, Timestamp: prev.at},
			{TeammateID: teammateID, TeammateName: teammateName, Timestamp: now},
		},
		Detected: now,
	}
	return entry, conflict
}

// PromptContextOptions bounds BuildPromptContext's output.
type PromptContextOptions struct {
	MaxChars   int
	MaxEntries int
	MaxTokens  int // approximate, chars/4 rounded up
}

// BuildPromptContext assembles the most relevant knowledge entries for
// taskPrompt into a single block suitable for injection into an agent's
// system prompt, respecting whichever of MaxChars/MaxEntries/MaxTokens is
// tightest.
func (b *Bus) BuildPromptContext(teamID, taskPrompt string, opts PromptContextOptions) string {
	limit := opts.MaxEntries
	if limit <= 0 {
		limit = 20
	}
	candidates := b.QueryText(teamID, taskPrompt, limit)

	maxChars := opts.MaxChars
	if opts.MaxTokens > 0 {
		tokenBound := opts.MaxTokens * 4
		if maxChars <= 0 || tokenBound < maxChars {
			maxChars = tokenBound
		}
	}

	var sb strings.Builder
	count := 0
	for _, e := range candidates {
		line := "- [" + string(e.Type) + "] " + e.Content + "\n"
		if maxChars > 0 && sb.Len()+len(line) > maxChars {
			break
		}
		sb.WriteString(line)
		count++
		if opts.MaxEntries > 0 && count >= opts.MaxEntries {
			break
		}
	}
	return sb.String()
}

// EstimateTokens approximates a token count from a character count.
func EstimateTokens(chars int) int {
	if chars <= 0 {
		return 0
	}
	return (chars + 3) / 4
}

// ClearTeam discards all knowledge entries and file-edit history for a team.
func (b *Bus) ClearTeam(teamID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.entries, teamID)
	delete(b.lastEdits, teamID)
}
