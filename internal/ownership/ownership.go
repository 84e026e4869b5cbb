// Package ownership implements the File-Ownership Tracker: a per-team map
// from file path to current editor, used to catch two teammates editing the
// same file concurrently. Grounded on the conflict-shape reasoning in
// orc/internal/executor/backpressure.go (a verdict object describing what
// went wrong and whether it blocks further work), adapted here from a
// post-hoc quality verdict into a live write-write conflict detector.
package ownership

import (
	"sync"
	"time"

	"github.com/teamforge/core/internal/types"
)

// Mode controls whether a detected conflict blocks the second write.
type Mode string

const (
	// ModeStrict marks conflicts Blocked: true — the caller should refuse
	// the write (or require explicit confirmation) before proceeding.
	ModeStrict Mode = "strict"
	// ModeWarn records the conflict but never blocks.
	ModeWarn Mode = "warn"
)

type entry struct {
	path      string
	owner     types.FileEditor
	claimedAt time.Time
}

// Tracker is the file-ownership tracker for one process (potentially many teams).
type Tracker struct {
	mode Mode
	now  func() time.Time

	mu        sync.Mutex
	owners    map[string]map[string]*entry     // teamID -> path -> current owner
	order     map[string][]string              // teamID -> paths in claim order (oldest first)
	conflicts map[string][]*types.FileConflict // teamID -> recorded conflicts, cap 50
}

// New creates a tracker in the given mode.
func New(mode Mode) *Tracker {
	if mode == "" {
		mode = ModeWarn
	}
	return &Tracker{
		mode:      mode,
		now:       time.Now,
		owners:    make(map[string]map[string]*entry),
		order:     make(map[string][]string),
		conflicts: make(map[string][]*types.FileConflict),
	}
}

// WithClock overrides the clock, for deterministic tests.
func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	t.now = now
	return t
}

func (t *Tracker) ensureTeam(teamID string) {
	if t.owners[teamID] == nil {
		t.owners[teamID] = make(map[string]*entry)
	}
}

func (t *Tracker) evictOldestIfFull(teamID string) {
	if len(t.owners[teamID]) < types.MaxFileConflicts {
		return
	}
	order := t.order[teamID]
	if len(order) == 0 {
		return
	}
	oldest := order[0]
	t.order[teamID] = order[1:]
	delete(t.owners[teamID], oldest)
}

// CheckConflict reports whether path is currently owned by a different
// teammate, without recording teammateID as a new modification.
func (t *Tracker) CheckConflict(teamID, path, teammateID string) (*types.FileConflict, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	owner, ok := t.owners[teamID][path]
	if !ok || owner.owner.TeammateID == teammateID {
		return nil, false
	}
	return &types.FileConflict{
		Path:     path,
		Editors:  []types.FileEditor{owner.owner, {TeammateID: teammateID, Timestamp: t.now()}},
		Detected: t.now(),
		Blocked:  t.mode == ModeStrict,
	}, true
}

// RecordModification claims path for teammateID. If a different teammate
// already owns path, it returns the recorded FileConflict (Blocked per the
// tracker's mode); ownership then transfers to the new writer regardless —
// the tracker reports conflicts, it doesn't arbitrate who wins the file.
func (t *Tracker) RecordModification(teamID, path, teammateID, teammateName string) *types.FileConflict {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ensureTeam(teamID)
	now := t.now()

	var conflict *types.FileConflict
	if existing, ok := t.owners[teamID][path]; ok && existing.owner.TeammateID != teammateID {
		conflict = &types.FileConflict{
			Path:     path,
			Editors:  []types.FileEditor{existing.owner, {TeammateID: teammateID, TeammateName: teammateName, Timestamp: now}},
			Detected: now,
			Blocked:  t.mode == ModeStrict,
		}
		list := t.conflicts[teamID]
		list = append(list, conflict)
		if len(list) > types.MaxFileConflicts {
			list = list[len(list)-types.MaxFileConflicts:]
		}
		t.conflicts[teamID] = list
	}

	if _, ok := t.owners[teamID][path]; !ok {
		t.evictOldestIfFull(teamID)
		t.order[teamID] = append(t.order[teamID], path)
	}
	t.owners[teamID][path] = &entry{
		path:      path,
		owner:     types.FileEditor{TeammateID: teammateID, TeammateName: teammateName, Timestamp: now},
		claimedAt: now,
	}

	return conflict
}

// ReleaseOnReviewOutcome releases every path owned by teammateID (across all
// of its tasks) once a review reaches a terminal disposition (passed, failed,
// or escalated) — the conservative reading of the release rule: a teammate
// keeps exclusive ownership only while its work is still actively under
// review.
func (t *Tracker) ReleaseOnReviewOutcome(teamID, teammateID string) {
	t.releaseAllOwnedBy(teamID, teammateID)
}

// ReleaseOnTeammateShutdown releases every path owned by teammateID.
func (t *Tracker) ReleaseOnTeammateShutdown(teamID, teammateID string) {
	t.releaseAllOwnedBy(teamID, teammateID)
}

func (t *Tracker) releaseAllOwnedBy(teamID, teammateID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	owners := t.owners[teamID]
	if owners == nil {
		return
	}
	var remainingOrder []string
	for _, p := range t.order[teamID] {
		if e, ok := owners[p]; ok && e.owner.TeammateID == teammateID {
			delete(owners, p)
			continue
		}
		remainingOrder = append(remainingOrder, p)
	}
	t.order[teamID] = remainingOrder
}

// Conflicts returns the recorded conflicts for a team, oldest first.
func (t *Tracker) Conflicts(teamID string) []*types.FileConflict {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*types.FileConflict, len(t.conflicts[teamID]))
	copy(out, t.conflicts[teamID])
	return out
}

// ClearTeam discards all tracked ownership and conflict history for a team.
func (t *Tracker) ClearTeam(teamID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.owners, teamID)
	delete(t.order, teamID)
	delete(t.conflicts, teamID)
}
