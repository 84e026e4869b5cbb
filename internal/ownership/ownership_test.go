package ownership_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teamforge/core/internal/ownership"
)

func TestRecordModification_NoConflictOnFirstWrite(t *testing.T) {
	tr := ownership.New(ownership.ModeStrict)
	conflict := tr.RecordModification("team-1", "a.go", "tm-1", "builder")
	assert.Nil(t, conflict)
}

func TestRecordModification_SecondWriterConflictsStrict(t *testing.T) {
	tr := ownership.New(ownership.ModeStrict)
	tr.RecordModification("team-1", "a.go", "tm-1", "builder")
	conflict := tr.RecordModification("team-1", "a.go", "tm-2", "reviewer")
	require.NotNil(t, conflict)
	assert.True(t, conflict.Blocked)
	assert.Len(t, conflict.Editors, 2)
}

func TestRecordModification_WarnModeNeverBlocks(t *testing.T) {
	tr := ownership.New(ownership.ModeWarn)
	tr.RecordModification("team-1", "a.go", "tm-1", "builder")
	conflict := tr.RecordModification("team-1", "a.go", "tm-2", "reviewer")
	require.NotNil(t, conflict)
	assert.False(t, conflict.Blocked)
}

func TestRecordModification_SameOwnerNoConflict(t *testing.T) {
	tr := ownership.New(ownership.ModeStrict)
	tr.RecordModification("team-1", "a.go", "tm-1", "builder")
	conflict := tr.RecordModification("team-1", "a.go", "tm-1", "builder")
	assert.Nil(t, conflict)
}

func TestCheckConflict_DoesNotRecordOwnership(t *testing.T) {
	tr := ownership.New(ownership.ModeStrict)
	tr.RecordModification("team-1", "a.go", "tm-1", "builder")
	conflict, ok := tr.CheckConflict("team-1", "a.go", "tm-2")
	assert.True(t, ok)
	require.NotNil(t, conflict)

	// RecordModification afterwards should still report a conflict
	// (CheckConflict must not have silently transferred ownership).
	conflict2 := tr.RecordModification("team-1", "a.go", "tm-2", "reviewer")
	assert.NotNil(t, conflict2)
}

func TestReleaseOnReviewOutcome_FreesOwnership(t *testing.T) {
	tr := ownership.New(ownership.ModeStrict)
	tr.RecordModification("team-1", "a.go", "tm-1", "builder")
	tr.ReleaseOnReviewOutcome("team-1", "tm-1")

	// Ownership released -> a second "writer" claiming it now is a fresh
	// claim, not a conflict.
	conflict := tr.RecordModification("team-1", "a.go", "tm-2", "reviewer")
	assert.Nil(t, conflict)
}

func TestReleaseOnTeammateShutdown_FreesOwnership(t *testing.T) {
	tr := ownership.New(ownership.ModeStrict)
	tr.RecordModification("team-1", "a.go", "tm-1", "builder")
	tr.ReleaseOnTeammateShutdown("team-1", "tm-1")
	conflict := tr.RecordModification("team-1", "a.go", "tm-2", "reviewer")
	assert.Nil(t, conflict)
}

func TestConflicts_RecordsHistory(t *testing.T) {
	tr := ownership.New(ownership.ModeWarn)
	tr.RecordModification("team-1", "a.go", "tm-1", "builder")
	tr.RecordModification("team-1", "a.go", "tm-2", "reviewer")
	conflicts := tr.Conflicts("team-1")
	assert.Len(t, conflicts, 1)
}

func TestClearTeam_DropsAllState(t *testing.T) {
	tr := ownership.New(ownership.ModeStrict)
	tr.RecordModification("team-1", "a.go", "tm-1", "builder")
	tr.ClearTeam("team-1")
	conflict := tr.RecordModification("team-1", "a.go", "tm-2", "reviewer")
	assert.Nil(t, conflict)
}
