package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/teamforge/core/internal/types"
)

// teamMeta is the static team manifest teamctl persists at
// {baseDir}/{teamId}/team.json. Dynamic per-task/message state lives in
// internal/teamstate's append-only log, owned by whatever process embeds
// the orchestration core directly; teamctl itself only needs enough to
// resolve a team id into a workspace directory.
type teamMeta struct {
	ID           string           `json:"id"`
	Name         string           `json:"name"`
	Status       types.TeamStatus `json:"status"`
	WorkspaceDir string           `json:"workspaceDir"`
	CreatedAt    time.Time        `json:"createdAt"`
}

func teamMetaPath(base, teamID string) string {
	return filepath.Join(base, teamID, "team.json")
}

// teamSessionDir is where a team's team-state.jsonl and audit.jsonl live.
func teamSessionDir(base, teamID string) string {
	return filepath.Join(base, teamID)
}

func saveTeamMeta(base string, m teamMeta) error {
	dir := filepath.Join(base, m.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(teamMetaPath(base, m.ID), data, 0o644)
}

func loadTeamMeta(base, teamID string) (teamMeta, error) {
	data, err := os.ReadFile(teamMetaPath(base, teamID))
	if err != nil {
		if os.IsNotExist(err) {
			return teamMeta{}, fmt.Errorf("unknown team %q (base dir %s)", teamID, base)
		}
		return teamMeta{}, err
	}
	var m teamMeta
	if err := json.Unmarshal(data, &m); err != nil {
		return teamMeta{}, err
	}
	return m, nil
}

func newTeamID(name string) string {
	return name + "-" + uuid.NewString()[:8]
}
