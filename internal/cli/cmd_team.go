package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/teamforge/core/internal/teamstate"
	"github.com/teamforge/core/internal/types"
)

// newTeamCmd creates the team command group (create, status).
func newTeamCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "team",
		Short: "Manage teams",
	}
	cmd.AddCommand(newTeamCreateCmd(), newTeamStatusCmd())
	return cmd
}

func newTeamCreateCmd() *cobra.Command {
	var workspaceDir string

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Register a new team",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			if workspaceDir == "" {
				wd, err := os.Getwd()
				if err != nil {
					return err
				}
				workspaceDir = wd
			}

			meta := teamMeta{
				ID:           newTeamID(name),
				Name:         name,
				Status:       types.TeamActive,
				WorkspaceDir: workspaceDir,
				CreatedAt:    time.Now(),
			}
			if err := saveTeamMeta(baseDir, meta); err != nil {
				return fmt.Errorf("save team: %w", err)
			}

			if jsonOut {
				data, _ := json.MarshalIndent(meta, "", "  ")
				fmt.Println(string(data))
				return nil
			}
			fmt.Printf("Created team %s (%s)\n", meta.Name, meta.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&workspaceDir, "workspace", "", "project workspace directory (default: current directory)")
	return cmd
}

func newTeamStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <team-id>",
		Short: "Show a team's task and activity counts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			teamID := args[0]
			meta, err := loadTeamMeta(baseDir, teamID)
			if err != nil {
				return err
			}

			sessionDir := teamSessionDir(baseDir, teamID)
			view, err := teamstate.Load(sessionDir, time.Now(), types.KnowledgeRetention)
			if err != nil {
				return fmt.Errorf("load team state: %w", err)
			}

			if jsonOut {
				data, _ := json.MarshalIndent(map[string]any{
					"team":  meta,
					"tasks": len(view.Tasks),
					"gates": len(view.Gates),
				}, "", "  ")
				fmt.Println(string(data))
				return nil
			}

			fmt.Printf("Team %s (%s)\n", meta.Name, meta.ID)
			fmt.Println("─────────────────────────")
			fmt.Printf("Status:    %s\n", meta.Status)
			fmt.Printf("Workspace: %s\n", meta.WorkspaceDir)
			fmt.Println()

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TASK\tSTATUS")
			for id, task := range view.Tasks {
				fmt.Fprintf(w, "%s\t%s\n", id, task.Status)
			}
			w.Flush()
			return nil
		},
	}
}
