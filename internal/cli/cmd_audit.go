package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/teamforge/core/internal/audit"
	"github.com/teamforge/core/internal/learning"
)

// newAuditCmd creates the audit command group.
func newAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect a team's audit trail",
	}
	cmd.AddCommand(newAuditSummaryCmd())
	return cmd
}

func newAuditSummaryCmd() *cobra.Command {
	var since string
	cmd := &cobra.Command{
		Use:   "summary <team-id>",
		Short: "Summarize a team's audit.jsonl",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			teamID := args[0]
			meta, err := loadTeamMeta(baseDir, teamID)
			if err != nil {
				return err
			}

			summary, err := audit.GetSummary(baseDir, teamID)
			if err != nil {
				return fmt.Errorf("read audit log: %w", err)
			}

			var sinceEvents []learning.QualityEvent
			if since != "" {
				cutoff, err := time.Parse(time.RFC3339, since)
				if err != nil {
					return fmt.Errorf("--since must be RFC3339 (e.g. 2026-07-01T00:00:00Z): %w", err)
				}
				idx, err := learning.OpenSQLiteIndex(cmd.Context(), meta.WorkspaceDir)
				if err != nil {
					return fmt.Errorf("open learning sqlite index: %w", err)
				}
				defer idx.Close()
				sinceEvents, err = idx.QuerySince(cmd.Context(), cutoff)
				if err != nil {
					return fmt.Errorf("query learning sqlite index: %w", err)
				}
			}

			if jsonOut {
				out := map[string]any{"summary": summary}
				if since != "" {
					out["sinceEvents"] = sinceEvents
				}
				data, _ := json.MarshalIndent(out, "", "  ")
				fmt.Println(string(data))
				return nil
			}

			fmt.Printf("Audit summary for %s\n", teamID)
			fmt.Println("─────────────────────────")
			fmt.Printf("Review sessions:     %d\n", summary.ReviewSessions)
			fmt.Printf("Passed first cycle:  %d\n", summary.PassedFirstCycle)
			fmt.Printf("Average cycles:      %.2f\n", summary.AverageCycles)
			fmt.Printf("Escalations:         %d\n", summary.Escalations)
			fmt.Printf("Stalls:              %d\n", summary.Stalls)
			fmt.Printf("File conflicts:      %d\n", summary.FileConflicts)
			if since != "" {
				fmt.Printf("Quality events since %s: %d\n", since, len(sinceEvents))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&since, "since", "", "also query the learning store's sqlite index for events at/after this RFC3339 timestamp")
	return cmd
}
