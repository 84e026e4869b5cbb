// Package cli implements the teamctl command-line interface: a thin
// operational surface over the orchestration core (team registry, YOLO
// runs, audit trail) with no business logic of its own. Grounded on
// orc/internal/cli's root.go (command groups, persistent --json/--verbose
// flags, cobra.OnInitialize wiring).
package cli

import (
	"github.com/spf13/cobra"
)

var (
	baseDir string
	jsonOut bool
	verbose bool
)

const (
	groupCore     = "core"
	groupAdvanced = "advanced"
)

// defaultBaseDir is the directory teamctl stores per-team state under,
// mirroring orc's .orc convention but scoped to this project.
const defaultBaseDir = ".team-forge"

var rootCmd = &cobra.Command{
	Use:   "teamctl",
	Short: "Operate AI-agent teams: create teams, run YOLO, inspect audit trails",
	Long: `teamctl is the operational surface for the team orchestration core.

Quick start:
  teamctl team create "checkout-rewrite"   Register a new team
  teamctl team status <team-id>            Show team/task counts
  teamctl yolo run <team-id> "<goal>"      Run one autonomous YOLO cycle
  teamctl audit summary <team-id>          Summarize a team's audit trail`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&baseDir, "base-dir", defaultBaseDir, "directory teamctl stores per-team state under")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "output as JSON")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddGroup(
		&cobra.Group{ID: groupCore, Title: "Core Commands:"},
		&cobra.Group{ID: groupAdvanced, Title: "Advanced:"},
	)

	addCmd(newTeamCmd(), groupCore)
	addCmd(newYoloCmd(), groupAdvanced)
	addCmd(newAuditCmd(), groupAdvanced)
}

func addCmd(cmd *cobra.Command, groupID string) {
	cmd.GroupID = groupID
	rootCmd.AddCommand(cmd)
}
