package cli

import (
	"context"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/teamforge/core/internal/checkpoint"
	"github.com/teamforge/core/internal/config"
	"github.com/teamforge/core/internal/diffcollector"
	"github.com/teamforge/core/internal/events"
	"github.com/teamforge/core/internal/gate"
	"github.com/teamforge/core/internal/manager"
	"github.com/teamforge/core/internal/metrics"
	"github.com/teamforge/core/internal/review"
	"github.com/teamforge/core/internal/types"
	"github.com/teamforge/core/internal/yolo"
)

// newYoloCmd creates the yolo command group.
func newYoloCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "yolo",
		Short: "Drive autonomous YOLO runs",
	}
	cmd.AddCommand(newYoloRunCmd())
	return cmd
}

// newYoloRunCmd starts one autonomous run for an existing team. teamctl
// itself supplies no spec-generation, decomposition, execution, or
// integration-checking logic — those are the embedding host's job — so this
// command is a smoke test of the phase state machine and circuit breakers,
// not a way to actually ship work from the command line.
func newYoloRunCmd() *cobra.Command {
	var metricsAddr string
	cmd := &cobra.Command{
		Use:   "run <team-id> <goal>",
		Short: "Run one autonomous YOLO cycle against a team (requires an embedding host for real agent work)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			teamID, goal := args[0], args[1]
			meta, err := loadTeamMeta(baseDir, teamID)
			if err != nil {
				return err
			}

			bus := events.NewBus()
			bus.Subscribe(events.TopicYoloPhaseChanged, func(payload any) {
				if state, ok := payload.(types.YoloState); ok {
					fmt.Printf("  phase -> %s\n", state.Phase)
				}
			})

			collector := metrics.New()
			collector.Subscribe(bus)
			if metricsAddr != "" {
				srv := &http.Server{Addr: metricsAddr, Handler: collector.Handler()}
				go func() { _ = srv.ListenAndServe() }()
				defer srv.Close()
				fmt.Printf("Serving metrics on %s\n", metricsAddr)
			}

			mgr := manager.New(bus, nil)
			mgr.CreateTeam(types.Team{ID: meta.ID, Name: meta.Name, Status: meta.Status, WorkspaceDir: meta.WorkspaceDir, CreatedAt: meta.CreatedAt})

			// Attach a review loop with no-op collaborators: teamctl supplies no
			// diff collection, gate pipeline, or escalation logic of its own
			// (those are the embedding host's job), but a completed task still
			// needs somewhere to route so the manager's §4.11 intercept has
			// something to enqueue into.
			reviewLoop := review.New(review.Options{
				GateConfig:  config.DefaultGateConfig(),
				Checkpoints: checkpoint.NewNullCheckpointManager(),
				Diffs: diffcollector.CollectorFunc(func(_ context.Context, taskID string) (*diffcollector.Diff, error) {
					return &diffcollector.Diff{TaskID: taskID}, nil
				}),
				Pipeline: review.PipelineFunc(func(_ context.Context, _ types.Task, _ *diffcollector.Diff) (gate.StageResults, error) {
					return gate.StageResults{}, nil
				}),
				Escalator: review.EscalatorFunc(func(context.Context, string, types.Task, types.ReviewState, string) error {
					return nil
				}),
				Bus: bus,
			})
			mgr.WithReviewLoop(reviewLoop)

			run := yolo.New(yolo.Options{
				TeamID:     teamID,
				Config:     types.DefaultYoloConfig(),
				Bus:        bus,
				Manager:    mgr,
				SpecGen:    noopSpecGen{},
				Decomposer: noopDecomposer{},
				Executor:   noopExecutor{},
				Integrator: noopIntegrator{},
				Synth:      noopSynth{},
			})

			fmt.Printf("Starting YOLO run for %s: %q\n", teamID, goal)
			err = run.Start(context.Background(), goal)
			fmt.Printf("Final phase: %s\n", run.State().Phase)
			return err
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address for the run's duration (e.g. :9090)")
	return cmd
}

// noop* are placeholder YOLO collaborators for the standalone CLI entry
// point; an embedding host wires real implementations (agent spawning,
// spec generation, integration checks) through the same yolo.Options.
type noopSpecGen struct{}

func (noopSpecGen) GenerateSpec(_ context.Context, goal string) (string, error) { return goal, nil }

type noopDecomposer struct{}

func (noopDecomposer) Decompose(_ context.Context, spec string) ([]types.Task, []types.Phase, error) {
	return nil, nil, nil
}

type noopExecutor struct{}

func (noopExecutor) ExecuteTask(_ context.Context, _ string, _ types.Task) error { return nil }

type noopIntegrator struct{}

func (noopIntegrator) CheckIntegration(_ context.Context, _ string) (bool, []string, error) {
	return true, nil, nil
}

type noopSynth struct{}

func (noopSynth) Synthesize(_ context.Context, _ string) (string, error) {
	return "no-op synthesis: no tasks were executed", nil
}
