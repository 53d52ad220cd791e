package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/conclavehq/conclave/internal/config"
	"github.com/conclavehq/conclave/internal/storage"
)

var statusCmd = &cobra.Command{
	Use:   "status <work-item> <stage>",
	Short: "Show run history and the latest consensus for a stage",
	Long: `Show the recorded lifecycle transitions for a (work item, stage)
slot across all attempts, plus the most recent consensus decision.

Examples:
  # History and latest decision for the plan stage
  conclave status issue-142 plan

  # Include per-worker invocations for each run
  conclave status issue-142 plan --workers`,
	Args: cobra.ExactArgs(2),
	RunE: runStatus,
}

var statusWorkers bool

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().BoolVar(&statusWorkers, "workers", false, "Show per-worker invocations")
}

func runStatus(cmd *cobra.Command, args []string) error {
	workItemID, stage := args[0], args[1]

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	store, err := storage.New(cfg.StoragePath())
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer store.Close()

	transitions, err := store.TransitionsForItem(workItemID, stage)
	if err != nil {
		return fmt.Errorf("failed to load transitions: %w", err)
	}
	if len(transitions) == 0 {
		fmt.Printf("No runs recorded for %s/%s\n", workItemID, stage)
		return nil
	}

	fmt.Printf("Runs for %s/%s:\n", workItemID, stage)
	lastRunID := ""
	for _, tr := range transitions {
		if tr.RunID != lastRunID {
			fmt.Printf("\n  run %s (attempt %d)\n", tr.RunID, tr.Attempt)
			lastRunID = tr.RunID
		}
		fmt.Printf("    %s  %s\n", tr.RecordedAt.Local().Format("2006-01-02 15:04:05"), tr.Status)

		if statusWorkers && tr.Status.IsTerminal() {
			invocations, err := store.InvocationsForRun(tr.RunID)
			if err != nil {
				return fmt.Errorf("failed to load invocations: %w", err)
			}
			for _, inv := range invocations {
				fmt.Printf("    worker %s agent=%s status=%s duration=%s\n",
					inv.WorkerID, inv.AgentName, inv.Status, inv.Duration().Round(time.Second))
			}
		}
	}

	decision, err := store.LatestDecisionForItem(workItemID, stage)
	if err != nil {
		return fmt.Errorf("failed to load decision: %w", err)
	}
	if decision == nil {
		fmt.Println("\nNo consensus decision recorded.")
		return nil
	}

	fmt.Printf("\nLatest consensus (run %s, %s):\n", decision.RunID, decision.Status)
	if decision.SelectedAgent != "" {
		fmt.Printf("  selected %s with confidence %.3f\n", decision.SelectedAgent, decision.Confidence)
	}
	for _, s := range decision.PerAgent {
		fmt.Printf("  %-16s technical=%.3f interaction=%+.3f final=%.3f\n",
			s.AgentName, s.Technical, s.Interaction, s.Final)
	}
	return nil
}
