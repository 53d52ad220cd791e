package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/conclavehq/conclave/internal/agent"
	"github.com/conclavehq/conclave/internal/config"
	"github.com/conclavehq/conclave/internal/consensus"
	"github.com/conclavehq/conclave/internal/logging"
	"github.com/conclavehq/conclave/internal/model"
	"github.com/conclavehq/conclave/internal/orchestrator"
	"github.com/conclavehq/conclave/internal/runguard"
	"github.com/conclavehq/conclave/internal/scoring"
	"github.com/conclavehq/conclave/internal/storage"
	"github.com/conclavehq/conclave/internal/telemetry"
	"github.com/conclavehq/conclave/internal/worker"
)

var runCmd = &cobra.Command{
	Use:   "run <work-item> <stage>",
	Short: "Dispatch a stage run and wait for consensus",
	Long: `Dispatch one stage of a work item to the configured agent roster
and wait for the run to halt.

The prompt is read from --prompt, or from stdin when --prompt is omitted.
The run proceeds through worker fan-out, output validation, scoring, and
weighted consensus. On success the selected agent and its validated
output are printed.

Exit status is non-zero when the run fails or escalates on conflict.

Examples:
  # Dispatch the plan stage, prompt from a file
  conclave run issue-142 plan < prompt.txt

  # Inline prompt, machine-readable result
  conclave run issue-142 implement --prompt "..." --json`,
	Args: cobra.ExactArgs(2),
	RunE: runRun,
}

var (
	runPrompt string
	runJSON   bool
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runPrompt, "prompt", "p", "", "Prompt text (default: read from stdin)")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "Print the outcome as JSON")
}

// runResult is the machine-readable shape printed under --json.
type runResult struct {
	RunID         string          `json:"run_id"`
	WorkItemID    string          `json:"work_item_id"`
	Stage         string          `json:"stage"`
	Attempt       int             `json:"attempt"`
	Status        string          `json:"status"`
	SelectedAgent string          `json:"selected_agent,omitempty"`
	Confidence    float64         `json:"confidence,omitempty"`
	PerAgent      []model.Score   `json:"per_agent,omitempty"`
	Output        json.RawMessage `json:"output,omitempty"`
	Error         string          `json:"error,omitempty"`
}

func runRun(cmd *cobra.Command, args []string) error {
	workItemID, stage := args[0], args[1]

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if len(cfg.Agents) == 0 {
		return fmt.Errorf("no agents configured; add an agents list to %s", config.ConfigFile())
	}

	prompt := runPrompt
	if prompt == "" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("failed to read prompt from stdin: %w", err)
		}
		prompt = strings.TrimSpace(string(data))
	}
	if prompt == "" {
		return fmt.Errorf("empty prompt; pass --prompt or pipe text on stdin")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, cleanup, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	shutdown, err := telemetry.Init(ctx, cfg.Telemetry, rootCmd.Version)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	store, err := storage.New(cfg.StoragePath())
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer store.Close()

	recorder, err := telemetry.NewRecorder()
	if err != nil {
		return fmt.Errorf("failed to create telemetry recorder: %w", err)
	}

	registry := agent.NewRegistry(cfg.Agents)
	invoker := agent.NewExecInvoker(registry, logger)
	workers := worker.NewManager(cfg.Worker, cfg.Validation, invoker, logger)
	selector := consensus.New(scoring.New(cfg.Scoring), cfg.Consensus)

	orch := orchestrator.New(cfg.Orchestrator, channelRoot(cfg), orchestrator.Options{
		Workers:  workers,
		Registry: registry,
		Selector: selector,
		Guard:    runguard.NewGuard(),
		Store:    store,
		Recorder: recorder,
		Retry:    cfg.Retry,
		Logger:   logger,
	})
	orch.Start(ctx)
	defer orch.Stop()

	ticket, err := orch.Dispatch(ctx, workItemID, stage, prompt)
	if err != nil {
		return err
	}

	var outcome orchestrator.RunOutcome
	select {
	case outcome = <-ticket.Done:
	case <-ctx.Done():
		orch.CancelRun(ticket.RunID)
		outcome = <-ticket.Done
	}

	return printOutcome(outcome)
}

func printOutcome(outcome orchestrator.RunOutcome) error {
	run := outcome.Run

	if runJSON {
		res := runResult{
			RunID:      run.RunID,
			WorkItemID: run.WorkItemID,
			Stage:      run.Stage,
			Attempt:    run.Attempt,
			Status:     run.Status.String(),
			Error:      errorMessage(outcome.Err),
		}
		if c := outcome.Consensus; c != nil {
			res.SelectedAgent = c.SelectedAgent
			res.Confidence = c.Confidence
			res.PerAgent = c.PerAgent
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return err
		}
	} else {
		fmt.Printf("Run %s (%s/%s, attempt %d): %s\n",
			run.RunID, run.WorkItemID, run.Stage, run.Attempt, run.Status)
		if c := outcome.Consensus; c != nil {
			if c.SelectedAgent != "" {
				fmt.Printf("Selected: %s (confidence %.3f, consensus %s)\n",
					c.SelectedAgent, c.Confidence, c.Status)
			}
			for _, s := range c.PerAgent {
				fmt.Printf("  %-16s technical=%.3f interaction=%+.3f final=%.3f\n",
					s.AgentName, s.Technical, s.Interaction, s.Final)
			}
		}
	}

	switch run.Status {
	case model.RunCompleted:
		return nil
	case model.RunEscalated:
		return fmt.Errorf("run escalated: consensus conflict requires operator review")
	default:
		if outcome.Err != nil {
			return outcome.Err
		}
		return fmt.Errorf("run halted as %s", run.Status)
	}
}

// newLogger builds the configured logger. The returned cleanup is safe to
// call even when logging goes to stderr.
func newLogger(cfg *config.Config) (*logging.Logger, func(), error) {
	if !cfg.Logging.Enabled {
		return logging.NopLogger(), func() {}, nil
	}

	logger, err := logging.NewLoggerWithRotation(logDir(cfg), cfg.Logging.Level, logging.RotationConfig{
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logging: %w", err)
	}
	return logger, func() { _ = logger.Close() }, nil
}

// logDir resolves the log directory, defaulting under the config dir.
func logDir(cfg *config.Config) string {
	if cfg.Logging.Dir != "" {
		return cfg.Logging.Dir
	}
	return filepath.Join(config.ConfigDir(), "logs")
}

// channelRoot resolves the worker side-channel root directory.
func channelRoot(cfg *config.Config) string {
	if cfg.Worker.ChannelDir != "" {
		return cfg.Worker.ChannelDir
	}
	return filepath.Join(config.ConfigDir(), "channels")
}

func errorMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
