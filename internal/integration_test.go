// Package internal contains integration tests that verify the packages
// compose correctly: a dispatch flows through the run guard, worker
// fan-out, consensus, and out through the event bus and store.
package internal

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/conclavehq/conclave/internal/agent"
	"github.com/conclavehq/conclave/internal/config"
	"github.com/conclavehq/conclave/internal/consensus"
	"github.com/conclavehq/conclave/internal/event"
	"github.com/conclavehq/conclave/internal/logging"
	"github.com/conclavehq/conclave/internal/model"
	"github.com/conclavehq/conclave/internal/orchestrator"
	"github.com/conclavehq/conclave/internal/runguard"
	"github.com/conclavehq/conclave/internal/scoring"
	"github.com/conclavehq/conclave/internal/storage"
	"github.com/conclavehq/conclave/internal/worker"
)

// TestRunFlowsThroughBusAndStore dispatches one real stage run against a
// shell-backed agent and verifies that the event bus observes the full
// lifecycle and the SQLite store holds the matching records.
func TestRunFlowsThroughBusAndStore(t *testing.T) {
	payload := `{"summary": "integration check", "detail": "full pipeline"}`
	agents := []config.AgentConfig{{
		Name:    "falcon",
		Command: "sh",
		Args:    []string{"-c", `printf '%s' "$0"; touch "$CONCLAVE_MARKER"`, payload},
	}}

	workerCfg := config.WorkerConfig{
		PollIntervalMs:           50,
		MinOutputBytes:           20,
		TimeoutSeconds:           10,
		GraceSeconds:             1,
		PlausibilityFloorSeconds: 30,
		PlausibilitySizeBytes:    1024,
	}

	registry := agent.NewRegistry(agents)
	invoker := agent.NewExecInvoker(registry, logging.NopLogger())
	workers := worker.NewManager(workerCfg, config.ValidationConfig{MinBytes: 20, MaxRetries: 1}, invoker, logging.NopLogger())
	selector := consensus.New(
		scoring.New(config.ScoringConfig{}),
		config.ConsensusConfig{Weights: config.WeightsConfig{Technical: 0.7, Interaction: 0.3}, Quorum: 1},
	)

	store, err := storage.New(filepath.Join(t.TempDir(), "conclave.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer store.Close()

	bus := event.NewBus()
	var mu sync.Mutex
	var statuses []model.RunStatus
	var consensusEvents int
	bus.Subscribe("run.status_changed", func(e event.Event) {
		mu.Lock()
		defer mu.Unlock()
		statuses = append(statuses, e.(event.RunStatusChangedEvent).Current)
	})
	bus.Subscribe("consensus.reached", func(e event.Event) {
		mu.Lock()
		defer mu.Unlock()
		consensusEvents++
	})

	orch := orchestrator.New(config.OrchestratorConfig{MaxStageRetries: 2, MaxConcurrentRuns: 2}, t.TempDir(), orchestrator.Options{
		Workers:  workers,
		Registry: registry,
		Selector: selector,
		Guard:    runguard.NewGuard(),
		Bus:      bus,
		Store:    store,
		Logger:   logging.NopLogger(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	orch.Start(ctx)
	defer orch.Stop()

	ticket, err := orch.Dispatch(ctx, "item-9", "plan", "check the pipeline")
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}

	var outcome orchestrator.RunOutcome
	select {
	case outcome = <-ticket.Done:
	case <-time.After(30 * time.Second):
		t.Fatal("timed out waiting for outcome")
	}

	if outcome.Run.Status != model.RunCompleted {
		t.Fatalf("run status = %q, want completed (err=%v)", outcome.Run.Status, outcome.Err)
	}
	if outcome.Consensus == nil || outcome.Consensus.SelectedAgent != "falcon" {
		t.Fatalf("consensus = %+v, want falcon selected", outcome.Consensus)
	}

	mu.Lock()
	gotStatuses := append([]model.RunStatus(nil), statuses...)
	gotConsensus := consensusEvents
	mu.Unlock()

	want := []model.RunStatus{
		model.RunQueued,
		model.RunDispatched,
		model.RunAwaitingWorkers,
		model.RunScoring,
		model.RunConsensus,
		model.RunCompleted,
	}
	if len(gotStatuses) != len(want) {
		t.Fatalf("bus saw %d status events, want %d: %v", len(gotStatuses), len(want), gotStatuses)
	}
	for i, st := range want {
		if gotStatuses[i] != st {
			t.Errorf("status event[%d] = %q, want %q", i, gotStatuses[i], st)
		}
	}
	if gotConsensus != 1 {
		t.Errorf("bus saw %d consensus events, want 1", gotConsensus)
	}

	// Store agrees with the bus
	transitions, err := store.TransitionsForRun(outcome.Run.RunID)
	if err != nil {
		t.Fatalf("failed to load transitions: %v", err)
	}
	if len(transitions) != len(want) {
		t.Errorf("store holds %d transitions, want %d", len(transitions), len(want))
	}

	decision, err := store.DecisionForRun(outcome.Run.RunID)
	if err != nil {
		t.Fatalf("failed to load decision: %v", err)
	}
	if decision == nil || decision.SelectedAgent != "falcon" {
		t.Errorf("stored decision = %+v, want falcon selected", decision)
	}

	invocations, err := store.InvocationsForRun(outcome.Run.RunID)
	if err != nil {
		t.Fatalf("failed to load invocations: %v", err)
	}
	if len(invocations) != 1 || invocations[0].Status != model.WorkerSucceeded {
		t.Errorf("stored invocations = %+v, want one succeeded worker", invocations)
	}
}
