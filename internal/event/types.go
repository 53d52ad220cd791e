// Package event defines the synchronous pub-sub bus and event types that
// decouple the orchestrator from observers such as the CLI, persistence,
// and telemetry. Handlers run inline on the publisher's goroutine;
// anything slow belongs behind a channel on the subscriber's side.
package event

import (
	"time"

	"github.com/conclavehq/conclave/internal/model"
)

// Event is the interface all published events implement.
type Event interface {
	// EventType returns a string identifier for this event type.
	// Convention: "category.action" (e.g., "run.dispatched", "worker.timed_out")
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// baseEvent provides common fields for all events.
// Embed this in concrete event types to satisfy the Event interface.
type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

func newBaseEvent(eventType string) baseEvent {
	return baseEvent{
		eventType: eventType,
		timestamp: time.Now(),
	}
}

// -----------------------------------------------------------------------------
// Run Lifecycle Events
// -----------------------------------------------------------------------------

// RunStatusChangedEvent is emitted on every run state transition.
type RunStatusChangedEvent struct {
	baseEvent
	RunID      string
	WorkItemID string
	Stage      string
	Attempt    int
	Previous   model.RunStatus
	Current    model.RunStatus
}

// NewRunStatusChangedEvent creates a RunStatusChangedEvent.
func NewRunStatusChangedEvent(run model.StageRun, previous model.RunStatus) RunStatusChangedEvent {
	return RunStatusChangedEvent{
		baseEvent:  newBaseEvent("run.status_changed"),
		RunID:      run.RunID,
		WorkItemID: run.WorkItemID,
		Stage:      run.Stage,
		Attempt:    run.Attempt,
		Previous:   previous,
		Current:    run.Status,
	}
}

// RunDedupedEvent is emitted when a dispatch request finds a non-terminal
// run already holding the (work item, stage) slot. The duplicate is
// absorbed, not failed; operators see it as a notice.
type RunDedupedEvent struct {
	baseEvent
	WorkItemID  string
	Stage       string
	ActiveRunID string
}

// NewRunDedupedEvent creates a RunDedupedEvent.
func NewRunDedupedEvent(workItemID, stage, activeRunID string) RunDedupedEvent {
	return RunDedupedEvent{
		baseEvent:   newBaseEvent("run.deduped"),
		WorkItemID:  workItemID,
		Stage:       stage,
		ActiveRunID: activeRunID,
	}
}

// StageRetryEvent is emitted when a failed run is retried under a fresh
// run ID.
type StageRetryEvent struct {
	baseEvent
	WorkItemID string
	Stage      string
	OldRunID   string
	NewRunID   string
	Attempt    int
	Reason     string
}

// NewStageRetryEvent creates a StageRetryEvent.
func NewStageRetryEvent(workItemID, stage, oldRunID, newRunID string, attempt int, reason string) StageRetryEvent {
	return StageRetryEvent{
		baseEvent:  newBaseEvent("run.retrying"),
		WorkItemID: workItemID,
		Stage:      stage,
		OldRunID:   oldRunID,
		NewRunID:   newRunID,
		Attempt:    attempt,
		Reason:     reason,
	}
}

// -----------------------------------------------------------------------------
// Worker Lifecycle Events
// -----------------------------------------------------------------------------

// WorkerStartedEvent is emitted when a worker process is spawned.
type WorkerStartedEvent struct {
	baseEvent
	WorkerID  string
	RunID     string
	AgentName string
	PID       int
}

// NewWorkerStartedEvent creates a WorkerStartedEvent.
func NewWorkerStartedEvent(workerID, runID, agentName string, pid int) WorkerStartedEvent {
	return WorkerStartedEvent{
		baseEvent: newBaseEvent("worker.started"),
		WorkerID:  workerID,
		RunID:     runID,
		AgentName: agentName,
		PID:       pid,
	}
}

// WorkerFinishedEvent is emitted when a worker reaches any terminal state.
type WorkerFinishedEvent struct {
	baseEvent
	WorkerID  string
	RunID     string
	AgentName string
	Status    model.WorkerStatus
	Duration  time.Duration
	Error     string
}

// NewWorkerFinishedEvent creates a WorkerFinishedEvent.
func NewWorkerFinishedEvent(inv model.WorkerInvocation, errMsg string) WorkerFinishedEvent {
	return WorkerFinishedEvent{
		baseEvent: newBaseEvent("worker.finished"),
		WorkerID:  inv.WorkerID,
		RunID:     inv.RunID,
		AgentName: inv.AgentName,
		Status:    inv.Status,
		Duration:  inv.Duration(),
		Error:     errMsg,
	}
}

// -----------------------------------------------------------------------------
// Consensus Events
// -----------------------------------------------------------------------------

// ConsensusReachedEvent is emitted when a run's consensus round produces a
// winner, whether at full strength or degraded.
type ConsensusReachedEvent struct {
	baseEvent
	RunID         string
	Stage         string
	SelectedAgent string
	Confidence    float64
	Status        model.ConsensusStatus
	Succeeded     int
	Roster        int
}

// NewConsensusReachedEvent creates a ConsensusReachedEvent.
func NewConsensusReachedEvent(runID, stage string, result model.ConsensusResult, succeeded, roster int) ConsensusReachedEvent {
	return ConsensusReachedEvent{
		baseEvent:     newBaseEvent("consensus.reached"),
		RunID:         runID,
		Stage:         stage,
		SelectedAgent: result.SelectedAgent,
		Confidence:    result.Confidence,
		Status:        result.Status,
		Succeeded:     succeeded,
		Roster:        roster,
	}
}

// ConflictEscalatedEvent is emitted when material disagreement or missed
// quorum forces the run to escalate instead of completing. Conflicts are
// never resolved silently.
type ConflictEscalatedEvent struct {
	baseEvent
	RunID     string
	Stage     string
	Succeeded int
	Roster    int
	Reason    string
}

// NewConflictEscalatedEvent creates a ConflictEscalatedEvent.
func NewConflictEscalatedEvent(runID, stage string, succeeded, roster int, reason string) ConflictEscalatedEvent {
	return ConflictEscalatedEvent{
		baseEvent: newBaseEvent("consensus.conflict"),
		RunID:     runID,
		Stage:     stage,
		Succeeded: succeeded,
		Roster:    roster,
		Reason:    reason,
	}
}
