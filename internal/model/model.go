// Package model defines the shared domain types for stage runs, worker
// invocations, scoring, and consensus results.
package model

import (
	"context"
	"time"
)

// RunStatus is the lifecycle state of a stage run.
type RunStatus string

const (
	RunQueued          RunStatus = "queued"
	RunDispatched      RunStatus = "dispatched"
	RunAwaitingWorkers RunStatus = "awaiting_workers"
	RunScoring         RunStatus = "scoring"
	RunConsensus       RunStatus = "consensus"
	RunCompleted       RunStatus = "completed"
	RunEscalated       RunStatus = "escalated"
	RunCancelled       RunStatus = "cancelled"
	RunFailed          RunStatus = "failed"
)

// IsTerminal reports whether the status admits no further transitions.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunCompleted, RunEscalated, RunCancelled, RunFailed:
		return true
	}
	return false
}

func (s RunStatus) String() string { return string(s) }

// WorkerStatus is the lifecycle state of a single worker invocation.
type WorkerStatus string

const (
	WorkerRunning   WorkerStatus = "running"
	WorkerSucceeded WorkerStatus = "succeeded"
	WorkerFailed    WorkerStatus = "failed"
	WorkerTimedOut  WorkerStatus = "timed_out"
)

// IsTerminal reports whether the worker has stopped for good.
func (s WorkerStatus) IsTerminal() bool { return s != WorkerRunning }

func (s WorkerStatus) String() string { return string(s) }

// StageRun is one attempt to execute a pipeline stage for a work item.
// At most one non-terminal StageRun exists per (WorkItemID, Stage); the
// run guard enforces this.
type StageRun struct {
	WorkItemID string
	Stage      string
	RunID      string
	Status     RunStatus
	Attempt    int
	DedupeHash string

	// Cancel tears down the run's workers. Owned by the orchestrator.
	Cancel context.CancelFunc `json:"-"`
}

// WorkerInvocation records one worker's execution within a stage run.
// A StageRun exclusively owns its invocations from dispatch until the
// run reaches a terminal state.
type WorkerInvocation struct {
	WorkerID        string
	RunID           string
	AgentName       string
	SpawnedAt       time.Time
	CompletedAt     time.Time
	Status          WorkerStatus
	RawOutput       []byte
	ValidatedOutput []byte
}

// Duration returns the worker's wall-clock runtime, or zero if it has
// not completed.
func (w *WorkerInvocation) Duration() time.Duration {
	if w.CompletedAt.IsZero() {
		return 0
	}
	return w.CompletedAt.Sub(w.SpawnedAt)
}

// EffortLevel classifies how much operator effort a worker question
// demands.
type EffortLevel string

const (
	EffortLow    EffortLevel = "low"
	EffortMedium EffortLevel = "medium"
	EffortHigh   EffortLevel = "high"
)

// Question is one clarifying question a worker asked mid-run.
type Question struct {
	Text   string
	Effort EffortLevel
}

// ViolationKind categorizes a preference violation observed in a
// worker's interaction.
type ViolationKind string

const (
	ViolationFormat   ViolationKind = "format"
	ViolationContent  ViolationKind = "content"
	ViolationLanguage ViolationKind = "language"
)

// Violation is one departure from the operator's stated preferences.
type Violation struct {
	Kind   ViolationKind
	Detail string
}

// Trajectory is a worker's recorded multi-turn interaction history for
// one run. Workers for uninstrumented agents have no trajectory; the
// consensus selector treats that as interaction zero, not an error.
type Trajectory struct {
	WorkerID   string
	Turns      int
	Questions  []Question
	Violations []Violation
}

// Score holds the per-worker scoring breakdown. Technical is bounded
// to [0,1]; Interaction may be negative.
type Score struct {
	AgentName   string
	Technical   float64
	Interaction float64
	Final       float64
}

// ConsensusStatus describes how decisive a consensus round was.
type ConsensusStatus string

const (
	ConsensusOK       ConsensusStatus = "ok"
	ConsensusDegraded ConsensusStatus = "degraded"
	ConsensusConflict ConsensusStatus = "conflict"
)

func (s ConsensusStatus) String() string { return string(s) }

// ConsensusResult is the outcome of weighted selection across a run's
// workers.
type ConsensusResult struct {
	SelectedAgent string
	Confidence    float64
	PerAgent      []Score
	Status        ConsensusStatus
}

// RetryPolicy holds backoff parameters for one operation class.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	Multiplier     float64
	MaxBackoff     time.Duration
	JitterFactor   float64
}
