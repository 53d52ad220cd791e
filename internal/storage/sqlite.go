// Package storage persists the audit trail of stage runs: status
// transitions, worker invocations, and consensus decisions. The store is
// append-only; rows are never updated or deleted, so the history of a
// work item survives retries and dedupes intact.
package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	conclaveerrors "github.com/conclavehq/conclave/internal/errors"
	"github.com/conclavehq/conclave/internal/model"
)

// Store wraps the SQLite database holding the run audit trail.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the store at dbPath and applies the schema.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS run_transitions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		work_item_id TEXT NOT NULL,
		stage TEXT NOT NULL,
		attempt INTEGER NOT NULL,
		status TEXT NOT NULL,
		recorded_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS worker_invocations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		worker_id TEXT NOT NULL,
		run_id TEXT NOT NULL,
		agent_name TEXT NOT NULL,
		status TEXT NOT NULL,
		spawned_at TIMESTAMP,
		completed_at TIMESTAMP,
		raw_output BLOB,
		validated_output BLOB
	);

	CREATE TABLE IF NOT EXISTS consensus_decisions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		work_item_id TEXT NOT NULL,
		stage TEXT NOT NULL,
		selected_agent TEXT,
		confidence REAL,
		status TEXT NOT NULL,
		per_agent TEXT,
		recorded_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_transitions_run ON run_transitions(run_id);
	CREATE INDEX IF NOT EXISTS idx_transitions_item ON run_transitions(work_item_id, stage);
	CREATE INDEX IF NOT EXISTS idx_invocations_run ON worker_invocations(run_id);
	CREATE INDEX IF NOT EXISTS idx_decisions_run ON consensus_decisions(run_id);
	CREATE INDEX IF NOT EXISTS idx_decisions_item ON consensus_decisions(work_item_id, stage);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Transition is one recorded run status change.
type Transition struct {
	RunID      string
	WorkItemID string
	Stage      string
	Attempt    int
	Status     model.RunStatus
	RecordedAt time.Time
}

// transient marks a write failure as retryable store contention so
// callers can re-attempt it under their store retry policy. SQLite
// single-writer locking makes busy errors the expected failure mode for
// concurrent appends.
func transient(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", conclaveerrors.ErrStoreContention, err)
}

// RecordTransition appends one status transition for a run.
func (s *Store) RecordTransition(run model.StageRun) error {
	_, err := s.db.Exec(
		`INSERT INTO run_transitions (run_id, work_item_id, stage, attempt, status)
		 VALUES (?, ?, ?, ?, ?)`,
		run.RunID, run.WorkItemID, run.Stage, run.Attempt, string(run.Status),
	)
	return transient(err)
}

// TransitionsForRun returns a run's transitions in recorded order.
func (s *Store) TransitionsForRun(runID string) ([]Transition, error) {
	return s.queryTransitions(
		`SELECT run_id, work_item_id, stage, attempt, status, recorded_at
		 FROM run_transitions WHERE run_id = ? ORDER BY id`, runID)
}

// TransitionsForItem returns every transition recorded for a (work item,
// stage) pair across all of its runs and retries, in recorded order.
func (s *Store) TransitionsForItem(workItemID, stage string) ([]Transition, error) {
	return s.queryTransitions(
		`SELECT run_id, work_item_id, stage, attempt, status, recorded_at
		 FROM run_transitions WHERE work_item_id = ? AND stage = ? ORDER BY id`, workItemID, stage)
}

func (s *Store) queryTransitions(query string, args ...any) ([]Transition, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transitions []Transition
	for rows.Next() {
		var tr Transition
		var status string
		if err := rows.Scan(&tr.RunID, &tr.WorkItemID, &tr.Stage, &tr.Attempt, &status, &tr.RecordedAt); err != nil {
			return nil, err
		}
		tr.Status = model.RunStatus(status)
		transitions = append(transitions, tr)
	}
	return transitions, rows.Err()
}

// RecordInvocation appends one worker invocation record. Raw and
// validated output are kept as per-run evidence.
func (s *Store) RecordInvocation(inv model.WorkerInvocation) error {
	var completedAt any
	if !inv.CompletedAt.IsZero() {
		completedAt = inv.CompletedAt
	}

	_, err := s.db.Exec(
		`INSERT INTO worker_invocations (worker_id, run_id, agent_name, status, spawned_at, completed_at, raw_output, validated_output)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		inv.WorkerID, inv.RunID, inv.AgentName, string(inv.Status),
		inv.SpawnedAt, completedAt, inv.RawOutput, inv.ValidatedOutput,
	)
	return transient(err)
}

// InvocationsForRun returns a run's worker invocations in recorded order.
func (s *Store) InvocationsForRun(runID string) ([]model.WorkerInvocation, error) {
	rows, err := s.db.Query(
		`SELECT worker_id, run_id, agent_name, status, spawned_at, completed_at, raw_output, validated_output
		 FROM worker_invocations WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var invocations []model.WorkerInvocation
	for rows.Next() {
		var inv model.WorkerInvocation
		var status string
		var spawnedAt, completedAt sql.NullTime
		if err := rows.Scan(&inv.WorkerID, &inv.RunID, &inv.AgentName, &status,
			&spawnedAt, &completedAt, &inv.RawOutput, &inv.ValidatedOutput); err != nil {
			return nil, err
		}
		inv.Status = model.WorkerStatus(status)
		if spawnedAt.Valid {
			inv.SpawnedAt = spawnedAt.Time
		}
		if completedAt.Valid {
			inv.CompletedAt = completedAt.Time
		}
		invocations = append(invocations, inv)
	}
	return invocations, rows.Err()
}

// Decision is one persisted consensus outcome.
type Decision struct {
	RunID         string
	WorkItemID    string
	Stage         string
	SelectedAgent string
	Confidence    float64
	Status        model.ConsensusStatus
	PerAgent      []model.Score
	RecordedAt    time.Time
}

// RecordDecision appends the consensus outcome for a run.
func (s *Store) RecordDecision(runID, workItemID, stage string, result model.ConsensusResult) error {
	perAgent, err := json.Marshal(result.PerAgent)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(
		`INSERT INTO consensus_decisions (run_id, work_item_id, stage, selected_agent, confidence, status, per_agent)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		runID, workItemID, stage, result.SelectedAgent, result.Confidence,
		string(result.Status), string(perAgent),
	)
	return transient(err)
}

// DecisionForRun returns the consensus decision recorded for a run, or
// nil if the run never reached consensus.
func (s *Store) DecisionForRun(runID string) (*Decision, error) {
	row := s.db.QueryRow(
		`SELECT run_id, work_item_id, stage, selected_agent, confidence, status, per_agent, recorded_at
		 FROM consensus_decisions WHERE run_id = ? ORDER BY id DESC LIMIT 1`, runID)

	d, err := scanDecision(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return d, err
}

// LatestDecisionForItem returns the most recent decision for a (work
// item, stage) pair across retries, or nil if none exists.
func (s *Store) LatestDecisionForItem(workItemID, stage string) (*Decision, error) {
	row := s.db.QueryRow(
		`SELECT run_id, work_item_id, stage, selected_agent, confidence, status, per_agent, recorded_at
		 FROM consensus_decisions WHERE work_item_id = ? AND stage = ? ORDER BY id DESC LIMIT 1`,
		workItemID, stage)

	d, err := scanDecision(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return d, err
}

func scanDecision(row *sql.Row) (*Decision, error) {
	var d Decision
	var status string
	var selectedAgent sql.NullString
	var perAgent sql.NullString

	err := row.Scan(&d.RunID, &d.WorkItemID, &d.Stage, &selectedAgent,
		&d.Confidence, &status, &perAgent, &d.RecordedAt)
	if err != nil {
		return nil, err
	}

	d.Status = model.ConsensusStatus(status)
	if selectedAgent.Valid {
		d.SelectedAgent = selectedAgent.String
	}
	if perAgent.Valid {
		if err := json.Unmarshal([]byte(perAgent.String), &d.PerAgent); err != nil {
			return nil, err
		}
	}
	return &d, nil
}
