// Package runguard enforces single-flight execution per (work item, stage).
//
// The Guard maintains an in-memory map of active stage runs keyed by
// (work item, stage) and resolves concurrent dispatch attempts by
// compare-and-set: exactly one caller wins, the rest receive a non-error
// deduped result with no side effects. Every downstream callback carries
// its originating run ID; callbacks whose run ID no longer matches the
// active run are discarded by comparison.
package runguard

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/google/uuid"

	conclaveerrors "github.com/conclavehq/conclave/internal/errors"
	"github.com/conclavehq/conclave/internal/model"
)

// BeginResult is the outcome of a dispatch attempt.
type BeginResult struct {
	// Run is the active stage run. On a deduped result this is the run
	// the caller lost to, not a new run.
	Run model.StageRun
	// Deduped is true when another run was already active for the
	// (work item, stage). Dedupe is informational, not a failure.
	Deduped bool
}

// DedupeNotice describes one suppressed duplicate dispatch.
type DedupeNotice struct {
	WorkItemID  string
	Stage       string
	ActiveRunID string
}

// Guard is the run lifecycle guard. It is safe for concurrent use.
type Guard struct {
	mu       sync.RWMutex
	active   map[string]*model.StageRun // (item, stage) key -> active run
	byRun    map[string]string          // run_id -> key
	cancels  map[string]context.CancelFunc
	attempts map[string]int // next attempt number per key
	dedupes  map[string]int
	handlers []func(DedupeNotice)
}

// NewGuard creates an empty Guard.
func NewGuard() *Guard {
	return &Guard{
		active:   make(map[string]*model.StageRun),
		byRun:    make(map[string]string),
		cancels:  make(map[string]context.CancelFunc),
		attempts: make(map[string]int),
		dedupes:  make(map[string]int),
	}
}

// OnDedupe registers a handler invoked whenever a dispatch is deduped.
// Handlers are called outside the guard's lock.
func (g *Guard) OnDedupe(fn func(DedupeNotice)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.handlers = append(g.handlers, fn)
}

func runKey(itemID, stage string) string {
	return itemID + "/" + stage
}

// dedupeHash fingerprints a dispatch so duplicate triggers for the same
// attempt can be recognized in persisted records.
func dedupeHash(itemID, stage string, attempt int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d", itemID, stage, attempt)))
	return hex.EncodeToString(sum[:])[:12]
}

// Begin attempts to start a new stage run for (itemID, stage).
//
// If no run is active, a fresh run is created in Queued status with a new
// run ID and the next attempt number, and the caller wins. If a run is
// already active, the caller receives the active run with Deduped set and
// no side effects occur.
func (g *Guard) Begin(itemID, stage string) BeginResult {
	key := runKey(itemID, stage)

	g.mu.Lock()
	if existing, ok := g.active[key]; ok {
		g.dedupes[key]++
		result := BeginResult{Run: *existing, Deduped: true}
		handlers := g.handlers
		g.mu.Unlock()

		notice := DedupeNotice{WorkItemID: itemID, Stage: stage, ActiveRunID: result.Run.RunID}
		for _, fn := range handlers {
			fn(notice)
		}
		return result
	}

	g.attempts[key]++
	run := &model.StageRun{
		WorkItemID: itemID,
		Stage:      stage,
		RunID:      uuid.NewString(),
		Status:     model.RunQueued,
		Attempt:    g.attempts[key],
		DedupeHash: dedupeHash(itemID, stage, g.attempts[key]),
	}
	g.active[key] = run
	g.byRun[run.RunID] = key
	g.mu.Unlock()

	return BeginResult{Run: *run}
}

// Matches reports whether runID is still the active run for its
// (work item, stage). Callbacks tagged with a non-matching run ID must
// be discarded.
func (g *Guard) Matches(runID string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	key, ok := g.byRun[runID]
	if !ok {
		return false
	}
	run, ok := g.active[key]
	return ok && run.RunID == runID
}

// UpdateStatus transitions the active run identified by runID.
// Returns ErrStaleRun when runID is no longer the active run.
func (g *Guard) UpdateStatus(runID string, status model.RunStatus) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	run, err := g.activeRunLocked(runID)
	if err != nil {
		return err
	}
	run.Status = status
	return nil
}

// activeRunLocked resolves runID to the active run while the lock is held.
func (g *Guard) activeRunLocked(runID string) (*model.StageRun, error) {
	key, ok := g.byRun[runID]
	if !ok {
		return nil, conclaveerrors.NewRunError("no such run", conclaveerrors.ErrRunNotFound).
			WithRunID(runID)
	}
	run, ok := g.active[key]
	if !ok || run.RunID != runID {
		return nil, conclaveerrors.NewRunError("run superseded", conclaveerrors.ErrStaleRun).
			WithRunID(runID)
	}
	return run, nil
}

// AttachCancel associates a cancellation function with the active run.
func (g *Guard) AttachCancel(runID string, cancel context.CancelFunc) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, err := g.activeRunLocked(runID); err != nil {
		return err
	}
	g.cancels[runID] = cancel
	return nil
}

// Cancel invokes the run's cancellation function, if any.
// Returns false when the run is not active or has no cancel attached.
func (g *Guard) Cancel(runID string) bool {
	g.mu.Lock()
	cancel, ok := g.cancels[runID]
	if ok {
		delete(g.cancels, runID)
	}
	g.mu.Unlock()

	if !ok {
		return false
	}
	cancel()
	return true
}

// CancelAll invokes and clears the cancellation functions of every run
// that has one attached. Used during shutdown so in-flight runs halt
// instead of running to their worker timeouts.
func (g *Guard) CancelAll() {
	g.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(g.cancels))
	for runID, cancel := range g.cancels {
		cancels = append(cancels, cancel)
		delete(g.cancels, runID)
	}
	g.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
}

// Finish transitions the run to a terminal outcome and releases the
// (work item, stage) slot. Finish is idempotent: finishing an unknown or
// already-finished run is a no-op returning false.
func (g *Guard) Finish(runID string, outcome model.RunStatus) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	key, ok := g.byRun[runID]
	if !ok {
		return false
	}
	run, ok := g.active[key]
	if !ok || run.RunID != runID {
		// Stale entry in byRun; clean it up
		delete(g.byRun, runID)
		delete(g.cancels, runID)
		return false
	}

	run.Status = outcome
	delete(g.active, key)
	delete(g.byRun, runID)
	delete(g.cancels, runID)
	return true
}

// Reset releases the run's slot so a redispatch can begin under a fresh
// run ID. The attempt counter is preserved, so the next Begin for the same
// (work item, stage) increments it.
func (g *Guard) Reset(runID string, reason string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	run, err := g.activeRunLocked(runID)
	if err != nil {
		return err
	}

	key := runKey(run.WorkItemID, run.Stage)
	delete(g.active, key)
	delete(g.byRun, runID)
	delete(g.cancels, runID)
	return nil
}

// RunByID returns a copy of the active run with the given run ID, if it
// is still active.
func (g *Guard) RunByID(runID string) (model.StageRun, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	key, ok := g.byRun[runID]
	if !ok {
		return model.StageRun{}, false
	}
	run, ok := g.active[key]
	if !ok || run.RunID != runID {
		return model.StageRun{}, false
	}
	return *run, true
}

// ActiveRun returns a copy of the active run for (itemID, stage), if any.
func (g *Guard) ActiveRun(itemID, stage string) (model.StageRun, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	run, ok := g.active[runKey(itemID, stage)]
	if !ok {
		return model.StageRun{}, false
	}
	return *run, true
}

// ActiveCount returns the number of currently active stage runs.
func (g *Guard) ActiveCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.active)
}

// DedupeCount returns how many dispatches have been deduped for
// (itemID, stage) since the guard was created.
func (g *Guard) DedupeCount(itemID, stage string) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.dedupes[runKey(itemID, stage)]
}
