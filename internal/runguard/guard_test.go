package runguard

import (
	"sync"
	"sync/atomic"
	"testing"

	conclaveerrors "github.com/conclavehq/conclave/internal/errors"
	"github.com/conclavehq/conclave/internal/model"
)

func TestGuard_Begin(t *testing.T) {
	g := NewGuard()

	result := g.Begin("item-1", "plan")
	if result.Deduped {
		t.Fatal("first Begin should win, not dedupe")
	}
	if result.Run.RunID == "" {
		t.Error("winner should receive a run ID")
	}
	if result.Run.Status != model.RunQueued {
		t.Errorf("Status = %q, want queued", result.Run.Status)
	}
	if result.Run.Attempt != 1 {
		t.Errorf("Attempt = %d, want 1", result.Run.Attempt)
	}
	if result.Run.DedupeHash == "" {
		t.Error("run should carry a dedupe hash")
	}
}

func TestGuard_Begin_Dedupes(t *testing.T) {
	g := NewGuard()

	winner := g.Begin("item-1", "plan")
	loser := g.Begin("item-1", "plan")

	if !loser.Deduped {
		t.Fatal("second Begin should be deduped")
	}
	if loser.Run.RunID != winner.Run.RunID {
		t.Error("deduped result should carry the active run's ID")
	}
	if g.DedupeCount("item-1", "plan") != 1 {
		t.Errorf("DedupeCount = %d, want 1", g.DedupeCount("item-1", "plan"))
	}
	if g.ActiveCount() != 1 {
		t.Errorf("ActiveCount = %d, want 1 (dedupe must have no side effects)", g.ActiveCount())
	}
}

func TestGuard_Begin_DistinctStagesIndependent(t *testing.T) {
	g := NewGuard()

	plan := g.Begin("item-1", "plan")
	implement := g.Begin("item-1", "implement")
	other := g.Begin("item-2", "plan")

	if plan.Deduped || implement.Deduped || other.Deduped {
		t.Error("runs for distinct (item, stage) pairs must not dedupe each other")
	}
	if g.ActiveCount() != 3 {
		t.Errorf("ActiveCount = %d, want 3", g.ActiveCount())
	}
}

// For N near-simultaneous dispatch triggers on the same (work item, stage),
// exactly one worker set is spawned; the other N-1 receive dedupe notices.
func TestGuard_Begin_ConcurrentSingleWinner(t *testing.T) {
	g := NewGuard()

	var notices atomic.Int64
	g.OnDedupe(func(n DedupeNotice) {
		if n.WorkItemID != "item-1" || n.Stage != "plan" {
			t.Errorf("unexpected notice: %+v", n)
		}
		notices.Add(1)
	})

	const n = 50
	var wins atomic.Int64
	var dedupes atomic.Int64

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			result := g.Begin("item-1", "plan")
			if result.Deduped {
				dedupes.Add(1)
			} else {
				wins.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	if wins.Load() != 1 {
		t.Errorf("winners = %d, want exactly 1", wins.Load())
	}
	if dedupes.Load() != n-1 {
		t.Errorf("dedupes = %d, want %d", dedupes.Load(), n-1)
	}
	if notices.Load() != n-1 {
		t.Errorf("dedupe notices = %d, want %d", notices.Load(), n-1)
	}
	if g.DedupeCount("item-1", "plan") != n-1 {
		t.Errorf("DedupeCount = %d, want %d", g.DedupeCount("item-1", "plan"), n-1)
	}
}

func TestGuard_Matches(t *testing.T) {
	g := NewGuard()

	result := g.Begin("item-1", "plan")
	runID := result.Run.RunID

	if !g.Matches(runID) {
		t.Error("active run should match its own ID")
	}
	if g.Matches("some-other-run") {
		t.Error("unknown run ID should not match")
	}

	g.Finish(runID, model.RunCompleted)
	if g.Matches(runID) {
		t.Error("finished run should no longer match")
	}
}

func TestGuard_UpdateStatus(t *testing.T) {
	g := NewGuard()
	result := g.Begin("item-1", "plan")
	runID := result.Run.RunID

	if err := g.UpdateStatus(runID, model.RunDispatched); err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}

	run, ok := g.ActiveRun("item-1", "plan")
	if !ok {
		t.Fatal("run should still be active")
	}
	if run.Status != model.RunDispatched {
		t.Errorf("Status = %q, want dispatched", run.Status)
	}

	t.Run("unknown run", func(t *testing.T) {
		err := g.UpdateStatus("missing", model.RunScoring)
		if !conclaveerrors.Is(err, conclaveerrors.ErrRunNotFound) {
			t.Errorf("expected ErrRunNotFound, got %v", err)
		}
	})

	t.Run("stale run after reset", func(t *testing.T) {
		if err := g.Reset(runID, "conflict"); err != nil {
			t.Fatalf("Reset failed: %v", err)
		}
		err := g.UpdateStatus(runID, model.RunScoring)
		if !conclaveerrors.Is(err, conclaveerrors.ErrRunNotFound) && !conclaveerrors.Is(err, conclaveerrors.ErrStaleRun) {
			t.Errorf("expected not-found or stale error, got %v", err)
		}
	})
}

func TestGuard_Finish_Idempotent(t *testing.T) {
	g := NewGuard()
	result := g.Begin("item-1", "plan")
	runID := result.Run.RunID

	if !g.Finish(runID, model.RunCompleted) {
		t.Fatal("first Finish should succeed")
	}
	if g.Finish(runID, model.RunCompleted) {
		t.Error("second Finish should be a no-op")
	}
	if g.Finish("never-existed", model.RunFailed) {
		t.Error("finishing an unknown run should be a no-op")
	}
	if g.ActiveCount() != 0 {
		t.Errorf("ActiveCount = %d, want 0", g.ActiveCount())
	}
}

func TestGuard_Finish_ReleasesSlot(t *testing.T) {
	g := NewGuard()
	first := g.Begin("item-1", "plan")
	g.Finish(first.Run.RunID, model.RunCompleted)

	second := g.Begin("item-1", "plan")
	if second.Deduped {
		t.Fatal("slot should be free after Finish")
	}
	if second.Run.RunID == first.Run.RunID {
		t.Error("new run should have a fresh run ID")
	}
}

func TestGuard_Reset_FreshRunID(t *testing.T) {
	g := NewGuard()
	first := g.Begin("item-1", "plan")

	if err := g.Reset(first.Run.RunID, "consensus conflict"); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}

	second := g.Begin("item-1", "plan")
	if second.Deduped {
		t.Fatal("slot should be free after Reset")
	}
	if second.Run.RunID == first.Run.RunID {
		t.Error("redispatch must use a fresh run ID")
	}
	if second.Run.Attempt != 2 {
		t.Errorf("Attempt = %d, want 2 after reset", second.Run.Attempt)
	}
	if second.Run.DedupeHash == first.Run.DedupeHash {
		t.Error("new attempt should have a distinct dedupe hash")
	}

	// Signals tagged with the old run ID are discarded by comparison
	if g.Matches(first.Run.RunID) {
		t.Error("old run ID must not match after reset")
	}
	if !g.Matches(second.Run.RunID) {
		t.Error("new run ID should match")
	}
}

func TestGuard_Reset_UnknownRun(t *testing.T) {
	g := NewGuard()
	err := g.Reset("missing", "whatever")
	if !conclaveerrors.Is(err, conclaveerrors.ErrRunNotFound) {
		t.Errorf("expected ErrRunNotFound, got %v", err)
	}
}

func TestGuard_Cancel(t *testing.T) {
	g := NewGuard()
	result := g.Begin("item-1", "plan")
	runID := result.Run.RunID

	cancelled := false
	if err := g.AttachCancel(runID, func() { cancelled = true }); err != nil {
		t.Fatalf("AttachCancel failed: %v", err)
	}

	if !g.Cancel(runID) {
		t.Fatal("Cancel should invoke the attached function")
	}
	if !cancelled {
		t.Error("cancel function was not invoked")
	}

	// Cancel is one-shot
	if g.Cancel(runID) {
		t.Error("second Cancel should return false")
	}
}

func TestGuard_CancelAll(t *testing.T) {
	g := NewGuard()

	var cancelled atomic.Int32
	for _, item := range []string{"item-1", "item-2", "item-3"} {
		result := g.Begin(item, "plan")
		if err := g.AttachCancel(result.Run.RunID, func() { cancelled.Add(1) }); err != nil {
			t.Fatalf("AttachCancel failed: %v", err)
		}
	}
	// No cancel attached; must not break CancelAll
	g.Begin("item-4", "plan")

	g.CancelAll()
	if got := cancelled.Load(); got != 3 {
		t.Errorf("cancelled %d runs, want 3", got)
	}

	// The functions are cleared; a later Cancel finds nothing
	for _, item := range []string{"item-1", "item-2", "item-3"} {
		run, ok := g.ActiveRun(item, "plan")
		if !ok {
			t.Fatalf("run for %s should still be active", item)
		}
		if g.Cancel(run.RunID) {
			t.Errorf("Cancel(%s) after CancelAll should return false", item)
		}
	}
}

func TestGuard_Cancel_NoCancelAttached(t *testing.T) {
	g := NewGuard()
	result := g.Begin("item-1", "plan")

	if g.Cancel(result.Run.RunID) {
		t.Error("Cancel without an attached function should return false")
	}
}

func TestGuard_AttachCancel_StaleRun(t *testing.T) {
	g := NewGuard()
	result := g.Begin("item-1", "plan")
	g.Finish(result.Run.RunID, model.RunCompleted)

	err := g.AttachCancel(result.Run.RunID, func() {})
	if err == nil {
		t.Error("AttachCancel on a finished run should fail")
	}
}

func TestGuard_ActiveRun(t *testing.T) {
	g := NewGuard()

	if _, ok := g.ActiveRun("item-1", "plan"); ok {
		t.Error("ActiveRun should report false before Begin")
	}

	result := g.Begin("item-1", "plan")
	run, ok := g.ActiveRun("item-1", "plan")
	if !ok {
		t.Fatal("ActiveRun should report true after Begin")
	}
	if run.RunID != result.Run.RunID {
		t.Error("ActiveRun returned a different run")
	}

	// Returned run is a copy; mutating it must not affect the guard
	run.Status = model.RunFailed
	again, _ := g.ActiveRun("item-1", "plan")
	if again.Status == model.RunFailed {
		t.Error("ActiveRun must return a copy")
	}
}
