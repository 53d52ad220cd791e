// Package orchestrator drives stage runs end to end: dispatch through the
// run guard, worker fan-out, scoring, consensus, and bounded stage
// retries.
//
// All lifecycle arbitration happens on a single event loop goroutine.
// Worker execution runs concurrently, but every terminal outcome funnels
// back to the loop tagged with its run ID; outcomes whose run ID no longer
// matches the active run are discarded, never merged. On shutdown the loop
// drains: it stops accepting dispatches but keeps receiving outcomes until
// every in-flight run has delivered to its waiters.
package orchestrator

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/conclavehq/conclave/internal/agent"
	"github.com/conclavehq/conclave/internal/config"
	"github.com/conclavehq/conclave/internal/consensus"
	conclaveerrors "github.com/conclavehq/conclave/internal/errors"
	"github.com/conclavehq/conclave/internal/event"
	"github.com/conclavehq/conclave/internal/logging"
	"github.com/conclavehq/conclave/internal/model"
	"github.com/conclavehq/conclave/internal/retry"
	"github.com/conclavehq/conclave/internal/runguard"
	"github.com/conclavehq/conclave/internal/telemetry"
	"github.com/conclavehq/conclave/internal/worker"
)

// Store is the subset of the persistence layer the orchestrator writes
// through. Satisfied by *storage.Store.
type Store interface {
	RecordTransition(run model.StageRun) error
	RecordInvocation(inv model.WorkerInvocation) error
	RecordDecision(runID, workItemID, stage string, result model.ConsensusResult) error
}

type noopStore struct{}

func (noopStore) RecordTransition(model.StageRun) error         { return nil }
func (noopStore) RecordInvocation(model.WorkerInvocation) error { return nil }
func (noopStore) RecordDecision(string, string, string, model.ConsensusResult) error {
	return nil
}

// RunOutcome is delivered to dispatch waiters when a (work item, stage)
// reaches a terminal state.
type RunOutcome struct {
	Run       model.StageRun
	Consensus *model.ConsensusResult
	Err       error
}

// Ticket acknowledges a dispatch. Done receives exactly one RunOutcome
// when the (work item, stage) halts, across however many retries that
// takes. A deduped ticket shares the outcome of the run it was absorbed
// into.
type Ticket struct {
	RunID   string
	Deduped bool
	Done    <-chan RunOutcome
}

// Options carries the orchestrator's collaborators.
type Options struct {
	Workers  *worker.Manager
	Registry *agent.Registry
	Selector *consensus.Selector
	Guard    *runguard.Guard
	Bus      *event.Bus
	Store    Store
	Recorder *telemetry.Recorder
	Retry    config.RetryConfig
	Logger   *logging.Logger
}

// Orchestrator owns the dispatch loop. Create with New, then Start.
type Orchestrator struct {
	cfg      config.OrchestratorConfig
	channels string // root directory for per-item execution channels

	workers  *worker.Manager
	registry *agent.Registry
	selector *consensus.Selector
	guard    *runguard.Guard
	bus      *event.Bus
	store    Store
	recorder *telemetry.Recorder
	logger   *logging.Logger

	// storePolicy governs retries of persistent-store writes;
	// stagePolicy spaces stage redispatches.
	storePolicy model.RetryPolicy
	stagePolicy model.RetryPolicy

	sem *semaphore.Weighted

	dispatchCh chan dispatchMsg
	doneCh     chan runDoneMsg
	stopCh     chan struct{}
	stopOnce   sync.Once
	stoppedCh  chan struct{}

	// Loop-owned state, touched only from the event loop goroutine.
	items    map[string]*itemState
	waiters  map[string][]chan RunOutcome
	inflight int
	draining bool
}

type itemState struct {
	busy  bool
	queue []dispatchMsg
}

type dispatchMsg struct {
	workItemID string
	stage      string
	prompt     string
	reply      chan Ticket
}

// runDoneMsg is a run goroutine's outcome, posted back to the loop tagged
// with the run ID that produced it.
type runDoneMsg struct {
	runID     string
	status    model.RunStatus
	consensus *model.ConsensusResult
	err       error
	retryable bool
	prompt    string
}

// New creates an Orchestrator. channelRoot is the directory under which
// per-item execution channels live.
func New(cfg config.OrchestratorConfig, channelRoot string, opts Options) *Orchestrator {
	if opts.Logger == nil {
		opts.Logger = logging.NopLogger()
	}
	if opts.Store == nil {
		opts.Store = noopStore{}
	}
	if opts.Bus == nil {
		opts.Bus = event.NewBus()
	}
	maxRuns := cfg.MaxConcurrentRuns
	if maxRuns <= 0 {
		maxRuns = 1
	}

	return &Orchestrator{
		cfg:         cfg,
		channels:    channelRoot,
		workers:     opts.Workers,
		registry:    opts.Registry,
		selector:    opts.Selector,
		guard:       opts.Guard,
		bus:         opts.Bus,
		store:       opts.Store,
		recorder:    opts.Recorder,
		logger:      opts.Logger,
		storePolicy: policyFor(opts.Retry, "store"),
		stagePolicy: policyFor(opts.Retry, "stage"),
		sem:         semaphore.NewWeighted(int64(maxRuns)),
		dispatchCh:  make(chan dispatchMsg),
		doneCh:      make(chan runDoneMsg),
		stopCh:      make(chan struct{}),
		stoppedCh:   make(chan struct{}),
		items:       make(map[string]*itemState),
		waiters:     make(map[string][]chan RunOutcome),
	}
}

// policyFor resolves the retry policy for an operation class. A zero
// policy collapses to a single attempt with no delay.
func policyFor(cfg config.RetryConfig, class string) model.RetryPolicy {
	p := retry.PolicyFromConfig(cfg.ForClass(class))
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	return p
}

// Start launches the event loop. Cancelling ctx cancels in-flight runs;
// the loop then drains their outcomes before exiting, so tickets issued
// before the cancellation still deliver.
func (o *Orchestrator) Start(ctx context.Context) {
	go o.loop(ctx)
}

// Stop halts the event loop and waits for in-flight runs to drain.
// Stop is idempotent.
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() { close(o.stopCh) })
	<-o.stoppedCh
}

// Dispatch requests a stage run for a work item. The run proceeds
// asynchronously; the Ticket's Done channel delivers the eventual
// outcome. A duplicate dispatch while a run is active is absorbed and
// shares the active run's outcome.
func (o *Orchestrator) Dispatch(ctx context.Context, workItemID, stage, prompt string) (Ticket, error) {
	if workItemID == "" || stage == "" {
		return Ticket{}, conclaveerrors.NewRunError("work item and stage are required", conclaveerrors.ErrInvalidInput)
	}

	msg := dispatchMsg{
		workItemID: workItemID,
		stage:      stage,
		prompt:     prompt,
		reply:      make(chan Ticket, 1),
	}

	select {
	case o.dispatchCh <- msg:
	case <-o.stopCh:
		return Ticket{}, conclaveerrors.NewRunError("orchestrator stopped", conclaveerrors.ErrCanceled)
	case <-o.stoppedCh:
		return Ticket{}, conclaveerrors.NewRunError("orchestrator stopped", conclaveerrors.ErrCanceled)
	case <-ctx.Done():
		return Ticket{}, ctx.Err()
	}

	// The loop accepted the message; a reply is guaranteed even during
	// drain, since queued dispatches resolve as their items free up.
	select {
	case t := <-msg.reply:
		return t, nil
	case <-ctx.Done():
		return Ticket{}, ctx.Err()
	}
}

// CancelRun cancels the run if it is still active. The run halts as
// Cancelled; it is not retried.
func (o *Orchestrator) CancelRun(runID string) bool {
	return o.guard.Cancel(runID)
}

// ActiveRun exposes the guard's view of the active run for a slot.
func (o *Orchestrator) ActiveRun(workItemID, stage string) (model.StageRun, bool) {
	return o.guard.ActiveRun(workItemID, stage)
}

// loop is the single event loop. It alone mutates per-item queues,
// waiter lists, and slot assignments.
//
// Context cancellation and Stop both switch the loop into drain mode:
// new dispatches are refused, every active run is cancelled, and the
// loop keeps consuming doneCh until the last in-flight run has been
// resolved and its waiters notified. Run goroutines post outcomes with
// an unconditional send, so draining to zero is what makes loop exit
// safe.
func (o *Orchestrator) loop(ctx context.Context) {
	defer close(o.stoppedCh)

	dispatch := o.dispatchCh
	ctxDone := ctx.Done()
	stop := o.stopCh

	for {
		if o.draining && o.inflight == 0 {
			return
		}

		select {
		case <-ctxDone:
			ctxDone = nil
			dispatch = nil
			o.draining = true
			o.guard.CancelAll()
		case <-stop:
			stop = nil
			dispatch = nil
			o.draining = true
			o.guard.CancelAll()
		case msg := <-dispatch:
			o.handleDispatch(ctx, msg)
		case done := <-o.doneCh:
			o.inflight--
			o.handleRunDone(ctx, done)
		}
	}
}

func (o *Orchestrator) handleDispatch(ctx context.Context, msg dispatchMsg) {
	item := o.items[msg.workItemID]
	if item == nil {
		item = &itemState{}
		o.items[msg.workItemID] = item
	}

	// Per-item serialization: one stage run per work item at a time.
	// A duplicate of the in-flight slot dedupes; other stages queue.
	if item.busy {
		if active, ok := o.guard.ActiveRun(msg.workItemID, msg.stage); ok {
			result := o.guard.Begin(msg.workItemID, msg.stage)
			o.noteDedupe(ctx, msg, result)
			msg.reply <- Ticket{RunID: active.RunID, Deduped: true, Done: o.subscribe(msg.workItemID, msg.stage)}
			return
		}
		item.queue = append(item.queue, msg)
		return
	}

	o.beginRun(ctx, msg, item)
}

func (o *Orchestrator) beginRun(ctx context.Context, msg dispatchMsg, item *itemState) {
	result := o.guard.Begin(msg.workItemID, msg.stage)
	if result.Deduped {
		o.noteDedupe(ctx, msg, result)
		msg.reply <- Ticket{RunID: result.Run.RunID, Deduped: true, Done: o.subscribe(msg.workItemID, msg.stage)}
		return
	}

	item.busy = true
	run := result.Run
	o.record(ctx, run)
	o.bus.Publish(event.NewRunStatusChangedEvent(run, ""))

	msg.reply <- Ticket{RunID: run.RunID, Done: o.subscribe(msg.workItemID, msg.stage)}

	o.launch(ctx, run, msg.prompt, 0)
}

// launch starts the run goroutine for an already-registered run. delay
// postpones execution, used to space stage redispatches.
func (o *Orchestrator) launch(ctx context.Context, run model.StageRun, prompt string, delay time.Duration) {
	runCtx, cancel := context.WithCancel(ctx)
	if err := o.guard.AttachCancel(run.RunID, cancel); err != nil {
		cancel()
		return
	}
	if o.draining {
		// Queued work started during drain aborts immediately; its
		// waiters still get a Cancelled outcome.
		cancel()
	}

	o.inflight++
	go o.executeRun(runCtx, run, prompt, delay)
}

// handleRunDone applies a run goroutine's outcome. Outcomes tagged with a
// superseded run ID are discarded here; this is the only merge point.
func (o *Orchestrator) handleRunDone(ctx context.Context, done runDoneMsg) {
	if !o.guard.Matches(done.runID) {
		o.logger.Warn("discarding outcome from superseded run", "run_id", done.runID)
		return
	}

	run, ok := o.guard.RunByID(done.runID)
	if !ok {
		return
	}

	// Bounded stage retry under a fresh run ID. Conflicts and
	// cancellations are terminal; only retryable failures re-dispatch.
	if done.err != nil && done.retryable {
		if run.Attempt <= o.cfg.MaxStageRetries {
			o.retryRun(ctx, run, done)
			return
		}
		o.logger.Error("stage retries exhausted",
			"run_id", run.RunID, "stage", run.Stage, "attempt", run.Attempt, "cause", done.err)
		err := conclaveerrors.NewRunError("stage halted", conclaveerrors.ErrStageRetriesExhausted).
			WithRunID(run.RunID).WithWorkItem(run.WorkItemID).WithStage(run.Stage).WithAttempt(run.Attempt)
		o.finishRun(ctx, run, model.RunFailed, done.consensus, err)
		return
	}

	o.finishRun(ctx, run, done.status, done.consensus, done.err)
}

func (o *Orchestrator) retryRun(ctx context.Context, failed model.StageRun, done runDoneMsg) {
	o.guard.Reset(failed.RunID, "stage retry")

	result := o.guard.Begin(failed.WorkItemID, failed.Stage)
	fresh := result.Run

	// First redispatch backs off by the policy's initial delay, later
	// ones grow exponentially.
	delay := retry.Delay(o.stagePolicy, fresh.Attempt-2)

	o.bus.Publish(event.NewStageRetryEvent(
		failed.WorkItemID, failed.Stage, failed.RunID, fresh.RunID, fresh.Attempt, errString(done.err)))
	o.logger.Warn("retrying stage under fresh run",
		"old_run_id", failed.RunID, "run_id", fresh.RunID, "attempt", fresh.Attempt,
		"delay", delay.String(), "cause", done.err)

	o.record(ctx, fresh)
	o.launch(ctx, fresh, done.prompt, delay)
}

func (o *Orchestrator) finishRun(ctx context.Context, run model.StageRun, status model.RunStatus, result *model.ConsensusResult, err error) {
	previous := run.Status
	o.guard.Finish(run.RunID, status)
	run.Status = status
	o.record(ctx, run)
	o.bus.Publish(event.NewRunStatusChangedEvent(run, previous))

	o.emitTelemetry(ctx, run, result)

	outcome := RunOutcome{Run: run, Consensus: result, Err: err}
	key := run.WorkItemID + "/" + run.Stage
	for _, ch := range o.waiters[key] {
		ch <- outcome
	}
	delete(o.waiters, key)

	// Free the item and start the next queued stage, if any. Idle items
	// are dropped from the map so it tracks active work, not history.
	item := o.items[run.WorkItemID]
	if item == nil {
		return
	}
	item.busy = false
	if len(item.queue) > 0 {
		next := item.queue[0]
		item.queue = item.queue[1:]
		o.beginRun(ctx, next, item)
		return
	}
	delete(o.items, run.WorkItemID)
}

// executeRun is the per-run goroutine. It always posts exactly one
// runDoneMsg; the send is unconditional because the loop drains doneCh
// until in-flight runs reach zero.
func (o *Orchestrator) executeRun(ctx context.Context, run model.StageRun, prompt string, delay time.Duration) {
	msg := o.runStage(ctx, run, prompt, delay)
	msg.runID = run.RunID
	msg.prompt = prompt
	o.doneCh <- msg
}

// runStage performs backpressure, worker fan-out, scoring, and consensus
// for one run, returning its outcome.
func (o *Orchestrator) runStage(ctx context.Context, run model.StageRun, prompt string, delay time.Duration) runDoneMsg {
	log := o.logger.WithRun(run.RunID).WithStage(run.Stage)

	cancelled := func() runDoneMsg {
		return runDoneMsg{status: model.RunCancelled, err: conclaveerrors.NewRunError(
			"run cancelled", conclaveerrors.ErrCanceled).WithRunID(run.RunID)}
	}

	if delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return cancelled()
		}
	}

	if err := o.sem.Acquire(ctx, 1); err != nil {
		return cancelled()
	}
	defer o.sem.Release(1)

	if !o.advance(ctx, &run, model.RunDispatched, log) {
		return runDoneMsg{status: model.RunCancelled}
	}

	roster := o.registry.Names()
	channelDir := filepath.Join(o.channels, run.WorkItemID, run.Stage)

	if !o.advance(ctx, &run, model.RunAwaitingWorkers, log) {
		return runDoneMsg{status: model.RunCancelled}
	}

	started := time.Now()
	results, err := o.workers.RunSet(ctx, run.RunID, run.Stage, prompt, roster, channelDir)
	if err != nil {
		return runDoneMsg{status: model.RunFailed, err: err, retryable: conclaveerrors.IsRetryable(err)}
	}

	for _, r := range results {
		if r.Invocation.WorkerID != "" {
			inv := r.Invocation
			if err := o.storeWrite(ctx, func() error { return o.store.RecordInvocation(inv) }); err != nil {
				log.Warn("failed to persist worker invocation",
					"worker_id", inv.WorkerID, "error", err)
			}
		}
		o.bus.Publish(event.NewWorkerFinishedEvent(r.Invocation, errString(r.Err)))
	}

	if ctx.Err() != nil {
		return cancelled()
	}

	// Scoring starts only after every worker is terminal; RunSet
	// guarantees that.
	if !o.advance(ctx, &run, model.RunScoring, log) {
		return runDoneMsg{status: model.RunCancelled}
	}

	succeeded := make([]consensus.WorkerResult, 0, len(results))
	for _, r := range results {
		if r.Invocation.Status != model.WorkerSucceeded {
			continue
		}
		succeeded = append(succeeded, consensus.WorkerResult{
			AgentName:  r.Invocation.AgentName,
			Validated:  r.Invocation.ValidatedOutput,
			Trajectory: r.Trajectory,
		})
	}

	if !o.advance(ctx, &run, model.RunConsensus, log) {
		return runDoneMsg{status: model.RunCancelled}
	}

	verdict, err := o.selector.Evaluate(run.Stage, succeeded, len(roster))
	if err != nil {
		// Invalid weights are a permanent config fault; a round where no
		// worker produced acceptable output is worth a retry.
		retryable := conclaveerrors.Is(err, conclaveerrors.ErrNoScores)
		return runDoneMsg{status: model.RunFailed, consensus: &verdict, err: err, retryable: retryable}
	}

	if err := o.storeWrite(ctx, func() error {
		return o.store.RecordDecision(run.RunID, run.WorkItemID, run.Stage, verdict)
	}); err != nil {
		log.Warn("failed to persist consensus decision", "error", err)
	}
	o.bus.Publish(event.NewConsensusReachedEvent(run.RunID, run.Stage, verdict, len(succeeded), len(roster)))

	switch verdict.Status {
	case model.ConsensusConflict:
		// Material disagreement or missed quorum escalates; it is never
		// silently resolved and never retried.
		reason := "material disagreement between workers"
		if len(succeeded) < len(roster) {
			reason = "quorum missed"
		}
		o.bus.Publish(event.NewConflictEscalatedEvent(run.RunID, run.Stage, len(succeeded), len(roster), reason))
		log.Warn("consensus conflict, escalating", "succeeded", len(succeeded), "roster", len(roster))
		return runDoneMsg{status: model.RunEscalated, consensus: &verdict}
	case model.ConsensusDegraded:
		log.Info("consensus reached on partial roster",
			"selected", verdict.SelectedAgent, "succeeded", len(succeeded), "roster", len(roster),
			"duration", time.Since(started).String())
		return runDoneMsg{status: model.RunCompleted, consensus: &verdict}
	default:
		log.Info("consensus reached",
			"selected", verdict.SelectedAgent, "confidence", verdict.Confidence,
			"duration", time.Since(started).String())
		return runDoneMsg{status: model.RunCompleted, consensus: &verdict}
	}
}

// advance transitions the run through the guard. A stale-run error means
// this goroutine has been superseded and must stop producing side
// effects; the loop discards its outcome by run ID.
func (o *Orchestrator) advance(ctx context.Context, run *model.StageRun, status model.RunStatus, log *logging.Logger) bool {
	if err := o.guard.UpdateStatus(run.RunID, status); err != nil {
		log.Warn("abandoning superseded run", "status", status.String(), "error", err)
		return false
	}
	previous := run.Status
	run.Status = status
	o.record(ctx, *run)
	o.bus.Publish(event.NewRunStatusChangedEvent(*run, previous))
	return true
}

// storeWrite runs a persistent-store write under the store retry policy.
// Transient contention backs off and re-attempts; the final error is
// returned for the caller to log. Writes are detached from run
// cancellation so the audit trail records terminal Cancelled transitions
// during shutdown.
func (o *Orchestrator) storeWrite(ctx context.Context, op func() error) error {
	return retry.Do(context.WithoutCancel(ctx), o.storePolicy, func(context.Context) error { return op() })
}

func (o *Orchestrator) record(ctx context.Context, run model.StageRun) {
	if err := o.storeWrite(ctx, func() error { return o.store.RecordTransition(run) }); err != nil {
		o.logger.Warn("failed to persist run transition",
			"run_id", run.RunID, "status", run.Status.String(), "error", err)
	}
}

func (o *Orchestrator) noteDedupe(ctx context.Context, msg dispatchMsg, result runguard.BeginResult) {
	o.bus.Publish(event.NewRunDedupedEvent(msg.workItemID, msg.stage, result.Run.RunID))
	if o.recorder != nil {
		o.recorder.RecordDedupe(ctx, msg.stage)
	}
	o.logger.Info("dispatch absorbed by active run",
		"work_item", msg.workItemID, "stage", msg.stage, "run_id", result.Run.RunID)
}

func (o *Orchestrator) subscribe(workItemID, stage string) <-chan RunOutcome {
	key := workItemID + "/" + stage
	ch := make(chan RunOutcome, 1)
	o.waiters[key] = append(o.waiters[key], ch)
	return ch
}

func (o *Orchestrator) emitTelemetry(ctx context.Context, run model.StageRun, result *model.ConsensusResult) {
	if o.recorder == nil {
		return
	}
	rec := telemetry.RunRecord{
		RunID:         run.RunID,
		WorkItemID:    run.WorkItemID,
		Stage:         run.Stage,
		Attempt:       run.Attempt,
		SchemaVersion: telemetry.SchemaVersion,
		Timestamp:     time.Now(),
		Outcome:       run.Status.String(),
	}
	if result != nil {
		rec.SelectedAgent = result.SelectedAgent
		rec.Confidence = result.Confidence
		rec.PerAgent = result.PerAgent
		rec.Degraded = result.Status == model.ConsensusDegraded
		rec.Conflict = result.Status == model.ConsensusConflict
	}
	o.recorder.RecordRun(ctx, rec)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
