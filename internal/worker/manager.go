// Package worker manages the lifecycle of agent worker processes: spawning
// them through an Invoker, polling their file side-channel for completion,
// validating what they produced, and terminating them on timeout or
// cancellation.
//
// Completion is detected via the marker file plus output-size stability,
// never by scanning output text. A worker's output is not read until the
// marker exists, the file has held a stable size for the full stability
// window, and the size clears the minimum threshold.
package worker

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sourcegraph/conc"

	"github.com/conclavehq/conclave/internal/agent"
	"github.com/conclavehq/conclave/internal/config"
	conclaveerrors "github.com/conclavehq/conclave/internal/errors"
	"github.com/conclavehq/conclave/internal/logging"
	"github.com/conclavehq/conclave/internal/model"
	"github.com/conclavehq/conclave/internal/retry"
	"github.com/conclavehq/conclave/internal/validate"
)

// Result is one worker's terminal outcome within a run.
type Result struct {
	Invocation model.WorkerInvocation
	// Trajectory is nil for uninstrumented agents.
	Trajectory *model.Trajectory
	// Err is set for Failed and TimedOut workers.
	Err error
}

// Manager runs sets of workers against an execution channel.
type Manager struct {
	cfg       config.WorkerConfig
	invoker   agent.Invoker
	validator *validate.Validator
	retries   *retry.Manager
	maxRetry  int
	logger    *logging.Logger
}

// NewManager creates a Manager.
func NewManager(cfg config.WorkerConfig, vcfg config.ValidationConfig, invoker agent.Invoker, logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Manager{
		cfg:       cfg,
		invoker:   invoker,
		validator: validate.New(vcfg),
		retries:   retry.NewManager(),
		maxRetry:  vcfg.MaxRetries,
		logger:    logger,
	}
}

// RunSet spawns one worker per agent and blocks until every worker reaches
// a terminal state. Results are returned in agent order. The error is
// non-nil only when the set could not be started at all; per-worker
// failures live in the Results.
//
// Before any spawn the execution channel is swept for processes orphaned
// by a prior run.
func (m *Manager) RunSet(ctx context.Context, runID, stage, prompt string, agents []string, channelDir string) ([]Result, error) {
	log := m.logger.WithRun(runID).WithStage(stage)

	swept, err := SweepOrphans(channelDir, m.cfg.Grace(), log)
	if err != nil {
		return nil, conclaveerrors.Wrap(err, "sweeping execution channel")
	}
	if len(swept.Killed) > 0 {
		log.Warn("orphaned processes terminated before spawn", "pids", swept.Killed)
	}

	if err := os.MkdirAll(channelDir, 0755); err != nil {
		return nil, conclaveerrors.Wrap(err, "creating execution channel")
	}

	hub := newWatchHub(channelDir, log)
	defer hub.Close()

	results := make([]Result, len(agents))
	var wg conc.WaitGroup
	for idx, agentName := range agents {
		wg.Go(func() {
			results[idx] = m.runOne(ctx, agent.InvokeRequest{
				AgentName:  agentName,
				RunID:      runID,
				Stage:      stage,
				Prompt:     prompt,
				ChannelDir: channelDir,
			}, hub, log)
		})
	}
	wg.Wait()

	return results, nil
}

// runOne spawns and supervises a single worker to its terminal state.
func (m *Manager) runOne(ctx context.Context, req agent.InvokeRequest, hub *watchHub, log *logging.Logger) Result {
	h, err := m.invoker.Invoke(ctx, req)
	if err != nil {
		log.Error("worker spawn failed", "agent", req.AgentName, "error", err)
		return Result{
			Invocation: model.WorkerInvocation{
				RunID:     req.RunID,
				AgentName: req.AgentName,
				Status:    model.WorkerFailed,
			},
			Err: err,
		}
	}

	hints := hub.Subscribe(h.WorkerID)
	defer hub.Unsubscribe(h.WorkerID)

	return m.supervise(ctx, h, hints, log.WithWorker(h.WorkerID))
}

// supervise polls the worker's side-channel until completion, timeout, or
// cancellation.
func (m *Manager) supervise(ctx context.Context, h *agent.Handle, hints <-chan struct{}, log *logging.Logger) Result {
	inv := model.WorkerInvocation{
		WorkerID:  h.WorkerID,
		RunID:     h.RunID,
		AgentName: h.AgentName,
		SpawnedAt: h.SpawnedAt,
		Status:    model.WorkerRunning,
	}

	retryKey := h.RunID + "/" + h.WorkerID
	m.retries.GetOrCreateState(retryKey, m.maxRetry)
	defer m.retries.Reset(retryKey)

	ticker := time.NewTicker(m.cfg.PollInterval())
	defer ticker.Stop()
	deadline := time.NewTimer(m.cfg.Timeout())
	defer deadline.Stop()

	// Size-stability tracking. lastChange starts at spawn so a file that
	// appears fully formed still waits out one stability window.
	lastSize := int64(-1)
	lastChange := h.SpawnedAt

	for {
		select {
		case <-ctx.Done():
			log.Info("canceling worker", "pid", h.PID)
			Terminate(h.PID, m.cfg.Grace())
			inv.Status = model.WorkerFailed
			inv.CompletedAt = time.Now()
			return Result{Invocation: inv, Err: conclaveerrors.NewWorkerError("run canceled", conclaveerrors.ErrCanceled).
				WithWorkerID(h.WorkerID).WithRunID(h.RunID).WithAgent(h.AgentName)}

		case <-deadline.C:
			log.Warn("worker deadline exceeded, terminating",
				"pid", h.PID, "timeout", m.cfg.Timeout().String())
			exitedClean := Terminate(h.PID, m.cfg.Grace())
			inv.Status = model.WorkerTimedOut
			inv.CompletedAt = time.Now()
			if raw, err := os.ReadFile(h.OutputPath); err == nil {
				inv.RawOutput = raw
			}
			werr := conclaveerrors.NewWorkerError("deadline exceeded", conclaveerrors.ErrWorkerTimeout).
				WithWorkerID(h.WorkerID).WithRunID(h.RunID).WithAgent(h.AgentName)
			if !exitedClean {
				log.Warn("worker required force-kill", "pid", h.PID)
			}
			return Result{Invocation: inv, Err: werr}

		case <-ticker.C:
		case <-hints:
		}

		done, result := m.evaluate(h, &inv, &lastSize, &lastChange, retryKey, log)
		if done {
			return result
		}
	}
}

// evaluate performs one completion check against the side-channel files.
// It returns done=true with the terminal result once the worker has
// finished, failed validation past its budget, or exited without
// completing.
func (m *Manager) evaluate(h *agent.Handle, inv *model.WorkerInvocation, lastSize *int64, lastChange *time.Time, retryKey string, log *logging.Logger) (bool, Result) {
	now := time.Now()

	info, err := os.Stat(h.OutputPath)
	if err != nil {
		return false, Result{}
	}
	size := info.Size()

	if size != *lastSize {
		*lastSize = size
		*lastChange = now
		return false, Result{}
	}

	markerPresent := fileExists(h.MarkerPath)
	stable := now.Sub(*lastChange) >= m.cfg.StabilityWindow()
	bigEnough := size >= int64(m.cfg.MinOutputBytes)

	if markerPresent && stable && bigEnough {
		return m.collect(h, inv, size, retryKey, log)
	}

	// A worker that exited without ever signaling completion will never
	// satisfy the marker condition; fail it once its output has settled
	// instead of waiting out the full deadline.
	if h.Exited() && !markerPresent && stable {
		log.Warn("worker exited without completion marker", "size", size)
		inv.Status = model.WorkerFailed
		inv.CompletedAt = now
		if raw, readErr := os.ReadFile(h.OutputPath); readErr == nil {
			inv.RawOutput = raw
		}
		return true, Result{Invocation: *inv, Err: conclaveerrors.NewWorkerError(
			"exited without completing", nil).
			WithWorkerID(h.WorkerID).WithRunID(h.RunID).WithAgent(h.AgentName)}
	}

	return false, Result{}
}

// collect reads and validates completed output. Validation failures burn
// one unit of the worker's bounded retry budget; the marker is cleared so
// the agent must re-signal completion with corrected output.
func (m *Manager) collect(h *agent.Handle, inv *model.WorkerInvocation, size int64, retryKey string, log *logging.Logger) (bool, Result) {
	raw, err := os.ReadFile(h.OutputPath)
	if err != nil {
		log.Error("reading completed output", "error", err)
		return false, Result{}
	}
	inv.RawOutput = raw

	validated, verr := m.validator.Validate(raw)
	if verr != nil {
		m.retries.RecordError(retryKey, verr.Error())
		if !m.retries.ShouldRetry(retryKey) {
			log.Error("output rejected, retry budget exhausted", "error", verr)
			if IsAlive(h.PID) {
				Terminate(h.PID, m.cfg.Grace())
			}
			inv.Status = model.WorkerFailed
			inv.CompletedAt = time.Now()
			return true, Result{Invocation: *inv, Err: verr}
		}
		m.retries.RecordAttempt(retryKey, false)
		log.Warn("output rejected, awaiting corrected output", "error", verr)
		os.Remove(h.MarkerPath)
		return false, Result{}
	}
	m.retries.RecordAttempt(retryKey, true)

	inv.Status = model.WorkerSucceeded
	inv.CompletedAt = time.Now()
	inv.ValidatedOutput = validated

	duration := inv.Duration()
	if duration < m.cfg.PlausibilityFloor() && size < int64(m.cfg.PlausibilitySizeBytes) {
		// Diagnostic only. A completion this fast and this small usually
		// means the agent short-circuited, but the output did pass
		// validation.
		log.Warn("implausibly fast completion",
			"duration", duration.String(),
			"size", size)
	}

	traj, terr := LoadTrajectory(h.TrajectoryPath, h.WorkerID)
	if terr != nil {
		log.Warn("trajectory file unreadable, scoring without it", "error", terr)
	}

	if IsAlive(h.PID) {
		Terminate(h.PID, m.cfg.Grace())
	}

	log.Info("worker completed",
		"agent", h.AgentName,
		"duration", duration.String(),
		"size", size,
		"instrumented", traj != nil)

	return true, Result{Invocation: *inv, Trajectory: traj}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// watchHub turns fsnotify events on the channel directory into per-worker
// wake-up hints so completion is noticed ahead of the next poll tick. The
// hint channels are buffered and coalescing; the poll loop remains the
// source of truth.
type watchHub struct {
	mu      sync.Mutex
	subs    map[string]chan struct{}
	watcher *fsnotify.Watcher
	stopCh  chan struct{}
}

func newWatchHub(dir string, log *logging.Logger) *watchHub {
	hub := &watchHub{
		subs:   make(map[string]chan struct{}),
		stopCh: make(chan struct{}),
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Debug("fsnotify unavailable, relying on polling", "error", err)
		return hub
	}
	if err := watcher.Add(dir); err != nil {
		log.Debug("cannot watch channel directory, relying on polling", "error", err)
		watcher.Close()
		return hub
	}
	hub.watcher = watcher

	go func() {
		for {
			select {
			case <-hub.stopCh:
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				hub.notify(filepath.Base(event.Name))
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()

	return hub
}

// Subscribe returns a hint channel for files belonging to the worker.
func (h *watchHub) Subscribe(workerID string) <-chan struct{} {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan struct{}, 1)
	h.subs[workerID] = ch
	return ch
}

func (h *watchHub) Unsubscribe(workerID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, workerID)
}

func (h *watchHub) notify(basename string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for workerID, ch := range h.subs {
		if !strings.HasPrefix(basename, workerID) {
			continue
		}
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (h *watchHub) Close() {
	close(h.stopCh)
	if h.watcher != nil {
		h.watcher.Close()
	}
}
