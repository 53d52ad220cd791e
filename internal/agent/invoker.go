package agent

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/conclavehq/conclave/internal/config"
	conclaveerrors "github.com/conclavehq/conclave/internal/errors"
	"github.com/conclavehq/conclave/internal/logging"
)

// Side-channel file suffixes within a run's channel directory. The agent
// process appends its answer to the output file and creates the marker
// file when it considers the answer final. Completion is detected via the
// marker file plus size stability, not by text patterns in the output.
const (
	OutputSuffix     = ".out"
	MarkerSuffix     = ".done"
	PIDSuffix        = ".pid"
	TrajectorySuffix = ".traj.json"
)

// Environment variables exported to agent processes so they know where to
// write their side-channel files.
const (
	EnvOutputPath = "CONCLAVE_OUTPUT"
	EnvMarkerPath = "CONCLAVE_MARKER"
	EnvTrajPath   = "CONCLAVE_TRAJECTORY"
	EnvRunID      = "CONCLAVE_RUN_ID"
	EnvWorkerID   = "CONCLAVE_WORKER_ID"
	EnvStage      = "CONCLAVE_STAGE"
)

// Handle identifies a spawned worker process and its side-channel files.
type Handle struct {
	WorkerID       string
	AgentName      string
	RunID          string
	PID            int
	OutputPath     string
	MarkerPath     string
	TrajectoryPath string
	SpawnedAt      time.Time

	cmd  *exec.Cmd
	done chan struct{}
}

// Wait blocks until the process has been reaped or the context expires.
func (h *Handle) Wait(ctx context.Context) error {
	if h.done == nil {
		return nil
	}
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Exited reports whether the process has been reaped.
func (h *Handle) Exited() bool {
	if h.done == nil {
		return true
	}
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Invoker spawns a worker process for a named agent and returns a handle
// to its side-channel files.
type Invoker interface {
	Invoke(ctx context.Context, req InvokeRequest) (*Handle, error)
}

// InvokeRequest carries everything needed to spawn one worker.
type InvokeRequest struct {
	AgentName string
	RunID     string
	Stage     string
	Prompt    string
	// ChannelDir is the run's execution-channel directory. All side-channel
	// files for the run live directly under it.
	ChannelDir string
}

// ExecInvoker spawns agents as subprocesses via their configured command
// line. The prompt, prefixed by the agent's standing instructions, is fed
// on stdin; stdout is redirected to the worker's output file.
type ExecInvoker struct {
	registry *Registry
	logger   *logging.Logger
}

// NewExecInvoker creates an ExecInvoker over the given roster.
func NewExecInvoker(registry *Registry, logger *logging.Logger) *ExecInvoker {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &ExecInvoker{registry: registry, logger: logger}
}

// Invoke spawns one worker process. The worker gets its own process group
// so the whole tree can be terminated together later.
func (i *ExecInvoker) Invoke(ctx context.Context, req InvokeRequest) (*Handle, error) {
	agentCfg, err := i.registry.Get(req.AgentName)
	if err != nil {
		return nil, err
	}

	workerID := "w-" + uuid.NewString()[:8]

	if err := os.MkdirAll(req.ChannelDir, 0755); err != nil {
		return nil, conclaveerrors.NewWorkerError("creating channel directory", conclaveerrors.ErrWorkerSpawnFailed).
			WithAgent(req.AgentName).WithRunID(req.RunID)
	}

	outputPath := filepath.Join(req.ChannelDir, workerID+OutputSuffix)
	markerPath := filepath.Join(req.ChannelDir, workerID+MarkerSuffix)
	trajPath := filepath.Join(req.ChannelDir, workerID+TrajectorySuffix)

	outFile, err := os.OpenFile(outputPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, conclaveerrors.NewWorkerError("creating output file", conclaveerrors.ErrWorkerSpawnFailed).
			WithWorkerID(workerID).WithAgent(req.AgentName).WithRunID(req.RunID)
	}

	cmd := exec.Command(agentCfg.Command, agentCfg.Args...)
	cmd.Stdin = strings.NewReader(buildPrompt(agentCfg, req.Prompt))
	cmd.Stdout = outFile
	cmd.Stderr = outFile
	cmd.Env = append(os.Environ(),
		EnvOutputPath+"="+outputPath,
		EnvMarkerPath+"="+markerPath,
		EnvTrajPath+"="+trajPath,
		EnvRunID+"="+req.RunID,
		EnvWorkerID+"="+workerID,
		EnvStage+"="+req.Stage,
	)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		outFile.Close()
		os.Remove(outputPath)
		return nil, conclaveerrors.NewWorkerError(fmt.Sprintf("starting %q", agentCfg.Command), conclaveerrors.ErrWorkerSpawnFailed).
			WithWorkerID(workerID).WithAgent(req.AgentName).WithRunID(req.RunID)
	}

	// Record the PID so a later run sharing this channel can sweep us if we
	// are orphaned.
	pidPath := filepath.Join(req.ChannelDir, workerID+PIDSuffix)
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(cmd.Process.Pid)), 0644); err != nil {
		i.logger.Warn("failed to record worker pid file",
			"worker_id", workerID, "error", err)
	}

	h := &Handle{
		WorkerID:       workerID,
		AgentName:      req.AgentName,
		RunID:          req.RunID,
		PID:            cmd.Process.Pid,
		OutputPath:     outputPath,
		MarkerPath:     markerPath,
		TrajectoryPath: trajPath,
		SpawnedAt:      time.Now(),
		cmd:            cmd,
		done:           make(chan struct{}),
	}

	go func() {
		defer close(h.done)
		defer outFile.Close()
		if waitErr := cmd.Wait(); waitErr != nil {
			i.logger.Debug("worker process exited with error",
				"worker_id", workerID, "agent", req.AgentName, "error", waitErr)
		}
		os.Remove(pidPath)
	}()

	i.logger.Info("spawned worker",
		"worker_id", workerID,
		"agent", req.AgentName,
		"run_id", req.RunID,
		"pid", cmd.Process.Pid)

	return h, nil
}

// buildPrompt prepends the agent's standing instructions to the stage
// prompt.
func buildPrompt(cfg config.AgentConfig, prompt string) string {
	if cfg.Instructions == "" {
		return prompt
	}
	return cfg.Instructions + "\n\n" + prompt
}
