package agent

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/conclavehq/conclave/internal/config"
	conclaveerrors "github.com/conclavehq/conclave/internal/errors"
	"github.com/conclavehq/conclave/internal/logging"
)

func TestExecInvoker_Invoke(t *testing.T) {
	registry := NewRegistry([]config.AgentConfig{{
		Name:    "echoer",
		Command: "sh",
		Args:    []string{"-c", `printf '%s' "answer"; touch "$CONCLAVE_MARKER"`},
	}})
	inv := NewExecInvoker(registry, logging.NopLogger())

	dir := t.TempDir()
	h, err := inv.Invoke(context.Background(), InvokeRequest{
		AgentName:  "echoer",
		RunID:      "run-1",
		Stage:      "plan",
		Prompt:     "p",
		ChannelDir: dir,
	})
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}

	if h.WorkerID == "" || h.PID <= 0 {
		t.Errorf("handle incomplete: %+v", h)
	}
	if filepath.Dir(h.OutputPath) != dir {
		t.Errorf("OutputPath %q not under channel dir", h.OutputPath)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.Wait(ctx); err != nil {
		t.Fatalf("worker did not exit: %v", err)
	}
	if !h.Exited() {
		t.Error("Exited() = false after Wait returned")
	}

	out, err := os.ReadFile(h.OutputPath)
	if err != nil {
		t.Fatalf("reading output: %v", err)
	}
	if string(out) != "answer" {
		t.Errorf("output = %q, want %q", out, "answer")
	}
	if _, err := os.Stat(h.MarkerPath); err != nil {
		t.Errorf("marker file missing: %v", err)
	}
}

func TestExecInvoker_PromptOnStdin(t *testing.T) {
	registry := NewRegistry([]config.AgentConfig{{
		Name:         "cat",
		Command:      "cat",
		Instructions: "INSTRUCTIONS",
	}})
	inv := NewExecInvoker(registry, logging.NopLogger())

	h, err := inv.Invoke(context.Background(), InvokeRequest{
		AgentName:  "cat",
		RunID:      "run-2",
		Prompt:     "the prompt",
		ChannelDir: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.Wait(ctx); err != nil {
		t.Fatalf("worker did not exit: %v", err)
	}

	out, _ := os.ReadFile(h.OutputPath)
	if string(out) != "INSTRUCTIONS\n\nthe prompt" {
		t.Errorf("stdin round-trip = %q", out)
	}
}

func TestExecInvoker_PIDFileLifecycle(t *testing.T) {
	registry := NewRegistry([]config.AgentConfig{{
		Name:    "quick",
		Command: "true",
	}})
	inv := NewExecInvoker(registry, logging.NopLogger())

	dir := t.TempDir()
	h, err := inv.Invoke(context.Background(), InvokeRequest{
		AgentName:  "quick",
		RunID:      "run-3",
		ChannelDir: dir,
	})
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.Wait(ctx); err != nil {
		t.Fatalf("worker did not exit: %v", err)
	}

	// The pid file is removed once the process is reaped
	pidPath := filepath.Join(dir, h.WorkerID+PIDSuffix)
	if _, err := os.Stat(pidPath); !os.IsNotExist(err) {
		t.Error("pid file survived process exit")
	}
}

func TestExecInvoker_SpawnFailure(t *testing.T) {
	registry := NewRegistry([]config.AgentConfig{{
		Name:    "ghost",
		Command: "/nonexistent/binary",
	}})
	inv := NewExecInvoker(registry, logging.NopLogger())

	_, err := inv.Invoke(context.Background(), InvokeRequest{
		AgentName:  "ghost",
		RunID:      "run-4",
		ChannelDir: t.TempDir(),
	})
	if !conclaveerrors.Is(err, conclaveerrors.ErrWorkerSpawnFailed) {
		t.Errorf("expected ErrWorkerSpawnFailed, got %v", err)
	}
}

func TestExecInvoker_UnknownAgent(t *testing.T) {
	inv := NewExecInvoker(NewRegistry(nil), logging.NopLogger())

	_, err := inv.Invoke(context.Background(), InvokeRequest{
		AgentName:  "nobody",
		ChannelDir: t.TempDir(),
	})
	if !conclaveerrors.Is(err, conclaveerrors.ErrAgentUnknown) {
		t.Errorf("expected ErrAgentUnknown, got %v", err)
	}
}
