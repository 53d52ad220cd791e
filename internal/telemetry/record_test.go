package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/conclavehq/conclave/internal/config"
	"github.com/conclavehq/conclave/internal/model"
)

func TestInit_DisabledIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), config.TelemetryConfig{Enabled: false}, "test")
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("noop shutdown errored: %v", err)
	}
}

func TestInit_EnabledWithoutEndpointIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), config.TelemetryConfig{Enabled: true}, "test")
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("noop shutdown errored: %v", err)
	}
}

// With no provider configured the global meter is a no-op; recording must
// still be safe.
func TestRecorder_NoopProvider(t *testing.T) {
	r, err := NewRecorder()
	if err != nil {
		t.Fatalf("NewRecorder failed: %v", err)
	}

	r.RecordRun(context.Background(), RunRecord{
		RunID:         "run-1",
		WorkItemID:    "item-1",
		Stage:         "plan",
		Attempt:       1,
		SchemaVersion: SchemaVersion,
		Timestamp:     time.Now(),
		Outcome:       string(model.RunCompleted),
		Duration:      3 * time.Second,
		SelectedAgent: "falcon",
		Confidence:    0.625,
	})
	r.RecordDedupe(context.Background(), "plan")
}
