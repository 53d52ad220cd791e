package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/conclavehq/conclave/internal/model"
)

// SchemaVersion identifies the run-record shape. Bump it when fields
// change meaning so downstream consumers can branch on it.
const SchemaVersion = 1

const scope = "github.com/conclavehq/conclave"

// RunRecord is the structured record emitted once per terminal run.
type RunRecord struct {
	RunID         string        `json:"run_id"`
	WorkItemID    string        `json:"work_item_id"`
	Stage         string        `json:"stage"`
	Attempt       int           `json:"attempt"`
	SchemaVersion int           `json:"schema_version"`
	Timestamp     time.Time     `json:"timestamp"`
	Outcome       string        `json:"outcome"`
	Duration      time.Duration `json:"duration"`

	SelectedAgent string        `json:"selected_agent,omitempty"`
	Confidence    float64       `json:"confidence,omitempty"`
	PerAgent      []model.Score `json:"per_agent,omitempty"`

	Deduped  bool `json:"deduped"`
	Degraded bool `json:"degraded"`
	Conflict bool `json:"conflict"`
}

// Recorder emits one RunRecord per terminal run through the global meter.
type Recorder struct {
	runs       metric.Int64Counter
	degraded   metric.Int64Counter
	conflicts  metric.Int64Counter
	dedupes    metric.Int64Counter
	confidence metric.Float64Histogram
	duration   metric.Float64Histogram
}

// NewRecorder creates a Recorder against the global meter provider. With
// telemetry disabled the instruments are no-ops.
func NewRecorder() (*Recorder, error) {
	m := Meter(scope)

	runs, err := m.Int64Counter("conclave.runs",
		metric.WithDescription("Terminal stage runs by outcome"))
	if err != nil {
		return nil, err
	}
	degraded, err := m.Int64Counter("conclave.runs.degraded",
		metric.WithDescription("Runs that completed on a partial roster"))
	if err != nil {
		return nil, err
	}
	conflicts, err := m.Int64Counter("conclave.runs.conflicts",
		metric.WithDescription("Runs escalated on material disagreement or missed quorum"))
	if err != nil {
		return nil, err
	}
	dedupes, err := m.Int64Counter("conclave.dispatch.dedupes",
		metric.WithDescription("Dispatch requests absorbed by an already-active run"))
	if err != nil {
		return nil, err
	}
	confidence, err := m.Float64Histogram("conclave.consensus.confidence",
		metric.WithDescription("Winning final score per consensus round"))
	if err != nil {
		return nil, err
	}
	duration, err := m.Float64Histogram("conclave.run.duration_seconds",
		metric.WithDescription("Wall-clock run duration"))
	if err != nil {
		return nil, err
	}

	return &Recorder{
		runs:       runs,
		degraded:   degraded,
		conflicts:  conflicts,
		dedupes:    dedupes,
		confidence: confidence,
		duration:   duration,
	}, nil
}

// RecordRun emits the metrics for one terminal run.
func (r *Recorder) RecordRun(ctx context.Context, rec RunRecord) {
	attrs := metric.WithAttributes(
		attribute.String("stage", rec.Stage),
		attribute.String("outcome", rec.Outcome),
		attribute.Int("attempt", rec.Attempt),
		attribute.Int("schema_version", rec.SchemaVersion),
	)

	r.runs.Add(ctx, 1, attrs)
	if rec.Degraded {
		r.degraded.Add(ctx, 1, attrs)
	}
	if rec.Conflict {
		r.conflicts.Add(ctx, 1, attrs)
	}
	if rec.SelectedAgent != "" {
		r.confidence.Record(ctx, rec.Confidence, metric.WithAttributes(
			attribute.String("stage", rec.Stage),
			attribute.String("agent", rec.SelectedAgent),
		))
	}
	r.duration.Record(ctx, rec.Duration.Seconds(), attrs)
}

// RecordDedupe counts one absorbed dispatch.
func (r *Recorder) RecordDedupe(ctx context.Context, stage string) {
	r.dedupes.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
}
