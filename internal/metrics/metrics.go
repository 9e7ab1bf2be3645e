// Package metrics records reconciliation counters and run durations through
// OpenTelemetry.
package metrics

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ScopeName is the instrumentation scope of every instrument here.
const ScopeName = "github.com/roach88/fleetrecon"

// Instrument names.
const (
	AssetsExamined  = "fleetrecon.assets.examined"
	AssetsSkipped   = "fleetrecon.assets.skipped"
	AssetsDrifted   = "fleetrecon.assets.drifted"
	AssetsCorrected = "fleetrecon.assets.corrected"
	Anomalies       = "fleetrecon.anomalies"
	AssetErrors     = "fleetrecon.asset.errors"
	Conflicts       = "fleetrecon.version.conflicts"
	RunDuration     = "fleetrecon.run.duration"
)

// Recorder holds the reconciler's instruments. A nil *Recorder records
// nothing.
type Recorder struct {
	examined  metric.Int64Counter
	skipped   metric.Int64Counter
	drifted   metric.Int64Counter
	corrected metric.Int64Counter
	anomalies metric.Int64Counter
	errors    metric.Int64Counter
	conflicts metric.Int64Counter
	duration  metric.Float64Histogram
}

// NewGlobal builds a Recorder on the global meter provider.
func NewGlobal() (*Recorder, error) {
	return New(otel.GetMeterProvider())
}

// New builds a Recorder on provider.
func New(provider metric.MeterProvider) (*Recorder, error) {
	meter := provider.Meter(ScopeName)
	r := &Recorder{}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
		unit string
	}{
		{&r.examined, AssetsExamined, "Assets examined by reconciliation", "{asset}"},
		{&r.skipped, AssetsSkipped, "Assets skipped for lack of placement history", "{asset}"},
		{&r.drifted, AssetsDrifted, "Assets whose projection disagreed with history", "{asset}"},
		{&r.corrected, AssetsCorrected, "Corrections committed", "{asset}"},
		{&r.anomalies, Anomalies, "Installs whose destination did not resolve", "{event}"},
		{&r.errors, AssetErrors, "Per-asset failures", "{error}"},
		{&r.conflicts, Conflicts, "Optimistic version conflicts", "{conflict}"},
	}
	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name,
			metric.WithDescription(c.desc),
			metric.WithUnit(c.unit),
		)
		if err != nil {
			return nil, fmt.Errorf("create counter %s: %w", c.name, err)
		}
		*c.dst = counter
	}

	hist, err := meter.Float64Histogram(RunDuration,
		metric.WithDescription("Reconciliation run duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300),
	)
	if err != nil {
		return nil, fmt.Errorf("create histogram %s: %w", RunDuration, err)
	}
	r.duration = hist
	return r, nil
}

func add(ctx context.Context, c metric.Int64Counter, attrs ...attribute.KeyValue) {
	if c == nil {
		return
	}
	c.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// Examined counts an asset that finished the pipeline.
func (r *Recorder) Examined(ctx context.Context) {
	if r != nil {
		add(ctx, r.examined)
	}
}

// Skipped counts an asset without placement history.
func (r *Recorder) Skipped(ctx context.Context) {
	if r != nil {
		add(ctx, r.skipped)
	}
}

// Drifted counts an asset with drift. dryRun tells reports from fixes apart.
func (r *Recorder) Drifted(ctx context.Context, dryRun bool) {
	if r != nil {
		add(ctx, r.drifted, attribute.Bool("dry_run", dryRun))
	}
}

// Corrected counts a committed correction.
func (r *Recorder) Corrected(ctx context.Context) {
	if r != nil {
		add(ctx, r.corrected)
	}
}

// Anomaly counts an asset whose latest install names an unknown container.
func (r *Recorder) Anomaly(ctx context.Context) {
	if r != nil {
		add(ctx, r.anomalies)
	}
}

// AssetError counts a per-asset failure labelled with its error code.
func (r *Recorder) AssetError(ctx context.Context, code string) {
	if r != nil {
		add(ctx, r.errors, attribute.String("code", code))
	}
}

// Conflict counts one optimistic version conflict, retried or not.
func (r *Recorder) Conflict(ctx context.Context) {
	if r != nil {
		add(ctx, r.conflicts)
	}
}

// RunFinished records the wall time of a run.
func (r *Recorder) RunFinished(ctx context.Context, elapsed time.Duration, dryRun bool) {
	if r == nil || r.duration == nil {
		return
	}
	r.duration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(attribute.Bool("dry_run", dryRun)))
}
