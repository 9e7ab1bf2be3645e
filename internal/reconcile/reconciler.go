// Package reconcile recomputes each asset's placement from its history and
// corrects the cached projection where it drifted.
//
// A run builds the container registry once, then handles assets in parallel.
// Each asset goes read projection -> load events -> project -> diff -> write,
// and each correction commits on its own. A failure on one asset is recorded
// in the report and never stops the others.
package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/roach88/fleetrecon/internal/drift"
	"github.com/roach88/fleetrecon/internal/eventlog"
	"github.com/roach88/fleetrecon/internal/fleet"
	"github.com/roach88/fleetrecon/internal/logging"
	"github.com/roach88/fleetrecon/internal/metrics"
	"github.com/roach88/fleetrecon/internal/projector"
	"github.com/roach88/fleetrecon/internal/registry"
	"github.com/roach88/fleetrecon/internal/store"
)

// Store is the persistence the reconciler needs. Both store.Store and
// pgstore.Store satisfy it.
type Store interface {
	registry.Source
	eventlog.Source
	ListAssetIDs(ctx context.Context) ([]fleet.AssetID, error)
	ReadAsset(ctx context.Context, id fleet.AssetID) (fleet.Asset, error)
	ApplyCorrection(ctx context.Context, runID string, assetID fleet.AssetID, expectedVersion int64, c *fleet.Correction) error
}

// RunRecorder is implemented by stores that keep a run history.
type RunRecorder interface {
	RecordRun(ctx context.Context, run store.RunRecord) error
}

// Options tunes a Reconciler. The zero value is usable.
type Options struct {
	// Workers bounds how many assets are reconciled at once. Default 1.
	Workers int

	// MaxConflictRetries is how many times an asset is re-read and
	// recomputed after a version conflict before giving up.
	MaxConflictRetries int

	// WritesPerSecond throttles correction writes. 0 means unlimited.
	WritesPerSecond float64

	// DryRun detects and reports drift without writing.
	DryRun bool

	RunIDs  RunIDGenerator
	Metrics *metrics.Recorder
	Logger  *slog.Logger
	Now     func() time.Time

	// ReaderOptions are passed to the event log reader.
	ReaderOptions []eventlog.ReaderOption
}

// Reconciler runs reconciliation passes over a Store.
type Reconciler struct {
	store   Store
	reader  *eventlog.Reader
	opts    Options
	limiter *rate.Limiter
}

// New creates a Reconciler.
func New(st Store, opts Options) *Reconciler {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.MaxConflictRetries < 0 {
		opts.MaxConflictRetries = 0
	}
	if opts.RunIDs == nil {
		opts.RunIDs = UUIDv7Generator{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.WritesPerSecond > 0 {
		burst := int(opts.WritesPerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.WritesPerSecond), burst)
	}

	return &Reconciler{
		store:   st,
		reader:  eventlog.NewReader(st, opts.ReaderOptions...),
		opts:    opts,
		limiter: limiter,
	}
}

// outcome is what happened to one asset.
type outcome struct {
	done       bool
	skipped    bool
	anomaly    bool
	correction *fleet.Correction
	applied    bool
	err        *ReconcileError
}

// ReconcileAll reconciles every asset in the store.
func (r *Reconciler) ReconcileAll(ctx context.Context) (fleet.RunReport, error) {
	ids, err := r.store.ListAssetIDs(ctx)
	if err != nil {
		return fleet.RunReport{}, err
	}
	return r.Reconcile(ctx, ids)
}

// Reconcile runs one pass over assetIDs.
//
// The only errors returned are a registry build failure, which yields no
// report, and context cancellation, which is returned together with the
// report of the assets finished so far. Everything else lands in
// RunReport.Errors. Duplicate ids are reconciled once.
func (r *Reconciler) Reconcile(ctx context.Context, assetIDs []fleet.AssetID) (fleet.RunReport, error) {
	started := r.opts.Now()
	runID := r.opts.RunIDs.Generate()

	logger := r.opts.Logger
	if logger == nil {
		logger = logging.FromContext(ctx)
	}
	logger = logger.With("run_id", runID)
	ctx = logging.WithLogger(ctx, logger)

	if err := ctx.Err(); err != nil {
		return fleet.NewRunReport(runID, r.opts.DryRun), err
	}

	reg, err := registry.Build(ctx, r.store)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fleet.NewRunReport(runID, r.opts.DryRun), ctxErr
		}
		logger.Error("registry build failed", "error", err)
		return fleet.RunReport{}, &ReconcileError{
			Code:    ErrCodeRegistryBuild,
			Message: "cannot load container registry",
			Err:     err,
		}
	}

	ids := dedupe(assetIDs)
	results := make([]outcome, len(ids))

	var g errgroup.Group
	g.SetLimit(r.opts.Workers)
	for i, id := range ids {
		i, id := i, id
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			results[i] = r.reconcileAsset(ctx, reg, runID, id)
			return nil
		})
	}
	_ = g.Wait()

	report := r.fold(ctx, runID, results)
	finished := r.opts.Now()
	r.opts.Metrics.RunFinished(ctx, finished.Sub(started), r.opts.DryRun)

	if err := ctx.Err(); err != nil {
		logger.Warn("reconciliation interrupted", "examined", report.Examined, "error", err)
		return report, err
	}

	if rec, ok := r.store.(RunRecorder); ok {
		if err := rec.RecordRun(ctx, store.NewRunRecord(report, started, finished)); err != nil {
			logger.Error("failed to record run", "error", err)
		}
	}

	logger.Info("reconciliation finished",
		"dry_run", report.DryRun,
		"examined", report.Examined,
		"skipped", report.Skipped,
		"drifted", report.Drifted,
		"corrected", report.CorrectedCount,
		"anomalies", report.Anomalies,
		"errors", len(report.Errors),
		"elapsed", finished.Sub(started))
	return report, nil
}

// fold turns per-asset outcomes into a report, in input order.
func (r *Reconciler) fold(ctx context.Context, runID string, results []outcome) fleet.RunReport {
	report := fleet.NewRunReport(runID, r.opts.DryRun)
	for _, out := range results {
		if !out.done {
			continue
		}
		report.Examined++
		if out.skipped {
			report.Skipped++
			continue
		}
		if out.anomaly {
			report.Anomalies++
		}
		if out.correction != nil {
			report.Drifted++
			if out.applied {
				report.CorrectedCount++
				report.Changes = append(report.Changes, out.correction.String())
			} else if r.opts.DryRun {
				report.Changes = append(report.Changes, out.correction.String())
			}
		}
		if out.err != nil {
			report.Errors = append(report.Errors, fleet.AssetError{
				AssetID: out.err.AssetID,
				Message: out.err.Error(),
			})
		}
	}
	return report
}

// reconcileAsset runs the pipeline for one asset and records its metrics
// from the final outcome, so retries never double count.
func (r *Reconciler) reconcileAsset(ctx context.Context, reg *registry.Registry, runID string, id fleet.AssetID) outcome {
	out := r.runAsset(ctx, reg, runID, id)
	if !out.done {
		return out
	}

	rec := r.opts.Metrics
	rec.Examined(ctx)
	switch {
	case out.skipped:
		rec.Skipped(ctx)
	case out.err != nil:
		rec.AssetError(ctx, string(out.err.Code))
	}
	if out.anomaly {
		rec.Anomaly(ctx)
	}
	if out.correction != nil {
		rec.Drifted(ctx, r.opts.DryRun)
	}
	if out.applied {
		rec.Corrected(ctx)
	}
	return out
}

func (r *Reconciler) runAsset(ctx context.Context, reg *registry.Registry, runID string, id fleet.AssetID) outcome {
	logger := logging.FromContext(ctx).With("asset_id", id)

	// A failure caused by cancellation leaves the asset unfinished.
	fail := func(out outcome, code ErrorCode, msg string, cause error) outcome {
		if ctx.Err() != nil {
			logger.Debug("asset abandoned on cancellation", "error", cause)
			return outcome{}
		}
		out.err = newAssetError(code, id, msg, cause)
		logger.Error("asset reconciliation failed", "code", code, "error", cause)
		return out
	}

	for attempt := 0; ; attempt++ {
		out := outcome{done: true}

		asset, err := r.store.ReadAsset(ctx, id)
		if err != nil {
			return fail(out, ErrCodeProjectionRead, "cannot read projection", err)
		}

		events, err := r.reader.LoadPlacementEvents(ctx, id)
		if err != nil {
			return fail(out, ErrCodeEventRead, "cannot read history", err)
		}

		target, ok := projector.Project(events, reg)
		if !ok {
			out.skipped = true
			logger.Debug("no placement history, skipping")
			return out
		}
		if target.Unresolved != "" {
			out.anomaly = true
			if attempt == 0 {
				logger.Warn("install destination not in registry", "ref", target.Unresolved)
			}
		}

		c := drift.Diff(asset.Projection, target)
		if c == nil {
			return out
		}
		c.AssetID = id
		out.correction = c

		if r.opts.DryRun {
			logger.Info("drift detected", "change", c.String())
			return out
		}

		if err := r.limiter.Wait(ctx); err != nil {
			return fail(out, ErrCodePersistence, "write budget wait interrupted", err)
		}

		err = r.store.ApplyCorrection(ctx, runID, id, asset.Version, c)
		switch {
		case err == nil:
			out.applied = true
			logger.Info("asset corrected", "change", c.String())
			return out
		case errors.Is(err, store.ErrVersionConflict):
			r.opts.Metrics.Conflict(ctx)
			if attempt < r.opts.MaxConflictRetries {
				logger.Debug("version conflict, retrying", "attempt", attempt+1)
				continue
			}
			return fail(out, ErrCodeVersionConflict, "asset kept changing during reconciliation", err)
		default:
			return fail(out, ErrCodePersistence, "cannot write correction", err)
		}
	}
}

func dedupe(ids []fleet.AssetID) []fleet.AssetID {
	seen := make(map[fleet.AssetID]struct{}, len(ids))
	out := make([]fleet.AssetID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
