package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/fleetrecon/internal/fleet"
	"github.com/roach88/fleetrecon/internal/logging"
	"github.com/roach88/fleetrecon/internal/metrics"
	"github.com/roach88/fleetrecon/internal/reconcile"
)

// ReconcileOptions holds flags for the reconcile and check commands.
type ReconcileOptions struct {
	*RootOptions
	Assets  []int64
	DryRun  bool
	Workers int

	// RunIDs allows overriding the run id generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	RunIDs reconcile.RunIDGenerator

	// check makes drift itself a failure and forces a dry run.
	check bool
}

// NewReconcileCommand creates the reconcile command.
func NewReconcileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReconcileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Correct drifted engine placements",
		Long: `Recompute every engine's placement from its history and write corrections
where the cached projection drifted.

Exit codes:
  0 - All assets reconciled
  1 - One or more assets failed, or the run was interrupted
  2 - Command error (bad config, database unreachable, registry unavailable)

Examples:
  fleetrecon reconcile --db ./fleet.db
  fleetrecon reconcile --asset 12 --asset 40 --dry-run
  fleetrecon reconcile --config fleetrecon.toml --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReconcile(opts, cmd)
		},
	}

	addReconcileFlags(cmd, opts)
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "report drift without writing")

	return cmd
}

// NewCheckCommand creates the check command.
func NewCheckCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReconcileOptions{RootOptions: rootOpts, check: true}

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Fail when any engine placement drifted",
		Long: `Run a dry reconciliation and exit 1 when any asset drifted or failed.
Nothing is written apart from the run record.

Example:
  fleetrecon check --db ./fleet.db`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReconcile(opts, cmd)
		},
	}

	addReconcileFlags(cmd, opts)

	return cmd
}

func addReconcileFlags(cmd *cobra.Command, opts *ReconcileOptions) {
	cmd.Flags().Int64SliceVar(&opts.Assets, "asset", nil, "asset id to reconcile (repeatable, default all)")
	cmd.Flags().IntVar(&opts.Workers, "workers", 0, "assets reconciled in parallel, overrides config")
}

func runReconcile(opts *ReconcileOptions, cmd *cobra.Command) error {
	out := opts.output(cmd)
	ctx, stop := signal.NotifyContext(opts.context(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()
	logger := logging.FromContext(ctx)

	cfg := opts.config
	backend, err := OpenBackend(ctx, cfg.Database)
	if err != nil {
		return out.Fail(ErrCodeDatabase, WrapExitError(ExitCommandError, "failed to open database", err))
	}
	defer closeBackend(ctx, backend)

	rec, err := metrics.NewGlobal()
	if err != nil {
		logger.Warn("metrics disabled", "error", err)
	}

	workers := cfg.Reconcile.Workers
	if opts.Workers > 0 {
		workers = opts.Workers
	}
	r := reconcile.New(backend, reconcile.Options{
		Workers:            workers,
		MaxConflictRetries: cfg.Reconcile.MaxConflictRetries,
		WritesPerSecond:    cfg.Reconcile.WritesPerSecond,
		DryRun:             opts.check || opts.DryRun || cfg.Reconcile.DryRun,
		RunIDs:             opts.RunIDs,
		Metrics:            rec,
		Logger:             logger,
	})

	out.VerboseLog("reconciling with %d workers against %s", workers, cfg.Database.Driver)

	var report fleet.RunReport
	if len(opts.Assets) == 0 {
		report, err = r.ReconcileAll(ctx)
	} else {
		ids := make([]fleet.AssetID, len(opts.Assets))
		for i, id := range opts.Assets {
			ids[i] = fleet.AssetID(id)
		}
		report, err = r.Reconcile(ctx, ids)
	}

	switch {
	case err == nil:
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		if opts.Format == "json" {
			_ = out.Error(ErrCodeInterrupted, "reconciliation interrupted", ReportView{report})
		} else {
			_ = out.Success(ReportView{report})
		}
		return WrapExitError(ExitFailure, "reconciliation interrupted", err)
	case reconcile.IsRegistryError(err):
		return out.Fail(ErrCodeRegistry, WrapExitError(ExitCommandError, "cannot load container registry", err))
	default:
		return out.Fail(ErrCodeDatabase, WrapExitError(ExitCommandError, "failed to list assets", err))
	}

	if err := out.Success(ReportView{report}); err != nil {
		return err
	}

	if opts.check && report.Drifted > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("drift detected on %d asset(s)", report.Drifted))
	}
	if report.HasErrors() {
		return NewExitError(ExitFailure, fmt.Sprintf("%d asset(s) failed to reconcile", len(report.Errors)))
	}
	return nil
}

// ReportView renders a run report.
type ReportView struct {
	fleet.RunReport
}

func (v ReportView) String() string {
	var b strings.Builder
	r := v.RunReport

	fmt.Fprintf(&b, "Run %s", r.RunID)
	if r.DryRun {
		b.WriteString(" (dry run)")
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "  examined:  %d\n", r.Examined)
	fmt.Fprintf(&b, "  skipped:   %d\n", r.Skipped)
	fmt.Fprintf(&b, "  drifted:   %d\n", r.Drifted)
	fmt.Fprintf(&b, "  corrected: %d\n", r.CorrectedCount)
	fmt.Fprintf(&b, "  anomalies: %d\n", r.Anomalies)
	fmt.Fprintf(&b, "  errors:    %d", len(r.Errors))

	if len(r.Changes) > 0 {
		b.WriteString("\nChanges:")
		for _, c := range r.Changes {
			fmt.Fprintf(&b, "\n  %s", c)
		}
	}
	if len(r.Errors) > 0 {
		b.WriteString("\nErrors:")
		for _, e := range r.Errors {
			fmt.Fprintf(&b, "\n  asset %d: %s", e.AssetID, e.Message)
		}
	}
	return b.String()
}
