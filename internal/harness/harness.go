package harness

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/fleetrecon/internal/fleet"
	"github.com/roach88/fleetrecon/internal/logging"
	"github.com/roach88/fleetrecon/internal/reconcile"
	"github.com/roach88/fleetrecon/internal/store"
	"github.com/roach88/fleetrecon/internal/testutil"
)

// Harness holds the per-scenario execution state.
type Harness struct {
	store  *store.Store
	serial map[string]fleet.AssetID
	logger *slog.Logger
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database. Run ids are
// run-0001, run-0002, ... one per pass, and the clock is fixed, so two
// executions of the same scenario produce identical results.
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	now := func() time.Time { return testutil.BaseTime }

	st, err := store.Open(":memory:", store.WithClock(now))
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	sum, err := scenario.Fixture.Apply(ctx, st)
	if err != nil {
		return nil, fmt.Errorf("failed to seed fixture: %w", err)
	}

	h := &Harness{
		store:  st,
		serial: sum.AssetIDs,
		logger: logging.Discard(),
	}

	passes := scenario.passes()
	runIDs := make([]string, passes)
	for i := range runIDs {
		runIDs[i] = fmt.Sprintf("run-%04d", i+1)
	}

	rec := reconcile.New(st, reconcile.Options{
		Workers:            scenario.Options.Workers,
		MaxConflictRetries: 3,
		DryRun:             scenario.Options.DryRun,
		RunIDs:             reconcile.NewFixedGenerator(runIDs...),
		Logger:             h.logger,
		Now:                now,
	})

	result := NewResult()
	for pass := 0; pass < passes; pass++ {
		var report fleet.RunReport
		if len(scenario.Options.Assets) == 0 {
			report, err = rec.ReconcileAll(ctx)
		} else {
			report, err = rec.Reconcile(ctx, h.assetIDs(scenario.Options.Assets))
		}
		if err != nil {
			return nil, fmt.Errorf("pass %d: %w", pass+1, err)
		}
		result.Reports = append(result.Reports, report)
	}

	states, err := h.snapshotAssets(ctx)
	if err != nil {
		return nil, err
	}
	result.Assets = states

	for _, e := range scenario.Expect {
		h.check(result, e)
	}
	return result, nil
}

func (h *Harness) assetIDs(serials []string) []fleet.AssetID {
	ids := make([]fleet.AssetID, 0, len(serials))
	for _, s := range serials {
		ids = append(ids, h.serial[s])
	}
	return ids
}

func (h *Harness) snapshotAssets(ctx context.Context) ([]AssetState, error) {
	containers, err := h.store.ListContainers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}
	refs := make(map[fleet.ContainerID]string, len(containers))
	for _, c := range containers {
		refs[c.ID] = c.Ref
	}

	ids, err := h.store.ListAssetIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list assets: %w", err)
	}

	states := make([]AssetState, 0, len(ids))
	for _, id := range ids {
		a, err := h.store.ReadAsset(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to read asset %d: %w", id, err)
		}
		corrections, err := h.store.ReadCorrections(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to read corrections for asset %d: %w", id, err)
		}

		state := AssetState{
			Serial:      a.SerialNo,
			Status:      a.Projection.Status,
			Slot:        a.Projection.Slot,
			Condition:   a.Projection.ConditionTag,
			Version:     a.Version,
			Corrections: len(corrections),
		}
		if a.Projection.ContainerID != nil {
			ref := refs[*a.Projection.ContainerID]
			state.Container = &ref
		}
		states = append(states, state)
	}
	return states, nil
}

func (h *Harness) check(result *Result, e Expectation) {
	got, ok := result.Asset(e.Serial)
	if !ok {
		result.AddError(fmt.Sprintf("%s: asset not found", e.Serial))
		return
	}

	if string(got.Status) != e.Status {
		result.AddError(fmt.Sprintf("%s: status = %s, want %s", e.Serial, got.Status, e.Status))
	}

	gotContainer := ""
	if got.Container != nil {
		gotContainer = *got.Container
	}
	if gotContainer != e.Container {
		result.AddError(fmt.Sprintf("%s: container = %q, want %q", e.Serial, gotContainer, e.Container))
	}

	if fleet.FormatSlot(got.Slot) != fleet.FormatSlot(e.Slot) {
		result.AddError(fmt.Sprintf("%s: slot = %s, want %s", e.Serial, fleet.FormatSlot(got.Slot), fleet.FormatSlot(e.Slot)))
	}

	if e.Condition != nil && got.Condition != *e.Condition {
		result.AddError(fmt.Sprintf("%s: condition = %q, want %q", e.Serial, got.Condition, *e.Condition))
	}
}
