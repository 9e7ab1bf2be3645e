package reconcile

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/roach88/fleetrecon/internal/eventlog"
	"github.com/roach88/fleetrecon/internal/fleet"
	"github.com/roach88/fleetrecon/internal/metrics"
	"github.com/roach88/fleetrecon/internal/testutil"
)

func TestReconcile_CorrectsDrift(t *testing.T) {
	s := newTestStore(t)
	fleetFixture(t, s)

	// History says installed on ER-BAT pos 2; cache says serviceable.
	id := addAsset(t, s, "ESN-001", serviceable())
	appendHistory(t, s, id, testutil.NewHistory(id).Install("ER-BAT", 2).Events())

	report, err := New(s, testOptions("run-1")).Reconcile(context.Background(), []fleet.AssetID{id})
	require.NoError(t, err)

	assert.Equal(t, "run-1", report.RunID)
	assert.Equal(t, 1, report.Examined)
	assert.Equal(t, 1, report.Drifted)
	assert.Equal(t, 1, report.CorrectedCount)
	assert.Equal(t, []string{"asset 1: status SV -> INSTALLED, container - -> 1, slot - -> 2"}, report.Changes)
	assert.Empty(t, report.Errors)

	assert.Equal(t, installed(1, 2), readProjection(t, s, id))
}

func TestReconcile_Idempotent(t *testing.T) {
	s := newTestStore(t)
	fleetFixture(t, s)

	a := addAsset(t, s, "ESN-001", serviceable())
	appendHistory(t, s, a, testutil.NewHistory(a).Install("ER-BAT", 1).Events())
	b := addAsset(t, s, "ESN-002", installed(2, 1))
	appendHistory(t, s, b, testutil.NewHistory(b).Install("ER-BBB", 1).Remove("US").Events())

	r := New(s, testOptions("run-1", "run-2"))
	ids := []fleet.AssetID{a, b}

	first, err := r.Reconcile(context.Background(), ids)
	require.NoError(t, err)
	assert.Equal(t, 2, first.CorrectedCount)

	second, err := r.Reconcile(context.Background(), ids)
	require.NoError(t, err)
	assert.Equal(t, 0, second.CorrectedCount)
	assert.Equal(t, 0, second.Drifted)
	assert.Empty(t, second.Changes)
	assert.Equal(t, 2, second.Examined)
}

func TestReconcile_LastEventWins(t *testing.T) {
	s := newTestStore(t)
	fleetFixture(t, s)

	id := addAsset(t, s, "ESN-001", installed(1, 1))
	appendHistory(t, s, id, testutil.NewHistory(id).
		Install("ER-BAT", 1).
		Remove("SV").
		Install("ER-BBB", 2).
		Events())

	_, err := New(s, testOptions("run-1")).Reconcile(context.Background(), []fleet.AssetID{id})
	require.NoError(t, err)
	assert.Equal(t, installed(2, 2), readProjection(t, s, id))
}

func TestReconcile_TieBrokenByInsertionOrder(t *testing.T) {
	s := newTestStore(t)
	fleetFixture(t, s)

	id := addAsset(t, s, "ESN-001", serviceable())
	appendHistory(t, s, id, testutil.NewHistory(id).
		Install("ER-BAT", 1).
		Tied().Remove("US").
		Events())

	_, err := New(s, testOptions("run-1")).Reconcile(context.Background(), []fleet.AssetID{id})
	require.NoError(t, err)
	assert.Equal(t, fleet.Projection{Status: fleet.StatusRemoved, ConditionTag: "US"}, readProjection(t, s, id))
}

func TestReconcile_RemoveWithoutConditionDefaultsToServiceable(t *testing.T) {
	s := newTestStore(t)
	fleetFixture(t, s)

	id := addAsset(t, s, "ESN-001", fleet.Projection{Status: fleet.StatusInstalled, ContainerID: fleet.ContainerPtr(1), Slot: fleet.IntPtr(1), ConditionTag: "US"})
	appendHistory(t, s, id, testutil.NewHistory(id).Install("ER-BAT", 1).Remove("").Events())

	_, err := New(s, testOptions("run-1")).Reconcile(context.Background(), []fleet.AssetID{id})
	require.NoError(t, err)
	assert.Equal(t, fleet.Projection{Status: fleet.StatusRemoved, ConditionTag: "SV"}, readProjection(t, s, id))
}

func TestReconcile_UnresolvedReference(t *testing.T) {
	s := newTestStore(t)
	fleetFixture(t, s)

	id := addAsset(t, s, "ESN-001", serviceable())
	appendHistory(t, s, id, testutil.NewHistory(id).Install("ZZ-999", 1).Events())

	report, err := New(s, testOptions("run-1")).Reconcile(context.Background(), []fleet.AssetID{id})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Anomalies)
	assert.Empty(t, report.Errors)
	assert.Equal(t, 1, report.CorrectedCount)

	p := readProjection(t, s, id)
	assert.Equal(t, fleet.StatusInstalled, p.Status)
	assert.Nil(t, p.ContainerID)
	require.NotNil(t, p.Slot)
	assert.Equal(t, 1, *p.Slot)
}

func TestReconcile_InformationalEventsAreNoOps(t *testing.T) {
	s := newTestStore(t)
	fleetFixture(t, s)

	id := addAsset(t, s, "ESN-001", installed(1, 2))
	appendHistory(t, s, id, testutil.NewHistory(id).
		Install("ER-BAT", 2).
		Info(fleet.EventFlight).
		Info(fleet.EventShip).
		Info(fleet.EventRepair).
		Info(fleet.EventInspect).
		Info(fleet.EventPartAction).
		Events())

	report, err := New(s, testOptions("run-1")).Reconcile(context.Background(), []fleet.AssetID{id})
	require.NoError(t, err)
	assert.Equal(t, 0, report.Drifted)
	assert.Equal(t, 0, report.CorrectedCount)
	assert.Equal(t, installed(1, 2), readProjection(t, s, id))
}

func TestReconcile_EmptyHistorySkipped(t *testing.T) {
	s := newTestStore(t)
	fleetFixture(t, s)

	// Only informational events: still nothing to project.
	quiet := addAsset(t, s, "ESN-001", installed(1, 1))
	appendHistory(t, s, quiet, testutil.NewHistory(quiet).Info(fleet.EventInspect).Events())
	empty := addAsset(t, s, "ESN-002", fleet.Projection{Status: fleet.StatusUnserviceable, ConditionTag: "US"})

	report, err := New(s, testOptions("run-1")).Reconcile(context.Background(), []fleet.AssetID{quiet, empty})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Examined)
	assert.Equal(t, 2, report.Skipped)
	assert.Equal(t, 0, report.CorrectedCount)
	assert.Equal(t, installed(1, 1), readProjection(t, s, quiet))
	assert.Equal(t, fleet.StatusUnserviceable, readProjection(t, s, empty).Status)
}

func TestReconcile_FailureIsolation(t *testing.T) {
	s := newTestStore(t)
	fleetFixture(t, s)

	var ids []fleet.AssetID
	for _, serial := range []string{"ESN-001", "ESN-002", "ESN-003", "ESN-004"} {
		id := addAsset(t, s, serial, serviceable())
		appendHistory(t, s, id, testutil.NewHistory(id).Install("ER-BAT", 1).Events())
		ids = append(ids, id)
	}

	fs := newFaultyStore(s)
	boom := errors.New("connection reset")
	fs.applyErr[ids[2]] = boom

	report, err := New(fs, testOptions("run-1")).Reconcile(context.Background(), ids)
	require.NoError(t, err)
	assert.Equal(t, len(ids)-1, report.CorrectedCount)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, ids[2], report.Errors[0].AssetID)
	assert.Contains(t, report.Errors[0].Message, "PERSISTENCE")
	assert.Contains(t, report.Errors[0].Message, "connection reset")
	assert.True(t, report.HasErrors())

	assert.Equal(t, serviceable(), readProjection(t, s, ids[2]))
	assert.Equal(t, installed(1, 1), readProjection(t, s, ids[3]))
}

func TestReconcile_ReadFailuresAreIsolated(t *testing.T) {
	s := newTestStore(t)
	fleetFixture(t, s)

	var ids []fleet.AssetID
	for _, serial := range []string{"ESN-001", "ESN-002", "ESN-003"} {
		id := addAsset(t, s, serial, serviceable())
		appendHistory(t, s, id, testutil.NewHistory(id).Install("ER-BBB", 2).Events())
		ids = append(ids, id)
	}

	fs := newFaultyStore(s)
	fs.readErr[ids[0]] = errors.New("row locked")
	fs.eventErr[ids[1]] = errors.New("io timeout")

	report, err := New(fs, testOptions("run-1")).Reconcile(context.Background(), ids)
	require.NoError(t, err)
	assert.Equal(t, 1, report.CorrectedCount)
	require.Len(t, report.Errors, 2)
	assert.Contains(t, report.Errors[0].Message, string(ErrCodeProjectionRead))
	assert.Contains(t, report.Errors[1].Message, string(ErrCodeEventRead))
}

func TestReconcile_UnknownAsset(t *testing.T) {
	s := newTestStore(t)
	fleetFixture(t, s)

	report, err := New(s, testOptions("run-1")).Reconcile(context.Background(), []fleet.AssetID{404})
	require.NoError(t, err)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, fleet.AssetID(404), report.Errors[0].AssetID)
	assert.Contains(t, report.Errors[0].Message, "asset not found")
}

func TestReconcile_RegistryFailureIsFatal(t *testing.T) {
	s := newTestStore(t)
	fs := newFaultyStore(s)
	fs.listErr = errors.New("containers table missing")

	report, err := New(fs, testOptions("run-1")).Reconcile(context.Background(), []fleet.AssetID{1})
	require.Error(t, err)
	assert.True(t, IsRegistryError(err))
	assert.ErrorIs(t, err, fs.listErr)
	assert.Equal(t, fleet.RunReport{}, report)
}

func TestReconcile_RetriesVersionConflict(t *testing.T) {
	s := newTestStore(t)
	fleetFixture(t, s)

	id := addAsset(t, s, "ESN-001", serviceable())
	appendHistory(t, s, id, testutil.NewHistory(id).Install("ER-BAT", 1).Events())

	fs := newFaultyStore(s)
	fs.racers[id] = 1

	report, err := New(fs, testOptions("run-1")).Reconcile(context.Background(), []fleet.AssetID{id})
	require.NoError(t, err)
	assert.Equal(t, 1, report.CorrectedCount)
	assert.Empty(t, report.Errors)
	assert.Equal(t, 2, fs.calls(id))
}

func TestReconcile_GivesUpAfterConflictBudget(t *testing.T) {
	s := newTestStore(t)
	fleetFixture(t, s)

	id := addAsset(t, s, "ESN-001", serviceable())
	appendHistory(t, s, id, testutil.NewHistory(id).Install("ER-BAT", 1).Events())

	fs := newFaultyStore(s)
	fs.racers[id] = -1

	opts := testOptions("run-1")
	opts.MaxConflictRetries = 2
	report, err := New(fs, opts).Reconcile(context.Background(), []fleet.AssetID{id})
	require.NoError(t, err)
	assert.Equal(t, 0, report.CorrectedCount)
	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0].Message, string(ErrCodeVersionConflict))
	assert.Equal(t, 3, fs.calls(id))
}

func TestReconcile_DryRun(t *testing.T) {
	s := newTestStore(t)
	fleetFixture(t, s)

	id := addAsset(t, s, "ESN-001", serviceable())
	appendHistory(t, s, id, testutil.NewHistory(id).Install("ER-BAT", 1).Events())

	opts := testOptions("dry-1")
	opts.DryRun = true
	report, err := New(s, opts).Reconcile(context.Background(), []fleet.AssetID{id})
	require.NoError(t, err)
	assert.True(t, report.DryRun)
	assert.Equal(t, 1, report.Drifted)
	assert.Equal(t, 0, report.CorrectedCount)
	assert.Len(t, report.Changes, 1)
	assert.Equal(t, serviceable(), readProjection(t, s, id))

	run, err := s.ReadRun(context.Background(), "dry-1")
	require.NoError(t, err)
	assert.True(t, run.DryRun)
}

func TestReconcile_WritesAuditAndRunRecord(t *testing.T) {
	s := newTestStore(t)
	fleetFixture(t, s)

	id := addAsset(t, s, "ESN-001", installed(1, 1))
	appendHistory(t, s, id, testutil.NewHistory(id).Install("ER-BAT", 1).Remove("US").Events())

	_, err := New(s, testOptions("run-audit")).Reconcile(context.Background(), []fleet.AssetID{id})
	require.NoError(t, err)

	audit, err := s.ReadCorrections(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, audit, 1)
	assert.Equal(t, "run-audit", audit[0].RunID)
	assert.Equal(t, installed(1, 1), audit[0].Before)
	assert.Equal(t, fleet.Projection{Status: fleet.StatusRemoved, ConditionTag: "US"}, audit[0].After)

	run, err := s.ReadRun(context.Background(), "run-audit")
	require.NoError(t, err)
	assert.Equal(t, 1, run.Corrected)
	assert.True(t, fixedNow.Equal(run.StartedAt))
}

func TestReconcile_ChangesFollowInputOrder(t *testing.T) {
	s := newTestStore(t)
	fleetFixture(t, s)

	var ids []fleet.AssetID
	for i := 0; i < 12; i++ {
		id := addAsset(t, s, "ESN-"+string(rune('A'+i)), serviceable())
		appendHistory(t, s, id, testutil.NewHistory(id).Install("ER-BAT", i%2+1).Events())
		ids = append(ids, id)
	}
	// Reverse so input order differs from id order.
	for i, j := 0, len(ids)-1; i < j; i, j = i+1, j-1 {
		ids[i], ids[j] = ids[j], ids[i]
	}

	opts := testOptions("run-1")
	opts.Workers = 6
	report, err := New(s, opts).Reconcile(context.Background(), ids)
	require.NoError(t, err)
	require.Len(t, report.Changes, len(ids))
	assert.Contains(t, report.Changes[0], "asset 12:")
	assert.Contains(t, report.Changes[len(ids)-1], "asset 1:")
}

func TestReconcile_DuplicateIDsReconciledOnce(t *testing.T) {
	s := newTestStore(t)
	fleetFixture(t, s)

	id := addAsset(t, s, "ESN-001", serviceable())
	appendHistory(t, s, id, testutil.NewHistory(id).Install("ER-BAT", 1).Events())

	report, err := New(s, testOptions("run-1")).Reconcile(context.Background(), []fleet.AssetID{id, id, id})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Examined)
	assert.Equal(t, 1, report.CorrectedCount)
}

func TestReconcile_CancelledContext(t *testing.T) {
	s := newTestStore(t)
	fleetFixture(t, s)
	id := addAsset(t, s, "ESN-001", serviceable())
	appendHistory(t, s, id, testutil.NewHistory(id).Install("ER-BAT", 1).Events())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := New(s, testOptions("run-1")).Reconcile(ctx, []fleet.AssetID{id})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, IsRegistryError(err))
	assert.Equal(t, 0, report.CorrectedCount)
	assert.Equal(t, serviceable(), readProjection(t, s, id))
}

func TestReconcile_CancelledMidRunReportsNoFalseErrors(t *testing.T) {
	s := newTestStore(t)
	fleetFixture(t, s)

	var ids []fleet.AssetID
	for _, serial := range []string{"ESN-001", "ESN-002", "ESN-003"} {
		id := addAsset(t, s, serial, serviceable())
		appendHistory(t, s, id, testutil.NewHistory(id).Install("ER-BAT", 1).Events())
		ids = append(ids, id)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fs := newFaultyStore(s)
	fs.beforeRead = func(id fleet.AssetID) error {
		if id == ids[1] {
			cancel()
			return ctx.Err()
		}
		return nil
	}

	opts := testOptions("run-1")
	opts.Workers = 1
	report, err := New(fs, opts).Reconcile(ctx, ids)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, report.Errors)
	assert.Equal(t, 1, report.Examined)
	assert.Equal(t, 1, report.CorrectedCount)
	assert.Equal(t, serviceable(), readProjection(t, s, ids[1]))
	assert.Equal(t, serviceable(), readProjection(t, s, ids[2]))
}

func TestReconcile_AmbiguousContainerRefIsAnAnomaly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for _, ref := range []string{"ER-BAT", "ER-BAT ", "ER-BBB"} {
		_, err := s.InsertContainer(ctx, fleet.Container{Ref: ref})
		require.NoError(t, err)
	}

	ambiguous := addAsset(t, s, "ESN-001", serviceable())
	appendHistory(t, s, ambiguous, testutil.NewHistory(ambiguous).Install("ER-BAT", 1).Events())
	clean := addAsset(t, s, "ESN-002", serviceable())
	appendHistory(t, s, clean, testutil.NewHistory(clean).Install("ER-BBB", 2).Events())

	report, err := New(s, testOptions("run-1")).Reconcile(ctx, []fleet.AssetID{ambiguous, clean})
	require.NoError(t, err)
	assert.Empty(t, report.Errors)
	assert.Equal(t, 2, report.Examined)
	assert.Equal(t, 1, report.Anomalies)
	assert.Equal(t, 2, report.CorrectedCount)

	p := readProjection(t, s, ambiguous)
	assert.Equal(t, fleet.StatusInstalled, p.Status)
	assert.Nil(t, p.ContainerID)
	require.NotNil(t, p.Slot)
	assert.Equal(t, 1, *p.Slot)

	assert.Equal(t, installed(3, 2), readProjection(t, s, clean))
}

func TestReconcile_MalformedEventsDropped(t *testing.T) {
	s := newTestStore(t)
	fleetFixture(t, s)

	id := addAsset(t, s, "ESN-001", serviceable())
	appendHistory(t, s, id, testutil.NewHistory(id).Install("ER-BAT", 1).Events())
	// A later install with no destination must not win.
	_, err := s.AppendEvent(context.Background(), eventlog.Record{AssetID: id, Type: "INSTALL", OccurredAt: testutil.BaseTime.AddDate(0, 0, 1), Slot: fleet.IntPtr(2)})
	require.NoError(t, err)

	var dropped []int64
	opts := testOptions("run-1")
	opts.ReaderOptions = []eventlog.ReaderOption{
		eventlog.WithMalformedHandler(func(_ context.Context, rec eventlog.Record, _ error) {
			dropped = append(dropped, rec.ID)
		}),
	}

	report, err := New(s, opts).Reconcile(context.Background(), []fleet.AssetID{id})
	require.NoError(t, err)
	assert.Equal(t, 1, report.CorrectedCount)
	assert.Len(t, dropped, 1)
	assert.Equal(t, installed(1, 1), readProjection(t, s, id))
}

func TestReconcileAll(t *testing.T) {
	s := newTestStore(t)
	fleetFixture(t, s)

	for _, serial := range []string{"ESN-001", "ESN-002"} {
		id := addAsset(t, s, serial, serviceable())
		appendHistory(t, s, id, testutil.NewHistory(id).Install("ER-BBB", 1).Events())
	}

	report, err := New(s, testOptions("run-1")).ReconcileAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Examined)
	assert.Equal(t, 2, report.CorrectedCount)
}

func TestReconcile_RecordsMetrics(t *testing.T) {
	s := newTestStore(t)
	fleetFixture(t, s)

	id := addAsset(t, s, "ESN-001", serviceable())
	appendHistory(t, s, id, testutil.NewHistory(id).Install("ZZ-999", 1).Events())

	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	rec, err := metrics.New(provider)
	require.NoError(t, err)

	opts := testOptions("run-1")
	opts.Metrics = rec
	_, err = New(s, opts).Reconcile(context.Background(), []fleet.AssetID{id})
	require.NoError(t, err)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	totals := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					totals[m.Name] += dp.Value
				}
			}
		}
	}
	assert.Equal(t, int64(1), totals[metrics.AssetsExamined])
	assert.Equal(t, int64(1), totals[metrics.Anomalies])
	assert.Equal(t, int64(1), totals[metrics.AssetsCorrected])
}

func TestReconcile_DriftResolvedByConcurrentWriterIsNotCounted(t *testing.T) {
	s := newTestStore(t)
	fleetFixture(t, s)

	id := addAsset(t, s, "ESN-001", serviceable())
	appendHistory(t, s, id, testutil.NewHistory(id).Install("ER-BAT", 1).Events())

	fs := newFaultyStore(s)
	fs.fixers[id] = true

	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	rec, err := metrics.New(provider)
	require.NoError(t, err)

	opts := testOptions("run-1")
	opts.Metrics = rec
	report, err := New(fs, opts).Reconcile(context.Background(), []fleet.AssetID{id})
	require.NoError(t, err)
	assert.Equal(t, 0, report.Drifted)
	assert.Equal(t, 0, report.CorrectedCount)
	assert.Empty(t, report.Errors)
	assert.Equal(t, installed(1, 1), readProjection(t, s, id))

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	totals := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					totals[m.Name] += dp.Value
				}
			}
		}
	}
	assert.Equal(t, int64(1), totals[metrics.AssetsExamined])
	assert.Equal(t, int64(1), totals[metrics.Conflicts])
	assert.Zero(t, totals[metrics.AssetsDrifted])
	assert.Zero(t, totals[metrics.AssetsCorrected])
}
