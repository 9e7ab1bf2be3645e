package reconcile

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/fleetrecon/internal/eventlog"
	"github.com/roach88/fleetrecon/internal/fleet"
	"github.com/roach88/fleetrecon/internal/logging"
	"github.com/roach88/fleetrecon/internal/store"
)

var fixedNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "fleet.db"), store.WithClock(func() time.Time { return fixedNow }))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testOptions(runIDs ...string) Options {
	return Options{
		Workers:            4,
		MaxConflictRetries: 2,
		RunIDs:             NewFixedGenerator(runIDs...),
		Logger:             logging.Discard(),
		Now:                func() time.Time { return fixedNow },
	}
}

// fleetFixture seeds two aircraft, ER-BAT (id 1) and ER-BBB (id 2).
func fleetFixture(t *testing.T, s *store.Store) {
	t.Helper()
	ctx := context.Background()
	for _, ref := range []string{"ER-BAT", "ER-BBB"} {
		_, err := s.InsertContainer(ctx, fleet.Container{Ref: ref})
		require.NoError(t, err)
	}
}

func addAsset(t *testing.T, s *store.Store, serial string, p fleet.Projection) fleet.AssetID {
	t.Helper()
	id, err := s.InsertAsset(context.Background(), fleet.Asset{SerialNo: serial, Projection: p})
	require.NoError(t, err)
	return id
}

func appendHistory(t *testing.T, s *store.Store, asset fleet.AssetID, events []fleet.Event) {
	t.Helper()
	for _, ev := range events {
		rec := eventlog.Encode(ev)
		rec.AssetID = asset
		_, err := s.AppendEvent(context.Background(), rec)
		require.NoError(t, err)
	}
}

func readProjection(t *testing.T, s *store.Store, id fleet.AssetID) fleet.Projection {
	t.Helper()
	a, err := s.ReadAsset(context.Background(), id)
	require.NoError(t, err)
	return a.Projection
}

func serviceable() fleet.Projection {
	return fleet.Projection{Status: fleet.StatusServiceable, ConditionTag: "SV"}
}

func installed(container fleet.ContainerID, slot int) fleet.Projection {
	return fleet.Projection{
		Status:       fleet.StatusInstalled,
		ContainerID:  fleet.ContainerPtr(container),
		Slot:         fleet.IntPtr(slot),
		ConditionTag: "SV",
	}
}

// faultyStore wraps a real store and injects failures per asset.
type faultyStore struct {
	*store.Store

	mu         sync.Mutex
	listErr    error
	readErr    map[fleet.AssetID]error
	eventErr   map[fleet.AssetID]error
	applyErr   map[fleet.AssetID]error
	racers     map[fleet.AssetID]int // concurrent writes to simulate before apply
	fixers     map[fleet.AssetID]bool // a concurrent writer lands the same correction first
	applyCalls map[fleet.AssetID]int

	// beforeRead runs ahead of every ReadAsset; a non-nil result is returned
	// in place of the read.
	beforeRead func(id fleet.AssetID) error
}

func newFaultyStore(s *store.Store) *faultyStore {
	return &faultyStore{
		Store:      s,
		readErr:    map[fleet.AssetID]error{},
		eventErr:   map[fleet.AssetID]error{},
		applyErr:   map[fleet.AssetID]error{},
		racers:     map[fleet.AssetID]int{},
		fixers:     map[fleet.AssetID]bool{},
		applyCalls: map[fleet.AssetID]int{},
	}
}

func (f *faultyStore) ListContainers(ctx context.Context) ([]fleet.Container, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.Store.ListContainers(ctx)
}

func (f *faultyStore) ReadAsset(ctx context.Context, id fleet.AssetID) (fleet.Asset, error) {
	f.mu.Lock()
	err := f.readErr[id]
	hook := f.beforeRead
	f.mu.Unlock()
	if err == nil && hook != nil {
		err = hook(id)
	}
	if err != nil {
		return fleet.Asset{}, err
	}
	return f.Store.ReadAsset(ctx, id)
}

func (f *faultyStore) ReadEventRecords(ctx context.Context, id fleet.AssetID, types []fleet.EventType) ([]eventlog.Record, error) {
	f.mu.Lock()
	err := f.eventErr[id]
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return f.Store.ReadEventRecords(ctx, id, types)
}

func (f *faultyStore) ApplyCorrection(ctx context.Context, runID string, id fleet.AssetID, version int64, c *fleet.Correction) error {
	f.mu.Lock()
	f.applyCalls[id]++
	err := f.applyErr[id]
	race := f.racers[id] != 0
	if f.racers[id] > 0 {
		f.racers[id]--
	}
	fix := f.fixers[id]
	delete(f.fixers, id)
	f.mu.Unlock()

	if err != nil {
		return err
	}
	if fix {
		if err := f.Store.ApplyCorrection(ctx, "concurrent", id, version, c); err != nil {
			return err
		}
	}
	if race {
		if _, err := f.Store.DB().ExecContext(ctx, `UPDATE assets SET version = version + 1 WHERE id = ?`, int64(id)); err != nil {
			return err
		}
	}
	return f.Store.ApplyCorrection(ctx, runID, id, version, c)
}

func (f *faultyStore) calls(id fleet.AssetID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.applyCalls[id]
}
