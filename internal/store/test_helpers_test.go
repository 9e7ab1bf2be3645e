package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/fleetrecon/internal/eventlog"
	"github.com/roach88/fleetrecon/internal/fleet"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// createTestStore creates a new store in a temp dir for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, WithClock(func() time.Time { return testNow }))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func mustContainer(t *testing.T, s *Store, ref string) fleet.ContainerID {
	t.Helper()
	id, err := s.InsertContainer(context.Background(), fleet.Container{Ref: ref})
	if err != nil {
		t.Fatalf("InsertContainer(%q) failed: %v", ref, err)
	}
	return id
}

func mustAsset(t *testing.T, s *Store, serial string, p fleet.Projection) fleet.AssetID {
	t.Helper()
	id, err := s.InsertAsset(context.Background(), fleet.Asset{SerialNo: serial, Projection: p})
	if err != nil {
		t.Fatalf("InsertAsset(%q) failed: %v", serial, err)
	}
	return id
}

func mustEvent(t *testing.T, s *Store, rec eventlog.Record) int64 {
	t.Helper()
	id, err := s.AppendEvent(context.Background(), rec)
	if err != nil {
		t.Fatalf("AppendEvent() failed: %v", err)
	}
	return id
}

func strPtr(s string) *string { return &s }
