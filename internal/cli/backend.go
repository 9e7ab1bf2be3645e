package cli

import (
	"context"

	"github.com/roach88/fleetrecon/internal/config"
	"github.com/roach88/fleetrecon/internal/fixture"
	"github.com/roach88/fleetrecon/internal/fleet"
	"github.com/roach88/fleetrecon/internal/logging"
	"github.com/roach88/fleetrecon/internal/pgstore"
	"github.com/roach88/fleetrecon/internal/reconcile"
	"github.com/roach88/fleetrecon/internal/store"
)

// Backend is everything the commands need from a fleet database.
type Backend interface {
	reconcile.Store
	reconcile.RunRecorder
	fixture.Writer
	ReadCorrections(ctx context.Context, assetID fleet.AssetID) ([]store.CorrectionRecord, error)
	Close() error
}

var (
	_ Backend = (*store.Store)(nil)
	_ Backend = (*pgstore.Store)(nil)
)

// OpenBackend opens the database selected by db.Driver.
func OpenBackend(ctx context.Context, db config.DatabaseConfig) (Backend, error) {
	switch db.Driver {
	case config.DriverPostgres:
		st, err := pgstore.Open(ctx, db.DSN)
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		st, err := store.Open(db.DSN)
		if err != nil {
			return nil, err
		}
		return st, nil
	}
}

func closeBackend(ctx context.Context, b Backend) {
	if err := b.Close(); err != nil {
		logging.FromContext(ctx).Error("error closing database", "error", err)
	}
}
