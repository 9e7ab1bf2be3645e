package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/fleetrecon/internal/eventlog"
	"github.com/roach88/fleetrecon/internal/fleet"
	"github.com/roach88/fleetrecon/internal/store"
)

// InsertContainer adds a container and returns its id. A zero c.ID lets the
// sequence assign one.
func (s *Store) InsertContainer(ctx context.Context, c fleet.Container) (fleet.ContainerID, error) {
	var (
		id  int64
		err error
	)
	if c.ID == 0 {
		err = s.db.QueryRowContext(ctx,
			"INSERT INTO containers (ref, model, total_time, total_cycles) VALUES ($1, $2, $3, $4) RETURNING id",
			c.Ref, c.Model, c.TotalTime, c.TotalCycles).Scan(&id)
	} else {
		err = s.db.QueryRowContext(ctx,
			"INSERT INTO containers (id, ref, model, total_time, total_cycles) VALUES ($1, $2, $3, $4, $5) RETURNING id",
			int64(c.ID), c.Ref, c.Model, c.TotalTime, c.TotalCycles).Scan(&id)
	}
	if err != nil {
		return 0, fmt.Errorf("insert container: %w", err)
	}
	return fleet.ContainerID(id), nil
}

// InsertAsset adds an asset with an initial projection and returns its id.
func (s *Store) InsertAsset(ctx context.Context, a fleet.Asset) (fleet.AssetID, error) {
	status := a.Projection.Status
	if status == "" {
		status = fleet.StatusServiceable
	}
	args := []any{
		a.SerialNo,
		string(status),
		store.NullContainer(a.Projection.ContainerID),
		store.NullSlot(a.Projection.Slot),
		a.Projection.ConditionTag,
	}

	query := "INSERT INTO assets (serial_no, status, container_id, slot, condition_tag) VALUES ($1, $2, $3, $4, $5) RETURNING id"
	if a.ID != 0 {
		query = "INSERT INTO assets (serial_no, status, container_id, slot, condition_tag, id) VALUES ($1, $2, $3, $4, $5, $6) RETURNING id"
		args = append(args, int64(a.ID))
	}

	var id int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		return 0, fmt.Errorf("insert asset: %w", err)
	}
	return fleet.AssetID(id), nil
}

// AppendEvent appends a history row and returns its id, which is also the
// event's seq.
func (s *Store) AppendEvent(ctx context.Context, rec eventlog.Record) (int64, error) {
	var dest, cond sql.NullString
	if rec.DestinationRef != nil {
		dest = sql.NullString{String: *rec.DestinationRef, Valid: true}
	}
	if rec.ConditionAtRemoval != nil {
		cond = sql.NullString{String: *rec.ConditionAtRemoval, Valid: true}
	}

	var id int64
	err := s.db.QueryRowContext(ctx,
		"INSERT INTO events (asset_id, type, occurred_at, destination_ref, slot, condition_at_removal, note) VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id",
		int64(rec.AssetID), rec.Type, rec.OccurredAt.UTC(), dest, store.NullSlot(rec.Slot), cond, rec.Note,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("append event: %w", err)
	}
	return id, nil
}

// ApplyCorrection locks the asset row, checks its version, writes c.After
// and records the audit row, all in one transaction.
func (s *Store) ApplyCorrection(ctx context.Context, runID string, assetID fleet.AssetID, expectedVersion int64, c *fleet.Correction) error {
	before, err := store.MarshalProjection(c.Before)
	if err != nil {
		return fmt.Errorf("apply correction: %w", err)
	}
	after, err := store.MarshalProjection(c.After)
	if err != nil {
		return fmt.Errorf("apply correction: %w", err)
	}
	changes, err := store.MarshalChanges(c.Changes)
	if err != nil {
		return fmt.Errorf("apply correction: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("apply correction: begin tx: %w", err)
	}
	defer tx.Rollback()

	var version int64
	err = tx.QueryRowContext(ctx, "SELECT version FROM assets WHERE id = $1 FOR UPDATE", int64(assetID)).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("apply correction to asset %d: %w", assetID, store.ErrAssetNotFound)
	}
	if err != nil {
		return fmt.Errorf("apply correction: lock asset: %w", err)
	}
	if version != expectedVersion {
		return fmt.Errorf("apply correction to asset %d at version %d (found %d): %w",
			assetID, expectedVersion, version, store.ErrVersionConflict)
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE assets SET status = $1, container_id = $2, slot = $3, condition_tag = $4, version = version + 1 WHERE id = $5",
		string(c.After.Status),
		store.NullContainer(c.After.ContainerID),
		store.NullSlot(c.After.Slot),
		c.After.ConditionTag,
		int64(assetID),
	)
	if err != nil {
		return fmt.Errorf("apply correction: update asset: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO corrections (run_id, asset_id, before_state, after_state, changes, applied_at) VALUES ($1, $2, $3, $4, $5, $6)",
		runID, int64(assetID), before, after, changes, s.now().UTC())
	if err != nil {
		return fmt.Errorf("apply correction: write audit: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("apply correction: commit: %w", err)
	}
	return nil
}

// RecordRun stores a run summary. Recording the same run id twice keeps the
// first row.
func (s *Store) RecordRun(ctx context.Context, run store.RunRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reconcile_runs
		(id, started_at, finished_at, dry_run, examined, skipped, drifted, corrected, anomalies, errors)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING
	`,
		run.ID,
		run.StartedAt.UTC(),
		run.FinishedAt.UTC(),
		run.DryRun,
		run.Examined,
		run.Skipped,
		run.Drifted,
		run.Corrected,
		run.Anomalies,
		run.Errors,
	)
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}
