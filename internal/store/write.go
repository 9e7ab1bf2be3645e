package store

import (
	"context"
	"fmt"

	"github.com/roach88/fleetrecon/internal/eventlog"
	"github.com/roach88/fleetrecon/internal/fleet"
)

// InsertContainer adds a container and returns its id. A zero c.ID lets the
// database assign one.
func (s *Store) InsertContainer(ctx context.Context, c fleet.Container) (fleet.ContainerID, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO containers (id, ref, model, total_time, total_cycles)
		VALUES (NULLIF(?, 0), ?, ?, ?, ?)
	`, int64(c.ID), c.Ref, c.Model, c.TotalTime, c.TotalCycles)
	if err != nil {
		return 0, fmt.Errorf("insert container: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert container: last insert id: %w", err)
	}
	return fleet.ContainerID(id), nil
}

// InsertAsset adds an asset with an initial projection and returns its id.
// The version starts at 0. A zero a.ID lets the database assign one.
func (s *Store) InsertAsset(ctx context.Context, a fleet.Asset) (fleet.AssetID, error) {
	status := a.Projection.Status
	if status == "" {
		status = fleet.StatusServiceable
	}
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO assets (id, serial_no, status, container_id, slot, condition_tag, version)
		VALUES (NULLIF(?, 0), ?, ?, ?, ?, ?, 0)
	`,
		int64(a.ID),
		a.SerialNo,
		string(status),
		NullContainer(a.Projection.ContainerID),
		NullSlot(a.Projection.Slot),
		a.Projection.ConditionTag,
	)
	if err != nil {
		return 0, fmt.Errorf("insert asset: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert asset: last insert id: %w", err)
	}
	return fleet.AssetID(id), nil
}

// AppendEvent appends a history row and returns its id, which is also the
// event's seq. rec.ID and rec.Seq are ignored.
func (s *Store) AppendEvent(ctx context.Context, rec eventlog.Record) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO events (asset_id, type, occurred_at, destination_ref, slot, condition_at_removal, note)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		int64(rec.AssetID),
		rec.Type,
		FormatTime(rec.OccurredAt),
		nullString(rec.DestinationRef),
		NullSlot(rec.Slot),
		nullString(rec.ConditionAtRemoval),
		rec.Note,
	)
	if err != nil {
		return 0, fmt.Errorf("append event: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("append event: last insert id: %w", err)
	}
	return id, nil
}

// ApplyCorrection writes c.After over the asset's projection and records the
// audit row, in one transaction.
//
// The update only applies while the asset is still at expectedVersion. If it
// moved on, nothing is written and the error wraps ErrVersionConflict. A
// missing asset wraps ErrAssetNotFound.
func (s *Store) ApplyCorrection(ctx context.Context, runID string, assetID fleet.AssetID, expectedVersion int64, c *fleet.Correction) error {
	before, err := MarshalProjection(c.Before)
	if err != nil {
		return fmt.Errorf("apply correction: %w", err)
	}
	after, err := MarshalProjection(c.After)
	if err != nil {
		return fmt.Errorf("apply correction: %w", err)
	}
	changes, err := MarshalChanges(c.Changes)
	if err != nil {
		return fmt.Errorf("apply correction: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("apply correction: begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE assets
		SET status = ?, container_id = ?, slot = ?, condition_tag = ?, version = version + 1
		WHERE id = ? AND version = ?
	`,
		string(c.After.Status),
		NullContainer(c.After.ContainerID),
		NullSlot(c.After.Slot),
		c.After.ConditionTag,
		int64(assetID),
		expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("apply correction: update asset: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("apply correction: rows affected: %w", err)
	}
	if rowsAffected == 0 {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM assets WHERE id = ?`, int64(assetID)).Scan(&exists)
		if err != nil {
			return fmt.Errorf("apply correction: check asset: %w", err)
		}
		if exists == 0 {
			return fmt.Errorf("apply correction to asset %d: %w", assetID, ErrAssetNotFound)
		}
		return fmt.Errorf("apply correction to asset %d at version %d: %w", assetID, expectedVersion, ErrVersionConflict)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO corrections (run_id, asset_id, before_state, after_state, changes, applied_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, runID, int64(assetID), before, after, changes, FormatTime(s.now()))
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
func (s *Store) RecordRun(ctx context.Context, run RunRecord) error {
	dryRun := 0
	if run.DryRun {
		dryRun = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reconcile_runs
		(id, started_at, finished_at, dry_run, examined, skipped, drifted, corrected, anomalies, errors)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		run.ID,
		FormatTime(run.StartedAt),
		FormatTime(run.FinishedAt),
		dryRun,
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
