package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/fleetrecon/internal/eventlog"
	"github.com/roach88/fleetrecon/internal/fleet"
)

// ListContainers returns every container ordered by id.
// Returns an empty slice (not nil) when there are none.
func (s *Store) ListContainers(ctx context.Context) ([]fleet.Container, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ref, model, total_time, total_cycles
		FROM containers
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query containers: %w", err)
	}
	defer rows.Close()

	containers := []fleet.Container{}
	for rows.Next() {
		var c fleet.Container
		if err := rows.Scan(&c.ID, &c.Ref, &c.Model, &c.TotalTime, &c.TotalCycles); err != nil {
			return nil, fmt.Errorf("scan container: %w", err)
		}
		containers = append(containers, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate containers: %w", err)
	}
	return containers, nil
}

// ListAssetIDs returns every asset id in ascending order.
func (s *Store) ListAssetIDs(ctx context.Context) ([]fleet.AssetID, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM assets ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query asset ids: %w", err)
	}
	defer rows.Close()

	ids := []fleet.AssetID{}
	for rows.Next() {
		var id fleet.AssetID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan asset id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate asset ids: %w", err)
	}
	return ids, nil
}

// ReadAsset returns an asset with its cached projection and version.
// Returns an error wrapping ErrAssetNotFound if there is no such row.
func (s *Store) ReadAsset(ctx context.Context, id fleet.AssetID) (fleet.Asset, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, serial_no, status, container_id, slot, condition_tag, version
		FROM assets
		WHERE id = ?
	`, int64(id))

	var (
		a         fleet.Asset
		status    string
		container sql.NullInt64
		slot      sql.NullInt64
	)
	err := row.Scan(&a.ID, &a.SerialNo, &status, &container, &slot, &a.Projection.ConditionTag, &a.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return fleet.Asset{}, fmt.Errorf("read asset %d: %w", id, ErrAssetNotFound)
	}
	if err != nil {
		return fleet.Asset{}, fmt.Errorf("read asset %d: %w", id, err)
	}
	a.Projection.Status = fleet.AssetStatus(status)
	a.Projection.ContainerID = ContainerFromNull(container)
	a.Projection.Slot = SlotFromNull(slot)
	return a, nil
}

// ReadEventRecords returns the raw history rows of an asset, restricted to
// types when types is non-empty. Rows come back ordered by
// (occurred_at, id). A timestamp that does not parse is returned as the zero
// time so the decoder can reject the row.
func (s *Store) ReadEventRecords(ctx context.Context, assetID fleet.AssetID, types []fleet.EventType) ([]eventlog.Record, error) {
	query := `
		SELECT id, asset_id, type, occurred_at, destination_ref, slot, condition_at_removal, note
		FROM events
		WHERE asset_id = ?`
	args := []any{int64(assetID)}
	if len(types) > 0 {
		marks := make([]string, len(types))
		for i, t := range types {
			marks[i] = "?"
			args = append(args, string(t))
		}
		query += ` AND type IN (` + strings.Join(marks, ", ") + `)`
	}
	query += `
		ORDER BY occurred_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	records := []eventlog.Record{}
	for rows.Next() {
		var (
			rec       eventlog.Record
			at        string
			dest      sql.NullString
			slot      sql.NullInt64
			condition sql.NullString
		)
		if err := rows.Scan(&rec.ID, &rec.AssetID, &rec.Type, &at, &dest, &slot, &condition, &rec.Note); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		rec.Seq = rec.ID
		if t, err := ParseTime(at); err == nil {
			rec.OccurredAt = t
		}
		if dest.Valid {
			rec.DestinationRef = &dest.String
		}
		rec.Slot = SlotFromNull(slot)
		if condition.Valid {
			rec.ConditionAtRemoval = &condition.String
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return records, nil
}

// ReadCorrections returns the audit trail of an asset, oldest first.
func (s *Store) ReadCorrections(ctx context.Context, assetID fleet.AssetID) ([]CorrectionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, asset_id, before_state, after_state, changes, applied_at
		FROM corrections
		WHERE asset_id = ?
		ORDER BY id ASC
	`, int64(assetID))
	if err != nil {
		return nil, fmt.Errorf("query corrections: %w", err)
	}
	defer rows.Close()

	records := []CorrectionRecord{}
	for rows.Next() {
		var (
			rec                          CorrectionRecord
			before, after, changes, when string
		)
		if err := rows.Scan(&rec.ID, &rec.RunID, &rec.AssetID, &before, &after, &changes, &when); err != nil {
			return nil, fmt.Errorf("scan correction: %w", err)
		}
		if rec.Before, err = UnmarshalProjection(before); err != nil {
			return nil, err
		}
		if rec.After, err = UnmarshalProjection(after); err != nil {
			return nil, err
		}
		if rec.Changes, err = UnmarshalChanges(changes); err != nil {
			return nil, err
		}
		if rec.AppliedAt, err = ParseTime(when); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate corrections: %w", err)
	}
	return records, nil
}

// ReadRun returns the summary of a recorded run.
// Returns sql.ErrNoRows (wrapped) if not found.
func (s *Store) ReadRun(ctx context.Context, runID string) (RunRecord, error) {
	var (
		rec               RunRecord
		started, finished string
		dryRun            int
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, started_at, finished_at, dry_run, examined, skipped, drifted, corrected, anomalies, errors
		FROM reconcile_runs
		WHERE id = ?
	`, runID).Scan(&rec.ID, &started, &finished, &dryRun,
		&rec.Examined, &rec.Skipped, &rec.Drifted, &rec.Corrected, &rec.Anomalies, &rec.Errors)
	if err != nil {
		return RunRecord{}, fmt.Errorf("read run %s: %w", runID, err)
	}
	rec.DryRun = dryRun != 0
	if rec.StartedAt, err = ParseTime(started); err != nil {
		return RunRecord{}, err
	}
	if rec.FinishedAt, err = ParseTime(finished); err != nil {
		return RunRecord{}, err
	}
	return rec, nil
}
