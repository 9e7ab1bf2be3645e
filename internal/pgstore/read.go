package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/roach88/fleetrecon/internal/eventlog"
	"github.com/roach88/fleetrecon/internal/fleet"
	"github.com/roach88/fleetrecon/internal/store"
)

// ListContainers returns every container ordered by id.
func (s *Store) ListContainers(ctx context.Context) ([]fleet.Container, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, ref, model, total_time, total_cycles FROM containers ORDER BY id ASC")
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
	rows, err := s.db.QueryContext(ctx, "SELECT id FROM assets ORDER BY id ASC")
	if err != nil {
		return nil, fmt.Errorf("query asset ids: %w", err)
	}
	defer rows.Close()

	ids := []fleet.AssetID{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan asset id: %w", err)
		}
		ids = append(ids, fleet.AssetID(id))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate asset ids: %w", err)
	}
	return ids, nil
}

// ReadAsset returns an asset with its cached projection and version.
func (s *Store) ReadAsset(ctx context.Context, id fleet.AssetID) (fleet.Asset, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, serial_no, status, container_id, slot, condition_tag, version FROM assets WHERE id = $1",
		int64(id))

	var (
		a         fleet.Asset
		rawID     int64
		status    string
		container sql.NullInt64
		slot      sql.NullInt64
	)
	err := row.Scan(&rawID, &a.SerialNo, &status, &container, &slot, &a.Projection.ConditionTag, &a.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return fleet.Asset{}, fmt.Errorf("read asset %d: %w", id, store.ErrAssetNotFound)
	}
	if err != nil {
		return fleet.Asset{}, fmt.Errorf("read asset %d: %w", id, err)
	}
	a.ID = fleet.AssetID(rawID)
	a.Projection.Status = fleet.AssetStatus(status)
	a.Projection.ContainerID = store.ContainerFromNull(container)
	a.Projection.Slot = store.SlotFromNull(slot)
	return a, nil
}

// ReadEventRecords returns the raw history rows of an asset ordered by
// (occurred_at, id), restricted to types when types is non-empty.
func (s *Store) ReadEventRecords(ctx context.Context, assetID fleet.AssetID, types []fleet.EventType) ([]eventlog.Record, error) {
	query := "SELECT id, asset_id, type, occurred_at, destination_ref, slot, condition_at_removal, note FROM events WHERE asset_id = $1"
	args := []any{int64(assetID)}
	if len(types) > 0 {
		names := make([]string, len(types))
		for i, t := range types {
			names[i] = string(t)
		}
		query += " AND type = ANY($2)"
		args = append(args, pq.Array(names))
	}
	query += " ORDER BY occurred_at ASC, id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	records := []eventlog.Record{}
	for rows.Next() {
		var (
			rec       eventlog.Record
			asset     int64
			dest      sql.NullString
			slot      sql.NullInt64
			condition sql.NullString
		)
		if err := rows.Scan(&rec.ID, &asset, &rec.Type, &rec.OccurredAt, &dest, &slot, &condition, &rec.Note); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		rec.AssetID = fleet.AssetID(asset)
		rec.Seq = rec.ID
		rec.OccurredAt = rec.OccurredAt.UTC()
		if dest.Valid {
			rec.DestinationRef = &dest.String
		}
		rec.Slot = store.SlotFromNull(slot)
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
func (s *Store) ReadCorrections(ctx context.Context, assetID fleet.AssetID) ([]store.CorrectionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, run_id, asset_id, before_state, after_state, changes, applied_at FROM corrections WHERE asset_id = $1 ORDER BY id ASC",
		int64(assetID))
	if err != nil {
		return nil, fmt.Errorf("query corrections: %w", err)
	}
	defer rows.Close()

	records := []store.CorrectionRecord{}
	for rows.Next() {
		var (
			rec                    store.CorrectionRecord
			asset                  int64
			before, after, changes string
		)
		if err := rows.Scan(&rec.ID, &rec.RunID, &asset, &before, &after, &changes, &rec.AppliedAt); err != nil {
			return nil, fmt.Errorf("scan correction: %w", err)
		}
		rec.AssetID = fleet.AssetID(asset)
		if rec.Before, err = store.UnmarshalProjection(before); err != nil {
			return nil, err
		}
		if rec.After, err = store.UnmarshalProjection(after); err != nil {
			return nil, err
		}
		if rec.Changes, err = store.UnmarshalChanges(changes); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate corrections: %w", err)
	}
	return records, nil
}
