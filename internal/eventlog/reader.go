// Package eventlog reads an asset's history and turns it into ordered,
// typed events.
package eventlog

import (
	"context"
	"fmt"
	"slices"

	"github.com/roach88/fleetrecon/internal/fleet"
	"github.com/roach88/fleetrecon/internal/logging"
)

// Source returns the raw event rows of one asset. A nil types slice means
// every type.
type Source interface {
	ReadEventRecords(ctx context.Context, assetID fleet.AssetID, types []fleet.EventType) ([]Record, error)
}

// MalformedHandler is told about every row that failed to decode.
type MalformedHandler func(ctx context.Context, rec Record, err error)

// Reader loads and orders event history.
type Reader struct {
	src         Source
	onMalformed MalformedHandler
}

// ReaderOption configures a Reader.
type ReaderOption func(*Reader)

// WithMalformedHandler replaces the default WARN log for malformed rows.
func WithMalformedHandler(h MalformedHandler) ReaderOption {
	return func(r *Reader) {
		if h != nil {
			r.onMalformed = h
		}
	}
}

// NewReader creates a Reader over src.
func NewReader(src Source, opts ...ReaderOption) *Reader {
	r := &Reader{src: src, onMalformed: logMalformed}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// LoadPlacementEvents returns the INSTALL and REMOVE events of an asset in
// (OccurredAt, Seq) order. Malformed rows are reported and dropped. An asset
// without placement history yields an empty slice.
func (r *Reader) LoadPlacementEvents(ctx context.Context, assetID fleet.AssetID) ([]fleet.Event, error) {
	recs, err := r.src.ReadEventRecords(ctx, assetID, fleet.PlacementEventTypes)
	if err != nil {
		return nil, fmt.Errorf("load placement events for asset %d: %w", assetID, err)
	}
	return r.decodeAll(ctx, recs, true), nil
}

// LoadHistory returns every event of an asset, informational ones included,
// in (OccurredAt, Seq) order.
func (r *Reader) LoadHistory(ctx context.Context, assetID fleet.AssetID) ([]fleet.Event, error) {
	recs, err := r.src.ReadEventRecords(ctx, assetID, nil)
	if err != nil {
		return nil, fmt.Errorf("load history for asset %d: %w", assetID, err)
	}
	return r.decodeAll(ctx, recs, false), nil
}

func (r *Reader) decodeAll(ctx context.Context, recs []Record, placementOnly bool) []fleet.Event {
	events := make([]fleet.Event, 0, len(recs))
	for _, rec := range recs {
		ev, err := Decode(rec)
		if err != nil {
			r.onMalformed(ctx, rec, err)
			continue
		}
		if placementOnly && !ev.Type.IsPlacement() {
			continue
		}
		events = append(events, ev)
	}
	SortEvents(events)
	return events
}

// SortEvents orders events by timestamp, then Seq. The sort is stable.
func SortEvents(events []fleet.Event) {
	slices.SortStableFunc(events, func(a, b fleet.Event) int {
		if c := a.OccurredAt.Compare(b.OccurredAt); c != 0 {
			return c
		}
		switch {
		case a.Seq < b.Seq:
			return -1
		case a.Seq > b.Seq:
			return 1
		}
		return 0
	})
}

func logMalformed(ctx context.Context, rec Record, err error) {
	logging.FromContext(ctx).Warn("skipping malformed event",
		"asset_id", rec.AssetID,
		"event_id", rec.ID,
		"type", rec.Type,
		"error", err)
}
