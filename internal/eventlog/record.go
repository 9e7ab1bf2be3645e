package eventlog

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/fleetrecon/internal/fleet"
)

// ErrMalformed is wrapped by every decode failure.
var ErrMalformed = errors.New("malformed event")

// Record is an event row as stored, before decoding. Payload columns are
// nullable because only some event types populate them.
type Record struct {
	ID                 int64
	AssetID            fleet.AssetID
	Type               string
	OccurredAt         time.Time
	Seq                int64
	DestinationRef     *string
	Slot               *int
	ConditionAtRemoval *string
	Note               string
}

// Decode converts a stored row into a typed event.
//
// An INSTALL needs a non-blank destination ref and a slot. A REMOVE may omit
// its condition. Every row needs a known type and a timestamp.
func Decode(rec Record) (fleet.Event, error) {
	typ, err := fleet.ParseEventType(rec.Type)
	if err != nil {
		return fleet.Event{}, fmt.Errorf("event %d: %w: %v", rec.ID, ErrMalformed, err)
	}
	if rec.OccurredAt.IsZero() {
		return fleet.Event{}, fmt.Errorf("event %d: %w: missing timestamp", rec.ID, ErrMalformed)
	}

	var ev fleet.Event
	switch typ {
	case fleet.EventInstall:
		if rec.DestinationRef == nil || strings.TrimSpace(*rec.DestinationRef) == "" {
			return fleet.Event{}, fmt.Errorf("event %d: %w: install without destination", rec.ID, ErrMalformed)
		}
		if rec.Slot == nil {
			return fleet.Event{}, fmt.Errorf("event %d: %w: install without slot", rec.ID, ErrMalformed)
		}
		ev = fleet.NewInstall(rec.AssetID, rec.OccurredAt, rec.Seq, *rec.DestinationRef, *rec.Slot)
	case fleet.EventRemove:
		cond := ""
		if rec.ConditionAtRemoval != nil {
			cond = strings.TrimSpace(*rec.ConditionAtRemoval)
		}
		ev = fleet.NewRemove(rec.AssetID, rec.OccurredAt, rec.Seq, cond)
	default:
		ev = fleet.NewInfo(rec.AssetID, typ, rec.OccurredAt, rec.Seq, rec.Note)
	}
	ev.ID = rec.ID
	return ev, nil
}

// Encode converts a typed event back into a storable row.
func Encode(ev fleet.Event) Record {
	rec := Record{
		ID:         ev.ID,
		AssetID:    ev.AssetID,
		Type:       string(ev.Type),
		OccurredAt: ev.OccurredAt,
		Seq:        ev.Seq,
	}
	switch p := ev.Payload.(type) {
	case fleet.InstallPayload:
		ref, slot := p.DestinationRef, p.Slot
		rec.DestinationRef = &ref
		rec.Slot = &slot
	case fleet.RemovePayload:
		if p.ConditionAtRemoval != "" {
			cond := p.ConditionAtRemoval
			rec.ConditionAtRemoval = &cond
		}
	case fleet.InfoPayload:
		rec.Note = p.Note
	}
	return rec
}
