package fleet

import (
	"fmt"
	"time"
)

// Payload is a sealed interface for the type-specific part of an event.
// Only InstallPayload, RemovePayload and InfoPayload implement it.
type Payload interface {
	payload()
}

// InstallPayload is carried by INSTALL events.
type InstallPayload struct {
	DestinationRef string `json:"destination_ref"`
	Slot           int    `json:"slot"`
}

func (InstallPayload) payload() {}

// RemovePayload is carried by REMOVE events.
// ConditionAtRemoval may be empty when the removal did not record one.
type RemovePayload struct {
	ConditionAtRemoval string `json:"condition_at_removal,omitempty"`
}

func (RemovePayload) payload() {}

// InfoPayload is carried by events that never affect placement
// (SHIP, REPAIR, INSPECT, PART_ACTION, FLIGHT).
type InfoPayload struct {
	Note string `json:"note,omitempty"`
}

func (InfoPayload) payload() {}

// Event is one entry of an asset's history log.
//
// Ordering is by OccurredAt, with Seq (assigned at insertion) as tie-break
// only. Construct events with NewInstall, NewRemove or NewInfo so the payload
// always matches the type.
type Event struct {
	ID         int64     `json:"id"`
	AssetID    AssetID   `json:"asset_id"`
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Seq        int64     `json:"seq"`
	Payload    Payload   `json:"payload"`
}

// NewInstall builds an INSTALL event.
func NewInstall(asset AssetID, at time.Time, seq int64, destinationRef string, slot int) Event {
	return Event{
		AssetID:    asset,
		Type:       EventInstall,
		OccurredAt: at,
		Seq:        seq,
		Payload:    InstallPayload{DestinationRef: destinationRef, Slot: slot},
	}
}

// NewRemove builds a REMOVE event.
func NewRemove(asset AssetID, at time.Time, seq int64, conditionAtRemoval string) Event {
	return Event{
		AssetID:    asset,
		Type:       EventRemove,
		OccurredAt: at,
		Seq:        seq,
		Payload:    RemovePayload{ConditionAtRemoval: conditionAtRemoval},
	}
}

// NewInfo builds an informational event. It panics if t is a placement type.
func NewInfo(asset AssetID, t EventType, at time.Time, seq int64, note string) Event {
	if t.IsPlacement() {
		panic(fmt.Sprintf("fleet: NewInfo called with placement type %s", t))
	}
	return Event{
		AssetID:    asset,
		Type:       t,
		OccurredAt: at,
		Seq:        seq,
		Payload:    InfoPayload{Note: note},
	}
}

// Install returns the install payload, if this is a well-formed INSTALL event.
func (e Event) Install() (InstallPayload, bool) {
	if e.Type != EventInstall {
		return InstallPayload{}, false
	}
	p, ok := e.Payload.(InstallPayload)
	return p, ok
}

// Remove returns the remove payload, if this is a well-formed REMOVE event.
func (e Event) Remove() (RemovePayload, bool) {
	if e.Type != EventRemove {
		return RemovePayload{}, false
	}
	p, ok := e.Payload.(RemovePayload)
	return p, ok
}

// Before reports whether e sorts before o: timestamp first, then Seq.
func (e Event) Before(o Event) bool {
	if !e.OccurredAt.Equal(o.OccurredAt) {
		return e.OccurredAt.Before(o.OccurredAt)
	}
	return e.Seq < o.Seq
}

// String renders the event for history listings.
func (e Event) String() string {
	ts := e.OccurredAt.UTC().Format(time.RFC3339)
	switch p := e.Payload.(type) {
	case InstallPayload:
		return fmt.Sprintf("%s #%d %s -> %s pos %d", ts, e.Seq, e.Type, p.DestinationRef, p.Slot)
	case RemovePayload:
		cond := p.ConditionAtRemoval
		if cond == "" {
			cond = "-"
		}
		return fmt.Sprintf("%s #%d %s condition %s", ts, e.Seq, e.Type, cond)
	default:
		return fmt.Sprintf("%s #%d %s", ts, e.Seq, e.Type)
	}
}
