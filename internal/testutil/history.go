package testutil

import (
	"time"

	"github.com/roach88/fleetrecon/internal/fleet"
)

// History builds an asset's event log for tests.
//
//	events := testutil.NewHistory(7).
//		Install("ER-BAT", 2).
//		Info(fleet.EventFlight).
//		Remove("US").
//		Events()
type History struct {
	asset  fleet.AssetID
	clock  *Timeline
	events []fleet.Event
	hold   bool
}

// NewHistory starts an empty history for asset at BaseTime.
func NewHistory(asset fleet.AssetID) *History {
	return &History{asset: asset, clock: NewTimeline(BaseTime, time.Hour)}
}

// Tied makes the next appended event share the previous event's timestamp.
func (h *History) Tied() *History {
	h.hold = true
	return h
}

// Install appends an INSTALL event.
func (h *History) Install(ref string, slot int) *History {
	at, seq := h.tick()
	h.events = append(h.events, fleet.NewInstall(h.asset, at, seq, ref, slot))
	return h
}

// Remove appends a REMOVE event.
func (h *History) Remove(condition string) *History {
	at, seq := h.tick()
	h.events = append(h.events, fleet.NewRemove(h.asset, at, seq, condition))
	return h
}

// Info appends an informational event of type t.
func (h *History) Info(t fleet.EventType) *History {
	at, seq := h.tick()
	h.events = append(h.events, fleet.NewInfo(h.asset, t, at, seq, string(t)))
	return h
}

// Events returns a copy of the built events in insertion order. Event IDs
// equal their seq.
func (h *History) Events() []fleet.Event {
	out := make([]fleet.Event, len(h.events))
	copy(out, h.events)
	for i := range out {
		out[i].ID = out[i].Seq
	}
	return out
}

func (h *History) tick() (time.Time, int64) {
	if h.hold {
		h.hold = false
		return h.clock.Hold()
	}
	return h.clock.Next()
}
