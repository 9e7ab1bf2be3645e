// Package projector computes the placement an asset's history implies.
//
// Project is a pure function of its inputs: the ordered placement events and
// a registry snapshot. It never looks at the persisted projection.
package projector

import "github.com/roach88/fleetrecon/internal/fleet"

// Resolver maps a container ref to its id.
type Resolver interface {
	Resolve(ref string) (fleet.ContainerID, bool)
}

// Project returns the target state of an asset from its ordered history.
//
// The last placement event wins. Events that are not INSTALL or REMOVE are
// ignored. ok is false when there is no placement event at all, in which case
// the asset has nothing to reconcile.
func Project(events []fleet.Event, reg Resolver) (fleet.TargetState, bool) {
	last, found := lastPlacement(events)
	if !found {
		return fleet.TargetState{}, false
	}

	if p, ok := last.Install(); ok {
		target := fleet.TargetState{
			Status:        fleet.StatusInstalled,
			Slot:          fleet.IntPtr(p.Slot),
			KeepCondition: true,
		}
		if id, ok := resolve(reg, p.DestinationRef); ok {
			target.ContainerID = fleet.ContainerPtr(id)
		} else {
			target.Unresolved = p.DestinationRef
		}
		return target, true
	}

	p, _ := last.Remove()
	cond := p.ConditionAtRemoval
	if cond == "" {
		cond = fleet.DefaultRemovalCondition
	}
	return fleet.TargetState{
		Status:       fleet.StatusRemoved,
		ConditionTag: cond,
	}, true
}

func lastPlacement(events []fleet.Event) (fleet.Event, bool) {
	for i := len(events) - 1; i >= 0; i-- {
		ev := events[i]
		if _, ok := ev.Install(); ok {
			return ev, true
		}
		if _, ok := ev.Remove(); ok {
			return ev, true
		}
	}
	return fleet.Event{}, false
}

func resolve(reg Resolver, ref string) (fleet.ContainerID, bool) {
	if reg == nil {
		return 0, false
	}
	return reg.Resolve(ref)
}
