// Package drift compares a cached projection with the state its history
// implies.
package drift

import "github.com/roach88/fleetrecon/internal/fleet"

// Diff returns the correction that brings current in line with target, or
// nil when nothing differs. The condition tag is compared only when the
// target specifies one. Two unset fields are equal.
//
// The returned correction has no AssetID; callers fill it in.
func Diff(current fleet.Projection, target fleet.TargetState) *fleet.Correction {
	var changes []fleet.FieldChange

	if current.Status != target.Status {
		changes = append(changes, fleet.FieldChange{
			Field: fleet.FieldStatus,
			Old:   fleet.FormatText(string(current.Status)),
			New:   fleet.FormatText(string(target.Status)),
		})
	}
	if !sameContainer(current.ContainerID, target.ContainerID) {
		changes = append(changes, fleet.FieldChange{
			Field: fleet.FieldContainer,
			Old:   fleet.FormatContainer(current.ContainerID),
			New:   fleet.FormatContainer(target.ContainerID),
		})
	}
	if !sameSlot(current.Slot, target.Slot) {
		changes = append(changes, fleet.FieldChange{
			Field: fleet.FieldSlot,
			Old:   fleet.FormatSlot(current.Slot),
			New:   fleet.FormatSlot(target.Slot),
		})
	}
	if !target.KeepCondition && current.ConditionTag != target.ConditionTag {
		changes = append(changes, fleet.FieldChange{
			Field: fleet.FieldCondition,
			Old:   fleet.FormatText(current.ConditionTag),
			New:   fleet.FormatText(target.ConditionTag),
		})
	}

	if len(changes) == 0 {
		return nil
	}
	return &fleet.Correction{
		Changes: changes,
		Before:  current,
		After:   target.Apply(current),
	}
}

func sameContainer(a, b *fleet.ContainerID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func sameSlot(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
