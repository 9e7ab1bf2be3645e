package fleet

import (
	"fmt"
	"strconv"
	"strings"
)

// Projection is the denormalized current state cached on an asset row.
//
// ContainerID and Slot are set together and only while the asset is
// installed. The one tolerated exception is an install whose destination
// could not be resolved: status INSTALLED, slot set, container nil.
type Projection struct {
	Status       AssetStatus  `json:"status"`
	ContainerID  *ContainerID `json:"container_id"`
	Slot         *int         `json:"slot"`
	ConditionTag string       `json:"condition_tag"`
}

// TargetState is the state an asset's history says it should be in.
type TargetState struct {
	Status      AssetStatus
	ContainerID *ContainerID
	Slot        *int

	// ConditionTag is compared and written only when KeepCondition is false.
	// An install leaves the condition tag as it is.
	ConditionTag  string
	KeepCondition bool

	// Unresolved holds the destination ref of an install that did not
	// resolve against the registry snapshot.
	Unresolved string
}

// Apply returns the projection that results from writing t over current.
func (t TargetState) Apply(current Projection) Projection {
	next := Projection{
		Status:       t.Status,
		ContainerID:  cloneContainer(t.ContainerID),
		Slot:         cloneInt(t.Slot),
		ConditionTag: t.ConditionTag,
	}
	if t.KeepCondition {
		next.ConditionTag = current.ConditionTag
	}
	return next
}

// Field names used in corrections and the audit trail.
const (
	FieldStatus    = "status"
	FieldContainer = "container"
	FieldSlot      = "slot"
	FieldCondition = "condition_tag"
)

// FieldChange records the old and new value of one projection field.
type FieldChange struct {
	Field string `json:"field"`
	Old   string `json:"old"`
	New   string `json:"new"`
}

// Correction is the set of field changes that brings an asset's projection
// back in line with its history. The four fields are always written together.
type Correction struct {
	AssetID AssetID       `json:"asset_id"`
	Changes []FieldChange `json:"changes"`
	Before  Projection    `json:"before"`
	After   Projection    `json:"after"`
}

// String renders the correction as a single human-readable line.
func (c *Correction) String() string {
	parts := make([]string, 0, len(c.Changes))
	for _, ch := range c.Changes {
		parts = append(parts, fmt.Sprintf("%s %s -> %s", ch.Field, ch.Old, ch.New))
	}
	return fmt.Sprintf("asset %d: %s", c.AssetID, strings.Join(parts, ", "))
}

// FormatContainer renders a nullable container id, "-" when unset.
func FormatContainer(id *ContainerID) string {
	if id == nil {
		return "-"
	}
	return strconv.FormatInt(int64(*id), 10)
}

// FormatSlot renders a nullable slot, "-" when unset.
func FormatSlot(slot *int) string {
	if slot == nil {
		return "-"
	}
	return strconv.Itoa(*slot)
}

// FormatText renders a free-form value, "-" when empty.
func FormatText(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// ContainerPtr returns a pointer to id.
func ContainerPtr(id ContainerID) *ContainerID {
	return &id
}

// IntPtr returns a pointer to n.
func IntPtr(n int) *int {
	return &n
}

func cloneContainer(id *ContainerID) *ContainerID {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}

func cloneInt(n *int) *int {
	if n == nil {
		return nil
	}
	v := *n
	return &v
}
