package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/fleetrecon/internal/fleet"
)

// timeLayout is fixed-width so that TEXT ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// FormatTime renders t in UTC using the stored layout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// ParseTime parses a stored timestamp. RFC 3339 input is accepted too.
func ParseTime(s string) (time.Time, error) {
	if t, err := time.Parse(timeLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t.UTC(), nil
}

// MarshalProjection converts a projection to JSON TEXT for the audit trail.
func MarshalProjection(p fleet.Projection) (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshal projection: %w", err)
	}
	return string(data), nil
}

// UnmarshalProjection parses audit JSON back into a projection.
func UnmarshalProjection(data string) (fleet.Projection, error) {
	var p fleet.Projection
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return fleet.Projection{}, fmt.Errorf("unmarshal projection: %w", err)
	}
	return p, nil
}

// MarshalChanges converts field changes to JSON TEXT. A nil slice encodes as
// an empty array.
func MarshalChanges(changes []fleet.FieldChange) (string, error) {
	if changes == nil {
		changes = []fleet.FieldChange{}
	}
	data, err := json.Marshal(changes)
	if err != nil {
		return "", fmt.Errorf("marshal changes: %w", err)
	}
	return string(data), nil
}

// UnmarshalChanges parses audit JSON back into field changes.
func UnmarshalChanges(data string) ([]fleet.FieldChange, error) {
	changes := []fleet.FieldChange{}
	if data == "" {
		return changes, nil
	}
	if err := json.Unmarshal([]byte(data), &changes); err != nil {
		return nil, fmt.Errorf("unmarshal changes: %w", err)
	}
	return changes, nil
}

// NullContainer converts a nullable container id for a SQL argument.
func NullContainer(id *fleet.ContainerID) sql.NullInt64 {
	if id == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*id), Valid: true}
}

// NullSlot converts a nullable slot for a SQL argument.
func NullSlot(slot *int) sql.NullInt64 {
	if slot == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*slot), Valid: true}
}

// ContainerFromNull is the inverse of NullContainer.
func ContainerFromNull(v sql.NullInt64) *fleet.ContainerID {
	if !v.Valid {
		return nil
	}
	return fleet.ContainerPtr(fleet.ContainerID(v.Int64))
}

// SlotFromNull is the inverse of NullSlot.
func SlotFromNull(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	return fleet.IntPtr(int(v.Int64))
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
