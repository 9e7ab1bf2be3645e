package fleet

import "fmt"

// AssetID identifies an asset (engine) row.
type AssetID int64

// ContainerID identifies a container (aircraft) row.
type ContainerID int64

// AssetStatus is the placement status of an asset.
type AssetStatus string

const (
	StatusServiceable   AssetStatus = "SV"
	StatusUnserviceable AssetStatus = "US"
	StatusInstalled     AssetStatus = "INSTALLED"
	StatusRemoved       AssetStatus = "REMOVED"
)

// DefaultRemovalCondition is the condition tag used when a REMOVE event does
// not record a condition at removal.
const DefaultRemovalCondition = string(StatusServiceable)

// ValidStatuses lists every status the engine reads or writes.
var ValidStatuses = []AssetStatus{
	StatusServiceable,
	StatusUnserviceable,
	StatusInstalled,
	StatusRemoved,
}

// Valid reports whether s is a known status.
func (s AssetStatus) Valid() bool {
	for _, v := range ValidStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// EventType tags a history event.
type EventType string

const (
	EventInstall    EventType = "INSTALL"
	EventRemove     EventType = "REMOVE"
	EventShip       EventType = "SHIP"
	EventRepair     EventType = "REPAIR"
	EventInspect    EventType = "INSPECT"
	EventPartAction EventType = "PART_ACTION"
	EventFlight     EventType = "FLIGHT"
)

// PlacementEventTypes are the only event types that carry placement
// information. Everything else is informational.
var PlacementEventTypes = []EventType{EventInstall, EventRemove}

// ParseEventType converts a stored type column into an EventType.
func ParseEventType(raw string) (EventType, error) {
	switch t := EventType(raw); t {
	case EventInstall, EventRemove, EventShip, EventRepair, EventInspect, EventPartAction, EventFlight:
		return t, nil
	default:
		return "", fmt.Errorf("unknown event type %q", raw)
	}
}

// IsPlacement reports whether events of this type can move an asset.
func (t EventType) IsPlacement() bool {
	return t == EventInstall || t == EventRemove
}

// Container is an aircraft an asset can be installed into.
type Container struct {
	ID          ContainerID `json:"id"`
	Ref         string      `json:"ref"` // public symbolic identifier (tail number)
	Model       string      `json:"model,omitempty"`
	TotalTime   float64     `json:"total_time"`
	TotalCycles int64       `json:"total_cycles"`
}

// Asset is an engine row: identity plus its cached projection.
type Asset struct {
	ID         AssetID    `json:"id"`
	SerialNo   string     `json:"serial_no"`
	Projection Projection `json:"projection"`
	Version    int64      `json:"version"` // optimistic concurrency token
}
