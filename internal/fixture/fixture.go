// Package fixture loads seed data (containers, assets and their history)
// from YAML and writes it into a store.
package fixture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/fleetrecon/internal/eventlog"
	"github.com/roach88/fleetrecon/internal/fleet"
)

// Fixture is the YAML seed document.
type Fixture struct {
	Containers []Container `yaml:"containers"`
	Assets     []Asset     `yaml:"assets"`
}

// Container seeds one aircraft.
type Container struct {
	ID          int64   `yaml:"id,omitempty"`
	Ref         string  `yaml:"ref"`
	Model       string  `yaml:"model,omitempty"`
	TotalTime   float64 `yaml:"total_time,omitempty"`
	TotalCycles int64   `yaml:"total_cycles,omitempty"`
}

// Asset seeds one engine. Status, Container, Slot and Condition form the
// initial cached projection, which may disagree with Events on purpose.
type Asset struct {
	ID        int64   `yaml:"id,omitempty"`
	Serial    string  `yaml:"serial"`
	Status    string  `yaml:"status,omitempty"`
	Container string  `yaml:"container,omitempty"`
	Slot      *int    `yaml:"slot,omitempty"`
	Condition string  `yaml:"condition,omitempty"`
	Events    []Event `yaml:"events,omitempty"`
}

// Event seeds one history row. Fields that do not apply to the type are
// stored as given, so malformed rows can be seeded too.
type Event struct {
	Type      string    `yaml:"type"`
	At        time.Time `yaml:"at"`
	To        *string   `yaml:"to,omitempty"`
	Slot      *int      `yaml:"slot,omitempty"`
	Condition *string   `yaml:"condition,omitempty"`
	Note      string    `yaml:"note,omitempty"`
}

// Writer is the part of a store the loader writes through.
type Writer interface {
	InsertContainer(ctx context.Context, c fleet.Container) (fleet.ContainerID, error)
	InsertAsset(ctx context.Context, a fleet.Asset) (fleet.AssetID, error)
	AppendEvent(ctx context.Context, rec eventlog.Record) (int64, error)
}

// Summary reports what Apply wrote.
type Summary struct {
	Containers int                      `json:"containers"`
	Assets     int                      `json:"assets"`
	Events     int                      `json:"events"`
	AssetIDs   map[string]fleet.AssetID `json:"asset_ids"`
}

// Load reads and parses a fixture file.
func Load(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixture file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a fixture document. Unknown fields are rejected.
func Parse(data []byte) (*Fixture, error) {
	var f Fixture
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("invalid fixture: %w", err)
	}
	return &f, nil
}

// Validate checks references inside the document. It does not check event
// payloads.
func (f *Fixture) Validate() error {
	refs := make(map[string]bool, len(f.Containers))
	for i, c := range f.Containers {
		if strings.TrimSpace(c.Ref) == "" {
			return fmt.Errorf("containers[%d]: ref is required", i)
		}
		if refs[c.Ref] {
			return fmt.Errorf("containers[%d]: duplicate ref %q", i, c.Ref)
		}
		refs[c.Ref] = true
	}

	serials := make(map[string]bool, len(f.Assets))
	for i, a := range f.Assets {
		if a.Serial == "" {
			return fmt.Errorf("assets[%d]: serial is required", i)
		}
		if serials[a.Serial] {
			return fmt.Errorf("assets[%d]: duplicate serial %q", i, a.Serial)
		}
		serials[a.Serial] = true

		if a.Status != "" && !fleet.AssetStatus(a.Status).Valid() {
			return fmt.Errorf("assets[%d]: unknown status %q", i, a.Status)
		}
		if a.Container != "" && !refs[a.Container] {
			return fmt.Errorf("assets[%d]: container %q is not declared", i, a.Container)
		}
		for j, ev := range a.Events {
			if ev.Type == "" {
				return fmt.Errorf("assets[%d].events[%d]: type is required", i, j)
			}
		}
	}
	return nil
}

// Apply writes the fixture through w: containers first, then each asset
// followed by its events in document order. Event seq therefore follows
// document order too.
func (f *Fixture) Apply(ctx context.Context, w Writer) (Summary, error) {
	sum := Summary{AssetIDs: make(map[string]fleet.AssetID, len(f.Assets))}

	containers := make(map[string]fleet.ContainerID, len(f.Containers))
	for _, c := range f.Containers {
		id, err := w.InsertContainer(ctx, fleet.Container{
			ID:          fleet.ContainerID(c.ID),
			Ref:         c.Ref,
			Model:       c.Model,
			TotalTime:   c.TotalTime,
			TotalCycles: c.TotalCycles,
		})
		if err != nil {
			return sum, fmt.Errorf("seed container %s: %w", c.Ref, err)
		}
		containers[c.Ref] = id
		sum.Containers++
	}

	for _, a := range f.Assets {
		p := fleet.Projection{
			Status:       fleet.AssetStatus(a.Status),
			Slot:         a.Slot,
			ConditionTag: a.Condition,
		}
		if a.Container != "" {
			p.ContainerID = fleet.ContainerPtr(containers[a.Container])
		}
		id, err := w.InsertAsset(ctx, fleet.Asset{ID: fleet.AssetID(a.ID), SerialNo: a.Serial, Projection: p})
		if err != nil {
			return sum, fmt.Errorf("seed asset %s: %w", a.Serial, err)
		}
		sum.AssetIDs[a.Serial] = id
		sum.Assets++

		for j, ev := range a.Events {
			rec := eventlog.Record{
				AssetID:            id,
				Type:               strings.ToUpper(ev.Type),
				OccurredAt:         ev.At.UTC(),
				DestinationRef:     ev.To,
				Slot:               ev.Slot,
				ConditionAtRemoval: ev.Condition,
				Note:               ev.Note,
			}
			if _, err := w.AppendEvent(ctx, rec); err != nil {
				return sum, fmt.Errorf("seed asset %s event %d: %w", a.Serial, j, err)
			}
			sum.Events++
		}
	}
	return sum, nil
}
