package harness

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/fleetrecon/internal/fleet"
)

// Snapshot is what a golden file records for a scenario.
type Snapshot struct {
	Scenario string            `json:"scenario"`
	Reports  []fleet.RunReport `json:"reports"`
	Assets   []AssetState      `json:"assets"`
}

// MarshalSnapshot renders a snapshot as indented JSON with a trailing
// newline. HTML escaping is off so change lines keep their arrows.
func MarshalSnapshot(s Snapshot) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// RunWithGolden executes a scenario and compares its snapshot against
// testdata/golden/{scenario.Name}.golden.
//
// Expectation failures are returned as an error. A golden mismatch fails the
// test through goldie.
func RunWithGolden(t *testing.T, scenario *Scenario) error {
	t.Helper()

	result, err := Run(context.Background(), scenario)
	if err != nil {
		return err
	}
	if !result.Pass {
		return fmt.Errorf("scenario %s failed: %v", scenario.Name, result.Errors)
	}

	data, err := MarshalSnapshot(Snapshot{
		Scenario: scenario.Name,
		Reports:  result.Reports,
		Assets:   result.Assets,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, data)
	return nil
}
