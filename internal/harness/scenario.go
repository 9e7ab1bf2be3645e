package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/fleetrecon/internal/fixture"
	"github.com/roach88/fleetrecon/internal/fleet"
)

// Scenario is one reconciliation test case.
type Scenario struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`

	// Passes is how many times the reconciler runs. Defaults to 1.
	Passes int `yaml:"passes,omitempty"`

	Options Options         `yaml:"options,omitempty"`
	Fixture fixture.Fixture `yaml:"fixture"`
	Expect  []Expectation   `yaml:"expect"`
}

// Options maps onto reconcile.Options.
type Options struct {
	DryRun  bool `yaml:"dry_run,omitempty"`
	Workers int  `yaml:"workers,omitempty"`

	// Assets limits the run to these serials, in this order. Empty means
	// every asset.
	Assets []string `yaml:"assets,omitempty"`
}

// Expectation is the projection an asset must end up with.
type Expectation struct {
	Serial    string  `yaml:"serial"`
	Status    string  `yaml:"status"`
	Container string  `yaml:"container,omitempty"`
	Slot      *int    `yaml:"slot,omitempty"`
	Condition *string `yaml:"condition,omitempty"`
}

// LoadScenario reads and parses a scenario YAML file.
// Unknown fields are rejected.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes and validates a scenario document.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Passes < 0 {
		return fmt.Errorf("passes must be non-negative")
	}
	if s.Options.Workers < 0 {
		return fmt.Errorf("options.workers must be non-negative")
	}
	if len(s.Fixture.Assets) == 0 {
		return fmt.Errorf("fixture must seed at least one asset")
	}
	if err := s.Fixture.Validate(); err != nil {
		return fmt.Errorf("fixture: %w", err)
	}

	serials := make(map[string]bool, len(s.Fixture.Assets))
	for _, a := range s.Fixture.Assets {
		serials[a.Serial] = true
	}
	for i, serial := range s.Options.Assets {
		if !serials[serial] {
			return fmt.Errorf("options.assets[%d]: unknown serial %q", i, serial)
		}
	}

	if len(s.Expect) == 0 {
		return fmt.Errorf("expect list is required and must be non-empty")
	}
	for i, e := range s.Expect {
		if !serials[e.Serial] {
			return fmt.Errorf("expect[%d]: unknown serial %q", i, e.Serial)
		}
		if !fleet.AssetStatus(e.Status).Valid() {
			return fmt.Errorf("expect[%d]: unknown status %q", i, e.Status)
		}
	}
	return nil
}

func (s *Scenario) passes() int {
	if s.Passes == 0 {
		return 1
	}
	return s.Passes
}
