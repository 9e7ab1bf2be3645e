package harness

import "github.com/roach88/fleetrecon/internal/fleet"

// AssetState is an asset's persisted projection after a scenario, with the
// container shown by ref.
type AssetState struct {
	Serial      string            `json:"serial"`
	Status      fleet.AssetStatus `json:"status"`
	Container   *string           `json:"container"`
	Slot        *int              `json:"slot"`
	Condition   string            `json:"condition"`
	Version     int64             `json:"version"`
	Corrections int               `json:"corrections"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every expectation matched.
	Pass bool `json:"pass"`

	// Reports holds one run report per pass, in order.
	Reports []fleet.RunReport `json:"reports"`

	// Assets is the final state of every asset, ordered by id.
	Assets []AssetState `json:"assets"`

	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:    true,
		Reports: []fleet.RunReport{},
		Assets:  []AssetState{},
		Errors:  []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Asset returns the final state of the asset with the given serial.
func (r *Result) Asset(serial string) (AssetState, bool) {
	for _, a := range r.Assets {
		if a.Serial == serial {
			return a, true
		}
	}
	return AssetState{}, false
}
