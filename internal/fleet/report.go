package fleet

// AssetError is a per-asset failure recorded in a run report.
type AssetError struct {
	AssetID AssetID `json:"asset_id"`
	Message string  `json:"message"`
}

// RunReport summarizes one reconciliation run.
//
// Changes is ordered by the position of the asset in the run's input, not by
// completion order, so two runs over the same data print the same report.
type RunReport struct {
	RunID          string       `json:"run_id"`
	DryRun         bool         `json:"dry_run"`
	Examined       int          `json:"examined"`
	Skipped        int          `json:"skipped"`
	Drifted        int          `json:"drifted"`
	CorrectedCount int          `json:"corrected_count"`
	Anomalies      int          `json:"anomalies"`
	Changes        []string     `json:"changes"`
	Errors         []AssetError `json:"errors"`
}

// NewRunReport returns an empty report with non-nil slices.
func NewRunReport(runID string, dryRun bool) RunReport {
	return RunReport{
		RunID:   runID,
		DryRun:  dryRun,
		Changes: []string{},
		Errors:  []AssetError{},
	}
}

// HasErrors reports whether any asset failed.
func (r RunReport) HasErrors() bool {
	return len(r.Errors) > 0
}
