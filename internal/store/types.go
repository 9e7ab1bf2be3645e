package store

import (
	"time"

	"github.com/roach88/fleetrecon/internal/fleet"
)

// CorrectionRecord is one row of the audit trail.
type CorrectionRecord struct {
	ID        int64               `json:"id"`
	RunID     string              `json:"run_id"`
	AssetID   fleet.AssetID       `json:"asset_id"`
	Before    fleet.Projection    `json:"before"`
	After     fleet.Projection    `json:"after"`
	Changes   []fleet.FieldChange `json:"changes"`
	AppliedAt time.Time           `json:"applied_at"`
}

// RunRecord is the persisted summary of a reconciliation run.
type RunRecord struct {
	ID         string    `json:"id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	DryRun     bool      `json:"dry_run"`
	Examined   int       `json:"examined"`
	Skipped    int       `json:"skipped"`
	Drifted    int       `json:"drifted"`
	Corrected  int       `json:"corrected"`
	Anomalies  int       `json:"anomalies"`
	Errors     int       `json:"errors"`
}

// NewRunRecord summarizes a finished report.
func NewRunRecord(report fleet.RunReport, startedAt, finishedAt time.Time) RunRecord {
	return RunRecord{
		ID:         report.RunID,
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
		DryRun:     report.DryRun,
		Examined:   report.Examined,
		Skipped:    report.Skipped,
		Drifted:    report.Drifted,
		Corrected:  report.CorrectedCount,
		Anomalies:  report.Anomalies,
		Errors:     len(report.Errors),
	}
}
