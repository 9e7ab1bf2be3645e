// Package harness runs reconciliation scenarios end to end.
//
// A scenario seeds a fresh in-memory database from an inline fixture, runs
// the reconciler one or more times with fixed run ids and a fixed clock,
// then checks the final projections against the scenario's expectations.
//
// # Scenario Format
//
//	name: scenario_name
//	description: "What this scenario validates"
//	passes: 2
//	options:
//	  dry_run: false
//	  workers: 2
//	fixture:
//	  containers:
//	    - ref: ER-BAT
//	  assets:
//	    - serial: PCE-ED0412
//	      status: SV
//	      events:
//	        - type: INSTALL
//	          at: 2025-03-01T08:00:00Z
//	          to: ER-BAT
//	          slot: 1
//	expect:
//	  - serial: PCE-ED0412
//	    status: INSTALLED
//	    container: ER-BAT
//	    slot: 1
//
// # Golden Files
//
// RunWithGolden compares the run reports and final asset states against
// testdata/golden/{name}.golden. Regenerate with:
//
//	go test ./internal/harness -update
package harness
