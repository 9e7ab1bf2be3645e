package harness

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_DriftCorrection(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/drift_correction.yaml")
	require.NoError(t, err)

	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)

	require.Len(t, result.Reports, 2)
	first, second := result.Reports[0], result.Reports[1]
	assert.Equal(t, "run-0001", first.RunID)
	assert.Equal(t, 3, first.CorrectedCount)
	assert.Equal(t, 1, first.Skipped)

	assert.Equal(t, "run-0002", second.RunID)
	assert.Zero(t, second.Drifted)
	assert.Empty(t, second.Changes)
}

func TestRun_IsDeterministic(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/drift_correction.yaml")
	require.NoError(t, err)

	a, err := Run(context.Background(), s)
	require.NoError(t, err)
	b, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestRun_SelectedAssetsOnly(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: selected
description: only the listed asset is touched
options:
  assets: [B]
fixture:
  containers:
    - ref: ER-BAT
  assets:
    - serial: A
      status: SV
      events:
        - type: INSTALL
          at: 2025-03-01T08:00:00Z
          to: ER-BAT
          slot: 1
    - serial: B
      status: SV
      events:
        - type: INSTALL
          at: 2025-03-01T08:00:00Z
          to: ER-BAT
          slot: 2
expect:
  - serial: A
    status: SV
  - serial: B
    status: INSTALLED
    container: ER-BAT
    slot: 2
`))
	require.NoError(t, err)

	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	require.Len(t, result.Reports, 1)
	assert.Equal(t, 1, result.Reports[0].Examined)
}

func TestRun_ReportsMismatches(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: wrong
description: expectations that cannot hold
fixture:
  containers:
    - ref: ER-BAT
  assets:
    - serial: A
      status: SV
      condition: SV
      events:
        - type: REMOVE
          at: 2025-03-01T08:00:00Z
          condition: US
expect:
  - serial: A
    status: INSTALLED
    container: ER-BAT
    slot: 1
    condition: SV
`))
	require.NoError(t, err)

	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	assert.Equal(t, []string{
		"A: status = REMOVED, want INSTALLED",
		`A: container = "", want "ER-BAT"`,
		"A: slot = -, want 1",
		`A: condition = "US", want "SV"`,
	}, result.Errors)
}

func TestRun_MalformedEventsAreSkipped(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: malformed
description: an install without a slot is ignored
fixture:
  containers:
    - ref: ER-BAT
  assets:
    - serial: A
      status: SV
      events:
        - type: INSTALL
          at: 2025-03-01T08:00:00Z
          to: ER-BAT
          slot: 1
        - type: INSTALL
          at: 2025-03-02T08:00:00Z
          to: ER-BAT
expect:
  - serial: A
    status: INSTALLED
    container: ER-BAT
    slot: 1
`))
	require.NoError(t, err)

	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}
