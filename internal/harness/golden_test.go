package harness

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fleetrecon/internal/fleet"
)

func TestScenarios_Golden(t *testing.T) {
	paths, err := filepath.Glob(filepath.Join("testdata", "scenarios", "*.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		name := strings.TrimSuffix(filepath.Base(path), ".yaml")
		t.Run(name, func(t *testing.T) {
			s, err := LoadScenario(path)
			require.NoError(t, err)
			require.Equal(t, name, s.Name, "scenario name must match its file name")
			require.NoError(t, RunWithGolden(t, s))
		})
	}
}

func TestMarshalSnapshot_KeepsArrows(t *testing.T) {
	report := fleet.NewRunReport("run-0001", false)
	report.Changes = append(report.Changes, "asset 1: status SV -> REMOVED")

	data, err := MarshalSnapshot(Snapshot{
		Scenario: "arrows",
		Reports:  []fleet.RunReport{report},
		Assets:   []AssetState{},
	})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"asset 1: status SV -> REMOVED"`)
	assert.True(t, strings.HasSuffix(string(data), "}\n"))
}
