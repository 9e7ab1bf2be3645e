package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/fleetrecon/internal/config"
	"github.com/roach88/fleetrecon/internal/logging"
)

const demoFixture = "../fixture/testdata/fleet.yaml"

// execute runs the root command with args and returns stdout, stderr and the
// command error.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	for _, key := range []string{
		config.EnvDBDriver, config.EnvDBDSN, config.EnvWorkers,
		logging.EnvLogLevel, logging.EnvLogFormat,
	} {
		t.Setenv(key, "")
	}

	cmd := NewRootCommand()
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

// seededDB returns the path of a fresh SQLite database loaded with the demo
// fixture.
func seededDB(t *testing.T) string {
	t.Helper()
	db := filepath.Join(t.TempDir(), "fleet.db")
	_, _, err := execute(t, "seed", demoFixture, "--db", db)
	require.NoError(t, err)
	return db
}

// decodeResponse parses a JSON envelope, decoding data into out when non-nil.
func decodeResponse(t *testing.T, raw string, out interface{}) CLIResponse {
	t.Helper()
	var env struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
		Error  *CLIError       `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(raw), &env), "output: %s", raw)
	if out != nil && len(env.Data) > 0 {
		require.NoError(t, json.Unmarshal(env.Data, out))
	}
	return CLIResponse{Status: env.Status, Error: env.Error}
}
