package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/fleetrecon/internal/fixture"
)

// NewSeedCommand creates the seed command.
func NewSeedCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed <fixture.yaml>",
		Short: "Load containers, assets and history from a YAML fixture",
		Long: `Insert the containers, assets and events described in a YAML fixture.
Asset projections are written as given, so a fixture can seed drift on purpose.

Example:
  fleetrecon seed ./fixtures/demo.yaml --db ./fleet.db`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runSeed(opts *RootOptions, path string, cmd *cobra.Command) error {
	out := opts.output(cmd)
	ctx := opts.context(cmd)

	f, err := fixture.Load(path)
	if err != nil {
		return out.Fail(ErrCodeFixture, WrapExitError(ExitCommandError, "failed to load fixture", err))
	}

	backend, err := OpenBackend(ctx, opts.config.Database)
	if err != nil {
		return out.Fail(ErrCodeDatabase, WrapExitError(ExitCommandError, "failed to open database", err))
	}
	defer closeBackend(ctx, backend)

	out.VerboseLog("seeding %s into %s", path, opts.config.Database.DSN)
	sum, err := f.Apply(ctx, backend)
	if err != nil {
		return out.Fail(ErrCodeFixture, WrapExitError(ExitCommandError, "failed to seed fixture", err))
	}

	return out.Success(SeedView{sum})
}

// SeedView renders a seeding summary.
type SeedView struct {
	fixture.Summary
}

func (v SeedView) String() string {
	return fmt.Sprintf("Seeded %d containers, %d assets, %d events.", v.Containers, v.Assets, v.Events)
}
