package main

import (
	"context"
	"fmt"
	"os"

	"github.com/roach88/fleetrecon/internal/cli"
	"github.com/roach88/fleetrecon/internal/logging"
)

func main() {
	// Minimal logger until a command loads its configuration.
	logging.ConfigureRuntime()

	if err := cli.NewRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
