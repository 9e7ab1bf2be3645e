package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/fleetrecon/internal/config"
	"github.com/roach88/fleetrecon/internal/logging"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string

	// Driver and Database override the [database] section when set.
	Driver   string
	Database string

	config config.Config
	logger *slog.Logger
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the fleetrecon CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "fleetrecon",
		Short: "Engine placement reconciliation",
		Long: `fleetrecon recomputes where every engine should be from its install and
removal history, and corrects the cached placement where it drifted.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			if err := opts.load(cmd); err != nil {
				return opts.output(cmd).Fail(ErrCodeConfig, WrapExitError(ExitCommandError, "invalid configuration", err))
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to TOML config file")
	cmd.PersistentFlags().StringVar(&opts.Driver, "driver", "", "database driver (sqlite3|postgres), overrides config")
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "database DSN or SQLite path, overrides config")

	cmd.AddCommand(NewReconcileCommand(opts))
	cmd.AddCommand(NewCheckCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts))
	cmd.AddCommand(NewSeedCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

// load resolves configuration (defaults, file, env, flags) and builds the
// command logger.
func (o *RootOptions) load(cmd *cobra.Command) error {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return err
	}
	if o.Driver != "" {
		cfg.Database.Driver = o.Driver
	}
	if o.Database != "" {
		cfg.Database.DSN = o.Database
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}
	o.config = cfg

	lc := cfg.Logging()
	lc.Writer = cmd.ErrOrStderr()
	logging.ApplyEnv(&lc)
	if o.Verbose {
		lc.Level = slog.LevelDebug
	}
	o.logger = logging.New(lc)
	return nil
}

func (o *RootOptions) output(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// context returns the command context carrying the command logger.
func (o *RootOptions) context(cmd *cobra.Command) context.Context {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	logger := o.logger
	if logger == nil {
		logger = logging.FromContext(ctx)
	}
	return logging.WithLogger(ctx, logger)
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
