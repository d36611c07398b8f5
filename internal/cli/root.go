package cli

import (
	"fmt"
	"log/slog"
	"os"
	"slices"

	"github.com/spf13/cobra"
	flag "github.com/spf13/pflag"

	"github.com/roach88/tablekit/internal/config"
)

// Version is set at build time with -ldflags "-X ...cli.Version=v1.2.3".
var Version = "dev"

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Verbose    bool
	Format     string // "json" | "text"

	// Config is the resolved configuration, available once the root
	// command's pre-run has completed.
	Config config.Config

	flags config.Config
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the tablekit CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{flags: config.Default()}

	cmd := &cobra.Command{
		Use:   "tablekit",
		Short: "tablekit - table-oriented persistence",
		Long: `Operate the databases behind tablekit models.

Settings come from --config, a .env file, TABLEKIT_* environment
variables and flags, later sources winning.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			cfg, err := config.Load(opts.ConfigPath)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to load configuration", err)
			}
			applyFlags(&cfg, opts.flags, cmd.Flags())
			if err := cfg.Validate(); err != nil {
				return WrapExitError(ExitCommandError, "invalid configuration", err)
			}
			opts.Config = cfg
			configureLogging(cfg.LogLevel, opts.Verbose)
			return nil
		},
	}

	// Global flags
	pf := cmd.PersistentFlags()
	pf.StringVarP(&opts.ConfigPath, "config", "c", "", "path to a YAML config file")
	pf.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	pf.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	opts.flags.BindFlags(pf)

	cmd.AddCommand(NewPingCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewQueryCommand(opts))
	cmd.AddCommand(NewExecCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))
	cmd.AddCommand(NewVersionCommand(opts))

	return cmd
}

// applyFlags copies the flag values the user set explicitly over cfg, so
// flag defaults never mask the file or the environment.
func applyFlags(cfg *config.Config, flags config.Config, fs *flag.FlagSet) {
	if fs.Changed("driver") {
		cfg.Driver = flags.Driver
	}
	if fs.Changed("dsn") {
		cfg.DSN = flags.DSN
	}
	if fs.Changed("migrations-dir") {
		cfg.MigrationsDir = flags.MigrationsDir
	}
	if fs.Changed("migrations-table") {
		cfg.MigrationsTable = flags.MigrationsTable
	}
	if fs.Changed("max-open-conns") {
		cfg.MaxOpenConns = flags.MaxOpenConns
	}
}

// configureLogging installs a text handler on stderr. --verbose forces the
// debug level.
func configureLogging(level string, verbose bool) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	if verbose {
		lvl = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}

// formatter builds the output formatter for a command.
func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// NewVersionCommand creates the version command.
func NewVersionCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the tablekit version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			if f.Format == "json" {
				return f.Success(map[string]string{"version": Version})
			}
			return f.Success("tablekit " + Version)
		},
	}
}
