package cli

import (
	"context"
	"fmt"
	"strings"

	migrate "github.com/rubenv/sql-migrate"
	"github.com/spf13/cobra"
)

const mysqlWarning = `
MySQL does not roll back DDL, so a failure part-way through a migration
leaves the schema half-applied and must be repaired by hand.`

// MigrateOptions holds flags for the migrate subcommands.
type MigrateOptions struct {
	*RootOptions
	Dir    string // overrides the configured migrations directory
	Limit  int    // maximum migrations to apply, 0 for all
	DryRun bool
}

// MigrateResult reports applied or planned migrations.
type MigrateResult struct {
	Direction string        `json:"direction"`
	Applied   int           `json:"applied"`
	Planned   []PlannedStep `json:"planned,omitempty"`
}

// PlannedStep is one migration a dry run would apply.
type PlannedStep struct {
	ID      string   `json:"id"`
	Queries []string `json:"queries"`
}

func (r MigrateResult) String() string {
	if r.Planned == nil {
		return fmt.Sprintf("Applied %d %s migrations", r.Applied, r.Direction)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d %s migrations planned", len(r.Planned), r.Direction)
	for i, p := range r.Planned {
		fmt.Fprintf(&b, "\n#%d: %s", i, p.ID)
		for _, q := range p.Queries {
			fmt.Fprintf(&b, "\n  %s", strings.TrimSpace(q))
		}
	}
	return b.String()
}

// NewMigrateCommand creates the migrate command and its up and down
// children.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back SQL schema migrations",
		Long: `Apply or roll back SQL migration files with rubenv/sql-migrate.

Migration files live in --dir (default: the configured migrations_dir) and
applied migrations are recorded in the configured migrations_table.
` + mysqlWarning,
	}
	cmd.AddCommand(newMigrateDirectionCommand(rootOpts, migrate.Up, 0))
	cmd.AddCommand(newMigrateDirectionCommand(rootOpts, migrate.Down, 1))
	return cmd
}

func newMigrateDirectionCommand(rootOpts *RootOptions, direction migrate.MigrationDirection, defaultLimit int) *cobra.Command {
	opts := &MigrateOptions{RootOptions: rootOpts}

	use, short := "up", "Apply new migrations"
	if direction == migrate.Down {
		use, short = "down", "Roll back applied migrations"
	}

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Long: short + `.

Exit codes:
  0 - Migrations applied (or planned with --dry-run)
  1 - A migration failed
  2 - Configuration or connection error

Examples:
  tablekit migrate ` + use + ` --dir ./migrations
  tablekit migrate ` + use + ` --limit 1 --dry-run`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()
			return runMigrate(ctx, opts, direction, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Dir, "dir", "", "directory containing migration files")
	cmd.Flags().IntVar(&opts.Limit, "limit", defaultLimit, "maximum number of migrations to apply, 0 for unlimited")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "print the planned migrations without applying them")
	return cmd
}

func runMigrate(ctx context.Context, opts *MigrateOptions, direction migrate.MigrationDirection, cmd *cobra.Command) error {
	cfg := opts.Config
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore(st)

	if err := st.Ping(ctx); err != nil {
		return WrapExitError(ExitCommandError, "failed to connect to database", err)
	}

	dir := opts.Dir
	if dir == "" {
		dir = cfg.MigrationsDir
	}
	migrate.SetTable(cfg.MigrationsTable)
	source := migrate.FileMigrationSource{Dir: dir}
	db := st.DB().DB

	result := MigrateResult{Direction: directionName(direction)}
	if opts.DryRun {
		planned, _, err := migrate.PlanMigration(db, cfg.Driver, source, direction, opts.Limit)
		if err != nil {
			return WrapExitError(ExitFailure, "failed to plan migrations", err)
		}
		result.Planned = make([]PlannedStep, len(planned))
		for i, m := range planned {
			result.Planned[i] = PlannedStep{ID: m.Id, Queries: m.Queries}
		}
		return opts.formatter(cmd).Success(result)
	}

	applied, err := migrate.ExecMax(db, cfg.Driver, source, direction, opts.Limit)
	if err != nil {
		return WrapExitError(ExitFailure, fmt.Sprintf("migration failed after applying %d migrations", applied), err)
	}
	result.Applied = applied
	return opts.formatter(cmd).Success(result)
}

func directionName(d migrate.MigrationDirection) string {
	if d == migrate.Down {
		return "down"
	}
	return "up"
}
