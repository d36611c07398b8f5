package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/tablekit/internal/backend"
)

// NewQueryCommand creates the query command, the raw escape hatch for
// reads the filter model cannot express.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "query <statement> [args...]",
		Short: "Run a raw SELECT and print the rows",
		Long: `Run a raw statement and print the rows it returns.

Use ? placeholders; arguments are passed as strings.

Examples:
  tablekit query "SELECT id, name FROM orgs WHERE tag = ?" blue
  tablekit query "SELECT COUNT(*) AS n FROM users" --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()
			return runRaw(ctx, rootOpts, cmd, args, false)
		},
	}
}

// NewExecCommand creates the exec command for raw writes.
func NewExecCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "exec <statement> [args...]",
		Short: "Run a raw statement and print the affected row count",
		Long: `Run a raw statement that returns no rows.

Examples:
  tablekit exec "DELETE FROM sessions WHERE expires_at < ?" 2024-01-01`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()
			return runRaw(ctx, rootOpts, cmd, args, true)
		},
	}
}

// ExecResult is the payload of the exec command.
type ExecResult struct {
	RowsAffected int64 `json:"rows_affected"`
}

func (r ExecResult) String() string {
	return fmt.Sprintf("%d rows affected", r.RowsAffected)
}

func runRaw(ctx context.Context, opts *RootOptions, cmd *cobra.Command, args []string, exec bool) error {
	b, closeFn, err := openBackend(opts.Config)
	if err != nil {
		return err
	}
	defer closeFn()

	raw, ok := b.(backend.Raw)
	if !ok {
		return NewExitError(ExitCommandError, fmt.Sprintf("backend %s does not run raw statements", b.Name()))
	}

	stmt := args[0]
	params := make([]any, len(args)-1)
	for i, a := range args[1:] {
		params[i] = a
	}

	f := opts.formatter(cmd)
	f.VerboseLog("statement: %s %v", stmt, params)

	if exec {
		n, err := raw.Exec(ctx, stmt, params...)
		if err != nil {
			_ = f.Error(ErrorCode(err), err.Error(), nil)
			return WrapExitError(ExitFailure, "statement failed", err)
		}
		return f.Success(ExecResult{RowsAffected: n})
	}

	rows, err := raw.Query(ctx, stmt, params...)
	if err != nil {
		_ = f.Error(ErrorCode(err), err.Error(), nil)
		return WrapExitError(ExitFailure, "query failed", err)
	}
	return f.Rows(rows)
}
