package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/tablekit/internal/backend"
	"github.com/roach88/tablekit/internal/config"
	"github.com/roach88/tablekit/internal/memory"
	"github.com/roach88/tablekit/internal/store"
)

// commandContext returns the command's context, canceled on SIGINT or
// SIGTERM so long statements and migrations stop cleanly.
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// openBackend opens the configured backend. The returned close function
// must be called when done.
func openBackend(cfg config.Config) (backend.Backend, func(), error) {
	if cfg.Driver == config.DriverMemory {
		return memory.New(), func() {}, nil
	}

	st, err := openStore(cfg)
	if err != nil {
		return nil, nil, err
	}
	return st, func() { closeStore(st) }, nil
}

// openStore opens a SQL store, rejecting the memory driver.
func openStore(cfg config.Config) (*store.Store, error) {
	if cfg.Driver == config.DriverMemory {
		return nil, NewExitError(ExitCommandError, "this command requires a SQL driver (sqlite3 or mysql)")
	}
	slog.Debug("opening database", "driver", cfg.Driver)
	st, err := store.Open(cfg)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return st, nil
}

func closeStore(st *store.Store) {
	if err := st.Close(); err != nil {
		slog.Error("error closing database", "error", err)
	}
}

// PingResult is the payload of the ping command.
type PingResult struct {
	Driver  string `json:"driver"`
	Latency string `json:"latency"`
}

func (r PingResult) String() string {
	return fmt.Sprintf("%s: ok (%s)", r.Driver, r.Latency)
}

// NewPingCommand creates the ping command.
func NewPingCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check that the configured database is reachable",
		Long: `Open the configured backend and round-trip to it.

Exit codes:
  0 - Database reachable
  2 - Configuration or connection error

Examples:
  tablekit ping --driver sqlite3 --dsn ./app.db
  TABLEKIT_DSN='user:pass@tcp(db:3306)/app' tablekit ping --driver mysql`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()
			return runPing(ctx, rootOpts, cmd)
		},
	}
}

func runPing(ctx context.Context, opts *RootOptions, cmd *cobra.Command) error {
	b, closeFn, err := openBackend(opts.Config)
	if err != nil {
		return err
	}
	defer closeFn()

	start := time.Now()
	if st, ok := b.(*store.Store); ok {
		if err := st.Ping(ctx); err != nil {
			return WrapExitError(ExitCommandError, "ping failed", err)
		}
	}
	return opts.formatter(cmd).Success(PingResult{
		Driver:  b.Name(),
		Latency: time.Since(start).Round(time.Microsecond).String(),
	})
}
