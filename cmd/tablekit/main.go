// Command tablekit operates the databases behind tablekit models: it
// checks connectivity, applies migrations, runs raw statements and runs
// backend parity scenarios.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/tablekit/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
