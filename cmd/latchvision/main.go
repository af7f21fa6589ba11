// Command latchvision is the CLI for the latency-bounded open-set
// visual recognition engine: run a fixture through the hot loop,
// promote ledger evidence into curated medoids, benchmark a shard's
// recall/calibration, or print version information.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/latchvision/latchvision/internal/errs"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "latchvision",
		Short: "Latency-bounded open-set visual recognition engine",
		Long: `latchvision decides whether each embedded frame matches a known
label from a locally held knowledge base, or is "unknown", within a
hard per-frame latency budget.`,
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("latchvision v%s (%s)\n", version, commit)
		},
	})

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newPromoteCmd())
	rootCmd.AddCommand(newBenchCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitCodeFor(err))
	}
}

// exitCodeFor maps a returned error to a process exit code per
// spec.md §6/§7. Errors not wrapping a typed *errs.Error fall back to
// a generic non-zero exit.
func exitCodeFor(err error) int {
	var e *errs.Error
	if !errors.As(err, &e) {
		return 1
	}
	return e.Code()
}
