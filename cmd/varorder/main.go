// Package main provides the entry point for the varorder CLI tool.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/varorder/cmd/varorder/commands"
	"github.com/Sumatoshi-tech/varorder/pkg/version"
)

func main() {
	version.InitBinaryVersion()

	var global commands.GlobalOptions

	rootCmd := &cobra.Command{
		Use:   "varorder",
		Short: "Variable ordering experiments for constraint solvers",
		Long: `varorder samples search-variable orderings of FlatZinc problems and
measures how the solver performs under each of them.

Commands:
  generate  Sample orderings and store them as jobs
  test      Run the solver on every pending job (alias: run)
  probe     Estimate the run time of a workload
  restore   Unpack a checkpoint archive`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	global.Register(rootCmd)

	rootCmd.AddCommand(commands.NewGenerateCommand(&global))
	rootCmd.AddCommand(commands.NewTestCommand(&global))
	rootCmd.AddCommand(commands.NewProbeCommand(&global))
	rootCmd.AddCommand(commands.NewRestoreCommand(&global))
	rootCmd.AddCommand(versionCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := rootCmd.ExecuteContext(ctx)

	stop()

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}

	os.Exit(commands.ExitCode(err))
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Fprintf(os.Stdout, "varorder %s (commit: %s, built: %s)\n", version.Version, version.Commit, version.Date)
		},
	}
}
