package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			os.Exit(ee.code)
		}
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// exitError carries a non-zero exit code that has already been reported.
type exitError struct{ code int }

func (e *exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

// buildRoot creates the root command and its subcommands
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	root := createRootCommand(globalFlags)
	root.AddCommand(
		createSuperviseCommand(globalFlags, &SuperviseFlags{}),
		createServeCommand(globalFlags, &ServeFlags{}),
		createFetchCommand(globalFlags, &ExchangeFlags{}),
		createSubmitCommand(globalFlags, &ExchangeFlags{}),
		createCountCommand(globalFlags, &StoreFlags{}),
		createPurgeCommand(globalFlags, &StoreFlags{}),
		createRequestCommand(globalFlags, &RequestFlags{}),
	)
	return root
}

// createRootCommand creates the root command with minimal persistent flags
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "xpol",
		Short: "Gene exchange supervisor and shared gene store",
		Long: `xpol runs an evolving worker and exchanges its genes with a shared
store whenever the worker asks for it, and serves that store.

Examples:
  xpol serve --config=xpol.toml           # run the gene store
  xpol supervise --config=xpol.toml       # run a worker under supervision
  xpol request download --pidfile=/run/xpol.pid
  xpol count --dsn=sqlite://genes.db`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	return root
}
