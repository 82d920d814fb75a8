package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wippyai/clr-image/image"
	"github.com/wippyai/clr-image/pdb"
	"github.com/wippyai/clr-image/refpack"
	"github.com/wippyai/clr-image/resolve"
	"github.com/wippyai/clr-image/scenario"
)

const version = "0.1.0-dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

type globalFlags struct {
	config  string
	verbose bool
}

func newRootCmd() *cobra.Command {
	var g globalFlags
	root := &cobra.Command{
		Use:           "clrgen",
		Short:         "Create, modify and inspect .NET assemblies with Portable PDB symbols",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupLogging(g.verbose)
		},
	}
	root.PersistentFlags().StringVarP(&g.config, "config", "c", "", "TOML scenario config file")
	root.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "Log debug output to stderr")

	root.AddCommand(newNewCmd(&g))
	root.AddCommand(newModifyCmd(&g))
	root.AddCommand(newInspectCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "clrgen", version)
		},
	}
}

func setupLogging(verbose bool) error {
	l := zap.NewNop()
	if verbose {
		var err error
		if l, err = zap.NewDevelopment(); err != nil {
			return fmt.Errorf("logger: %w", err)
		}
	}
	image.SetLogger(l)
	pdb.SetLogger(l)
	resolve.SetLogger(l)
	refpack.SetLogger(l)
	scenario.SetLogger(l.Named("scenario"))
	return nil
}

// loadConfig reads the --config file, or the defaults when none is given.
func loadConfig(g *globalFlags) (*scenario.Config, error) {
	if g.config == "" {
		return scenario.DefaultConfig(), nil
	}
	return scenario.LoadConfig(g.config)
}
