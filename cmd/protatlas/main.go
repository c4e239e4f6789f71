// Command protatlas serves and exports tissue expression matrices.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Set by build flags.
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// globalFlags holds flags shared by all subcommands.
type globalFlags struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	var g globalFlags

	root := &cobra.Command{
		Use:   "protatlas",
		Short: "Tissue expression atlas server",
		Long: `protatlas loads tissue-consensus RNA expression tables and serves
per-gene expression matrices and charts over tissues or organ groups.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&g.configPath, "config", "c", "config/server.yaml",
		"path to configuration file")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "",
		"override log level: debug, info, warn, error")

	root.AddCommand(newServeCmd(&g))
	root.AddCommand(newMatrixCmd(&g))
	root.AddCommand(newChartCmd(&g))
	return root
}
