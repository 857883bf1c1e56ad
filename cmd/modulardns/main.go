// Command modulardns is the resolver's entry point: a cobra CLI
// wrapping pkg/service.Start, matching __main__.py's argparse
// "resolve" subcommand and --version flag.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/zhenghaven/ModularDNS/pkg/config"
	"github.com/zhenghaven/ModularDNS/pkg/service"
)

// version is overridden at build time via -ldflags.
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "modulardns",
		Short:   "A modular, programmable DNS resolver.",
		Version: version,
	}

	var configPath string
	resolveCmd := &cobra.Command{
		Use:   "resolve",
		Short: "Start the resolver and serve until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return service.Start(cfg)
		},
		SilenceUsage: true,
	}
	resolveCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to the config file")
	resolveCmd.MarkFlagRequired("config")

	root.AddCommand(resolveCmd)
	return root
}
