package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/m3rciful/tgrelay/core/buildinfo"
	corecmd "github.com/m3rciful/tgrelay/core/cmd"
	coreconfig "github.com/m3rciful/tgrelay/core/config"
)

const defaultConfigPath = "config.yaml"

// configPath is overridable via --config.
var configPath string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "tgrelay",
		Short:         "Telegram webhook echo relay",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"path to config.yaml (default: $"+corecmd.DefaultConfigEnvVar+" or ./"+defaultConfigPath+")")

	root.AddCommand(serveCmd())
	root.AddCommand(webhookCmd())
	root.AddCommand(versionCmd())
	return root
}

func resolveConfigPath() string {
	return corecmd.ResolveConfigPath(configPath, corecmd.DefaultConfigEnvVar, defaultConfigPath)
}

func loadConfig() (*coreconfig.Config, error) {
	return coreconfig.Load(resolveConfigPath())
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the webhook and relay echo replies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return corecmd.Run(corecmd.Options{
				ConfigPath:        configPath,
				ConfigEnvVar:      corecmd.DefaultConfigEnvVar,
				DefaultConfigPath: defaultConfigPath,
			})
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), buildinfo.String())
		},
	}
}
