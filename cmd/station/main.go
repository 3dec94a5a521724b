// Soil station daemon: reads the soil and environment sensors, drives the
// pump and lamp, and reports over MQTT and a chat webhook.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Set with -ldflags "-X main.version=..." at build time.
var version = "dev"

var (
	configFile string
	rootCmd    = &cobra.Command{
		Use:           "station",
		Short:         "Soil station daemon",
		Long:          "Firmware daemon for the soil and environment monitoring station. Reports readings over MQTT and sends a daily summary.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run the station",
		Args:  cobra.NoArgs,
		RunE:  runStation,
	}

	configCmd = &cobra.Command{
		Use:   "config",
		Short: "Inspect the configuration",
	}

	configShowCmd = &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets masked",
		Args:  cobra.NoArgs,
		RunE:  showConfig,
	}

	parseCmd = &cobra.Command{
		Use:   "parse <json>",
		Short: "Decode a command payload the way the station would",
		Args:  cobra.ExactArgs(1),
		RunE:  parseCommand,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "soil station %s\n", version)
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Configuration file path (YAML)")
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(runCmd, configCmd, parseCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
