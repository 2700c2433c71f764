// Vto-bridge connects to a Dahua VTO door station and republishes its
// doorbell, lock and tamper state.
//
// The bridge logs in over the DHIP protocol on TCP port 5000, keeps the
// session alive, subscribes to the device's event stream and exposes door
// control over HTTP, MQTT and NATS.
//
// Usage:
//
//	vto-bridge run [flags]
//
// See 'vto-bridge --help' for available commands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/muurk/vtobridge/internal/version"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// Persistent flags
var (
	configPath string
	logLevel   string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "vto-bridge",
	Short: "Dahua VTO door station bridge",
	Long: `A bridge between a Dahua VTO door station and home automation.

The bridge keeps an authenticated DHIP session open to the VTO, translates
its event stream into doorbell, lock and tamper state and forwards door
commands back to it. State is published to MQTT, NATS and a WebSocket
stream; commands arrive from any of them or the HTTP API.`,
	Version:       version.Get().Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default is the per-user config location)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose logging, including every frame")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(probeCmd)
	rootCmd.AddCommand(hashCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version.Full())
	},
}
