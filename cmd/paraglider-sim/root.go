package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "paraglider-sim",
	Short: "Paraglider GPS tracker fleet emulator",
	Long: "paraglider-sim emulates fleets of paraglider GPS trackers against a " +
		"live tracking backend: device registration, signed telemetry over " +
		"MQTT-TLS or HTTPS, and realistic alpine flight behavior.",
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(simulateCmd)
	rootCmd.AddCommand(provisionCmd)
}
