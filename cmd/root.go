// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	goflag "flag"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/Thermoquad/perihelion/pkg/avr109"
)

var (
	// Serial connection flags
	portName string
	baudRate int
	dtrReset bool

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	// Per-response timeout for host commands
	responseTimeout time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "perihelion",
	Short: "AVR109 Bootloader Simulator and Programmer",
	Long: `Perihelion - An AVR109 ("butterfly") self-programming toolkit.

Runs a simulated part with a resident AVR109 loader (serve), and talks to any
AVR109 loader as a host programmer (probe, erase, dump, write, leave).

Connection modes:
  Serial:    --port /dev/ttyUSB0 [--baud 115200] [--dtr-reset]
  WebSocket: --url ws://host/path [--username user]

For WebSocket authentication, the password is read from the PERIHELION_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.

Diagnostics are logged with glog: -v=1 traces every command, -v=2 every byte.`,
	Version: "1.0.0",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// glog reads its flags from the standard flag set
		return goflag.CommandLine.Parse(nil)
	},
}

func init() {
	// Serial connection flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port device")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 115200, "Baud rate (serial only)")
	rootCmd.PersistentFlags().BoolVar(&dtrReset, "dtr-reset", false, "Pulse DTR after opening the port to reset the part into its loader (serial host commands only)")

	// WebSocket connection flags
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	rootCmd.PersistentFlags().DurationVar(&responseTimeout, "timeout", avr109.DefaultTimeout, "Timeout for each loader response")

	goflag.Set("logtostderr", "true")
	pflag.CommandLine.AddGoFlagSet(goflag.CommandLine)
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
