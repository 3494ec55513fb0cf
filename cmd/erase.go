// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/perihelion/pkg/avr109"
)

var deviceCode uint8

var eraseCmd = &cobra.Command{
	Use:   "erase",
	Short: "Erase the application section",
	Long: `Select the device type and erase every page below the boot section.

The boot section holding the loader is never erased.

Exit codes:
  0 - Erase successful
  1 - Erase refused or failed
  2 - Connection error or no loader`,
	RunE: runErase,
}

func init() {
	rootCmd.AddCommand(eraseCmd)
	eraseCmd.Flags().Uint8Var(&deviceCode, "device", avr109.DeviceCodeBoot, "Device type to select")
}

func runErase(cmd *cobra.Command, args []string) error {
	h := openHostSession("Chip Erase")
	defer h.Close()

	if err := h.prog.SelectDevice(h.ctx, deviceCode); err != nil {
		fmt.Fprintf(os.Stderr, "Select device failed: %v\n", err)
		h.Close()
		os.Exit(1)
	}
	if err := h.prog.ChipErase(h.ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Erase failed: %v\n", err)
		h.Close()
		os.Exit(1)
	}

	fmt.Printf("Application section erased\n")
	return nil
}
