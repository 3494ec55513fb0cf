// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var leaveCmd = &cobra.Command{
	Use:   "leave",
	Short: "Leave the loader and start the application",
	Long: `Send the exit command. The loader answers and resets the part shortly
after, which starts the application unless the boot pin is held.

Exit codes:
  0 - Exit acknowledged
  1 - Exit failed
  2 - Connection error or no loader`,
	RunE: runLeave,
}

func init() {
	rootCmd.AddCommand(leaveCmd)
}

func runLeave(cmd *cobra.Command, args []string) error {
	h := openHostSession("Leave Loader")
	defer h.Close()

	if err := h.prog.LeaveProgMode(h.ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Leave programming mode failed: %v\n", err)
		h.Close()
		os.Exit(1)
	}
	if err := h.prog.Exit(h.ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Exit failed: %v\n", err)
		h.Close()
		os.Exit(1)
	}

	fmt.Printf("Loader exiting, application starts after reset\n")
	return nil
}
