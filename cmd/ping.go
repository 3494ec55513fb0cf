// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var pingCount int

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Measure loader round-trip time",
	Long: `Enter the loader and send software ID queries, timing each answer.

This is useful for verifying:
  - The link (serial or WebSocket) carries bytes both ways
  - HTTP Basic authentication works
  - The loader is resident and answering
  - Round-trip latency is low enough for --timeout

Exit codes:
  0 - All pings successful
  1 - One or more pings failed/timed out
  2 - Connection error or no loader`,
	RunE: runPing,
}

func init() {
	rootCmd.AddCommand(pingCmd)
	pingCmd.Flags().IntVar(&pingCount, "count", 3, "Number of pings to send")
}

func runPing(cmd *cobra.Command, args []string) error {
	h := openHostSession("Loader Ping")
	defer h.Close()

	fmt.Printf("Timeout: %v per ping\n", responseTimeout)
	fmt.Printf("Count: %d pings\n\n", pingCount)

	successCount := 0
	failCount := 0
	var total time.Duration

	for i := 1; i <= pingCount; i++ {
		fmt.Printf("Ping %d/%d: ", i, pingCount)

		startTime := time.Now()
		id, err := h.prog.SoftwareID(h.ctx)
		if err != nil {
			fmt.Printf("FAILED: %v\n", err)
			failCount++
			// Stale bytes from a late answer would shift the next reply
			h.port.Drain()
			continue
		}
		rtt := time.Since(startTime)
		total += rtt
		fmt.Printf("%s, rtt=%v\n", id, rtt.Round(time.Microsecond))
		successCount++

		// Small delay between pings
		if i < pingCount {
			time.Sleep(100 * time.Millisecond)
		}
	}

	// Summary
	fmt.Printf("\n--- Ping statistics ---\n")
	fmt.Printf("%d pings sent, %d answers received, %.0f%% loss\n",
		pingCount, successCount, float64(failCount)/float64(max(pingCount, 1))*100)
	if successCount > 0 {
		fmt.Printf("average rtt %v\n", (total / time.Duration(successCount)).Round(time.Microsecond))
	}

	if failCount > 0 {
		h.Close()
		os.Exit(1)
	}
	return nil
}
