// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"io"

	"github.com/golang/glog"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/perihelion/pkg/avr109"
)

var rawLogCmd = &cobra.Command{
	Use:   "raw_log",
	Short: "Display host commands in human-readable format",
	Long: `Continuously decode and display AVR109 host commands as they arrive.

Attach to the host-to-loader direction of a link (for example the TX line of
a programmer through a second serial adapter) to watch a programming session.
Each command is shown with a timestamp, its name and decoded arguments.

Supports both serial and WebSocket connections.`,
	RunE: runRawLog,
}

func init() {
	rootCmd.AddCommand(rawLogCmd)
}

func runRawLog(cmd *cobra.Command, args []string) error {
	// Open connection (serial or WebSocket)
	conn, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}
	defer conn.Close()

	fmt.Printf("Perihelion - Raw Command Log\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	decoder := avr109.NewDecoder()
	buf := make([]byte, 128)

	for {
		n, err := conn.Read(buf)
		for i := 0; i < n; i++ {
			if req := decoder.DecodeByte(buf[i]); req != nil {
				fmt.Printf("[%s] %s\n", req.Timestamp().Format("15:04:05.000"), avr109.FormatRequest(req))
			}
		}
		if err != nil {
			// A read error on either transport means the link is gone
			if errors.Is(err, ErrConnectionClosed) || errors.Is(err, io.EOF) {
				glog.Info("connection closed")
				return nil
			}
			return fmt.Errorf("read error: %v", err)
		}
	}
}
