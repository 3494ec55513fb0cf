// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/perihelion/pkg/avr109"
)

var (
	memoryName  string
	addressFlag string
	dumpLength  int
)

var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Read memory and print a hex dump",
	Long: `Read flash or EEPROM through the loader and print a hex dump.

The address is a word address for flash and a byte address for EEPROM, as
the protocol defines it. Rows are labelled with byte addresses. Loaders built
with read protection return 0xFF for the boot section.

Examples:
  perihelion dump --port /dev/ttyUSB0 --memory flash --address 0 --length 256
  perihelion dump --url ws://localhost:8109/ --memory eeprom --length 64

Exit codes:
  0 - Read successful
  1 - Read failed
  2 - Connection error or no loader`,
	RunE: runDump,
}

func init() {
	rootCmd.AddCommand(dumpCmd)
	dumpCmd.Flags().StringVar(&memoryName, "memory", "flash", "Memory to read (flash or eeprom)")
	dumpCmd.Flags().StringVar(&addressFlag, "address", "0", "Start address (word for flash, byte for EEPROM)")
	dumpCmd.Flags().IntVar(&dumpLength, "length", 256, "Number of bytes to read")
}

func runDump(cmd *cobra.Command, args []string) error {
	tag, err := avr109.ParseMemory(memoryName)
	if err != nil {
		return err
	}
	addr, err := parseUint16(addressFlag)
	if err != nil {
		return err
	}
	if dumpLength <= 0 {
		return fmt.Errorf("length must be positive")
	}

	h := openHostSession("Memory Dump")
	defer h.Close()

	data, err := h.prog.ReadMemory(h.ctx, tag, addr, dumpLength)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Read failed: %v\n", err)
		h.Close()
		os.Exit(1)
	}

	base := uint32(addr)
	if tag == avr109.MemoryFlash {
		base *= 2
	}
	fmt.Print(avr109.HexDump(base, data))
	return nil
}
