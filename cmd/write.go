// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/perihelion/pkg/avr109"
)

var writeVerify bool

var writeCmd = &cobra.Command{
	Use:   "write HEXBYTES...",
	Short: "Write bytes to flash or EEPROM",
	Long: `Write bytes given as hex on the command line through the loader.

Bytes may be given as one string or several ("0C943400" or "0C 94 34 00").
Flash writes replace whole pages: bytes of a touched page that are not
written read back as 0xFF. Pages in the boot section are refused by the
loader.

Examples:
  perihelion write --port /dev/ttyUSB0 --address 0x10 0C 94 34 00
  perihelion write --url ws://localhost:8109/ --memory eeprom DEADBEEF

Exit codes:
  0 - Write successful
  1 - Write refused, failed or did not verify
  2 - Connection error or no loader`,
	Args: cobra.MinimumNArgs(1),
	RunE: runWrite,
}

func init() {
	rootCmd.AddCommand(writeCmd)
	writeCmd.Flags().StringVar(&memoryName, "memory", "flash", "Memory to write (flash or eeprom)")
	writeCmd.Flags().StringVar(&addressFlag, "address", "0", "Start address (word for flash, byte for EEPROM)")
	writeCmd.Flags().Uint8Var(&deviceCode, "device", avr109.DeviceCodeBoot, "Device type to select")
	writeCmd.Flags().BoolVar(&writeVerify, "verify", true, "Read back and compare")
}

// parseHexBytes joins args and decodes them as hex
func parseHexBytes(args []string) ([]byte, error) {
	s := strings.Join(args, "")
	s = strings.NewReplacer(" ", "", ":", "", "0x", "", "0X", "").Replace(s)
	data, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex data: %v", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("no data to write")
	}
	return data, nil
}

func runWrite(cmd *cobra.Command, args []string) error {
	tag, err := avr109.ParseMemory(memoryName)
	if err != nil {
		return err
	}
	addr, err := parseUint16(addressFlag)
	if err != nil {
		return err
	}
	data, err := parseHexBytes(args)
	if err != nil {
		return err
	}

	h := openHostSession("Memory Write")
	defer h.Close()

	fail := func(format string, a ...any) {
		fmt.Fprintf(os.Stderr, format, a...)
		h.Close()
		os.Exit(1)
	}

	if err := h.prog.SelectDevice(h.ctx, deviceCode); err != nil {
		fail("Select device failed: %v\n", err)
	}
	if err := h.prog.WriteMemory(h.ctx, tag, addr, data); err != nil {
		fail("Write failed: %v\n", err)
	}
	fmt.Printf("Wrote %d bytes to %s at 0x%04X\n", len(data), avr109.FormatMemory(tag), addr)

	if !writeVerify {
		return nil
	}
	got, err := h.prog.ReadMemory(h.ctx, tag, addr, len(data))
	if err != nil {
		fail("Verify read failed: %v\n", err)
	}
	if !bytes.Equal(got, data) {
		fmt.Print(avr109.HexDump(0, got))
		fail("Verify failed: read back differs\n")
	}
	fmt.Printf("Verified\n")
	return nil
}
