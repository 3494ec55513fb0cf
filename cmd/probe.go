// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/perihelion/pkg/avr109"
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Enter the loader and print what it reports",
	Long: `Enter the AVR109 loader and query its identity, signature, version,
programmer type, supported devices, buffer size and fuse bytes.

Exit codes:
  0 - Probe successful
  1 - A query failed
  2 - Connection error or no loader`,
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)
}

func runProbe(cmd *cobra.Command, args []string) error {
	h := openHostSession("Loader Probe")
	defer h.Close()

	if err := probe(h); err != nil {
		fmt.Fprintf(os.Stderr, "Probe failed: %v\n", err)
		h.Close()
		os.Exit(1)
	}
	return nil
}

func probe(h *hostSession) error {
	ctx, prog := h.ctx, h.prog

	id, err := prog.SoftwareID(ctx)
	if err != nil {
		return err
	}
	version, err := prog.Version(ctx)
	if err != nil {
		return err
	}
	ptype, err := prog.ProgrammerType(ctx)
	if err != nil {
		return err
	}
	sig, err := prog.Signature(ctx)
	if err != nil {
		return err
	}
	devices, err := prog.SupportedDevices(ctx)
	if err != nil {
		return err
	}
	auto, err := prog.AutoIncrement(ctx)
	if err != nil {
		return err
	}
	bufSize, err := prog.BufferSize(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Software ID:       %s\n", id)
	fmt.Printf("Version:           %s.%s\n", version[:1], version[1:])
	fmt.Printf("Programmer type:   %c\n", ptype)
	fmt.Printf("Signature:         %02X %02X %02X\n", sig[0], sig[1], sig[2])
	fmt.Printf("Supported devices: % X\n", devices)
	fmt.Printf("Autoincrement:     %v\n", auto)
	fmt.Printf("Buffer size:       %d bytes\n", bufSize)

	fuses, err := prog.ReadFuses(ctx)
	switch {
	case errors.Is(err, avr109.ErrUnsupported):
		fmt.Printf("Fuses:             readout disabled\n")
	case err != nil:
		return err
	default:
		fmt.Printf("Fuses:             low 0x%02X, high 0x%02X, extended 0x%02X\n", fuses.Low, fuses.High, fuses.Extended)
		fmt.Printf("Lock bits:         0x%02X\n", fuses.Lock)
	}
	return nil
}
