// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// Perihelion - AVR109 Bootloader Simulator and Programmer
//
// Runs a simulated part with a resident AVR109 loader, and drives AVR109
// loaders from the host side.

package main

import (
	"os"

	"github.com/golang/glog"

	"github.com/Thermoquad/perihelion/cmd"
)

func main() {
	err := cmd.Execute()
	glog.Flush()
	if err != nil {
		os.Exit(1)
	}
}
