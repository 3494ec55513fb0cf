// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package bootloader implements the resident side of AVR109 self
// programming: the entry gate that decides between staying resident and
// starting the application, the single-buffer command interpreter, and the
// power-cycle loop that ties them to a part and a byte transport.
//
// Everything a firmware build would fix at compile time (identity, read
// protection, fuse readout, timeouts) is a Config value, so every variant
// can be exercised from one binary.
package bootloader

import (
	"fmt"
	"time"

	"github.com/Thermoquad/perihelion/pkg/avr109"
	"github.com/Thermoquad/perihelion/pkg/nvm"
)

// Default timing of the entry window and the exit reset
const (
	DefaultWaitSamples  = 100
	DefaultWaitInterval = 10 * time.Millisecond
	DefaultExitTimeout  = 250 * time.Millisecond
)

// Config is the build-time configuration of a loader
type Config struct {
	Identity Identity
	Geometry nvm.Geometry

	// ReadProtect masks program memory at or above the protection
	// boundary on block reads
	ReadProtect bool
	// FuseRead enables the fuse and lock byte commands
	FuseRead bool
	// Greeting sends the software ID when the loader goes resident
	Greeting bool

	ExitTimeout  time.Duration
	WaitSamples  int
	WaitInterval time.Duration
	Sentinel     byte
}

// DefaultConfig returns the configuration of the ATmega128RFA1 loader
func DefaultConfig() Config {
	return Config{
		Identity:     DefaultIdentity(),
		Geometry:     nvm.ATmega128RFA1,
		ReadProtect:  true,
		FuseRead:     true,
		Greeting:     true,
		ExitTimeout:  DefaultExitTimeout,
		WaitSamples:  DefaultWaitSamples,
		WaitInterval: DefaultWaitInterval,
		Sentinel:     avr109.Sentinel,
	}
}

// Gate returns the entry gate described by the configuration
func (c Config) Gate() Gate {
	return Gate{
		Samples:  c.WaitSamples,
		Interval: c.WaitInterval,
		Sentinel: c.Sentinel,
	}
}

// Validate checks the configuration for values the loader cannot run with
func (c Config) Validate() error {
	if err := c.Geometry.Validate(); err != nil {
		return err
	}
	if c.ExitTimeout <= 0 {
		return fmt.Errorf("exit timeout must be positive, got %v", c.ExitTimeout)
	}
	if c.WaitSamples < 0 {
		return fmt.Errorf("wait samples must not be negative, got %d", c.WaitSamples)
	}
	if c.WaitInterval <= 0 {
		return fmt.Errorf("wait interval must be positive, got %v", c.WaitInterval)
	}
	if len(c.Identity.SoftwareID) != avr109.SoftwareIDLen {
		return fmt.Errorf("software ID must be %d bytes, got %q", avr109.SoftwareIDLen, c.Identity.SoftwareID)
	}
	return nil
}
