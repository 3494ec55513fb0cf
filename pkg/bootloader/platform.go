// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bootloader

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// Indicator is a loader status code, shown on the status LEDs of the
// reference board
type Indicator uint8

// Status codes
const (
	IndicateRunApplication Indicator = 0x00
	IndicateRun            Indicator = 0x02
	IndicateErase          Indicator = 0x03
	IndicateProgMode       Indicator = 0x04
	IndicateLeaveProgMode  Indicator = 0x05
	IndicateProgrammerType Indicator = 0x06
	IndicateEraseComplete  Indicator = 0x07
	IndicateStart          Indicator = 0x0F
)

// String returns the status name
func (i Indicator) String() string {
	switch i {
	case IndicateRunApplication:
		return "RUN_APPLICATION"
	case IndicateRun:
		return "RUN"
	case IndicateErase:
		return "ERASE_FLASH"
	case IndicateProgMode:
		return "PROG_MODE"
	case IndicateLeaveProgMode:
		return "LEAVE_PROG_MODE"
	case IndicateProgrammerType:
		return "PROGRAMMER_TYPE"
	case IndicateEraseComplete:
		return "ERASE_COMPLETE"
	case IndicateStart:
		return "START"
	default:
		return fmt.Sprintf("0x%02X", uint8(i))
	}
}

// Platform is what the loader needs from the board beyond memory and the
// transport
type Platform interface {
	// BootRequested reports whether the dedicated boot input is active
	BootRequested() bool
	// JumpToApplication hands control to the resident application. It
	// returns when the part is reset or ctx ends.
	JumpToApplication(ctx context.Context) error
	// Indicate shows a status code
	Indicate(Indicator)
}

// historyLimit is how many status codes a SimPlatform remembers
const historyLimit = 64

// SimPlatform is a Platform for simulated parts. The boot input is a flag,
// the application idles until Reset is called, and the most recent status
// codes are recorded.
type SimPlatform struct {
	bootPin atomic.Bool
	resets  chan struct{}

	mu      sync.Mutex
	current Indicator
	history []Indicator

	// OnIndicate is called for every status change when set
	OnIndicate func(Indicator)
}

// NewSimPlatform returns a platform with the boot input released
func NewSimPlatform() *SimPlatform {
	return &SimPlatform{
		resets:  make(chan struct{}, 1),
		current: IndicateStart,
	}
}

// SetBootPin drives the boot input
func (p *SimPlatform) SetBootPin(active bool) {
	p.bootPin.Store(active)
}

// BootRequested implements Platform
func (p *SimPlatform) BootRequested() bool {
	return p.bootPin.Load()
}

// Reset requests a reset of the running application
func (p *SimPlatform) Reset() {
	select {
	case p.resets <- struct{}{}:
	default:
	}
}

// JumpToApplication implements Platform
func (p *SimPlatform) JumpToApplication(ctx context.Context) error {
	select {
	case <-p.resets:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Indicate implements Platform
func (p *SimPlatform) Indicate(i Indicator) {
	p.mu.Lock()
	p.current = i
	p.history = append(p.history, i)
	if len(p.history) > historyLimit {
		p.history = append(p.history[:0], p.history[len(p.history)-historyLimit:]...)
	}
	cb := p.OnIndicate
	p.mu.Unlock()

	if cb != nil {
		cb(i)
	}
}

// Current returns the last status code shown
func (p *SimPlatform) Current() Indicator {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// History returns the most recent status codes, oldest first
func (p *SimPlatform) History() []Indicator {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Indicator(nil), p.history...)
}
