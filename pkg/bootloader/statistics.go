// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bootloader

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Thermoquad/perihelion/pkg/avr109"
)

// Counters is a point-in-time copy of loader statistics
type Counters struct {
	StartTime time.Time

	PowerCycles      uint64
	ApplicationJumps uint64
	Resets           uint64

	Commands        uint64
	UnknownCommands uint64
	Unauthorized    uint64
	ProtectedWrites uint64
	OversizeBlocks  uint64
	Erases          uint64

	FlashBytesWritten  uint64
	EEPROMBytesWritten uint64
	BytesRead          uint64

	PerCommand map[byte]uint64

	// Last observed loader state
	Indicator  Indicator
	Address    uint16
	DeviceType byte
	Resident   bool
}

// Statistics tracks what the loader has done. It is safe for concurrent use
// so a monitor can read it while the loader runs.
type Statistics struct {
	mu sync.Mutex
	c  Counters
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	return &Statistics{
		c: Counters{
			StartTime:  time.Now(),
			PerCommand: make(map[byte]uint64),
			Indicator:  IndicateStart,
		},
	}
}

// Snapshot returns a copy of the counters
func (s *Statistics) Snapshot() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.c
	c.PerCommand = make(map[byte]uint64, len(s.c.PerCommand))
	for k, v := range s.c.PerCommand {
		c.PerCommand[k] = v
	}
	return c
}

func (s *Statistics) update(fn func(c *Counters)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.c)
}

func (s *Statistics) recordCommand(op byte) {
	s.update(func(c *Counters) {
		c.Commands++
		c.PerCommand[op]++
	})
}

func (s *Statistics) recordUnknown() {
	s.update(func(c *Counters) {
		c.Commands++
		c.UnknownCommands++
	})
}

func (s *Statistics) recordSession(sess *Session) {
	s.update(func(c *Counters) {
		c.Address = sess.Address
		c.DeviceType = sess.DeviceType
	})
}

func (s *Statistics) setIndicator(i Indicator) {
	s.update(func(c *Counters) { c.Indicator = i })
}

func (s *Statistics) setResident(resident bool) {
	s.update(func(c *Counters) { c.Resident = resident })
}

// String returns a formatted statistics summary
func (c Counters) String() string {
	elapsed := time.Since(c.StartTime)

	result := fmt.Sprintf("=== Loader Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Power Cycles:    %8d (application %d, resets %d)\n", c.PowerCycles, c.ApplicationJumps, c.Resets)
	result += fmt.Sprintf("Commands:        %8d\n", c.Commands)

	if c.UnknownCommands > 0 {
		result += fmt.Sprintf("Unknown:         %8d\n", c.UnknownCommands)
	}
	if c.Unauthorized > 0 {
		result += fmt.Sprintf("Unauthorized:    %8d\n", c.Unauthorized)
	}
	if c.ProtectedWrites > 0 {
		result += fmt.Sprintf("Protected Pages: %8d\n", c.ProtectedWrites)
	}
	if c.OversizeBlocks > 0 {
		result += fmt.Sprintf("Oversize Blocks: %8d\n", c.OversizeBlocks)
	}

	result += fmt.Sprintf("Erases:          %8d\n", c.Erases)
	result += fmt.Sprintf("Flash Written:   %8d bytes\n", c.FlashBytesWritten)
	result += fmt.Sprintf("EEPROM Written:  %8d bytes\n", c.EEPROMBytesWritten)
	result += fmt.Sprintf("Bytes Read:      %8d\n", c.BytesRead)

	ops := make([]int, 0, len(c.PerCommand))
	for op := range c.PerCommand {
		ops = append(ops, int(op))
	}
	sort.Ints(ops)
	for _, op := range ops {
		result += fmt.Sprintf("  %-22s %8d\n", avr109.FormatCommand(byte(op)), c.PerCommand[byte(op)])
	}

	return result
}
