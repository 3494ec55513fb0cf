// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package nvm drives the non-volatile memories of an AVR-class part from its
// resident loader: page erase/fill/commit for program memory, byte writes for
// EEPROM, the read-while-write re-enable dance, fuse/lock reads and the
// protection boundary that keeps the loader from overwriting itself.
//
// Program memory is word-addressed at the driver boundary (the loader's
// address register counts 16-bit words) and byte-addressed at the hardware
// boundary. EEPROM is byte-addressed everywhere.
package nvm

import "fmt"

// Erased is the value of an erased flash or EEPROM cell.
const Erased = 0xFF

// Geometry describes the non-volatile layout of a part
type Geometry struct {
	FlashSize  uint32 // program memory, bytes
	PageSize   uint16 // program memory page, bytes
	BootSize   uint32 // words reserved for the resident loader
	EEPROMSize uint32 // data memory, bytes
}

// ATmega128RFA1 is the part the loader was first built for: 128 KiB flash,
// 256-byte pages, a 4 Kword boot section and 4 KiB of EEPROM.
var ATmega128RFA1 = Geometry{
	FlashSize:  128 * 1024,
	PageSize:   256,
	BootSize:   4096,
	EEPROMSize: 4 * 1024,
}

// ProtectionBoundary returns the first program-memory byte address the loader
// may not erase, overwrite or expose unmasked.
func (g Geometry) ProtectionBoundary() uint32 {
	return g.FlashSize - 2*g.BootSize
}

// Pages returns the number of program-memory pages
func (g Geometry) Pages() int {
	if g.PageSize == 0 {
		return 0
	}
	return int(g.FlashSize / uint32(g.PageSize))
}

// PageStart returns the page-aligned byte address containing addr
func (g Geometry) PageStart(addr uint32) uint32 {
	return addr &^ (uint32(g.PageSize) - 1)
}

// Validate checks that the geometry describes a part the driver can handle
func (g Geometry) Validate() error {
	if g.PageSize < 2 || g.PageSize&(g.PageSize-1) != 0 {
		return fmt.Errorf("%w: page size %d is not an even power of two", ErrInvalidGeometry, g.PageSize)
	}
	if g.FlashSize == 0 || g.FlashSize%uint32(g.PageSize) != 0 {
		return fmt.Errorf("%w: flash size %d is not a multiple of the page size", ErrInvalidGeometry, g.FlashSize)
	}
	if g.FlashSize > 1<<17 {
		return fmt.Errorf("%w: flash size %d exceeds the 16-bit word address range", ErrInvalidGeometry, g.FlashSize)
	}
	if 2*g.BootSize >= g.FlashSize {
		return fmt.Errorf("%w: boot section (%d words) leaves no application space", ErrInvalidGeometry, g.BootSize)
	}
	if g.ProtectionBoundary()%uint32(g.PageSize) != 0 {
		return fmt.Errorf("%w: protection boundary 0x%05X is not page aligned", ErrInvalidGeometry, g.ProtectionBoundary())
	}
	if g.EEPROMSize == 0 || g.EEPROMSize > 1<<16 {
		return fmt.Errorf("%w: EEPROM size %d out of range", ErrInvalidGeometry, g.EEPROMSize)
	}
	return nil
}
