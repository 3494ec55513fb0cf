// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package nvm

// SPM control register bits used by the driver
const (
	SPMEN  = 1 << 0 // store program memory enable
	PGERS  = 1 << 1 // page erase
	PGWRT  = 1 << 2 // page write
	BLBSET = 1 << 3 // boot lock bit set / fuse read
	RWWSRE = 1 << 4 // read-while-write section read enable
)

// FuseSelector is the Z-pointer value that picks a fuse or lock byte in the
// BLBSET|SPMEN read sequence.
type FuseSelector uint16

// Fuse and lock byte selectors
const (
	SelectLowFuse      FuseSelector = 0x0000
	SelectLockBits     FuseSelector = 0x0001
	SelectExtendedFuse FuseSelector = 0x0002
	SelectHighFuse     FuseSelector = 0x0003
)

// String returns the name of the selected byte
func (s FuseSelector) String() string {
	switch s {
	case SelectLowFuse:
		return "low fuse"
	case SelectLockBits:
		return "lock bits"
	case SelectExtendedFuse:
		return "extended fuse"
	case SelectHighFuse:
		return "high fuse"
	default:
		return "unknown"
	}
}

// Controller is the set of self-programming primitives a part exposes to its
// loader. Addresses are byte addresses. Implementations do not enforce the
// protection boundary; the Driver does.
type Controller interface {
	// PageErase starts erasing the page containing addr
	PageErase(addr uint32)
	// PageFill loads one little-endian word into the temporary page buffer
	// at the word position selected by addr
	PageFill(addr uint32, word uint16)
	// PageWrite starts committing the temporary page buffer to the page
	// containing addr
	PageWrite(addr uint32)
	// SPMBusy reports whether an erase or write is still in progress
	SPMBusy() bool
	// RWWEnable makes the read-while-write section readable again
	RWWEnable()
	// SetSPMControl stores mode into the SPM control register
	SetSPMControl(mode uint8)
	// LoadByte reads program memory (LPM). Directly after
	// SetSPMControl(BLBSET|SPMEN) it returns the fuse or lock byte selected
	// by addr instead.
	LoadByte(addr uint32) uint8
	// EEPROMWrite starts writing one EEPROM byte
	EEPROMWrite(addr uint16, b uint8)
	// EEPROMRead reads one EEPROM byte
	EEPROMRead(addr uint16) uint8
	// EEPROMBusy reports whether an EEPROM write is still in progress
	EEPROMBusy() bool
}
