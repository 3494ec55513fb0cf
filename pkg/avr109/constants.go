// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package avr109 is a Go implementation of the AVR109 ("butterfly") self
// programming protocol: the single-byte command alphabet spoken between a
// host programmer and a resident loader, and a host-side Programmer client.
//
// The protocol has no framing, no checksum and no versioning. Every command
// is one opcode byte, a fixed argument sequence and a fixed response, so
// byte values and byte orders here are the wire format and must not change.
package avr109

// Commands (host → loader)
const (
	CmdAutoIncrement    = 'a' // autoincrement support query
	CmdSetAddress       = 'A' // 2 bytes big-endian
	CmdBufferSupport    = 'b' // buffer load support query
	CmdBlockLoad        = 'B' // size (2, BE), memory tag, data
	CmdBlockRead        = 'g' // size (2, BE), memory tag
	CmdChipErase        = 'e'
	CmdExit             = 'E'
	CmdEnterProgMode    = 'P'
	CmdLeaveProgMode    = 'L'
	CmdProgrammerType   = 'p'
	CmdReadLowFuse      = 'F'
	CmdReadHighFuse     = 'N'
	CmdReadExtendedFuse = 'Q'
	CmdReadLockBits     = 'r'
	CmdSupportedDevices = 't'
	CmdSetLED           = 'x'
	CmdClearLED         = 'y'
	CmdSelectDevice     = 'T'
	CmdSoftwareID       = 'S'
	CmdSoftwareVersion  = 'V'
	CmdSignature        = 's'
	CmdEscape           = 0x1B
)

// Memory type tags for block commands
const (
	MemoryFlash  = 'F'
	MemoryEEPROM = 'E'
)

// Responses (loader → host)
const (
	RespOK           = '\r' // command accepted
	RespYes          = 'Y'
	RespUnknown      = '?'  // unrecognized opcode
	RespUnauthorized = 0x00 // device type not selected
	RespSerial       = 'S'  // programmer type: serial
)

// Entry and identification
const (
	// Sentinel keeps the loader resident when sent during the entry window
	Sentinel = 'S'

	// SoftwareID is the identification string and power-on greeting
	SoftwareID = "AVRBOOT"
	// SoftwareIDLen is the fixed length of every loader's identification
	SoftwareIDLen = len(SoftwareID)
)

// Device codes reported by the loader
const (
	DeviceCodeISP  = 0x43
	DeviceCodeBoot = 0x44
)
