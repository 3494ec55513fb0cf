// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package avr109

import (
	"fmt"
	"strings"
)

// FormatCommand returns a human-readable name for an opcode
func FormatCommand(op byte) string {
	switch op {
	case CmdAutoIncrement:
		return "AUTOINCREMENT_QUERY"
	case CmdSetAddress:
		return "SET_ADDRESS"
	case CmdBufferSupport:
		return "BUFFER_SUPPORT_QUERY"
	case CmdBlockLoad:
		return "BLOCK_LOAD"
	case CmdBlockRead:
		return "BLOCK_READ"
	case CmdChipErase:
		return "CHIP_ERASE"
	case CmdExit:
		return "EXIT"
	case CmdEnterProgMode:
		return "ENTER_PROG_MODE"
	case CmdLeaveProgMode:
		return "LEAVE_PROG_MODE"
	case CmdProgrammerType:
		return "PROGRAMMER_TYPE"
	case CmdReadLowFuse:
		return "READ_LOW_FUSE"
	case CmdReadHighFuse:
		return "READ_HIGH_FUSE"
	case CmdReadExtendedFuse:
		return "READ_EXTENDED_FUSE"
	case CmdReadLockBits:
		return "READ_LOCK_BITS"
	case CmdSupportedDevices:
		return "SUPPORTED_DEVICES"
	case CmdSetLED:
		return "SET_LED"
	case CmdClearLED:
		return "CLEAR_LED"
	case CmdSelectDevice:
		return "SELECT_DEVICE"
	case CmdSoftwareID:
		return "SOFTWARE_ID"
	case CmdSoftwareVersion:
		return "SOFTWARE_VERSION"
	case CmdSignature:
		return "SIGNATURE"
	case CmdEscape:
		return "ESCAPE"
	default:
		return "UNKNOWN"
	}
}

// FormatMemory returns a human-readable name for a memory tag
func FormatMemory(tag byte) string {
	switch tag {
	case MemoryFlash:
		return "flash"
	case MemoryEEPROM:
		return "eeprom"
	default:
		return fmt.Sprintf("unknown(0x%02X)", tag)
	}
}

// ParseMemory maps a memory name to its tag
func ParseMemory(name string) (byte, error) {
	switch strings.ToLower(name) {
	case "flash", "f":
		return MemoryFlash, nil
	case "eeprom", "e":
		return MemoryEEPROM, nil
	default:
		return 0, fmt.Errorf("unknown memory %q (use flash or eeprom)", name)
	}
}

// HexDump formats data as 16-byte rows prefixed with byte addresses
// starting at base, with an ASCII column.
func HexDump(base uint32, data []byte) string {
	var s strings.Builder
	for off := 0; off < len(data); off += 16 {
		end := off + 16
		if end > len(data) {
			end = len(data)
		}
		row := data[off:end]

		s.WriteString(fmt.Sprintf("%06X  ", base+uint32(off)))
		for i := 0; i < 16; i++ {
			if i < len(row) {
				s.WriteString(fmt.Sprintf("%02X ", row[i]))
			} else {
				s.WriteString("   ")
			}
			if i == 7 {
				s.WriteString(" ")
			}
		}
		s.WriteString(" |")
		for _, b := range row {
			if b >= 0x20 && b < 0x7F {
				s.WriteByte(b)
			} else {
				s.WriteByte('.')
			}
		}
		s.WriteString("|\n")
	}
	return s.String()
}
