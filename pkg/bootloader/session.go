// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bootloader

// Session is the loader's register file for one power cycle. Address counts
// words for flash commands and bytes for EEPROM commands; which one applies
// is decided by the memory tag of each command.
type Session struct {
	Address    uint16
	DeviceType byte
	Buffer     *PageBuffer
}

// NewSession returns a zeroed session with a buffer of one page
func NewSession(pageSize int) *Session {
	return &Session{Buffer: NewPageBuffer(pageSize)}
}
