// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bootloader

import "github.com/Thermoquad/perihelion/pkg/avr109"

// Identity is what the loader reports about itself and the part
type Identity struct {
	SoftwareID     string
	Version        [2]byte
	ProgrammerType byte
	DeviceType     byte
	// Signature in datasheet order: manufacturer, family, part
	Signature [3]byte
}

// DefaultIdentity returns the identity of the ATmega128RFA1 loader
func DefaultIdentity() Identity {
	return Identity{
		SoftwareID:     avr109.SoftwareID,
		Version:        [2]byte{'0', '1'},
		ProgrammerType: avr109.RespSerial,
		DeviceType:     avr109.DeviceCodeBoot,
		Signature:      [3]byte{0x1E, 0xA7, 0x01},
	}
}

// SignatureResponse returns the signature in wire order (low, mid, high).
// Host tools expect the manufacturer byte last.
func (id Identity) SignatureResponse() []byte {
	return []byte{id.Signature[2], id.Signature[1], id.Signature[0]}
}

// VersionResponse returns the two ASCII version digits
func (id Identity) VersionResponse() []byte {
	return []byte{id.Version[0], id.Version[1]}
}

// SoftwareIDResponse returns the identification string bytes
func (id Identity) SoftwareIDResponse() []byte {
	return []byte(id.SoftwareID)
}

// DevicesResponse returns the supported-device list, terminated by zero
func (id Identity) DevicesResponse() []byte {
	return []byte{id.DeviceType, 0x00}
}
