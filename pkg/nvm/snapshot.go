// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package nvm

import (
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// snapshot is the CBOR layout of a saved part: a map with integer keys,
// matching the keyed-map style used on the wire elsewhere in Thermoquad.
type snapshot struct {
	FlashSize  uint32 `cbor:"0,keyasint"`
	PageSize   uint16 `cbor:"1,keyasint"`
	EEPROMSize uint32 `cbor:"2,keyasint"`
	Flash      []byte `cbor:"3,keyasint"`
	EEPROM     []byte `cbor:"4,keyasint"`
	FuseLow    uint8  `cbor:"5,keyasint"`
	FuseHigh   uint8  `cbor:"6,keyasint"`
	FuseExt    uint8  `cbor:"7,keyasint"`
	LockBits   uint8  `cbor:"8,keyasint"`
}

// SaveSnapshot writes the non-volatile contents of the part as CBOR
func (s *Sim) SaveSnapshot(w io.Writer) error {
	s.mu.Lock()
	snap := snapshot{
		FlashSize:  s.geo.FlashSize,
		PageSize:   s.geo.PageSize,
		EEPROMSize: s.geo.EEPROMSize,
		Flash:      append([]byte(nil), s.flash...),
		EEPROM:     append([]byte(nil), s.eeprom...),
		FuseLow:    s.fuses.Low,
		FuseHigh:   s.fuses.High,
		FuseExt:    s.fuses.Extended,
		LockBits:   s.fuses.Lock,
	}
	s.mu.Unlock()

	if err := cbor.NewEncoder(w).Encode(snap); err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot restores contents saved by SaveSnapshot. The snapshot must
// come from a part with the same geometry.
func (s *Sim) LoadSnapshot(r io.Reader) error {
	var snap snapshot
	if err := cbor.NewDecoder(r).Decode(&snap); err != nil {
		return fmt.Errorf("failed to decode snapshot: %w", err)
	}

	if snap.FlashSize != s.geo.FlashSize || snap.PageSize != s.geo.PageSize || snap.EEPROMSize != s.geo.EEPROMSize {
		return fmt.Errorf("%w: flash=%d page=%d eeprom=%d", ErrSnapshot, snap.FlashSize, snap.PageSize, snap.EEPROMSize)
	}
	if len(snap.Flash) != int(snap.FlashSize) || len(snap.EEPROM) != int(snap.EEPROMSize) {
		return fmt.Errorf("%w: truncated memory image", ErrSnapshot)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	copy(s.flash, snap.Flash)
	copy(s.eeprom, snap.EEPROM)
	s.fuses = Fuses{
		Low:      snap.FuseLow,
		High:     snap.FuseHigh,
		Extended: snap.FuseExt,
		Lock:     snap.LockBits,
	}
	return nil
}
