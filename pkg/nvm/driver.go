// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package nvm

import (
	"fmt"
	"io"
)

// Driver sequences the Controller primitives into the page and byte
// operations the loader needs, and enforces the protection boundary.
type Driver struct {
	ctl      Controller
	geo      Geometry
	boundary uint32
	readMask bool
}

// NewDriver creates a driver for the given part. When readMask is set,
// program memory at or above the protection boundary reads back as Erased.
func NewDriver(ctl Controller, geo Geometry, readMask bool) (*Driver, error) {
	if err := geo.Validate(); err != nil {
		return nil, err
	}
	return &Driver{
		ctl:      ctl,
		geo:      geo,
		boundary: geo.ProtectionBoundary(),
		readMask: readMask,
	}, nil
}

// PageSize returns the program-memory page size in bytes
func (d *Driver) PageSize() int {
	return int(d.geo.PageSize)
}

// Boundary returns the protection boundary byte address
func (d *Driver) Boundary() uint32 {
	return d.boundary
}

// Geometry returns the part geometry
func (d *Driver) Geometry() Geometry {
	return d.geo
}

// ReadMask reports whether reads above the boundary are masked
func (d *Driver) ReadMask() bool {
	return d.readMask
}

func (d *Driver) flashAddr(waddr uint16) uint32 {
	return (uint32(waddr) << 1) % d.geo.FlashSize
}

// waitSPM spins until the controller finishes. There is no timeout: a stuck
// controller stalls the loader rather than leaving a page half-written.
func (d *Driver) waitSPM() {
	for d.ctl.SPMBusy() {
	}
}

// WriteFlashPage fills the temporary page buffer with data starting at word
// address waddr and commits every page the data touches. An odd trailing
// byte is paired with Erased. A block that runs into the protected section
// commits the pages below the boundary and returns ErrProtected for the
// rest. The returned word address is advanced past the data even when
// pages are refused.
func (d *Driver) WriteFlashPage(waddr uint16, data []byte) (uint16, error) {
	words := (len(data) + 1) / 2
	next := waddr + uint16(words)
	if words == 0 {
		return next, nil
	}

	pageSize := uint32(d.geo.PageSize)
	baddr := d.flashAddr(waddr)
	pageStart := d.geo.PageStart(baddr)
	if pageStart >= d.boundary {
		return next, fmt.Errorf("write at 0x%05X: %w", pageStart, ErrProtected)
	}

	for i := 0; i < words; i++ {
		if i > 0 && baddr%pageSize == 0 {
			d.commitPage(pageStart)
			pageStart = baddr
			if pageStart >= d.boundary {
				return next, fmt.Errorf("write at 0x%05X: %w", pageStart, ErrProtected)
			}
		}

		lo := data[2*i]
		hi := uint8(Erased)
		if 2*i+1 < len(data) {
			hi = data[2*i+1]
		}
		d.ctl.PageFill(baddr, uint16(lo)|uint16(hi)<<8)
		baddr = (baddr + 2) % d.geo.FlashSize
	}
	d.commitPage(pageStart)

	return next, nil
}

// commitPage writes the temporary buffer to the page at pageStart and makes
// the read-while-write section readable again
func (d *Driver) commitPage(pageStart uint32) {
	d.ctl.PageWrite(pageStart)
	d.waitSPM()
	d.ctl.RWWEnable()
}

// EraseApplication erases every page below the protection boundary
func (d *Driver) EraseApplication() {
	for addr := uint32(0); addr < d.boundary; addr += uint32(d.geo.PageSize) {
		d.ctl.PageErase(addr)
		d.waitSPM()
	}
	d.ctl.RWWEnable()
}

// WriteEEPROM writes data byte by byte from addr and returns the advanced
// address. Each byte waits for the previous write to finish, but the last
// write may still be in progress when WriteEEPROM returns.
func (d *Driver) WriteEEPROM(addr uint16, data []byte) uint16 {
	for _, b := range data {
		for d.ctl.EEPROMBusy() {
		}
		d.ctl.EEPROMWrite(addr, b)
		addr++
	}
	return addr
}

// ReadFlash streams n bytes of program memory starting at word address waddr
// and returns the word address following the last word touched.
func (d *Driver) ReadFlash(w io.ByteWriter, waddr uint16, n int) (uint16, error) {
	baddr := d.flashAddr(waddr)
	for i := 0; i < n; i++ {
		addr := (baddr + uint32(i)) % d.geo.FlashSize
		b := uint8(Erased)
		if !d.readMask || addr < d.boundary {
			b = d.ctl.LoadByte(addr)
		}
		if err := w.WriteByte(b); err != nil {
			return waddr + uint16((i+1)/2), err
		}
	}
	return waddr + uint16((n+1)/2), nil
}

// ReadEEPROM streams n EEPROM bytes starting at addr and returns the
// advanced address.
func (d *Driver) ReadEEPROM(w io.ByteWriter, addr uint16, n int) (uint16, error) {
	for i := 0; i < n; i++ {
		if err := w.WriteByte(d.ctl.EEPROMRead(addr)); err != nil {
			return addr, err
		}
		addr++
	}
	return addr, nil
}

// ReadFuseOrLock reads a fuse or lock byte through the BLBSET|SPMEN sequence
func (d *Driver) ReadFuseOrLock(sel FuseSelector) uint8 {
	d.ctl.SetSPMControl(BLBSET | SPMEN)
	return d.ctl.LoadByte(uint32(sel))
}
