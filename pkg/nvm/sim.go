// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package nvm

import "sync"

// Fuses holds the fuse and lock bytes of a part
type Fuses struct {
	Low      uint8
	High     uint8
	Extended uint8
	Lock     uint8
}

// DefaultFuses is a loader-friendly fuse set: boot reset vector enabled with
// a 4 Kword boot section, no lock bits programmed.
var DefaultFuses = Fuses{
	Low:      0xF6,
	High:     0x98,
	Extended: 0xFE,
	Lock:     0xFF,
}

// Sim is a simulated part implementing Controller. Erase and write take
// latency busy polls to complete; while a self-programming operation is
// pending, the read-while-write section reads as Erased until RWWEnable.
//
// Sim is safe for concurrent use so monitors can inspect it while a loader
// is running.
type Sim struct {
	mu sync.Mutex

	geo    Geometry
	flash  []byte
	eeprom []byte
	page   []byte
	fuses  Fuses

	spmcr   uint8
	spmBusy int
	eeBusy  int
	rwwBusy bool
	latency int

	pageErases    int
	pageWrites    int
	eepromWrites  int
	droppedWrites int
}

// NewSim creates an erased part with DefaultFuses
func NewSim(geo Geometry) *Sim {
	s := &Sim{
		geo:     geo,
		flash:   make([]byte, geo.FlashSize),
		eeprom:  make([]byte, geo.EEPROMSize),
		page:    make([]byte, geo.PageSize),
		fuses:   DefaultFuses,
		latency: 2,
	}
	fill(s.flash, Erased)
	fill(s.eeprom, Erased)
	fill(s.page, Erased)
	return s
}

func fill(b []byte, v byte) {
	for i := range b {
		b[i] = v
	}
}

// SetLatency sets how many busy polls an erase, page write or EEPROM write
// takes to complete.
func (s *Sim) SetLatency(polls int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latency = polls
}

// SetFuses replaces the fuse and lock bytes
func (s *Sim) SetFuses(f Fuses) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fuses = f
}

// Fuses returns the fuse and lock bytes
func (s *Sim) Fuses() Fuses {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fuses
}

// Geometry returns the simulated part's geometry
func (s *Sim) Geometry() Geometry {
	return s.geo
}

// Flash returns a copy of program memory
func (s *Sim) Flash() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.flash...)
}

// EEPROM returns a copy of data memory
func (s *Sim) EEPROM() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.eeprom...)
}

// Program writes raw bytes into program memory, bypassing the
// self-programming path. Used to seed a part with an application or loader.
func (s *Sim) Program(addr uint32, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, b := range data {
		s.flash[(addr+uint32(i))%s.geo.FlashSize] = b
	}
}

// SimStats counts the operations a Sim has performed
type SimStats struct {
	PageErases    int
	PageWrites    int
	EEPROMWrites  int
	DroppedWrites int // EEPROM writes issued while a previous write was busy
}

// Stats returns operation counters
func (s *Sim) Stats() SimStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SimStats{
		PageErases:    s.pageErases,
		PageWrites:    s.pageWrites,
		EEPROMWrites:  s.eepromWrites,
		DroppedWrites: s.droppedWrites,
	}
}

// RWWBusy reports whether the read-while-write section is still disabled
func (s *Sim) RWWBusy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rwwBusy
}

func (s *Sim) inRWW(addr uint32) bool {
	return addr < s.geo.ProtectionBoundary()
}

// PageErase implements Controller
func (s *Sim) PageErase(addr uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	start := s.geo.PageStart(addr % s.geo.FlashSize)
	fill(s.flash[start:start+uint32(s.geo.PageSize)], Erased)
	s.spmBusy = s.latency
	s.pageErases++
	if s.inRWW(start) {
		s.rwwBusy = true
	}
}

// PageFill implements Controller
func (s *Sim) PageFill(addr uint32, word uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := (addr % uint32(s.geo.PageSize)) &^ 1
	s.page[idx] = uint8(word)
	s.page[idx+1] = uint8(word >> 8)
}

// PageWrite implements Controller
func (s *Sim) PageWrite(addr uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	start := s.geo.PageStart(addr % s.geo.FlashSize)
	copy(s.flash[start:start+uint32(s.geo.PageSize)], s.page)
	fill(s.page, Erased)
	s.spmBusy = s.latency
	s.pageWrites++
	if s.inRWW(start) {
		s.rwwBusy = true
	}
}

// SPMBusy implements Controller
func (s *Sim) SPMBusy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.spmBusy > 0 {
		s.spmBusy--
		return true
	}
	return false
}

// RWWEnable implements Controller
func (s *Sim) RWWEnable() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.spmBusy == 0 {
		s.rwwBusy = false
	}
}

// SetSPMControl implements Controller
func (s *Sim) SetSPMControl(mode uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spmcr = mode
}

// LoadByte implements Controller
func (s *Sim) LoadByte(addr uint32) uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.spmcr == BLBSET|SPMEN {
		s.spmcr = 0
		switch FuseSelector(addr) {
		case SelectLowFuse:
			return s.fuses.Low
		case SelectLockBits:
			return s.fuses.Lock
		case SelectExtendedFuse:
			return s.fuses.Extended
		case SelectHighFuse:
			return s.fuses.High
		}
		return Erased
	}

	addr %= s.geo.FlashSize
	if s.rwwBusy && s.inRWW(addr) {
		return Erased
	}
	return s.flash[addr]
}

// EEPROMWrite implements Controller. A write issued while the previous one
// is still busy is lost.
func (s *Sim) EEPROMWrite(addr uint16, b uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.eeBusy > 0 {
		s.droppedWrites++
		return
	}
	s.eeprom[uint32(addr)%s.geo.EEPROMSize] = b
	s.eeBusy = s.latency
	s.eepromWrites++
}

// EEPROMRead implements Controller
func (s *Sim) EEPROMRead(addr uint16) uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eeprom[uint32(addr)%s.geo.EEPROMSize]
}

// EEPROMBusy implements Controller
func (s *Sim) EEPROMBusy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.eeBusy > 0 {
		s.eeBusy--
		return true
	}
	return false
}
