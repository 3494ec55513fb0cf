// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package nvm

import (
	"errors"
	"testing"
)

func TestProtectionBoundary(t *testing.T) {
	if got := ATmega128RFA1.ProtectionBoundary(); got != 0x1E000 {
		t.Errorf("ProtectionBoundary() = 0x%05X, want 0x1E000", got)
	}
	if got := testGeometry.ProtectionBoundary(); got != 3072 {
		t.Errorf("ProtectionBoundary() = %d, want 3072", got)
	}
}

func TestPageStart(t *testing.T) {
	tests := []struct {
		addr uint32
		want uint32
	}{
		{0x0000, 0x0000},
		{0x0020, 0x0000},
		{0x00FF, 0x0000},
		{0x0100, 0x0100},
		{0x1DFFE, 0x1DF00},
	}
	for _, tt := range tests {
		if got := ATmega128RFA1.PageStart(tt.addr); got != tt.want {
			t.Errorf("PageStart(0x%05X) = 0x%05X, want 0x%05X", tt.addr, got, tt.want)
		}
	}
}

func TestGeometryValidate(t *testing.T) {
	tests := []struct {
		name    string
		geo     Geometry
		wantErr bool
	}{
		{name: "atmega128rfa1", geo: ATmega128RFA1},
		{name: "small part", geo: testGeometry},
		{name: "odd page", geo: Geometry{FlashSize: 4096, PageSize: 63, BootSize: 512, EEPROMSize: 256}, wantErr: true},
		{name: "zero page", geo: Geometry{FlashSize: 4096, PageSize: 0, BootSize: 512, EEPROMSize: 256}, wantErr: true},
		{name: "flash not multiple of page", geo: Geometry{FlashSize: 4000, PageSize: 64, BootSize: 512, EEPROMSize: 256}, wantErr: true},
		{name: "flash beyond word range", geo: Geometry{FlashSize: 256 * 1024, PageSize: 256, BootSize: 4096, EEPROMSize: 4096}, wantErr: true},
		{name: "boot fills flash", geo: Geometry{FlashSize: 4096, PageSize: 64, BootSize: 2048, EEPROMSize: 256}, wantErr: true},
		{name: "unaligned boundary", geo: Geometry{FlashSize: 4096, PageSize: 64, BootSize: 500, EEPROMSize: 256}, wantErr: true},
		{name: "no eeprom", geo: Geometry{FlashSize: 4096, PageSize: 64, BootSize: 512}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.geo.Validate()
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidGeometry) {
					t.Errorf("Validate() = %v, want ErrInvalidGeometry", err)
				}
				return
			}
			if err != nil {
				t.Errorf("Validate() = %v", err)
			}
		})
	}
}

func TestNewDriver_RejectsInvalidGeometry(t *testing.T) {
	geo := Geometry{FlashSize: 4096, PageSize: 63, BootSize: 512, EEPROMSize: 256}
	if _, err := NewDriver(NewSim(testGeometry), geo, true); err == nil {
		t.Error("expected error for invalid geometry")
	}
}
