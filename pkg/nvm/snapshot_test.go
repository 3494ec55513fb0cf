// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package nvm

import (
	"bytes"
	"errors"
	"testing"
)

func TestSnapshot_RoundTrip(t *testing.T) {
	sim := NewSim(testGeometry)
	sim.Program(0x100, []byte{0xDE, 0xAD, 0xBE, 0xEF})
	sim.EEPROMWrite(7, 0x42)
	sim.SetFuses(Fuses{Low: 0x01, High: 0x02, Extended: 0x03, Lock: 0x04})

	var buf bytes.Buffer
	if err := sim.SaveSnapshot(&buf); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}

	restored := NewSim(testGeometry)
	if err := restored.LoadSnapshot(&buf); err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}

	if !bytes.Equal(restored.Flash(), sim.Flash()) {
		t.Error("flash contents differ after restore")
	}
	if !bytes.Equal(restored.EEPROM(), sim.EEPROM()) {
		t.Error("EEPROM contents differ after restore")
	}
	if restored.Fuses() != sim.Fuses() {
		t.Errorf("fuses = %+v, want %+v", restored.Fuses(), sim.Fuses())
	}
}

func TestSnapshot_GeometryMismatch(t *testing.T) {
	var buf bytes.Buffer
	if err := NewSim(testGeometry).SaveSnapshot(&buf); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}

	err := NewSim(ATmega128RFA1).LoadSnapshot(&buf)
	if !errors.Is(err, ErrSnapshot) {
		t.Errorf("LoadSnapshot() = %v, want ErrSnapshot", err)
	}
}

func TestSnapshot_Garbage(t *testing.T) {
	err := NewSim(testGeometry).LoadSnapshot(bytes.NewReader([]byte{0xFF, 0x00, 0x13}))
	if err == nil {
		t.Error("expected error decoding garbage")
	}
}
