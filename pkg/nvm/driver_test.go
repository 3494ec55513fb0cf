// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package nvm

import (
	"bytes"
	"errors"
	"math/rand"
	"os"
	"strconv"
	"testing"
	"time"
)

// testGeometry is a small part so erase tests stay fast: 4 KiB flash in
// 64-byte pages, 512-word boot section, 256 bytes of EEPROM.
var testGeometry = Geometry{
	FlashSize:  4096,
	PageSize:   64,
	BootSize:   512,
	EEPROMSize: 256,
}

func newTestDriver(t *testing.T, readMask bool) (*Driver, *Sim) {
	t.Helper()
	sim := NewSim(testGeometry)
	d, err := NewDriver(sim, testGeometry, readMask)
	if err != nil {
		t.Fatalf("NewDriver: %v", err)
	}
	return d, sim
}

func readFlash(t *testing.T, d *Driver, waddr uint16, n int) ([]byte, uint16) {
	t.Helper()
	var buf bytes.Buffer
	next, err := d.ReadFlash(&buf, waddr, n)
	if err != nil {
		t.Fatalf("ReadFlash: %v", err)
	}
	return buf.Bytes(), next
}

func TestWriteFlashPage_RoundTrip(t *testing.T) {
	d, _ := newTestDriver(t, true)
	data := []byte{0x0C, 0x94, 0x34, 0x00, 0x0C, 0x94, 0x51, 0x00}

	next, err := d.WriteFlashPage(0x0010, data)
	if err != nil {
		t.Fatalf("WriteFlashPage: %v", err)
	}
	if next != 0x0014 {
		t.Errorf("next address = 0x%04X, want 0x0014", next)
	}

	got, after := readFlash(t, d, 0x0010, 16)
	want := append(append([]byte(nil), data...), bytes.Repeat([]byte{Erased}, 8)...)
	if !bytes.Equal(got, want) {
		t.Errorf("read back % X, want % X", got, want)
	}
	if after != 0x0018 {
		t.Errorf("address after read = 0x%04X, want 0x0018", after)
	}
}

func TestWriteFlashPage_OddLength(t *testing.T) {
	d, _ := newTestDriver(t, true)

	next, err := d.WriteFlashPage(0, []byte{0x11, 0x22, 0x33})
	if err != nil {
		t.Fatalf("WriteFlashPage: %v", err)
	}
	if next != 2 {
		t.Errorf("next address = %d, want 2", next)
	}
	got, _ := readFlash(t, d, 0, 4)
	if !bytes.Equal(got, []byte{0x11, 0x22, 0x33, Erased}) {
		t.Errorf("read back % X", got)
	}
}

func TestWriteFlashPage_Empty(t *testing.T) {
	d, sim := newTestDriver(t, true)

	next, err := d.WriteFlashPage(0x20, nil)
	if err != nil {
		t.Fatalf("WriteFlashPage: %v", err)
	}
	if next != 0x20 {
		t.Errorf("next address = 0x%04X, want 0x0020", next)
	}
	if sim.Stats().PageWrites != 0 {
		t.Error("empty write must not commit a page")
	}
}

func TestWriteFlashPage_Protected(t *testing.T) {
	d, sim := newTestDriver(t, false)
	before := sim.Flash()
	waddr := uint16(d.Boundary() / 2)

	next, err := d.WriteFlashPage(waddr, []byte{0x00, 0x00, 0x00, 0x00})
	if !errors.Is(err, ErrProtected) {
		t.Fatalf("expected ErrProtected, got %v", err)
	}
	if next != waddr+2 {
		t.Errorf("next address = 0x%04X, want 0x%04X", next, waddr+2)
	}
	if !bytes.Equal(sim.Flash(), before) {
		t.Error("protected page was modified")
	}
	if sim.Stats().PageWrites != 0 {
		t.Error("protected page was committed")
	}
}

func TestWriteFlashPage_LastApplicationPage(t *testing.T) {
	d, _ := newTestDriver(t, true)
	waddr := uint16((d.Boundary() - uint32(d.PageSize())) / 2)

	if _, err := d.WriteFlashPage(waddr, []byte{0xAA, 0x55}); err != nil {
		t.Fatalf("last page below the boundary must be writable: %v", err)
	}
	got, _ := readFlash(t, d, waddr, 2)
	if !bytes.Equal(got, []byte{0xAA, 0x55}) {
		t.Errorf("read back % X", got)
	}
}

func TestWriteFlashPage_CrossesPageEnd(t *testing.T) {
	d, sim := newTestDriver(t, true)
	pageWords := uint16(testGeometry.PageSize / 2)
	waddr := pageWords - 1

	next, err := d.WriteFlashPage(waddr, []byte{0xAA, 0xBB, 0xCC, 0xDD})
	if err != nil {
		t.Fatalf("WriteFlashPage: %v", err)
	}
	if next != waddr+2 {
		t.Errorf("next address = 0x%04X, want 0x%04X", next, waddr+2)
	}
	if sim.Stats().PageWrites != 2 {
		t.Errorf("page writes = %d, want 2", sim.Stats().PageWrites)
	}

	got, _ := readFlash(t, d, waddr, 4)
	if !bytes.Equal(got, []byte{0xAA, 0xBB, 0xCC, 0xDD}) {
		t.Errorf("read back % X, want AA BB CC DD", got)
	}
	// The tail must land in the next page, not wrap into this one
	head, _ := readFlash(t, d, 0, 2)
	if !bytes.Equal(head, []byte{Erased, Erased}) {
		t.Errorf("page head = % X, want erased", head)
	}
}

func TestWriteFlashPage_CrossesIntoProtected(t *testing.T) {
	d, sim := newTestDriver(t, false)
	before := sim.Flash()
	boundary := d.Boundary()
	waddr := uint16(boundary/2) - 1

	next, err := d.WriteFlashPage(waddr, []byte{0x11, 0x22, 0x33, 0x44})
	if !errors.Is(err, ErrProtected) {
		t.Fatalf("expected ErrProtected, got %v", err)
	}
	if next != waddr+2 {
		t.Errorf("next address = 0x%04X, want 0x%04X", next, waddr+2)
	}

	flash := sim.Flash()
	if !bytes.Equal(flash[boundary-2:boundary], []byte{0x11, 0x22}) {
		t.Errorf("last application word = % X, want 11 22", flash[boundary-2:boundary])
	}
	if !bytes.Equal(flash[boundary:], before[boundary:]) {
		t.Error("protected section was modified")
	}
	if sim.Stats().PageWrites != 1 {
		t.Errorf("page writes = %d, want 1", sim.Stats().PageWrites)
	}
}

func TestWriteFlashPage_ReenablesRWW(t *testing.T) {
	d, sim := newTestDriver(t, true)
	if _, err := d.WriteFlashPage(0, []byte{0x01, 0x02}); err != nil {
		t.Fatalf("WriteFlashPage: %v", err)
	}
	if sim.RWWBusy() {
		t.Error("RWW section still disabled after write")
	}
}

func TestWriteFlashPage_WithoutRWWEnableReadsErased(t *testing.T) {
	sim := NewSim(testGeometry)
	sim.PageFill(0, 0x1234)
	sim.PageWrite(0)
	for sim.SPMBusy() {
	}
	if got := sim.LoadByte(0); got != Erased {
		t.Errorf("RWW read before re-enable = 0x%02X, want 0x%02X", got, Erased)
	}
	sim.RWWEnable()
	if got := sim.LoadByte(0); got != 0x34 {
		t.Errorf("RWW read after re-enable = 0x%02X, want 0x34", got)
	}
}

func TestEraseApplication(t *testing.T) {
	d, sim := newTestDriver(t, false)
	sim.Program(0, make([]byte, testGeometry.FlashSize))

	d.EraseApplication()

	flash := sim.Flash()
	boundary := d.Boundary()
	for addr, b := range flash {
		if uint32(addr) < boundary && b != Erased {
			t.Fatalf("byte 0x%05X = 0x%02X after erase, want erased", addr, b)
		}
		if uint32(addr) >= boundary && b != 0x00 {
			t.Fatalf("protected byte 0x%05X = 0x%02X, erase crossed the boundary", addr, b)
		}
	}

	wantPages := int(boundary / uint32(testGeometry.PageSize))
	if got := sim.Stats().PageErases; got != wantPages {
		t.Errorf("page erases = %d, want %d", got, wantPages)
	}
	if sim.RWWBusy() {
		t.Error("RWW section still disabled after erase")
	}
}

func TestReadFlash_Mask(t *testing.T) {
	tests := []struct {
		name     string
		readMask bool
		want     byte
	}{
		{name: "masked", readMask: true, want: Erased},
		{name: "unmasked", readMask: false, want: 0xAB},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, sim := newTestDriver(t, tt.readMask)
			boundary := d.Boundary()
			sim.Program(boundary, bytes.Repeat([]byte{0xAB}, int(testGeometry.FlashSize-boundary)))

			got, _ := readFlash(t, d, uint16(boundary/2), 8)
			for i, b := range got {
				if b != tt.want {
					t.Errorf("byte %d = 0x%02X, want 0x%02X", i, b, tt.want)
				}
			}
		})
	}
}

func TestReadFlash_StraddlesBoundary(t *testing.T) {
	d, sim := newTestDriver(t, true)
	boundary := d.Boundary()
	sim.Program(boundary-2, []byte{0x01, 0x02, 0x03, 0x04})

	got, _ := readFlash(t, d, uint16((boundary-2)/2), 4)
	if !bytes.Equal(got, []byte{0x01, 0x02, Erased, Erased}) {
		t.Errorf("read % X across boundary", got)
	}
}

func TestWriteEEPROM(t *testing.T) {
	d, sim := newTestDriver(t, true)
	data := []byte("thermoquad")

	next := d.WriteEEPROM(0x10, data)
	if next != 0x10+uint16(len(data)) {
		t.Errorf("next address = 0x%04X", next)
	}

	// the last byte is still being written when WriteEEPROM returns
	if !sim.EEPROMBusy() {
		t.Error("expected the final EEPROM write to still be pending")
	}

	var buf bytes.Buffer
	after, err := d.ReadEEPROM(&buf, 0x10, len(data))
	if err != nil {
		t.Fatalf("ReadEEPROM: %v", err)
	}
	if !bytes.Equal(buf.Bytes(), data) {
		t.Errorf("read back %q, want %q", buf.Bytes(), data)
	}
	if after != next {
		t.Errorf("address after read = 0x%04X, want 0x%04X", after, next)
	}
	if dropped := sim.Stats().DroppedWrites; dropped != 0 {
		t.Errorf("%d EEPROM writes were dropped", dropped)
	}
}

func TestEEPROMBackToBackWritesWithoutWaitAreLost(t *testing.T) {
	sim := NewSim(testGeometry)
	sim.EEPROMWrite(0, 0x01)
	sim.EEPROMWrite(1, 0x02)

	if sim.EEPROMRead(1) != Erased {
		t.Error("second write should have been lost while the first was busy")
	}
	if sim.Stats().DroppedWrites != 1 {
		t.Errorf("dropped writes = %d, want 1", sim.Stats().DroppedWrites)
	}
}

func TestReadFuseOrLock(t *testing.T) {
	d, sim := newTestDriver(t, true)
	sim.SetFuses(Fuses{Low: 0x62, High: 0x99, Extended: 0xFF, Lock: 0xEC})

	tests := []struct {
		sel  FuseSelector
		want uint8
	}{
		{SelectLowFuse, 0x62},
		{SelectHighFuse, 0x99},
		{SelectExtendedFuse, 0xFF},
		{SelectLockBits, 0xEC},
	}

	for _, tt := range tests {
		t.Run(tt.sel.String(), func(t *testing.T) {
			if got := d.ReadFuseOrLock(tt.sel); got != tt.want {
				t.Errorf("ReadFuseOrLock(%s) = 0x%02X, want 0x%02X", tt.sel, got, tt.want)
			}
		})
	}
}

func TestFuseModeIsOneShot(t *testing.T) {
	d, sim := newTestDriver(t, true)
	sim.Program(0, []byte{0x5A})

	d.ReadFuseOrLock(SelectLowFuse)
	if got := sim.LoadByte(0); got != 0x5A {
		t.Errorf("LoadByte after fuse read = 0x%02X, want program memory 0x5A", got)
	}
}

func getFuzzRounds() int {
	if envRounds := os.Getenv("FUZZ_ROUNDS"); envRounds != "" {
		if rounds, err := strconv.Atoi(envRounds); err == nil && rounds > 0 {
			return rounds
		}
	}
	return 200
}

func newFuzzRng(t *testing.T) *rand.Rand {
	seed := time.Now().UnixNano()
	if envSeed := os.Getenv("FUZZ_SEED"); envSeed != "" {
		if s, err := strconv.ParseInt(envSeed, 10, 64); err == nil {
			seed = s
		}
	}
	t.Logf("Seed: %d (reproduce with FUZZ_SEED=%d)", seed, seed)
	return rand.New(rand.NewSource(seed))
}

func TestFuzz_PageWriteRoundTrip(t *testing.T) {
	rng := newFuzzRng(t)
	d, _ := newTestDriver(t, true)
	pages := int(d.Boundary()) / d.PageSize()

	for round := 0; round < getFuzzRounds(); round++ {
		page := rng.Intn(pages)
		size := 1 + rng.Intn(d.PageSize())
		data := make([]byte, size)
		rng.Read(data)

		waddr := uint16(page * d.PageSize() / 2)
		if _, err := d.WriteFlashPage(waddr, data); err != nil {
			t.Fatalf("round %d: WriteFlashPage: %v", round, err)
		}

		got, _ := readFlash(t, d, waddr, d.PageSize())
		if !bytes.Equal(got[:size], data) {
			t.Fatalf("round %d: page %d read back mismatch", round, page)
		}
		for i := size; i < len(got); i++ {
			if got[i] != Erased {
				t.Fatalf("round %d: tail byte %d = 0x%02X, want erased", round, i, got[i])
			}
		}
	}
}
