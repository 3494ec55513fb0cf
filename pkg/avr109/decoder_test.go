// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package avr109

import (
	"bytes"
	"strings"
	"testing"
)

func decodeAll(d *Decoder, stream []byte) []*Request {
	var reqs []*Request
	for _, b := range stream {
		if r := d.DecodeByte(b); r != nil {
			reqs = append(reqs, r)
		}
	}
	return reqs
}

func TestDecoder_Session(t *testing.T) {
	stream := []byte{
		CmdSoftwareID,
		CmdSelectDevice, DeviceCodeBoot,
		CmdSetAddress, 0x00, 0x10,
		CmdBlockLoad, 0x00, 0x04, MemoryFlash, 0x0C, 0x94, 0x34, 0x00,
		CmdBlockRead, 0x00, 0x10, MemoryFlash,
		CmdExit,
	}

	reqs := decodeAll(NewDecoder(), stream)
	if len(reqs) != 6 {
		t.Fatalf("decoded %d requests, want 6", len(reqs))
	}

	want := []string{
		"SOFTWARE_ID",
		"SELECT_DEVICE 0x44",
		"SET_ADDRESS 0x0010",
		"BLOCK_LOAD 4 bytes flash: 0C 94 34 00",
		"BLOCK_READ 16 bytes flash",
		"EXIT",
	}
	for i, r := range reqs {
		if got := FormatRequest(r); got != want[i] {
			t.Errorf("request %d = %q, want %q", i, got, want[i])
		}
		if r.Timestamp().IsZero() {
			t.Errorf("request %d has no timestamp", i)
		}
	}

	if reqs[2].Address() != 0x0010 {
		t.Errorf("Address() = 0x%04X", reqs[2].Address())
	}
	if !bytes.Equal(reqs[3].Data, []byte{0x0C, 0x94, 0x34, 0x00}) {
		t.Errorf("Data = % X", reqs[3].Data)
	}
}

func TestDecoder_ZeroSizeBlock(t *testing.T) {
	reqs := decodeAll(NewDecoder(), []byte{CmdBlockLoad, 0x00, 0x00, MemoryEEPROM, CmdSignature})
	if len(reqs) != 2 {
		t.Fatalf("decoded %d requests, want 2", len(reqs))
	}
	if reqs[0].BlockSize() != 0 || reqs[0].Memory() != MemoryEEPROM {
		t.Errorf("unexpected block request %+v", reqs[0])
	}
	if reqs[1].Opcode != CmdSignature {
		t.Errorf("second request = %s", FormatCommand(reqs[1].Opcode))
	}
}

func TestDecoder_LongBlockPreview(t *testing.T) {
	data := bytes.Repeat([]byte{0xAB}, 40)
	stream := append([]byte{CmdBlockLoad, 0x00, 40, MemoryFlash}, data...)

	reqs := decodeAll(NewDecoder(), stream)
	if len(reqs) != 1 {
		t.Fatalf("decoded %d requests, want 1", len(reqs))
	}
	if s := FormatRequest(reqs[0]); !strings.HasSuffix(s, " ...") {
		t.Errorf("preview not truncated: %q", s)
	}
}

func TestDecoder_Reset(t *testing.T) {
	d := NewDecoder()
	d.DecodeByte(CmdSetAddress)
	d.DecodeByte(0x12)
	d.Reset()

	r := d.DecodeByte('Z')
	if r == nil || FormatRequest(r) != "UNKNOWN 0x5A" {
		t.Errorf("after reset got %v", r)
	}
}
