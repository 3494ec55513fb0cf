// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package avr109

import (
	"fmt"
	"time"
)

// Request is one host command as seen on the wire
type Request struct {
	Opcode byte
	Args   []byte // fixed arguments
	Data   []byte // block load payload

	timestamp time.Time
}

// Timestamp returns when the last byte of the request was decoded
func (r *Request) Timestamp() time.Time {
	return r.timestamp
}

// Address returns the argument of a set address request
func (r *Request) Address() uint16 {
	if r.Opcode != CmdSetAddress || len(r.Args) < 2 {
		return 0
	}
	return uint16(r.Args[0])<<8 | uint16(r.Args[1])
}

// BlockSize returns the declared size of a block request
func (r *Request) BlockSize() int {
	if (r.Opcode != CmdBlockLoad && r.Opcode != CmdBlockRead) || len(r.Args) < 2 {
		return 0
	}
	return int(r.Args[0])<<8 | int(r.Args[1])
}

// Memory returns the memory tag of a block request
func (r *Request) Memory() byte {
	if len(r.Args) < 3 {
		return 0
	}
	return r.Args[2]
}

// Decoder states
const (
	stateOpcode = iota
	stateArgs
	stateData
)

// argLen returns the number of fixed argument bytes after op
func argLen(op byte) int {
	switch op {
	case CmdSetAddress:
		return 2
	case CmdBlockLoad, CmdBlockRead:
		return 3
	case CmdSelectDevice, CmdSetLED, CmdClearLED:
		return 1
	default:
		return 0
	}
}

// Decoder splits the host-to-loader byte stream into requests. It trusts
// the declared block size; a loader clamps oversize blocks to its buffer,
// so a decoder tapping such a session loses sync.
type Decoder struct {
	state int
	req   *Request
	need  int
}

// NewDecoder creates a request decoder
func NewDecoder() *Decoder {
	return &Decoder{state: stateOpcode}
}

// Reset drops any partial request
func (d *Decoder) Reset() {
	d.state = stateOpcode
	d.req = nil
	d.need = 0
}

// DecodeByte feeds one byte and returns a request once it is complete
func (d *Decoder) DecodeByte(b byte) *Request {
	switch d.state {
	case stateOpcode:
		d.req = &Request{Opcode: b}
		d.need = argLen(b)
		if d.need == 0 {
			return d.complete()
		}
		d.state = stateArgs

	case stateArgs:
		d.req.Args = append(d.req.Args, b)
		if len(d.req.Args) < d.need {
			return nil
		}
		if d.req.Opcode == CmdBlockLoad && d.req.BlockSize() > 0 {
			d.need = d.req.BlockSize()
			d.req.Data = make([]byte, 0, d.need)
			d.state = stateData
			return nil
		}
		return d.complete()

	case stateData:
		d.req.Data = append(d.req.Data, b)
		if len(d.req.Data) == d.need {
			return d.complete()
		}
	}
	return nil
}

func (d *Decoder) complete() *Request {
	req := d.req
	req.timestamp = time.Now()
	d.Reset()
	return req
}

// FormatRequest returns a one-line description of a request
func FormatRequest(r *Request) string {
	name := FormatCommand(r.Opcode)
	switch r.Opcode {
	case CmdSetAddress:
		return fmt.Sprintf("%s 0x%04X", name, r.Address())
	case CmdBlockLoad:
		preview := r.Data
		suffix := ""
		if len(preview) > 16 {
			preview = preview[:16]
			suffix = " ..."
		}
		return fmt.Sprintf("%s %d bytes %s: % X%s", name, r.BlockSize(), FormatMemory(r.Memory()), preview, suffix)
	case CmdBlockRead:
		return fmt.Sprintf("%s %d bytes %s", name, r.BlockSize(), FormatMemory(r.Memory()))
	case CmdSelectDevice, CmdSetLED, CmdClearLED:
		return fmt.Sprintf("%s 0x%02X", name, r.Args[0])
	case CmdEscape:
		return name
	}
	if name == "UNKNOWN" {
		return fmt.Sprintf("%s 0x%02X", name, r.Opcode)
	}
	return name
}
