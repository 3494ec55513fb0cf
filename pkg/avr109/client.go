// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package avr109

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/golang/glog"

	"github.com/Thermoquad/perihelion/pkg/nvm"
)

// DefaultTimeout bounds the wait for each response byte
const DefaultTimeout = time.Second

// Link is the byte transport a Programmer talks over. *transport.Port
// implements it.
type Link interface {
	io.ByteWriter
	ReceiveByte(ctx context.Context) (byte, error)
	Flush() error
	Drain() int
}

// Programmer is the host side of the protocol. It is not safe for
// concurrent use; the protocol allows one command in flight.
type Programmer struct {
	link    Link
	timeout time.Duration

	// EnterAttempts is how many times Enter sends the sentinel before
	// giving up
	EnterAttempts int

	bufSize int
}

// NewProgrammer creates a programmer. A zero timeout selects
// DefaultTimeout.
func NewProgrammer(link Link, timeout time.Duration) *Programmer {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Programmer{
		link:          link,
		timeout:       timeout,
		EnterAttempts: 10,
	}
}

func (p *Programmer) send(bs ...byte) error {
	for _, b := range bs {
		if err := p.link.WriteByte(b); err != nil {
			return err
		}
	}
	return p.link.Flush()
}

func (p *Programmer) recv(ctx context.Context) (byte, error) {
	ctx, cancel := context.WithTimeoutCause(ctx, p.timeout, ErrTimeout)
	defer cancel()
	return p.link.ReceiveByte(ctx)
}

func (p *Programmer) recvN(ctx context.Context, n int) ([]byte, error) {
	buf := make([]byte, n)
	for i := range buf {
		b, err := p.recv(ctx)
		if err != nil {
			return nil, err
		}
		buf[i] = b
	}
	return buf, nil
}

// command sends an opcode with its arguments and checks a one-byte answer
func (p *Programmer) command(ctx context.Context, want byte, op byte, args ...byte) error {
	if glog.V(1) {
		glog.Infof("-> %s % X", FormatCommand(op), args)
	}
	if err := p.send(append([]byte{op}, args...)...); err != nil {
		return err
	}
	got, err := p.recv(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", FormatCommand(op), err)
	}
	if got != want {
		return &ResponseError{Command: op, Got: got, Want: want}
	}
	return nil
}

// query sends an opcode and reads an n-byte answer
func (p *Programmer) query(ctx context.Context, op byte, n int) ([]byte, error) {
	if glog.V(1) {
		glog.Infof("-> %s", FormatCommand(op))
	}
	if err := p.send(op); err != nil {
		return nil, err
	}
	data, err := p.recvN(ctx, n)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", FormatCommand(op), err)
	}
	return data, nil
}

// Enter sends the sentinel until the loader answers with its software ID.
// It works both inside the entry window and when the loader is already
// resident, where the sentinel doubles as the software ID command.
func (p *Programmer) Enter(ctx context.Context) (string, error) {
	attempts := max(p.EnterAttempts, 1)
	var err error
	for i := 0; i < attempts; i++ {
		var id []byte
		if id, err = p.query(ctx, Sentinel, SoftwareIDLen); err == nil {
			glog.V(1).Infof("loader entered after %d attempt(s)", i+1)
			return string(id), nil
		}
		if !errors.Is(err, ErrTimeout) {
			return "", err
		}
		p.link.Drain()
	}
	return "", err
}

// SoftwareID returns the loader identification string
func (p *Programmer) SoftwareID(ctx context.Context) (string, error) {
	id, err := p.query(ctx, CmdSoftwareID, SoftwareIDLen)
	return string(id), err
}

// Version returns the two-digit loader version
func (p *Programmer) Version(ctx context.Context) (string, error) {
	v, err := p.query(ctx, CmdSoftwareVersion, 2)
	return string(v), err
}

// ProgrammerType returns the programmer type byte ('S' for serial)
func (p *Programmer) ProgrammerType(ctx context.Context) (byte, error) {
	b, err := p.query(ctx, CmdProgrammerType, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// Signature returns the part signature in datasheet order (manufacturer
// first)
func (p *Programmer) Signature(ctx context.Context) ([3]byte, error) {
	b, err := p.query(ctx, CmdSignature, 3)
	if err != nil {
		return [3]byte{}, err
	}
	return [3]byte{b[2], b[1], b[0]}, nil
}

// SupportedDevices returns the device codes the loader accepts
func (p *Programmer) SupportedDevices(ctx context.Context) ([]byte, error) {
	if err := p.send(CmdSupportedDevices); err != nil {
		return nil, err
	}
	var devs []byte
	for {
		b, err := p.recv(ctx)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", FormatCommand(CmdSupportedDevices), err)
		}
		if b == 0 {
			return devs, nil
		}
		devs = append(devs, b)
	}
}

// AutoIncrement reports whether the loader advances the address itself
func (p *Programmer) AutoIncrement(ctx context.Context) (bool, error) {
	b, err := p.query(ctx, CmdAutoIncrement, 1)
	if err != nil {
		return false, err
	}
	return b[0] == RespYes, nil
}

// BufferSize returns the block size the loader accepts. The value is
// cached for WriteMemory and ReadMemory.
func (p *Programmer) BufferSize(ctx context.Context) (int, error) {
	b, err := p.query(ctx, CmdBufferSupport, 3)
	if err != nil {
		return 0, err
	}
	if b[0] != RespYes {
		return 0, &ResponseError{Command: CmdBufferSupport, Got: b[0], Want: RespYes}
	}
	p.bufSize = int(b[1])<<8 | int(b[2])
	return p.bufSize, nil
}

// SelectDevice selects the device type that authorizes writes and erases
func (p *Programmer) SelectDevice(ctx context.Context, dev byte) error {
	return p.command(ctx, RespOK, CmdSelectDevice, dev)
}

// SetAddress sets the word (flash) or byte (EEPROM) address
func (p *Programmer) SetAddress(ctx context.Context, addr uint16) error {
	return p.command(ctx, RespOK, CmdSetAddress, byte(addr>>8), byte(addr))
}

// EnterProgMode sends the programming mode command
func (p *Programmer) EnterProgMode(ctx context.Context) error {
	return p.command(ctx, RespOK, CmdEnterProgMode)
}

// LeaveProgMode sends the leave programming mode command
func (p *Programmer) LeaveProgMode(ctx context.Context) error {
	return p.command(ctx, RespOK, CmdLeaveProgMode)
}

// ChipErase erases the application section
func (p *Programmer) ChipErase(ctx context.Context) error {
	return p.command(ctx, RespOK, CmdChipErase)
}

// Exit arms the loader's deferred reset
func (p *Programmer) Exit(ctx context.Context) error {
	return p.command(ctx, RespOK, CmdExit)
}

// WriteBlock writes one block at the current address
func (p *Programmer) WriteBlock(ctx context.Context, tag byte, data []byte) error {
	if len(data) > 0xFFFF {
		return fmt.Errorf("block of %d bytes is too large", len(data))
	}
	args := append([]byte{byte(len(data) >> 8), byte(len(data)), tag}, data...)
	return p.command(ctx, RespOK, CmdBlockLoad, args...)
}

// ReadBlock reads n bytes from the current address
func (p *Programmer) ReadBlock(ctx context.Context, tag byte, n int) ([]byte, error) {
	if n > 0xFFFF {
		return nil, fmt.Errorf("block of %d bytes is too large", n)
	}
	if glog.V(1) {
		glog.Infof("-> %s %d bytes %s", FormatCommand(CmdBlockRead), n, FormatMemory(tag))
	}
	if err := p.send(CmdBlockRead, byte(n>>8), byte(n), tag); err != nil {
		return nil, err
	}
	data, err := p.recvN(ctx, n)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", FormatCommand(CmdBlockRead), err)
	}
	return data, nil
}

// ReadFuses reads the fuse and lock bytes. A loader built without fuse
// readout answers '?' to all four commands, which is reported as
// ErrUnsupported.
func (p *Programmer) ReadFuses(ctx context.Context) (nvm.Fuses, error) {
	var f nvm.Fuses
	for _, r := range []struct {
		op  byte
		dst *uint8
	}{
		{CmdReadLowFuse, &f.Low},
		{CmdReadHighFuse, &f.High},
		{CmdReadExtendedFuse, &f.Extended},
		{CmdReadLockBits, &f.Lock},
	} {
		b, err := p.query(ctx, r.op, 1)
		if err != nil {
			return f, err
		}
		*r.dst = b[0]
	}
	if f == (nvm.Fuses{Low: RespUnknown, High: RespUnknown, Extended: RespUnknown, Lock: RespUnknown}) {
		return f, fmt.Errorf("%s: %w", FormatCommand(CmdReadLowFuse), ErrUnsupported)
	}
	return f, nil
}

func (p *Programmer) blockSize(ctx context.Context) (int, error) {
	if p.bufSize > 0 {
		return p.bufSize, nil
	}
	n, err := p.BufferSize(ctx)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, errors.New("loader reported a zero buffer size")
	}
	return n, nil
}

// WriteMemory writes data starting at addr (words for flash, bytes for
// EEPROM), split into blocks that never cross a page. Each flash block
// rewrites its whole page, so bytes of a page not covered by data read
// back erased.
func (p *Programmer) WriteMemory(ctx context.Context, tag byte, addr uint16, data []byte) error {
	size, err := p.blockSize(ctx)
	if err != nil {
		return err
	}
	if err := p.SetAddress(ctx, addr); err != nil {
		return err
	}

	offset := 0
	if tag == MemoryFlash {
		offset = int(addr) * 2 % size
	}
	for len(data) > 0 {
		n := min(size-offset, len(data))
		if err := p.WriteBlock(ctx, tag, data[:n]); err != nil {
			return err
		}
		data = data[n:]
		offset = 0
	}
	return nil
}

// ReadMemory reads n bytes starting at addr (words for flash, bytes for
// EEPROM)
func (p *Programmer) ReadMemory(ctx context.Context, tag byte, addr uint16, n int) ([]byte, error) {
	size, err := p.blockSize(ctx)
	if err != nil {
		return nil, err
	}
	if err := p.SetAddress(ctx, addr); err != nil {
		return nil, err
	}

	out := make([]byte, 0, n)
	for len(out) < n {
		chunk, err := p.ReadBlock(ctx, tag, min(size, n-len(out)))
		if err != nil {
			return out, err
		}
		out = append(out, chunk...)
	}
	return out, nil
}
