// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bootloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/golang/glog"

	"github.com/Thermoquad/perihelion/pkg/avr109"
	"github.com/Thermoquad/perihelion/pkg/nvm"
)

// Memory is the non-volatile memory driver as the interpreter sees it.
// *nvm.Driver implements it.
type Memory interface {
	PageSize() int
	// ReadMask reports whether reads above the protection boundary are
	// masked
	ReadMask() bool
	WriteFlashPage(waddr uint16, data []byte) (uint16, error)
	EraseApplication()
	WriteEEPROM(addr uint16, data []byte) uint16
	ReadFlash(w io.ByteWriter, waddr uint16, n int) (uint16, error)
	ReadEEPROM(w io.ByteWriter, addr uint16, n int) (uint16, error)
	ReadFuseOrLock(sel nvm.FuseSelector) uint8
}

// Transport is the byte link the loader talks over
type Transport interface {
	io.ByteWriter
	Receiver
	Poller
}

// Event describes one completed command
type Event struct {
	Time       time.Time
	Opcode     byte
	Address    uint16
	DeviceType byte
	Detail     string
}

// handler runs one command after its opcode has been read
type handler func(ctx context.Context, s *Session) (string, error)

// Interpreter reads opcodes from the transport and runs them against the
// memory driver. Protocol problems are answered on the wire; only transport
// failures and the end of ctx stop it.
type Interpreter struct {
	cfg      Config
	mem      Memory
	tx       Transport
	reset    Resetter
	platform Platform
	stats    *Statistics
	observer func(Event)
	handlers map[byte]handler
}

// NewInterpreter creates an interpreter. stats may be nil.
func NewInterpreter(cfg Config, mem Memory, tx Transport, reset Resetter, platform Platform, stats *Statistics) *Interpreter {
	if stats == nil {
		stats = NewStatistics()
	}
	in := &Interpreter{
		cfg:      cfg,
		mem:      mem,
		tx:       tx,
		reset:    reset,
		platform: platform,
		stats:    stats,
	}

	in.handlers = map[byte]handler{
		avr109.CmdAutoIncrement:    in.autoIncrement,
		avr109.CmdSetAddress:       in.setAddress,
		avr109.CmdBufferSupport:    in.bufferSupport,
		avr109.CmdBlockLoad:        in.blockLoad,
		avr109.CmdBlockRead:        in.blockRead,
		avr109.CmdChipErase:        in.chipErase,
		avr109.CmdExit:             in.exit,
		avr109.CmdEnterProgMode:    in.enterProgMode,
		avr109.CmdLeaveProgMode:    in.leaveProgMode,
		avr109.CmdProgrammerType:   in.programmerType,
		avr109.CmdSupportedDevices: in.supportedDevices,
		avr109.CmdSetLED:           in.led,
		avr109.CmdClearLED:         in.led,
		avr109.CmdSelectDevice:     in.selectDevice,
		avr109.CmdSoftwareID:       in.softwareID,
		avr109.CmdSoftwareVersion:  in.softwareVersion,
		avr109.CmdSignature:        in.signature,
	}

	if cfg.FuseRead {
		in.handlers[avr109.CmdReadLowFuse] = in.readFuse(nvm.SelectLowFuse)
		in.handlers[avr109.CmdReadHighFuse] = in.readFuse(nvm.SelectHighFuse)
		in.handlers[avr109.CmdReadExtendedFuse] = in.readFuse(nvm.SelectExtendedFuse)
		in.handlers[avr109.CmdReadLockBits] = in.readFuse(nvm.SelectLockBits)
	}

	return in
}

// SetObserver registers a callback run after every command
func (in *Interpreter) SetObserver(fn func(Event)) {
	in.observer = fn
}

// Run executes commands until ctx ends or the transport fails
func (in *Interpreter) Run(ctx context.Context, s *Session) error {
	for {
		if err := in.Step(ctx, s); err != nil {
			return err
		}
	}
}

// Step reads and executes one command
func (in *Interpreter) Step(ctx context.Context, s *Session) error {
	op, err := in.tx.ReceiveByte(ctx)
	if err != nil {
		return err
	}

	if op == avr109.CmdEscape {
		in.emit(op, s, "ignored")
		return nil
	}

	h, ok := in.handlers[op]
	if !ok {
		in.stats.recordUnknown()
		in.emit(op, s, fmt.Sprintf("unknown opcode 0x%02X", op))
		return in.send(avr109.RespUnknown)
	}

	in.stats.recordCommand(op)
	detail, err := h(ctx, s)
	if err != nil {
		return err
	}
	in.stats.recordSession(s)
	in.emit(op, s, detail)
	return nil
}

func (in *Interpreter) emit(op byte, s *Session, detail string) {
	if glog.V(1) {
		glog.Infof("%s (0x%02X) %s", avr109.FormatCommand(op), op, detail)
	}
	if in.observer == nil {
		return
	}
	in.observer(Event{
		Time:       time.Now(),
		Opcode:     op,
		Address:    s.Address,
		DeviceType: s.DeviceType,
		Detail:     detail,
	})
}

func (in *Interpreter) indicate(i Indicator) {
	in.stats.setIndicator(i)
	if in.platform != nil {
		in.platform.Indicate(i)
	}
}

func (in *Interpreter) authorized(s *Session) bool {
	return s.DeviceType == in.cfg.Identity.DeviceType
}

func (in *Interpreter) send(bs ...byte) error {
	for _, b := range bs {
		if err := in.tx.WriteByte(b); err != nil {
			return err
		}
	}
	return nil
}

func (in *Interpreter) recv(ctx context.Context) (byte, error) {
	return in.tx.ReceiveByte(ctx)
}

// recvWord reads a big-endian 16-bit argument
func (in *Interpreter) recvWord(ctx context.Context) (uint16, error) {
	hi, err := in.recv(ctx)
	if err != nil {
		return 0, err
	}
	lo, err := in.recv(ctx)
	if err != nil {
		return 0, err
	}
	return uint16(hi)<<8 | uint16(lo), nil
}

func (in *Interpreter) autoIncrement(ctx context.Context, s *Session) (string, error) {
	return "", in.send(avr109.RespYes)
}

func (in *Interpreter) setAddress(ctx context.Context, s *Session) (string, error) {
	addr, err := in.recvWord(ctx)
	if err != nil {
		return "", err
	}
	s.Address = addr
	return fmt.Sprintf("address=0x%04X", addr), in.send(avr109.RespOK)
}

func (in *Interpreter) bufferSupport(ctx context.Context, s *Session) (string, error) {
	size := s.Buffer.Cap()
	return fmt.Sprintf("buffer=%d", size), in.send(avr109.RespYes, byte(size>>8), byte(size))
}

func (in *Interpreter) blockLoad(ctx context.Context, s *Session) (string, error) {
	size, err := in.recvWord(ctx)
	if err != nil {
		return "", err
	}
	tag, err := in.recv(ctx)
	if err != nil {
		return "", err
	}

	n, err := s.Buffer.Load(ctx, in.tx, int(size))
	if err != nil {
		return "", err
	}
	if int(size) > n {
		// Bytes past the buffer stay in the stream; only the buffer is written.
		glog.Warningf("block load of %d bytes exceeds the %d-byte buffer, writing %d", size, s.Buffer.Cap(), n)
		in.stats.update(func(c *Counters) { c.OversizeBlocks++ })
	}

	if !in.authorized(s) {
		in.stats.update(func(c *Counters) { c.Unauthorized++ })
		return fmt.Sprintf("rejected, device type 0x%02X", s.DeviceType), in.send(avr109.RespUnauthorized)
	}

	data := s.Buffer.Bytes()[:n]
	start := s.Address
	switch tag {
	case avr109.MemoryFlash:
		next, err := in.mem.WriteFlashPage(s.Address, data)
		if err != nil {
			if !errors.Is(err, nvm.ErrProtected) {
				return "", err
			}
			glog.Warningf("block load refused: %v", err)
			in.stats.update(func(c *Counters) { c.ProtectedWrites++ })
		} else {
			in.stats.update(func(c *Counters) { c.FlashBytesWritten += uint64(n) })
		}
		s.Address = next
	case avr109.MemoryEEPROM:
		s.Address = in.mem.WriteEEPROM(s.Address, data)
		in.stats.update(func(c *Counters) { c.EEPROMBytesWritten += uint64(n) })
	}

	return fmt.Sprintf("%d bytes %s @0x%04X", n, avr109.FormatMemory(tag), start), in.send(avr109.RespOK)
}

func (in *Interpreter) blockRead(ctx context.Context, s *Session) (string, error) {
	size, err := in.recvWord(ctx)
	if err != nil {
		return "", err
	}
	tag, err := in.recv(ctx)
	if err != nil {
		return "", err
	}

	start := s.Address
	switch tag {
	case avr109.MemoryFlash:
		s.Address, err = in.mem.ReadFlash(in.tx, s.Address, int(size))
	case avr109.MemoryEEPROM:
		s.Address, err = in.mem.ReadEEPROM(in.tx, s.Address, int(size))
	default:
		return fmt.Sprintf("%s ignored", avr109.FormatMemory(tag)), nil
	}
	if err != nil {
		return "", err
	}
	in.stats.update(func(c *Counters) { c.BytesRead += uint64(size) })
	return fmt.Sprintf("%d bytes %s @0x%04X", size, avr109.FormatMemory(tag), start), nil
}

func (in *Interpreter) chipErase(ctx context.Context, s *Session) (string, error) {
	if !in.authorized(s) {
		in.stats.update(func(c *Counters) { c.Unauthorized++ })
		return fmt.Sprintf("rejected, device type 0x%02X", s.DeviceType), in.send(avr109.RespUnauthorized)
	}

	in.indicate(IndicateErase)
	in.mem.EraseApplication()
	in.indicate(IndicateEraseComplete)
	in.stats.update(func(c *Counters) { c.Erases++ })
	return "application section erased", in.send(avr109.RespOK)
}

func (in *Interpreter) exit(ctx context.Context, s *Session) (string, error) {
	in.reset.ArmDeferredReset(in.cfg.ExitTimeout)
	return fmt.Sprintf("reset in %v", in.cfg.ExitTimeout), in.send(avr109.RespOK)
}

func (in *Interpreter) enterProgMode(ctx context.Context, s *Session) (string, error) {
	if err := in.send(avr109.RespOK); err != nil {
		return "", err
	}
	in.indicate(IndicateProgMode)
	return "", nil
}

func (in *Interpreter) leaveProgMode(ctx context.Context, s *Session) (string, error) {
	if err := in.send(avr109.RespOK); err != nil {
		return "", err
	}
	in.indicate(IndicateLeaveProgMode)
	return "", nil
}

func (in *Interpreter) programmerType(ctx context.Context, s *Session) (string, error) {
	if err := in.send(in.cfg.Identity.ProgrammerType); err != nil {
		return "", err
	}
	in.indicate(IndicateProgrammerType)
	return "", nil
}

func (in *Interpreter) readFuse(sel nvm.FuseSelector) handler {
	return func(ctx context.Context, s *Session) (string, error) {
		v := in.mem.ReadFuseOrLock(sel)
		return fmt.Sprintf("%s=0x%02X", sel, v), in.send(v)
	}
}

func (in *Interpreter) supportedDevices(ctx context.Context, s *Session) (string, error) {
	return "", in.send(in.cfg.Identity.DevicesResponse()...)
}

func (in *Interpreter) led(ctx context.Context, s *Session) (string, error) {
	if _, err := in.recv(ctx); err != nil {
		return "", err
	}
	return "", in.send(avr109.RespOK)
}

func (in *Interpreter) selectDevice(ctx context.Context, s *Session) (string, error) {
	dev, err := in.recv(ctx)
	if err != nil {
		return "", err
	}
	s.DeviceType = dev
	return fmt.Sprintf("device=0x%02X", dev), in.send(avr109.RespOK)
}

func (in *Interpreter) softwareID(ctx context.Context, s *Session) (string, error) {
	return "", in.send(in.cfg.Identity.SoftwareIDResponse()...)
}

func (in *Interpreter) softwareVersion(ctx context.Context, s *Session) (string, error) {
	return "", in.send(in.cfg.Identity.VersionResponse()...)
}

func (in *Interpreter) signature(ctx context.Context, s *Session) (string, error) {
	return "", in.send(in.cfg.Identity.SignatureResponse()...)
}
