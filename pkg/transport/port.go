// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package transport turns a byte stream (serial port, WebSocket, pipe) into
// the blocking send/receive primitives the loader and programmer speak over,
// plus a non-blocking receive-ready poll.
package transport

import (
	"bufio"
	"context"
	"errors"
	"io"
	"sync"

	"github.com/golang/glog"
)

// ErrClosed is returned once the underlying reader has failed or the port
// was closed. The original read error is wrapped when there is one.
var ErrClosed = errors.New("transport closed")

const rxQueueSize = 1024

// Port is a byte-oriented view of an io.ReadWriter. A background goroutine
// reads the stream into a queue; writes are buffered and flushed before any
// receive so a response always goes out before the next request is awaited.
//
// Port is meant for one reader and one writer, the command loop.
type Port struct {
	rw io.ReadWriter
	w  *bufio.Writer
	rx chan byte

	mu      sync.Mutex
	err     error
	pending bool
	peeked  byte
	done    chan struct{}
}

// NewPort starts reading from rw
func NewPort(rw io.ReadWriter) *Port {
	p := &Port{
		rw:   rw,
		w:    bufio.NewWriter(rw),
		rx:   make(chan byte, rxQueueSize),
		done: make(chan struct{}),
	}
	go p.readLoop()
	return p
}

func (p *Port) readLoop() {
	defer close(p.rx)
	buf := make([]byte, 256)
	for {
		n, err := p.rw.Read(buf)
		for i := 0; i < n; i++ {
			if glog.V(2) {
				glog.Infof("RX 0x%02X", buf[i])
			}
			select {
			case p.rx <- buf[i]:
			case <-p.done:
				return
			}
		}
		if err != nil {
			p.mu.Lock()
			if p.err == nil {
				p.err = err
			}
			p.mu.Unlock()
			return
		}
	}
}

func (p *Port) closedErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err == nil || errors.Is(p.err, ErrClosed) {
		return ErrClosed
	}
	return errors.Join(ErrClosed, p.err)
}

// SendByte queues one byte for transmission
func (p *Port) SendByte(b byte) error {
	if glog.V(2) {
		glog.Infof("TX 0x%02X", b)
	}
	return p.w.WriteByte(b)
}

// WriteByte implements io.ByteWriter
func (p *Port) WriteByte(b byte) error {
	return p.SendByte(b)
}

// Write queues p for transmission
func (p *Port) Write(b []byte) (int, error) {
	for i, c := range b {
		if err := p.SendByte(c); err != nil {
			return i, err
		}
	}
	return len(b), nil
}

// Flush transmits all queued bytes
func (p *Port) Flush() error {
	return p.w.Flush()
}

// ReceiveByte blocks until a byte arrives, the stream fails or ctx ends
func (p *Port) ReceiveByte(ctx context.Context) (byte, error) {
	if err := p.Flush(); err != nil {
		return 0, err
	}

	p.mu.Lock()
	if p.pending {
		p.pending = false
		b := p.peeked
		p.mu.Unlock()
		return b, nil
	}
	p.mu.Unlock()

	select {
	case b, ok := <-p.rx:
		if !ok {
			return 0, p.closedErr()
		}
		return b, nil
	case <-ctx.Done():
		return 0, context.Cause(ctx)
	}
}

// TryReceive returns a byte if one is ready, without blocking
func (p *Port) TryReceive() (byte, bool, error) {
	if err := p.Flush(); err != nil {
		return 0, false, err
	}

	p.mu.Lock()
	if p.pending {
		p.pending = false
		b := p.peeked
		p.mu.Unlock()
		return b, true, nil
	}
	p.mu.Unlock()

	select {
	case b, ok := <-p.rx:
		if !ok {
			return 0, false, p.closedErr()
		}
		return b, true, nil
	default:
		return 0, false, nil
	}
}

// Peek waits for a byte to arrive without consuming it. The next
// ReceiveByte or TryReceive returns the peeked byte.
func (p *Port) Peek(ctx context.Context) error {
	if err := p.Flush(); err != nil {
		return err
	}

	p.mu.Lock()
	if p.pending {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	select {
	case b, ok := <-p.rx:
		if !ok {
			return p.closedErr()
		}
		p.mu.Lock()
		p.pending = true
		p.peeked = b
		p.mu.Unlock()
		return nil
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}

// Drain discards every byte already received
func (p *Port) Drain() int {
	n := 0
	p.mu.Lock()
	if p.pending {
		p.pending = false
		n++
	}
	p.mu.Unlock()
	for {
		select {
		case _, ok := <-p.rx:
			if !ok {
				return n
			}
			n++
		default:
			return n
		}
	}
}

// Close flushes pending output, stops the reader and closes the underlying
// stream when it is an io.Closer.
func (p *Port) Close() error {
	p.mu.Lock()
	select {
	case <-p.done:
		p.mu.Unlock()
		return nil
	default:
	}
	close(p.done)
	if p.err == nil {
		p.err = ErrClosed
	}
	p.mu.Unlock()

	flushErr := p.Flush()
	if c, ok := p.rw.(io.Closer); ok {
		if err := c.Close(); err != nil {
			return err
		}
	}
	return flushErr
}
