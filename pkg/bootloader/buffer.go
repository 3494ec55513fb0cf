// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bootloader

import (
	"context"

	"github.com/Thermoquad/perihelion/pkg/nvm"
)

// Receiver is the receive half of a transport
type Receiver interface {
	ReceiveByte(ctx context.Context) (byte, error)
}

// PageBuffer is the single page-sized staging area between the transport
// and program memory. It is allocated once and reused for every transfer.
type PageBuffer struct {
	data []byte
}

// NewPageBuffer allocates a buffer of capacity bytes
func NewPageBuffer(capacity int) *PageBuffer {
	return &PageBuffer{data: make([]byte, capacity)}
}

// Cap returns the buffer capacity
func (b *PageBuffer) Cap() int {
	return len(b.data)
}

// Bytes returns the whole buffer
func (b *PageBuffer) Bytes() []byte {
	return b.data
}

// Stage copies up to declared bytes of data and fills the rest of the
// buffer with erased filler. It returns the number of bytes staged.
func (b *PageBuffer) Stage(data []byte, declared int) int {
	n := min(declared, len(data), len(b.data))
	if n < 0 {
		n = 0
	}
	copy(b.data, data[:n])
	b.fillFrom(n)
	return n
}

// Load receives up to declared bytes into the buffer, never more than its
// capacity, and fills the rest with erased filler. Bytes the host declared
// beyond the capacity are left in the stream.
func (b *PageBuffer) Load(ctx context.Context, rx Receiver, declared int) (int, error) {
	n := min(declared, len(b.data))
	for i := 0; i < n; i++ {
		c, err := rx.ReceiveByte(ctx)
		if err != nil {
			return i, err
		}
		b.data[i] = c
	}
	b.fillFrom(n)
	return n, nil
}

func (b *PageBuffer) fillFrom(n int) {
	for i := n; i < len(b.data); i++ {
		b.data[i] = nvm.Erased
	}
}
