// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPipePort(t *testing.T) (*Port, net.Conn) {
	t.Helper()
	a, b := net.Pipe()
	p := NewPort(a)
	t.Cleanup(func() {
		p.Close()
		b.Close()
	})
	return p, b
}

func TestPort_ReceiveByte(t *testing.T) {
	p, peer := newPipePort(t)

	go peer.Write([]byte{0x53, 0x61})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	b, err := p.ReceiveByte(ctx)
	require.NoError(t, err)
	assert.Equal(t, byte(0x53), b)

	b, err = p.ReceiveByte(ctx)
	require.NoError(t, err)
	assert.Equal(t, byte(0x61), b)
}

func TestPort_ReceiveByteContextCause(t *testing.T) {
	p, _ := newPipePort(t)
	cause := errors.New("watchdog")

	ctx, cancel := context.WithCancelCause(context.Background())
	cancel(cause)

	_, err := p.ReceiveByte(ctx)
	assert.ErrorIs(t, err, cause)
}

func TestPort_TryReceive(t *testing.T) {
	p, peer := newPipePort(t)

	_, ok, err := p.TryReceive()
	require.NoError(t, err)
	assert.False(t, ok, "nothing sent yet")

	_, err = peer.Write([]byte{0x42})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		b, ok, err := p.TryReceive()
		return err == nil && ok && b == 0x42
	}, time.Second, time.Millisecond)
}

func TestPort_SendFlushesBeforeReceive(t *testing.T) {
	p, peer := newPipePort(t)

	require.NoError(t, p.SendByte('\r'))
	require.NoError(t, p.SendByte('Y'))

	got := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 2)
		io.ReadFull(peer, buf)
		got <- buf
		peer.Write([]byte{'a'})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	b, err := p.ReceiveByte(ctx)
	require.NoError(t, err)
	assert.Equal(t, byte('a'), b)
	assert.Equal(t, []byte{'\r', 'Y'}, <-got)
}

func TestPort_Peek(t *testing.T) {
	p, peer := newPipePort(t)
	go peer.Write([]byte{'S'})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, p.Peek(ctx))
	require.NoError(t, p.Peek(ctx), "second peek keeps the same byte")

	b, ok, err := p.TryReceive()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, byte('S'), b)
}

func TestPort_ClosedStream(t *testing.T) {
	p, peer := newPipePort(t)
	peer.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := p.ReceiveByte(ctx)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestPort_Drain(t *testing.T) {
	p, peer := newPipePort(t)
	_, err := peer.Write([]byte{1, 2, 3})
	require.NoError(t, err)

	total := 0
	require.Eventually(t, func() bool {
		total += p.Drain()
		return total == 3
	}, time.Second, time.Millisecond)
}
