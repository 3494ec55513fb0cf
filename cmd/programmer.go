// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/Thermoquad/perihelion/pkg/avr109"
	"github.com/Thermoquad/perihelion/pkg/transport"
)

// hostSession is an entered loader on an open connection
type hostSession struct {
	prog     *avr109.Programmer
	port     *transport.Port
	connInfo string
	ctx      context.Context
	stop     context.CancelFunc
}

func (h *hostSession) Close() {
	h.stop()
	h.port.Close()
}

// openHostSession connects and enters the loader. Connection failures and
// a silent loader exit with code 2.
func openHostSession(title string) *hostSession {
	conn, connInfo, err := OpenConnection()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}

	fmt.Printf("Perihelion - %s\n", title)
	fmt.Printf("Connection: %s\n", connInfo)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	port := transport.NewPort(conn)
	h := &hostSession{
		prog:     avr109.NewProgrammer(port, responseTimeout),
		port:     port,
		connInfo: connInfo,
		ctx:      ctx,
		stop:     stop,
	}

	id, err := h.prog.Enter(ctx)
	if err != nil {
		h.Close()
		fmt.Fprintf(os.Stderr, "Loader did not answer: %v\n", err)
		os.Exit(2)
	}
	fmt.Printf("Loader: %s\n\n", id)
	return h
}

// parseUint16 accepts decimal or 0x-prefixed hex
func parseUint16(s string) (uint16, error) {
	v, err := strconv.ParseUint(s, 0, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q: %v", s, err)
	}
	return uint16(v), nil
}
