// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bootloader

import (
	"sync"
	"time"
)

// Resetter arms the deferred reset that ends a resident session
type Resetter interface {
	ArmDeferredReset(timeout time.Duration)
}

// Watchdog is a one-shot deferred reset. The first ArmDeferredReset starts
// the countdown; later calls do nothing. There is no way to disarm it.
type Watchdog struct {
	once  sync.Once
	fired chan struct{}

	mu       sync.Mutex
	deadline time.Time
}

// NewWatchdog returns an unarmed watchdog
func NewWatchdog() *Watchdog {
	return &Watchdog{fired: make(chan struct{})}
}

// ArmDeferredReset implements Resetter
func (w *Watchdog) ArmDeferredReset(timeout time.Duration) {
	w.once.Do(func() {
		w.mu.Lock()
		w.deadline = time.Now().Add(timeout)
		w.mu.Unlock()
		time.AfterFunc(timeout, func() { close(w.fired) })
	})
}

// Armed reports whether the reset is counting down or has fired
func (w *Watchdog) Armed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return !w.deadline.IsZero()
}

// Deadline returns when the reset fires, or the zero time if unarmed
func (w *Watchdog) Deadline() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.deadline
}

// Fired is closed when the reset fires
func (w *Watchdog) Fired() <-chan struct{} {
	return w.fired
}
