// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bootloader

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/golang/glog"
)

// Port is the transport a Device runs on. *transport.Port implements it.
type Port interface {
	Transport
	// Peek waits for a byte without consuming it
	Peek(ctx context.Context) error
	Flush() error
}

// Outcome is how a power cycle ended
type Outcome int

// Power cycle outcomes
const (
	OutcomeNone Outcome = iota
	// OutcomeApplication: the application ran until it was reset
	OutcomeApplication
	// OutcomeReset: the resident loader was ended by the deferred reset
	OutcomeReset
)

// String returns the outcome name
func (o Outcome) String() string {
	switch o {
	case OutcomeApplication:
		return "APPLICATION"
	case OutcomeReset:
		return "RESET"
	default:
		return "NONE"
	}
}

// Device is a part running the loader: it power cycles through the entry
// gate and either the application or a resident session.
type Device struct {
	cfg      Config
	mem      Memory
	port     Port
	platform Platform
	stats    *Statistics

	// ResetOnActivity resets the running application when the host sends
	// a byte, like an auto-reset wired to the serial control lines
	ResetOnActivity bool

	// OnEvent is called after every command of a resident session
	OnEvent func(Event)
}

// NewDevice creates a device. The configuration is validated, and the
// memory driver must mask reads exactly when cfg.ReadProtect asks for it.
func NewDevice(cfg Config, mem Memory, port Port, platform Platform) (*Device, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid loader config: %w", err)
	}
	if mem.ReadMask() != cfg.ReadProtect {
		return nil, fmt.Errorf("invalid loader config: read protect is %v but the memory driver read mask is %v",
			cfg.ReadProtect, mem.ReadMask())
	}
	return &Device{
		cfg:      cfg,
		mem:      mem,
		port:     port,
		platform: platform,
		stats:    NewStatistics(),
	}, nil
}

// Statistics returns the device statistics
func (d *Device) Statistics() *Statistics {
	return d.stats
}

// SetStatistics makes the device count into s, so several devices serving
// the same part one after another can share one set of counters. Call it
// before Run.
func (d *Device) SetStatistics(s *Statistics) {
	d.stats = s
}

func (d *Device) indicate(i Indicator) {
	d.stats.setIndicator(i)
	d.platform.Indicate(i)
}

// Run power cycles the device until ctx ends or the transport fails
func (d *Device) Run(ctx context.Context) error {
	for {
		outcome, err := d.PowerCycle(ctx)
		if err != nil {
			return err
		}
		glog.V(1).Infof("power cycle ended: %s", outcome)
	}
}

// PowerCycle runs one cycle from reset to the next reset
func (d *Device) PowerCycle(ctx context.Context) (Outcome, error) {
	d.stats.update(func(c *Counters) { c.PowerCycles++ })
	d.indicate(IndicateStart)

	decision, err := d.cfg.Gate().Decide(ctx, d.port, d.platform)
	if err != nil {
		return OutcomeNone, err
	}

	if decision == DecisionApplication {
		return d.runApplication(ctx)
	}
	return d.runLoader(ctx)
}

func (d *Device) runApplication(ctx context.Context) (Outcome, error) {
	d.indicate(IndicateRunApplication)
	d.stats.update(func(c *Counters) { c.ApplicationJumps++ })

	appCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	var linkErr error
	if d.ResetOnActivity {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := d.port.Peek(appCtx)
			switch {
			case err == nil:
				glog.Info("host activity, resetting application")
			case appCtx.Err() == nil:
				linkErr = err
			default:
				return
			}
			cancel()
		}()
	}

	err := d.platform.JumpToApplication(appCtx)
	cancel()
	wg.Wait()

	if ctx.Err() != nil {
		return OutcomeNone, ctx.Err()
	}
	if linkErr != nil {
		return OutcomeNone, linkErr
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return OutcomeNone, fmt.Errorf("application: %w", err)
	}
	return OutcomeApplication, nil
}

func (d *Device) runLoader(ctx context.Context) (Outcome, error) {
	wd := NewWatchdog()
	sessCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	go func() {
		select {
		case <-wd.Fired():
			cancel(ErrDeferredReset)
		case <-sessCtx.Done():
		}
	}()

	d.stats.setResident(true)
	defer d.stats.setResident(false)

	sess := NewSession(d.mem.PageSize())
	d.stats.recordSession(sess)

	if d.cfg.Greeting {
		for _, b := range d.cfg.Identity.SoftwareIDResponse() {
			if err := d.port.WriteByte(b); err != nil {
				return OutcomeNone, err
			}
		}
		if err := d.port.Flush(); err != nil {
			return OutcomeNone, err
		}
	}
	d.indicate(IndicateRun)

	in := NewInterpreter(d.cfg, d.mem, d.port, wd, d.platform, d.stats)
	in.SetObserver(d.OnEvent)

	err := in.Run(sessCtx, sess)
	if ferr := d.port.Flush(); ferr != nil && err == nil {
		err = ferr
	}

	if errors.Is(err, ErrDeferredReset) && ctx.Err() == nil {
		glog.Info("deferred reset fired, leaving loader")
		d.stats.update(func(c *Counters) { c.Resets++ })
		return OutcomeReset, nil
	}
	return OutcomeNone, err
}
