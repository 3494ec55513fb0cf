// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bootloader

import (
	"context"
	"time"

	"github.com/golang/glog"
)

// Decision is the outcome of the entry gate
type Decision int

// Gate outcomes
const (
	DecisionApplication Decision = iota
	DecisionRun
)

// String returns the decision name
func (d Decision) String() string {
	switch d {
	case DecisionRun:
		return "RUN"
	case DecisionApplication:
		return "APPLICATION"
	default:
		return "UNKNOWN"
	}
}

// Poller is the receive-ready side of a transport
type Poller interface {
	TryReceive() (byte, bool, error)
}

// Gate decides once per power cycle whether the loader stays resident. It
// samples the boot input and the transport Samples times, Interval apart.
type Gate struct {
	Samples  int
	Interval time.Duration
	Sentinel byte
}

// Decide runs the entry window. It returns DecisionRun as soon as the boot
// input is active or the sentinel arrives, and DecisionApplication when the
// window elapses. Other bytes received during the window are dropped.
func (g Gate) Decide(ctx context.Context, rx Poller, p Platform) (Decision, error) {
	timer := time.NewTimer(g.Interval)
	defer timer.Stop()

	for cnt := 0; ; cnt++ {
		if p.BootRequested() {
			glog.Info("boot input active, staying resident")
			return DecisionRun, nil
		}

		for {
			b, ok, err := rx.TryReceive()
			if err != nil {
				return DecisionApplication, err
			}
			if !ok {
				break
			}
			if b == g.Sentinel {
				glog.Info("sentinel received, staying resident")
				return DecisionRun, nil
			}
			glog.V(1).Infof("entry window: dropped 0x%02X", b)
		}

		if cnt >= g.Samples {
			glog.Info("entry window elapsed, starting application")
			return DecisionApplication, nil
		}

		timer.Reset(g.Interval)
		select {
		case <-ctx.Done():
			return DecisionApplication, ctx.Err()
		case <-timer.C:
		}
	}
}
