// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bootloader

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/perihelion/pkg/avr109"
	"github.com/Thermoquad/perihelion/pkg/nvm"
	"github.com/Thermoquad/perihelion/pkg/transport"
)

type deviceHarness struct {
	dev      *Device
	host     net.Conn
	platform *SimPlatform
	sim      *nvm.Sim
}

func newDeviceHarness(t *testing.T) *deviceHarness {
	t.Helper()
	cfg := testConfig()
	cfg.WaitSamples = 5
	cfg.WaitInterval = time.Millisecond
	cfg.ExitTimeout = 20 * time.Millisecond

	sim := nvm.NewSim(cfg.Geometry)
	drv, err := nvm.NewDriver(sim, cfg.Geometry, cfg.ReadProtect)
	require.NoError(t, err)

	devConn, host := net.Pipe()
	port := transport.NewPort(devConn)
	t.Cleanup(func() {
		host.Close()
		port.Close()
	})

	platform := NewSimPlatform()
	dev, err := NewDevice(cfg, drv, port, platform)
	require.NoError(t, err)

	return &deviceHarness{dev: dev, host: host, platform: platform, sim: sim}
}

// start runs the device until the test ends
func (h *deviceHarness) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.dev.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.True(t, errors.Is(err, context.Canceled), "Run() = %v", err)
		case <-time.After(2 * time.Second):
			t.Error("device did not stop")
		}
	})
}

func (h *deviceHarness) send(t *testing.T, bs ...byte) {
	t.Helper()
	require.NoError(t, h.host.SetWriteDeadline(time.Now().Add(2*time.Second)))
	_, err := h.host.Write(bs)
	require.NoError(t, err)
}

func (h *deviceHarness) expect(t *testing.T, want []byte) {
	t.Helper()
	require.NoError(t, h.host.SetReadDeadline(time.Now().Add(2*time.Second)))
	got := make([]byte, len(want))
	_, err := io.ReadFull(h.host, got)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestDevice_BootPinKeepsLoaderResident(t *testing.T) {
	h := newDeviceHarness(t)
	h.platform.SetBootPin(true)
	h.start(t)

	h.expect(t, []byte("AVRBOOT"))
	h.send(t, avr109.CmdSoftwareID)
	h.expect(t, []byte("AVRBOOT"))

	h.send(t, avr109.CmdExit)
	h.expect(t, []byte{'\r'})

	// Boot pin still held: the reset brings the loader straight back
	h.expect(t, []byte("AVRBOOT"))

	c := h.dev.Statistics().Snapshot()
	assert.Equal(t, uint64(1), c.Resets)
	assert.Equal(t, uint64(0), c.ApplicationJumps)
	assert.True(t, c.Resident)
}

func TestDevice_ActivityResetsApplication(t *testing.T) {
	h := newDeviceHarness(t)
	h.dev.ResetOnActivity = true
	h.start(t)

	require.Eventually(t, func() bool {
		return h.dev.Statistics().Snapshot().ApplicationJumps >= 1
	}, 2*time.Second, time.Millisecond)

	// The sentinel resets the application and is then seen by the gate
	h.send(t, avr109.Sentinel)
	h.expect(t, []byte("AVRBOOT"))

	h.send(t, avr109.CmdSelectDevice, avr109.DeviceCodeBoot, avr109.CmdChipErase)
	h.expect(t, []byte{'\r', '\r'})

	h.send(t, avr109.CmdExit)
	h.expect(t, []byte{'\r'})

	require.Eventually(t, func() bool {
		return h.dev.Statistics().Snapshot().ApplicationJumps >= 2
	}, 2*time.Second, time.Millisecond)

	c := h.dev.Statistics().Snapshot()
	assert.Equal(t, uint64(1), c.Erases)
	assert.Equal(t, uint64(1), c.Resets)
	assert.False(t, c.Resident)
}

func TestDevice_PowerCycleToApplication(t *testing.T) {
	h := newDeviceHarness(t)

	// Queue a reset so the application returns immediately
	h.platform.Reset()

	outcome, err := h.dev.PowerCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplication, outcome)
	assert.Equal(t, []Indicator{IndicateStart, IndicateRunApplication}, h.platform.History())
}

func TestDevice_EventsReachObserver(t *testing.T) {
	h := newDeviceHarness(t)
	h.platform.SetBootPin(true)

	events := make(chan Event, 16)
	h.dev.OnEvent = func(e Event) { events <- e }
	h.start(t)

	h.expect(t, []byte("AVRBOOT"))
	h.send(t, avr109.CmdSetAddress, 0x01, 0x00)
	h.expect(t, []byte{'\r'})

	select {
	case e := <-events:
		assert.Equal(t, byte(avr109.CmdSetAddress), e.Opcode)
		assert.Equal(t, uint16(0x0100), e.Address)
	case <-time.After(2 * time.Second):
		t.Fatal("no event")
	}
}

func TestDevice_LinkLossStopsApplication(t *testing.T) {
	h := newDeviceHarness(t)
	h.dev.ResetOnActivity = true

	done := make(chan error, 1)
	go func() { done <- h.dev.Run(context.Background()) }()

	require.Eventually(t, func() bool {
		return h.dev.Statistics().Snapshot().ApplicationJumps >= 1
	}, 2*time.Second, time.Millisecond)
	h.host.Close()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, transport.ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("device kept running after the link closed")
	}
}

func TestNewDevice_InvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.ExitTimeout = 0
	_, err := NewDevice(cfg, nil, nil, NewSimPlatform())
	assert.Error(t, err)
}

func TestNewDevice_ReadMaskMismatch(t *testing.T) {
	cfg := testConfig()
	sim := nvm.NewSim(cfg.Geometry)
	drv, err := nvm.NewDriver(sim, cfg.Geometry, !cfg.ReadProtect)
	require.NoError(t, err)

	_, err = NewDevice(cfg, drv, nil, NewSimPlatform())
	assert.ErrorContains(t, err, "read mask")
}

func TestConfig_SoftwareIDLength(t *testing.T) {
	for _, id := range []string{"", "BOOT", "AVRBOOT2"} {
		cfg := testConfig()
		cfg.Identity.SoftwareID = id
		assert.Error(t, cfg.Validate(), "%q", id)
	}
	cfg := testConfig()
	cfg.Identity.SoftwareID = "XBOOT01"
	assert.NoError(t, cfg.Validate())
}

func TestOutcome_String(t *testing.T) {
	assert.Equal(t, "APPLICATION", OutcomeApplication.String())
	assert.Equal(t, "RESET", OutcomeReset.String())
	assert.Equal(t, "NONE", OutcomeNone.String())
}
