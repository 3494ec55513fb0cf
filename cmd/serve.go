// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/golang/glog"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/perihelion/pkg/bootloader"
	"github.com/Thermoquad/perihelion/pkg/nvm"
	"github.com/Thermoquad/perihelion/pkg/transport"
)

var (
	serveListen          string
	serveProfile         string
	serveState           string
	serveBootPin         bool
	serveReadProtect     bool
	serveFuseRead        bool
	serveResetOnActivity bool
	serveTUI             bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a simulated part with a resident AVR109 loader",
	Long: `Run a simulated part whose boot section holds an AVR109 loader.

Every power cycle opens the entry window: if the boot pin is held or the host
sends 'S' within it, the loader stays resident and answers AVR109 commands;
otherwise the (idle) application starts. With --reset-on-activity, any byte
from the host resets the running application, like a DTR auto-reset circuit.

Transports:
  Serial:    --port /dev/ttyUSB1   (the part's UART)
  WebSocket: --listen :8109        (one programmer at a time)

Flash, EEPROM and fuses persist across runs with --state file.cbor. A device
profile (--profile part.toml) overrides geometry, identity and timing.

Exit codes:
  0 - Stopped normally
  1 - Failure
  2 - Connection error`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "Serve WebSocket sessions on this address")
	serveCmd.Flags().StringVar(&serveProfile, "profile", "", "TOML device profile")
	serveCmd.Flags().StringVar(&serveState, "state", "", "CBOR file holding non-volatile memory between runs")
	serveCmd.Flags().BoolVar(&serveBootPin, "boot-pin", false, "Hold the boot input active")
	serveCmd.Flags().BoolVar(&serveReadProtect, "read-protect", true, "Mask the boot section on flash reads")
	serveCmd.Flags().BoolVar(&serveFuseRead, "fuse-read", true, "Enable fuse and lock bit readout")
	serveCmd.Flags().BoolVar(&serveResetOnActivity, "reset-on-activity", true, "Reset the application when the host sends data")
	serveCmd.Flags().BoolVar(&serveTUI, "tui", false, "Use terminal UI")
}

// simPart is the simulated part shared by every session of a serve run
type simPart struct {
	cfg      bootloader.Config
	sim      *nvm.Sim
	drv      *nvm.Driver
	platform *bootloader.SimPlatform
	stats    *bootloader.Statistics

	// saveMu serializes state saves from sessions and shutdown
	saveMu sync.Mutex

	onEvent func(bootloader.Event)
}

func newSimPart(cmd *cobra.Command) (*simPart, error) {
	cfg := bootloader.DefaultConfig()
	if serveProfile != "" {
		var err error
		if cfg, err = bootloader.LoadProfile(serveProfile); err != nil {
			return nil, err
		}
	}
	if cmd.Flags().Changed("read-protect") {
		cfg.ReadProtect = serveReadProtect
	}
	if cmd.Flags().Changed("fuse-read") {
		cfg.FuseRead = serveFuseRead
	}

	sim := nvm.NewSim(cfg.Geometry)
	if serveState != "" {
		if err := loadState(sim, serveState); err != nil {
			return nil, err
		}
	}

	drv, err := nvm.NewDriver(sim, cfg.Geometry, cfg.ReadProtect)
	if err != nil {
		return nil, err
	}

	platform := bootloader.NewSimPlatform()
	platform.SetBootPin(serveBootPin)

	return &simPart{
		cfg:      cfg,
		sim:      sim,
		drv:      drv,
		platform: platform,
		stats:    bootloader.NewStatistics(),
	}, nil
}

func loadState(sim *nvm.Sim, path string) error {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		glog.Infof("state file %s does not exist, starting erased", path)
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()
	return sim.LoadSnapshot(f)
}

func (p *simPart) saveState() error {
	if serveState == "" {
		return nil
	}
	p.saveMu.Lock()
	defer p.saveMu.Unlock()

	tmp := serveState + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := p.sim.SaveSnapshot(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, serveState)
}

// session runs the part on one connection until it fails or ctx ends
func (p *simPart) session(ctx context.Context, conn Connection, remote string) {
	port := transport.NewPort(conn)
	defer port.Close()

	dev, err := bootloader.NewDevice(p.cfg, p.drv, port, p.platform)
	if err != nil {
		glog.Errorf("device: %v", err)
		return
	}
	dev.SetStatistics(p.stats)
	dev.ResetOnActivity = serveResetOnActivity
	dev.OnEvent = p.onEvent

	err = dev.Run(ctx)
	switch {
	case errors.Is(err, transport.ErrClosed), errors.Is(err, ErrConnectionClosed):
		glog.Infof("%s: connection closed", remote)
	case ctx.Err() != nil:
	default:
		glog.Errorf("%s: %v", remote, err)
	}

	if err := p.saveState(); err != nil {
		glog.Errorf("saving state: %v", err)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	part, err := newSimPart(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var connInfo string
	var serve func(ctx context.Context) error

	switch {
	case serveListen != "":
		password := ""
		if wsUsername != "" {
			if password, err = GetPassword(); err != nil {
				return err
			}
		}
		srv := &WebSocketServer{Username: wsUsername, Password: password, Session: part.session}
		connInfo = fmt.Sprintf("WebSocket: %s", serveListen)
		serve = func(ctx context.Context) error { return srv.ListenAndServe(ctx, serveListen) }

	case portName != "":
		conn, err := OpenSerialConnection(portName, baudRate, false)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
			os.Exit(2)
		}
		connInfo = fmt.Sprintf("Serial: %s @ %d baud", portName, baudRate)
		serve = func(ctx context.Context) error {
			part.session(ctx, conn, portName)
			return nil
		}

	default:
		return fmt.Errorf("either --port or --listen must be specified")
	}

	if serveTUI {
		err = runServeTUI(ctx, part, connInfo, serve)
	} else {
		err = runServeText(ctx, part, connInfo, serve)
	}
	if serr := part.saveState(); serr != nil && err == nil {
		err = serr
	}
	return err
}

func runServeText(ctx context.Context, part *simPart, connInfo string, serve func(context.Context) error) error {
	fmt.Printf("Perihelion - Simulated AVR109 Loader\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Part: %d KiB flash, %d-byte pages, boot section at 0x%05X\n",
		part.cfg.Geometry.FlashSize/1024, part.cfg.Geometry.PageSize, part.cfg.Geometry.ProtectionBoundary())
	fmt.Printf("Press Ctrl+C to exit\n\n")

	part.onEvent = func(e bootloader.Event) {
		fmt.Printf("[%s] %s\n", e.Time.Format("15:04:05.000"), formatEvent(e))
	}
	part.platform.OnIndicate = func(i bootloader.Indicator) {
		fmt.Printf("[%s] status %s\n", time.Now().Format("15:04:05.000"), i)
	}

	err := serve(ctx)
	fmt.Printf("\n%s", part.stats.Snapshot())
	return err
}

func runServeTUI(ctx context.Context, part *simPart, connInfo string, serve func(context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m := initialServeModel(part, connInfo, cancel)
	p := tea.NewProgram(m, tea.WithAltScreen())

	part.onEvent = func(e bootloader.Event) { p.Send(deviceEventMsg(e)) }
	part.platform.OnIndicate = func(i bootloader.Indicator) { p.Send(indicatorMsg(i)) }

	errCh := make(chan error, 1)
	go func() {
		errCh <- serve(ctx)
		p.Quit()
	}()

	if _, err := p.Run(); err != nil {
		cancel()
		<-errCh
		return fmt.Errorf("TUI error: %v", err)
	}
	cancel()
	return <-errCh
}
