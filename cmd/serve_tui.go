// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/perihelion/pkg/avr109"
	"github.com/Thermoquad/perihelion/pkg/bootloader"
)

// Event log entry
type logEntry struct {
	timestamp time.Time
	message   string
	isError   bool
}

// flashWindow is how many bytes of flash the monitor shows
const flashWindow = 128

// Monitor model
type serveModel struct {
	part     *simPart
	connInfo string
	cancel   context.CancelFunc

	counters  bootloader.Counters
	indicator bootloader.Indicator
	log       []logEntry
	maxLog    int

	spinner   spinner.Model
	addrInput textinput.Model
	editing   bool
	viewAddr  uint32

	width    int
	height   int
	quitting bool
}

// Messages
type tickMsg time.Time
type deviceEventMsg bootloader.Event
type indicatorMsg bootloader.Indicator

// formatUptime formats a duration to a human-friendly string
func formatUptime(d time.Duration) string {
	seconds := int64(d / time.Second)
	minutes := seconds / 60
	hours := minutes / 60
	days := hours / 24

	seconds %= 60
	minutes %= 60
	hours %= 24

	plural := func(n int64, unit string) string {
		if n == 1 {
			return "1 " + unit
		}
		return fmt.Sprintf("%d %ss", n, unit)
	}

	parts := []string{}
	if days > 0 {
		parts = append(parts, plural(days, "day"))
	}
	if hours > 0 {
		parts = append(parts, plural(hours, "hour"))
	}
	if minutes > 0 {
		parts = append(parts, plural(minutes, "minute"))
	}
	if seconds > 0 || len(parts) == 0 {
		parts = append(parts, plural(seconds, "second"))
	}

	// Join with commas and "and" for last item
	if len(parts) == 1 {
		return parts[0]
	}
	if len(parts) == 2 {
		return parts[0] + " and " + parts[1]
	}
	last := parts[len(parts)-1]
	rest := strings.Join(parts[:len(parts)-1], ", ")
	return rest + ", and " + last
}

// formatEvent renders a command event as one log line
func formatEvent(e bootloader.Event) string {
	if e.Detail == "" {
		return avr109.FormatCommand(e.Opcode)
	}
	return fmt.Sprintf("%-20s %s", avr109.FormatCommand(e.Opcode), e.Detail)
}

func initialServeModel(part *simPart, connInfo string, cancel context.CancelFunc) serveModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))

	ti := textinput.New()
	ti.Placeholder = "1E000"
	ti.Prompt = "0x"
	ti.CharLimit = 6
	ti.Width = 8

	return serveModel{
		part:      part,
		connInfo:  connInfo,
		cancel:    cancel,
		counters:  part.stats.Snapshot(),
		indicator: part.platform.Current(),
		log:       make([]logEntry, 0),
		maxLog:    100,
		spinner:   sp,
		addrInput: ti,
		width:     80,
		height:    24,
	}
}

func (m serveModel) Init() tea.Cmd {
	return tea.Batch(tickCmd(), m.spinner.Tick)
}

func tickCmd() tea.Cmd {
	return tea.Tick(250*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m serveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.editing {
			return m.updateAddressInput(msg)
		}
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			m.cancel()
			return m, tea.Quit
		case "b":
			pin := !m.part.platform.BootRequested()
			m.part.platform.SetBootPin(pin)
			m.addLogEntry(fmt.Sprintf("Boot pin %s", map[bool]string{true: "held", false: "released"}[pin]), false)
		case "r":
			m.part.platform.Reset()
			m.addLogEntry("Reset requested", false)
		case "g":
			m.editing = true
			m.addrInput.SetValue("")
			return m, m.addrInput.Focus()
		case "pgdown", "n":
			m.viewAddr = (m.viewAddr + flashWindow) % m.part.cfg.Geometry.FlashSize
		case "pgup", "p":
			m.viewAddr = (m.viewAddr + m.part.cfg.Geometry.FlashSize - flashWindow) % m.part.cfg.Geometry.FlashSize
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		m.counters = m.part.stats.Snapshot()
		return m, tickCmd()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case indicatorMsg:
		m.indicator = bootloader.Indicator(msg)

	case deviceEventMsg:
		e := bootloader.Event(msg)
		isError := e.Opcode != avr109.CmdEscape && avr109.FormatCommand(e.Opcode) == "UNKNOWN"
		m.addLogEntry(formatEvent(e), isError)
	}

	return m, nil
}

func (m serveModel) updateAddressInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.editing = false
		m.addrInput.Blur()
		return m, nil
	case "enter":
		m.editing = false
		m.addrInput.Blur()
		addr, err := strconv.ParseUint(m.addrInput.Value(), 16, 32)
		if err != nil {
			m.addLogEntry(fmt.Sprintf("Invalid address %q", m.addrInput.Value()), true)
			return m, nil
		}
		m.viewAddr = uint32(addr) % m.part.cfg.Geometry.FlashSize &^ 0xF
		return m, nil
	}

	var cmd tea.Cmd
	m.addrInput, cmd = m.addrInput.Update(msg)
	return m, cmd
}

func (m *serveModel) addLogEntry(message string, isError bool) {
	m.log = append(m.log, logEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	})

	// Keep only last N entries
	if len(m.log) > m.maxLog {
		m.log = m.log[len(m.log)-m.maxLog:]
	}
}

func (m serveModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	// Styles
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	labelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	valueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	errorStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("9")).
		Bold(true)

	warningStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("11"))

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	c := m.counters

	// Header
	var s strings.Builder
	s.WriteString(titleStyle.Render("PERIHELION - AVR109 LOADER"))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(fmt.Sprintf("%s | q quit, b boot pin, r reset, g go to address, n/p page",
		m.connInfo)))
	s.WriteString("\n\n")

	// Loader state
	if c.Resident {
		s.WriteString(valueStyle.Render("● Loader resident"))
		s.WriteString(headerStyle.Render(fmt.Sprintf("  address 0x%04X, device 0x%02X", c.Address, c.DeviceType)))
	} else {
		s.WriteString(m.spinner.View())
		s.WriteString(warningStyle.Render(" Application running, waiting for host"))
	}
	pin := "released"
	if m.part.platform.BootRequested() {
		pin = "held"
	}
	s.WriteString(headerStyle.Render(fmt.Sprintf("  | status %s | boot pin %s", m.indicator, pin)))
	s.WriteString("\n\n")

	// Statistics
	stats := strings.Builder{}
	stats.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
		labelStyle.Render("Uptime:"), valueStyle.Render(formatUptime(time.Since(c.StartTime))),
		labelStyle.Render("Power cycles:"), valueStyle.Render(fmt.Sprintf("%d", c.PowerCycles)),
		labelStyle.Render("Resets:"), valueStyle.Render(fmt.Sprintf("%d", c.Resets)),
	))
	stats.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
		labelStyle.Render("Commands:"), valueStyle.Render(fmt.Sprintf("%d", c.Commands)),
		labelStyle.Render("Erases:"), valueStyle.Render(fmt.Sprintf("%d", c.Erases)),
		labelStyle.Render("Read:"), valueStyle.Render(fmt.Sprintf("%d bytes", c.BytesRead)),
	))
	stats.WriteString(fmt.Sprintf("%s %s   %s %s",
		labelStyle.Render("Flash written:"), valueStyle.Render(fmt.Sprintf("%d bytes", c.FlashBytesWritten)),
		labelStyle.Render("EEPROM written:"), valueStyle.Render(fmt.Sprintf("%d bytes", c.EEPROMBytesWritten)),
	))

	problems := c.UnknownCommands + c.Unauthorized + c.ProtectedWrites + c.OversizeBlocks
	if problems > 0 {
		stats.WriteString("\n")
		stats.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s   %s %s",
			labelStyle.Render("Unknown:"), errorStyle.Render(fmt.Sprintf("%d", c.UnknownCommands)),
			labelStyle.Render("Unauthorized:"), errorStyle.Render(fmt.Sprintf("%d", c.Unauthorized)),
			labelStyle.Render("Protected:"), errorStyle.Render(fmt.Sprintf("%d", c.ProtectedWrites)),
			labelStyle.Render("Oversize:"), errorStyle.Render(fmt.Sprintf("%d", c.OversizeBlocks)),
		))
	}
	s.WriteString(boxStyle.Render(stats.String()))
	s.WriteString("\n\n")

	// Flash window
	s.WriteString(labelStyle.Render(fmt.Sprintf("Flash @ 0x%05X:", m.viewAddr)))
	if m.editing {
		s.WriteString("  ")
		s.WriteString(m.addrInput.View())
	}
	s.WriteString("\n")
	flash := m.part.sim.Flash()
	end := min(m.viewAddr+flashWindow, uint32(len(flash)))
	dump := strings.TrimSuffix(avr109.HexDump(m.viewAddr, flash[m.viewAddr:end]), "\n")
	if m.viewAddr >= m.part.cfg.Geometry.ProtectionBoundary() {
		dump = warningStyle.Render(dump)
	}
	s.WriteString(boxStyle.Render(dump))
	s.WriteString("\n\n")

	// Event log
	s.WriteString(labelStyle.Render("Recent Events:"))
	s.WriteString("\n")

	logHeight := m.height - 28 // Reserve space for header, stats and flash
	if logHeight < 5 {
		logHeight = 5
	}
	startIdx := len(m.log) - logHeight
	if startIdx < 0 {
		startIdx = 0
	}

	logContent := strings.Builder{}
	if len(m.log) == 0 {
		logContent.WriteString(headerStyle.Render("  (no events yet)"))
	} else {
		for _, entry := range m.log[startIdx:] {
			timestamp := entry.timestamp.Format("15:04:05.000")
			if entry.isError {
				logContent.WriteString(fmt.Sprintf("%s %s\n", headerStyle.Render(timestamp), errorStyle.Render("✗ "+entry.message)))
			} else {
				logContent.WriteString(fmt.Sprintf("%s %s\n", headerStyle.Render(timestamp), warningStyle.Render("ℹ "+entry.message)))
			}
		}
	}
	s.WriteString(boxStyle.Width(m.width - 4).Render(logContent.String()))

	return s.String()
}
