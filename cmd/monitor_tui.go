// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/sensoplex/pkg/pdi"
	"github.com/Thermoquad/sensoplex/pkg/sensoplex"
)

//////////////////////////////////////////////////////////////
// Constants
//////////////////////////////////////////////////////////////

const (
	scanSeconds           = 5  // Length of each device scan
	statusIntervalSeconds = 10 // Poll STATUS every N seconds while ready
)

// ledCycle is the order the l key steps through LED states
var ledCycle = []pdi.LEDState{pdi.LEDSystemControl, pdi.LEDGreen, pdi.LEDRed}

//////////////////////////////////////////////////////////////
// Types
//////////////////////////////////////////////////////////////

// deviceItem adapts a scan result to the list
type deviceItem struct {
	device sensoplex.Device
}

// Implement list.Item interface
func (d deviceItem) Title() string {
	if d.device.Name == "" {
		return d.device.ID
	}
	return d.device.Name
}

func (d deviceItem) Description() string {
	if d.device.RSSI != 0 {
		return fmt.Sprintf("%s  %d dBm", d.device.ID, d.device.RSSI)
	}
	return d.device.ID
}

func (d deviceItem) FilterValue() string { return d.device.ID + " " + d.device.Name }

// monitorModel is the Bubble Tea model for the monitor TUI
type monitorModel struct {
	sm *sessionManager

	// Device discovery
	devices    *deviceSet
	deviceList list.Model
	scanning   bool

	// Session
	state       sensoplex.State
	connectedAt time.Time
	lastStatus  time.Time
	lastSample  *pdi.SensorSample
	ledIndex    int

	// Raw command entry
	rawInput textinput.Model
	entering bool

	events eventLog

	// UI state
	width    int
	height   int
	quitting bool
}

//////////////////////////////////////////////////////////////
// Messages
//////////////////////////////////////////////////////////////

type deviceFoundMsg struct {
	device sensoplex.Device
}

type scanDoneMsg struct {
	err error
}

type connectResultMsg struct {
	device sensoplex.Device
	err    error
}

type reconnectedMsg struct {
	device sensoplex.Device
}

type sessionStateMsg struct {
	state sensoplex.State
}

type sampleMsg struct {
	sample *pdi.SensorSample
}

type recordMsg struct {
	record    pdi.Record
	anomalies []pdi.ValidationError
}

type commandResultMsg struct {
	label  string
	record pdi.Record
	err    error
}

type exportResultMsg struct {
	path  string
	count int
	err   error
}

type logLineMsg struct {
	line string
}

//////////////////////////////////////////////////////////////
// Model Initialization
//////////////////////////////////////////////////////////////

func initialMonitorModel(sm *sessionManager) monitorModel {
	ti := textinput.New()
	ti.Placeholder = "status | 0x62 2400"
	ti.CharLimit = 64
	ti.Width = 30
	ti.Prompt = ": "

	delegate := list.NewDefaultDelegate()
	delegate.ShowDescription = true
	delegate.SetHeight(2)
	deviceList := list.New([]list.Item{}, delegate, 40, 10)
	deviceList.Title = "Devices"
	deviceList.SetShowStatusBar(false)
	deviceList.SetShowHelp(false)
	deviceList.SetFilteringEnabled(false)

	return monitorModel{
		sm:         sm,
		devices:    newDeviceSet(),
		deviceList: deviceList,
		scanning:   true,
		state:      sensoplex.StateDisconnected,
		rawInput:   ti,
		events:     newEventLog(100),
		width:      80,
		height:     24,
	}
}

//////////////////////////////////////////////////////////////
// Bubble Tea Interface
//////////////////////////////////////////////////////////////

func (m monitorModel) Init() tea.Cmd {
	return tea.Batch(tickCmd(), m.sm.scan(scanSeconds*time.Second))
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.updateListSize()

	case tickMsg:
		cmds := []tea.Cmd{tickCmd()}
		if m.state == sensoplex.StateReady && m.sm.s.Pending() == nil &&
			time.Since(m.lastStatus) >= statusIntervalSeconds*time.Second {
			m.lastStatus = time.Now()
			cmds = append(cmds, m.sm.run("", pdi.NewStatusRequest()))
		}
		return m, tea.Batch(cmds...)

	case deviceFoundMsg:
		if m.devices.add(msg.device) {
			m.events.add(fmt.Sprintf("Device found: %s", msg.device), false)
		}
		m.updateDeviceList()

	case scanDoneMsg:
		m.scanning = false
		if msg.err != nil {
			m.events.add(fmt.Sprintf("Scan failed: %v", msg.err), true)
		} else {
			m.events.add(fmt.Sprintf("Scan complete: %d device(s)", len(m.deviceList.Items())), false)
		}

	case connectResultMsg:
		if msg.err != nil {
			m.events.add(fmt.Sprintf("Connect failed: %v", msg.err), true)
			return m, nil
		}
		m.connectedAt = time.Now()
		m.lastStatus = time.Now()
		m.events.add(fmt.Sprintf("Connected to %s", msg.device), false)
		return m, m.sm.run("Version", pdi.NewVersionRequest())

	case reconnectedMsg:
		m.connectedAt = time.Now()
		m.events.add(fmt.Sprintf("Reconnected to %s", msg.device), false)

	case sessionStateMsg:
		if msg.state != m.state {
			m.events.add(fmt.Sprintf("State: %s -> %s", m.state, msg.state), msg.state == sensoplex.StateTransportError)
		}
		m.state = msg.state

	case sampleMsg:
		m.lastSample = msg.sample

	case recordMsg:
		name := pdi.FormatCommand(msg.record.Command())
		for _, a := range msg.anomalies {
			m.events.add(fmt.Sprintf("%s: %s", name, a.Message), true)
		}

	case commandResultMsg:
		m.handleCommandResult(msg)

	case exportResultMsg:
		if msg.err != nil {
			m.events.add(fmt.Sprintf("Export failed: %v", msg.err), true)
		} else {
			m.events.add(fmt.Sprintf("Exported %d sample(s) to %s", msg.count, msg.path), false)
		}

	case logLineMsg:
		m.events.add(msg.line, strings.Contains(msg.line, "ERR") || strings.Contains(msg.line, "WRN"))
	}

	if m.entering {
		var cmd tea.Cmd
		m.rawInput, cmd = m.rawInput.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m monitorModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.entering {
		return m.handleRawInput(msg)
	}

	switch msg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		return m, tea.Quit
	}

	if !m.state.Linked() {
		return m.handleDeviceKeys(msg)
	}
	if m.state != sensoplex.StateReady {
		return m, nil
	}

	switch msg.String() {
	case "c":
		return m, m.sm.toggleCapture()
	case "v":
		return m, m.sm.run("Version", pdi.NewVersionRequest())
	case "s":
		m.lastStatus = time.Now()
		return m, m.sm.run("Status", pdi.NewStatusRequest())
	case "l":
		m.ledIndex = (m.ledIndex + 1) % len(ledCycle)
		return m, m.sm.run(fmt.Sprintf("LED %s", ledCycle[m.ledIndex]), pdi.NewSetLED(ledCycle[m.ledIndex]))
	case ":":
		m.entering = true
		m.rawInput.SetValue("")
		m.rawInput.Focus()
		return m, textinput.Blink
	case "e":
		return m, m.sm.exportStore()
	case "d":
		return m, m.sm.disconnect()
	}
	return m, nil
}

func (m monitorModel) handleDeviceKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		item, ok := m.deviceList.SelectedItem().(deviceItem)
		if !ok {
			return m, nil
		}
		if m.state == sensoplex.StateConnecting || m.state == sensoplex.StateScanning {
			return m, nil
		}
		m.scanning = false
		m.events.add(fmt.Sprintf("Connecting to %s...", item.device), false)
		return m, m.sm.connect(item.device)

	case "r":
		if m.scanning {
			return m, nil
		}
		m.scanning = true
		m.events.add("Scanning...", false)
		return m, m.sm.scan(scanSeconds * time.Second)
	}

	var cmd tea.Cmd
	m.deviceList, cmd = m.deviceList.Update(msg)
	return m, cmd
}

func (m monitorModel) handleRawInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.entering = false
		m.rawInput.Blur()
		return m, nil

	case "enter":
		m.entering = false
		m.rawInput.Blur()
		fields := strings.Fields(m.rawInput.Value())
		if len(fields) == 0 {
			return m, nil
		}
		argHex := strings.Join(fields[1:], "")
		command, err := parseCommand(fields[0], argHex)
		if err != nil {
			m.events.add(err.Error(), true)
			return m, nil
		}
		return m, m.sm.run(pdi.FormatCommand(command.Code), command)
	}

	var cmd tea.Cmd
	m.rawInput, cmd = m.rawInput.Update(msg)
	return m, cmd
}

func (m *monitorModel) handleCommandResult(msg commandResultMsg) {
	// Background status polls only log failures
	if msg.label == "" {
		if msg.err != nil {
			m.events.add(fmt.Sprintf("Status poll failed: %v", msg.err), true)
		}
		return
	}
	if msg.err != nil {
		m.events.add(fmt.Sprintf("%s failed: %v", msg.label, msg.err), true)
		return
	}
	if msg.record == nil {
		m.events.add(fmt.Sprintf("%s OK", msg.label), false)
		return
	}
	m.events.add(fmt.Sprintf("%s: %s", msg.label, compactRecord(msg.record)), false)
}

// compactRecord renders a record on one line for the event log
func compactRecord(r pdi.Record) string {
	lines := strings.Split(strings.TrimSpace(pdi.FormatRecord(r)), "\n")
	for i := range lines {
		lines[i] = strings.TrimSpace(lines[i])
	}
	return strings.Join(lines, "; ")
}

func (m monitorModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	var s strings.Builder

	// Header
	helpText := "q=quit ↑/↓=select Enter=connect r=rescan"
	if m.state == sensoplex.StateReady {
		helpText = "q=quit c=capture v=version s=status l=led :=send e=export d=disconnect"
	}
	s.WriteString(titleStyle.Render("SENSOPLEX MONITOR"))
	s.WriteString(" ")
	s.WriteString(headerStyle.Render(fmt.Sprintf("| %s | %s", m.sm.connInfo, helpText)))
	s.WriteString("\n\n")

	leftWidth := 40
	rightWidth := m.width - leftWidth - 6
	if rightWidth < 30 {
		rightWidth = 30
	}

	// Device list panel
	listStyle := boxStyle.Width(leftWidth)
	if !m.state.Linked() {
		listStyle = focusedBoxStyle.Width(leftWidth)
	}
	listView := m.deviceList.View()
	if m.scanning {
		listView = warningStyle.Render("Scanning...") + "\n" + listView
	}
	devicePanel := listStyle.Render(listView)

	controlPanel := boxStyle.Width(rightWidth).Render(m.renderSessionPanel())

	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, devicePanel, " ", controlPanel))
	s.WriteString("\n")

	// Statistics bar
	s.WriteString(boxStyle.Width(m.width - 4).Render(renderStatistics(m.sm.s.Stats().Link)))
	s.WriteString("\n")

	if m.entering {
		s.WriteString(focusedBoxStyle.Width(m.width - 4).Render(m.rawInput.View()))
		s.WriteString("\n")
	}

	// Event log
	s.WriteString(statsLabelStyle.Render("EVENTS"))
	s.WriteString("\n")
	s.WriteString(m.events.render(m.width-4, 8))

	return s.String()
}

//////////////////////////////////////////////////////////////
// View Helpers
//////////////////////////////////////////////////////////////

func (m monitorModel) renderSessionPanel() string {
	var s strings.Builder
	sess := m.sm.s

	stateStyle := statsValueStyle
	switch m.state {
	case sensoplex.StateFailedToConnect, sensoplex.StateTransportError:
		stateStyle = errorStyle
	case sensoplex.StateScanning, sensoplex.StateConnecting, sensoplex.StateConnected:
		stateStyle = warningStyle
	}
	s.WriteString(fmt.Sprintf("%s %s\n", statsLabelStyle.Render("State:"), stateStyle.Render(m.state.String())))

	if !m.state.Linked() {
		s.WriteString(headerStyle.Render("Select a device and press Enter"))
		return s.String()
	}

	s.WriteString(fmt.Sprintf("%s %s\n", statsLabelStyle.Render("Device:"), sess.Device()))
	if !m.connectedAt.IsZero() {
		s.WriteString(fmt.Sprintf("%s %s\n", statsLabelStyle.Render("Connected:"),
			statsValueStyle.Render(formatDuration(time.Since(m.connectedAt)))))
	}
	if v, ok := sess.FirmwareVersion(); ok {
		s.WriteString(fmt.Sprintf("%s %s\n", statsLabelStyle.Render("Firmware:"), statsValueStyle.Render(v.String())))
	}
	if volts, ok := sess.BatteryVolts(); ok {
		charging := ""
		if sess.IsBatteryCharging() {
			charging = " (charging)"
		}
		s.WriteString(fmt.Sprintf("%s %s\n", statsLabelStyle.Render("Battery:"),
			statsValueStyle.Render(fmt.Sprintf("%.2f V%s", volts, charging))))
	}
	s.WriteString(fmt.Sprintf("%s %s\n", statsLabelStyle.Render("LED:"), statsValueStyle.Render(ledCycle[m.ledIndex].String())))

	capture := headerStyle.Render("off")
	if sess.IsCapturing() {
		capture = statsValueStyle.Render(fmt.Sprintf("on (%d samples)", sess.Store().Len()))
	} else if n := sess.Store().Len(); n > 0 {
		capture = headerStyle.Render(fmt.Sprintf("off (%d samples stored)", n))
	}
	s.WriteString(fmt.Sprintf("%s %s\n", statsLabelStyle.Render("Capture:"), capture))

	if m.lastSample != nil {
		s.WriteString("\n")
		s.WriteString(renderSample(m.lastSample))
	}

	return s.String()
}

//////////////////////////////////////////////////////////////
// Helpers
//////////////////////////////////////////////////////////////

func (m *monitorModel) updateDeviceList() {
	devices := m.devices.sorted()
	items := make([]list.Item, len(devices))
	for i, d := range devices {
		items[i] = deviceItem{device: d}
	}
	m.deviceList.SetItems(items)
}

func (m *monitorModel) updateListSize() {
	// Adjust list size based on terminal size
	listHeight := m.height / 3
	if listHeight < 5 {
		listHeight = 5
	}
	m.deviceList.SetSize(38, listHeight)
}
