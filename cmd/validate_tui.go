// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/Thermoquad/sensoplex/pkg/pdi"
)

// validateModel is the Bubble Tea model for the validate TUI
type validateModel struct {
	connInfo      string
	device        string
	statsInterval int
	showAll       bool
	stats         *pdi.Statistics
	events        eventLog
	synchronized  bool
	invalidBytes  int
	width         int
	height        int
	quitting      bool
	linkLost      bool
	lastSample    *pdi.SensorSample
}

// Messages
type tickMsg time.Time

type linkLostMsg struct {
	cause error
}

func initialValidateModel(connInfo, device string, statsInterval int, showAll bool) validateModel {
	return validateModel{
		connInfo:      connInfo,
		device:        device,
		statsInterval: statsInterval,
		showAll:       showAll,
		stats:         pdi.NewStatistics(),
		events:        newEventLog(100),
		width:         80,
		height:        24,
	}
}

func (m validateModel) Init() tea.Cmd {
	return tickCmd()
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m validateModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		// Re-render so rates stay current
		return m, tickCmd()

	case syncMsg:
		m.synchronized = true
		m.invalidBytes = msg.invalidBytes
		if msg.invalidBytes > 0 {
			m.events.add(fmt.Sprintf("Synchronized after skipping %d invalid bytes", msg.invalidBytes), false)
		} else {
			m.events.add("Synchronized", false)
		}

	case linkLostMsg:
		m.linkLost = true
		m.events.add(fmt.Sprintf("Link lost: %v", msg.cause), true)

	case decodedMsg:
		m.applyDecoded(msg)
	}

	return m, nil
}

func (m *validateModel) applyDecoded(msg decodedMsg) {
	msg.count(m.stats)

	switch {
	case msg.frameErr != nil:
		m.events.add(fmt.Sprintf("FRAME ERROR: %v", msg.frameErr), true)

	case msg.decodeErr != nil:
		m.events.add(fmt.Sprintf("DECODE ERROR: %v", msg.decodeErr), true)

	default:
		if s, ok := msg.record.(*pdi.SensorSample); ok {
			m.lastSample = s
		}
		name := pdi.FormatCommand(msg.packet.Command())
		if len(msg.anomalies) > 0 {
			for _, a := range msg.anomalies {
				m.events.add(fmt.Sprintf("%s: %s", name, a.Message), true)
			}
		} else if m.showAll {
			m.events.add(fmt.Sprintf("%s (valid)", name), false)
		}
	}
}

func (m validateModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	// Header
	var s strings.Builder
	s.WriteString(titleStyle.Render("SENSOPLEX - VALIDATION"))
	s.WriteString("\n")
	mode := "Errors only"
	if m.showAll {
		mode = "All packets"
	}
	s.WriteString(headerStyle.Render(fmt.Sprintf("%s | %s | Mode: %s | Press 'q' to quit", m.connInfo, m.device, mode)))
	s.WriteString("\n\n")

	// Sync status
	switch {
	case m.linkLost:
		s.WriteString(errorStyle.Render("✗ Link lost"))
	case !m.synchronized:
		s.WriteString(warningStyle.Render("⏳ Waiting for synchronization..."))
	default:
		s.WriteString(statsValueStyle.Render("✓ Synchronized"))
		if m.invalidBytes > 0 {
			s.WriteString(headerStyle.Render(fmt.Sprintf(" (skipped %d invalid bytes)", m.invalidBytes)))
		}
	}
	s.WriteString("\n\n")

	s.WriteString(boxStyle.Render(renderStatistics(m.stats.Snapshot())))
	s.WriteString("\n\n")

	// Latest sample (only shown once streaming)
	if m.lastSample != nil {
		s.WriteString(statsLabelStyle.Render("Latest Sample:"))
		s.WriteString("\n")
		s.WriteString(boxStyle.Render(renderSample(m.lastSample)))
		s.WriteString("\n\n")
	}

	s.WriteString(statsLabelStyle.Render("Recent Events:"))
	s.WriteString("\n")

	// Reserve space for header and stats
	logHeight := m.height - 15
	if m.lastSample != nil {
		logHeight -= 2 + m.lastSample.Options.FieldCount()
	}
	if logHeight < 5 {
		logHeight = 5
	}
	s.WriteString(m.events.render(m.width-4, logHeight))

	return s.String()
}
