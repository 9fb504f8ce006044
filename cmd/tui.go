// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/sensoplex/pkg/pdi"
)

// Shared TUI styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12")).
			Background(lipgloss.Color("235")).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	statsLabelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("12")).
			Bold(true)

	statsValueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)

	focusedBoxStyle = boxStyle.
			BorderForeground(lipgloss.Color("12"))
)

// Error log entry
type errorLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool // true for errors, false for warnings
}

// eventLog keeps the most recent entries
type eventLog struct {
	entries []errorLogEntry
	limit   int
}

func newEventLog(limit int) eventLog {
	return eventLog{limit: limit}
}

func (l *eventLog) add(message string, isError bool) {
	l.entries = append(l.entries, errorLogEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	})

	// Keep only last N entries
	if len(l.entries) > l.limit {
		l.entries = l.entries[len(l.entries)-l.limit:]
	}
}

// tail returns the last n entries
func (l eventLog) tail(n int) []errorLogEntry {
	if n >= len(l.entries) {
		return l.entries
	}
	return l.entries[len(l.entries)-n:]
}

// render draws the last height entries in a box width wide
func (l eventLog) render(width, height int) string {
	var s strings.Builder

	if len(l.entries) == 0 {
		s.WriteString(headerStyle.Render("  (no events yet)"))
	}
	for _, entry := range l.tail(height) {
		timestamp := entry.timestamp.Format("15:04:05.000")
		if entry.isError {
			s.WriteString(fmt.Sprintf("%s %s\n", headerStyle.Render(timestamp), errorStyle.Render("✗ "+entry.message)))
		} else {
			s.WriteString(fmt.Sprintf("%s %s\n", headerStyle.Render(timestamp), warningStyle.Render("ℹ "+entry.message)))
		}
	}

	return boxStyle.Width(width).Render(s.String())
}

// renderStatistics draws the packet counters
func renderStatistics(st pdi.StatisticsSnapshot) string {
	var validPercent, errorPercent float64
	if st.TotalPackets > 0 {
		validPercent = float64(st.ValidPackets) * 100.0 / float64(st.TotalPackets)
		errorPercent = float64(st.Errors()+st.AnomalousValues) * 100.0 / float64(st.TotalPackets)
	}

	var s strings.Builder
	s.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s   %s %s\n",
		statsLabelStyle.Render("Total:"), statsValueStyle.Render(fmt.Sprintf("%d", st.TotalPackets)),
		statsLabelStyle.Render("Valid:"), statsValueStyle.Render(fmt.Sprintf("%d (%.1f%%)", st.ValidPackets, validPercent)),
		statsLabelStyle.Render("Errors:"), errorStyle.Render(fmt.Sprintf("%d (%.1f%%)", st.Errors()+st.AnomalousValues, errorPercent)),
		statsLabelStyle.Render("Samples:"), statsValueStyle.Render(fmt.Sprintf("%d", st.Samples)),
	))

	if st.Errors() > 0 {
		s.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
			statsLabelStyle.Render("Checksum:"), errorStyle.Render(fmt.Sprintf("%d", st.ChecksumErrors)),
			statsLabelStyle.Render("Framing:"), errorStyle.Render(fmt.Sprintf("%d", st.FramingErrors)),
			statsLabelStyle.Render("Decode:"), errorStyle.Render(fmt.Sprintf("%d", st.DecodeErrors)),
		))
	}

	if st.AnomalousValues > 0 {
		s.WriteString(fmt.Sprintf("%s %s\n",
			statsLabelStyle.Render("Anomalous:"), warningStyle.Render(fmt.Sprintf("%d", st.AnomalousValues)),
		))
	}

	errRate := statsValueStyle.Render(fmt.Sprintf("%.1f err/s", st.ErrorRate))
	if st.ErrorRate > 0 {
		errRate = errorStyle.Render(fmt.Sprintf("%.1f err/s", st.ErrorRate))
	}
	s.WriteString(fmt.Sprintf("%s %s   %s %s",
		statsLabelStyle.Render("Packet Rate:"), statsValueStyle.Render(fmt.Sprintf("%.1f pkts/s", st.PacketRate)),
		statsLabelStyle.Render("Error Rate:"), errRate,
	))

	return s.String()
}

// renderSample draws the present fields of the latest sample, one per line
func renderSample(s *pdi.SensorSample) string {
	if s == nil {
		return headerStyle.Render("No samples yet")
	}

	var b strings.Builder
	for _, line := range strings.Split(strings.TrimRight(pdi.FormatSample(s), "\n"), "\n") {
		label, value, found := strings.Cut(strings.TrimSpace(line), ": ")
		if !found {
			b.WriteString(line + "\n")
			continue
		}
		b.WriteString(fmt.Sprintf("%s %s\n", statsLabelStyle.Render(label+":"), statsValueStyle.Render(value)))
	}
	return strings.TrimRight(b.String(), "\n")
}
