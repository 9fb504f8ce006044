// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/sensoplex/pkg/export"
	"github.com/Thermoquad/sensoplex/pkg/pdi"
	"github.com/Thermoquad/sensoplex/pkg/sensoplex"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Interactive TUI for monitoring and controlling a module",
	Long: `Monitor and control a sensor module via an interactive terminal UI.

The TUI scans the configured transport first and lists the devices it
finds. Select one with the arrow keys and press Enter to connect.

Features:
  - Device discovery with signal strength
  - Session state, firmware version and battery display
  - Streamed capture with live sample display
  - LED control and raw command entry
  - Statistics tracking and event logging
  - Export of the captured samples
  - Automatic reconnection on link loss

Keys (once connected):
  c  start/stop capture     v  request version
  s  request status         l  cycle LED state
  :  send a raw command     e  export captured samples
  d  disconnect             q  quit`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
}

// sessionManager owns the transport and session behind the TUI and
// reconnects after link loss
type sessionManager struct {
	t        sensoplex.Transport
	s        *sensoplex.Session
	connInfo string
	p        *tea.Program
	done     chan struct{}

	mu     sync.Mutex
	device sensoplex.Device
	wanted bool // reconnect on link loss
}

// teaLogWriter forwards session log lines to the TUI event log
type teaLogWriter struct {
	sm *sessionManager
}

func (w teaLogWriter) Write(b []byte) (int, error) {
	if w.sm.p != nil {
		w.sm.p.Send(logLineMsg{line: strings.TrimSpace(string(b))})
	}
	return len(b), nil
}

func runMonitor(cmd *cobra.Command, args []string) error {
	t, connInfo, err := OpenTransport()
	if err != nil {
		return err
	}

	sm := &sessionManager{
		t:        t,
		connInfo: connInfo,
		done:     make(chan struct{}),
	}

	// Session logs go to the event log, not the terminal. The program is
	// set before anything is connected, so nothing logs before then.
	out := zerolog.ConsoleWriter{
		Out:          teaLogWriter{sm: sm},
		NoColor:      true,
		PartsExclude: []string{zerolog.TimestampFieldName},
	}

	sm.s = sensoplex.New(t,
		sensoplex.WithLogger(zerolog.New(out).Level(sessionLogger().GetLevel())),
		sensoplex.WithConnectTimeout(cfg.Session.ConnectTimeout),
		sensoplex.WithCommandTimeout(cfg.Session.CommandTimeout),
	)

	m := initialMonitorModel(sm)
	sm.p = tea.NewProgram(m, tea.WithAltScreen(), tea.WithMouseCellMotion())

	unsubscribe := sm.subscribe()
	defer unsubscribe()

	_, err = sm.p.Run()
	close(sm.done)
	sm.setWanted(false)
	sm.s.Close()
	if err != nil {
		return fmt.Errorf("TUI error: %v", err)
	}
	return nil
}

// subscribe forwards session events to the program
func (sm *sessionManager) subscribe() func() {
	unsubState := sm.s.OnStateChange(func(st sensoplex.State) {
		sm.p.Send(sessionStateMsg{state: st})
		if st == sensoplex.StateDisconnected && sm.isWanted() {
			go sm.reconnect()
		}
	})
	unsubSample := sm.s.OnSample(func(sample *pdi.SensorSample) {
		sm.p.Send(sampleMsg{sample: sample})
	})
	unsubRecord := sm.s.OnRecord(func(r pdi.Record) {
		sm.p.Send(recordMsg{record: r, anomalies: pdi.ValidateRecord(r)})
	})
	return func() {
		unsubState()
		unsubSample()
		unsubRecord()
	}
}

func (sm *sessionManager) setWanted(wanted bool) {
	sm.mu.Lock()
	sm.wanted = wanted
	sm.mu.Unlock()
}

func (sm *sessionManager) isWanted() bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.wanted
}

// scan lists devices for timeout, sending each new one to the program
func (sm *sessionManager) scan(timeout time.Duration) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		filter := deviceFilter()
		devices := newDeviceSet()
		err := sm.t.Scan(ctx, func(d sensoplex.Device) {
			if filter != nil && !filter(d) {
				return
			}
			if devices.add(d) {
				sm.p.Send(deviceFoundMsg{device: d})
			}
		})
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			err = nil
		}
		return scanDoneMsg{err: err}
	}
}

// connect stops scanning and connects the session to dev
func (sm *sessionManager) connect(dev sensoplex.Device) tea.Cmd {
	return func() tea.Msg {
		sm.t.StopScan()
		sm.mu.Lock()
		sm.device = dev
		sm.wanted = true
		sm.mu.Unlock()

		err := sm.s.ConnectDevice(context.Background(), dev)
		if err != nil {
			sm.setWanted(false)
		}
		return connectResultMsg{device: dev, err: err}
	}
}

// disconnect drops the link without reconnecting
func (sm *sessionManager) disconnect() tea.Cmd {
	return func() tea.Msg {
		sm.setWanted(false)
		return commandResultMsg{label: "Disconnect", err: sm.s.Disconnect()}
	}
}

// reconnect retries the last device with exponential backoff until it
// succeeds, reconnection is no longer wanted or the program exits
func (sm *sessionManager) reconnect() {
	backoff := 1 * time.Second
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-sm.done:
			return
		case <-time.After(backoff):
		}

		if !sm.isWanted() {
			return
		}
		sm.mu.Lock()
		dev := sm.device
		sm.mu.Unlock()

		err := sm.s.ConnectDevice(context.Background(), dev)
		if err == nil {
			sm.p.Send(reconnectedMsg{device: dev})
			return
		}
		if errors.Is(err, sensoplex.ErrAlreadyConnected) {
			return
		}
		// A Disconnect during the attempt cancels it
		if errors.Is(err, sensoplex.ErrDisconnected) && !sm.isWanted() {
			return
		}
		sm.p.Send(logLineMsg{line: fmt.Sprintf("Reconnect failed: %v (retry in %s)", err, backoff)})

		// Exponential backoff
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// run issues cmd and reports its record
func (sm *sessionManager) run(label string, cmd pdi.Command) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Session.CommandTimeout+time.Second)
		defer cancel()
		record, err := sm.s.Do(ctx, cmd)
		return commandResultMsg{label: label, record: record, err: err}
	}
}

// toggleCapture starts or stops capture depending on the session state
func (sm *sessionManager) toggleCapture() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 2*cfg.Session.CommandTimeout+time.Second)
		defer cancel()
		if sm.s.IsCapturing() {
			return commandResultMsg{label: "Stop capture", err: sm.s.StopCapture(ctx)}
		}
		return commandResultMsg{label: "Start capture", err: sm.s.StartCapture(ctx, cfg.StreamOptions())}
	}
}

// exportStore writes the captured samples to the configured directory
func (sm *sessionManager) exportStore() tea.Cmd {
	return func() tea.Msg {
		samples := sm.s.Store().All()
		if len(samples) == 0 {
			return exportResultMsg{err: errors.New("no samples captured")}
		}
		path, err := export.WriteFile(cfg.Capture.Dir, "", cfg.Capture.Format, cfg.StreamOptions(), samples)
		return exportResultMsg{path: path, count: len(samples), err: err}
	}
}
