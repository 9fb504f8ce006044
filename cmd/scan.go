// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/sensoplex/pkg/sensoplex"
)

var (
	scanTimeout int
	scanAll     bool
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "List reachable devices",
	Long: `Scan the configured transport for candidate devices.

Modes:
  BLE:       Listen for advertisements until the timeout. Devices are listed
             with their address, advertised name and signal strength.
  Serial:    List the host's serial ports.
  WebSocket: Report the configured bridge URL.

By default only devices accepted by --name and --address are listed. Use
--all to list everything the transport reports.

Exit codes:
  0 - At least one device found
  1 - No devices found
  2 - Transport error`,
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)
	scanCmd.Flags().IntVar(&scanTimeout, "timeout", 5, "Timeout in seconds for scanning")
	scanCmd.Flags().BoolVar(&scanAll, "all", false, "List devices rejected by the name/address filter too")
}

func runScan(cmd *cobra.Command, args []string) error {
	t, info, err := OpenTransport()
	if err != nil {
		return &exitError{code: 2, err: fmt.Errorf("Transport error: %w", err)}
	}

	fmt.Printf("Sensoplex - Device Scan\n")
	fmt.Printf("Connection: %s\n", info)
	fmt.Printf("Timeout: %d seconds\n\n", scanTimeout)

	ctx, cancel := signalContext()
	defer cancel()
	ctx, cancelScan := context.WithTimeout(ctx, time.Duration(scanTimeout)*time.Second)
	defer cancelScan()

	filter := deviceFilter()
	if scanAll {
		filter = nil
	}

	devices := newDeviceSet()
	err = t.Scan(ctx, func(d sensoplex.Device) {
		if filter != nil && !filter(d) {
			return
		}
		if devices.add(d) {
			fmt.Printf("Device found: %s", d)
			if d.RSSI != 0 {
				fmt.Printf(" rssi=%d dBm", d.RSSI)
			}
			fmt.Println()
		}
	})
	if err != nil && ctx.Err() == nil {
		return &exitError{code: 2, err: fmt.Errorf("Scan error: %w", err)}
	}

	// Summary
	list := devices.sorted()
	fmt.Printf("\n--- Scan summary ---\n")
	fmt.Printf("Devices found: %d\n", len(list))
	for _, d := range list {
		fmt.Printf("  %-20s %-24s %4d dBm\n", d.ID, d.Name, d.RSSI)
	}

	if len(list) == 0 {
		fmt.Printf("No devices found. Check device power and the --name/--address filter.\n")
		return &exitError{code: 1}
	}
	return nil
}

// deviceSet collects scan results, keeping the strongest RSSI per device
type deviceSet struct {
	mu      sync.Mutex
	devices map[string]sensoplex.Device
}

func newDeviceSet() *deviceSet {
	return &deviceSet{devices: make(map[string]sensoplex.Device)}
}

// add records d and reports whether it was new
func (s *deviceSet) add(d sensoplex.Device) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, seen := s.devices[d.ID]
	if seen {
		if d.Name == "" {
			d.Name = prev.Name
		}
		if prev.RSSI != 0 && (d.RSSI == 0 || prev.RSSI > d.RSSI) {
			d.RSSI = prev.RSSI
		}
	}
	s.devices[d.ID] = d
	return !seen
}

// sorted returns the devices strongest signal first, then by ID
func (s *deviceSet) sorted() []sensoplex.Device {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]sensoplex.Device, 0, len(s.devices))
	for _, d := range s.devices {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RSSI != out[j].RSSI {
			return out[i].RSSI > out[j].RSSI
		}
		return out[i].ID < out[j].ID
	})
	return out
}
