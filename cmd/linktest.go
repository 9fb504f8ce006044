// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var linkTestDuration int

var linkTestCmd = &cobra.Command{
	Use:   "link_test",
	Short: "Test raw link stability",
	Long: `Connect to a module without speaking PDI and hold the link open.

Any data received is logged as hex, together with a heartbeat every second.
Useful for debugging connection stability issues on BLE, serial or the
WebSocket bridge.

Exit codes:
  0 - Link stayed up for the whole duration
  1 - Link lost
  2 - Connection error`,
	RunE: runLinkTest,
}

func init() {
	rootCmd.AddCommand(linkTestCmd)
	linkTestCmd.Flags().IntVar(&linkTestDuration, "duration", 30, "Test duration in seconds")
}

func runLinkTest(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	t, dev, info, err := connectRaw(ctx)
	if err != nil {
		return &exitError{code: 2, err: fmt.Errorf("Connection error: %w", err)}
	}
	defer t.Disconnect()

	fmt.Printf("Link Stability Test\n")
	fmt.Printf("Connection: %s\n", info)
	fmt.Printf("Device: %s\n", dev)
	fmt.Printf("Duration: %d seconds\n\n", linkTestDuration)

	readChan := make(chan []byte, 100)
	errChan := make(chan error, 1)
	t.OnDisconnect(func(cause error) {
		if cause == nil {
			cause = fmt.Errorf("closed by peer")
		}
		select {
		case errChan <- cause:
		default:
		}
	})
	if err := t.Subscribe(func(b []byte) {
		data := make([]byte, len(b))
		copy(data, b)
		select {
		case readChan <- data:
		default:
		}
	}); err != nil {
		return &exitError{code: 2, err: fmt.Errorf("subscribe: %w", err)}
	}

	startTime := time.Now()
	endTime := startTime.Add(time.Duration(linkTestDuration) * time.Second)
	bytesReceived := 0
	chunksReceived := 0

	printResults := func(result string) {
		fmt.Printf("\n--- Test Results ---\n")
		fmt.Printf("Duration: %s\n", formatDuration(time.Since(startTime)))
		fmt.Printf("Chunks received: %d\n", chunksReceived)
		fmt.Printf("Bytes received: %d\n", bytesReceived)
		fmt.Printf("Result: %s\n", result)
	}

	fmt.Printf("Listening for data...\n\n")

	heartbeat := time.NewTicker(time.Second)
	defer heartbeat.Stop()

	for time.Now().Before(endTime) {
		select {
		case data := <-readChan:
			bytesReceived += len(data)
			chunksReceived++
			fmt.Printf("[%s] Received %d bytes: %x\n",
				time.Now().Format("15:04:05.000"), len(data), data)

		case err := <-errChan:
			fmt.Printf("\n[%s] Connection error: %v\n",
				time.Now().Format("15:04:05.000"), err)
			printResults("FAILED (connection error)")
			return &exitError{code: 1}

		case <-ctx.Done():
			printResults("INTERRUPTED")
			return nil

		case <-heartbeat.C:
			// Just a heartbeat to show the test is running
			remaining := time.Until(endTime).Seconds()
			fmt.Printf("[%s] Still connected... (%.0fs remaining)\n",
				time.Now().Format("15:04:05.000"), remaining)
		}
	}

	printResults("PASSED (link stable)")
	return nil
}
