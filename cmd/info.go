// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/sensoplex/pkg/pdi"
	"github.com/Thermoquad/sensoplex/pkg/sensoplex"
)

var (
	infoPingCount int
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show firmware version, status and configuration of a module",
	Long: `Connect to a module and query its identity and health.

Requests the firmware version, module status (battery, charger, error
counters), module configuration, stream configuration, clock and
temperature. Each request is a command/response exchange bounded by the
command timeout.

With --ping N the VERSION request is repeated N more times and the round
trip time of each is reported. This is useful for verifying:
  - The link is established
  - Commands reach the module
  - Responses make it back

Exit codes:
  0 - All requests answered
  1 - One or more requests failed/timed out
  2 - Connection error`,
	RunE: runInfo,
}

func init() {
	rootCmd.AddCommand(infoCmd)
	infoCmd.Flags().IntVar(&infoPingCount, "ping", 0, "Number of extra VERSION round trips to time")
}

func runInfo(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	s, info, err := OpenSession(ctx)
	if err != nil {
		return &exitError{code: 2, err: fmt.Errorf("Connection error: %w", err)}
	}
	defer s.Close()

	fmt.Printf("Sensoplex - Module Info\n")
	fmt.Printf("Connection: %s\n", info)
	fmt.Printf("Device: %s\n\n", s.Device())

	failures := 0
	queries := []struct {
		name string
		cmd  pdi.Command
	}{
		{"Version", pdi.NewVersionRequest()},
		{"Status", pdi.NewStatusRequest()},
		{"Config", pdi.NewConfigRequest()},
		{"Stream config", pdi.NewStreamConfigRequest()},
		{"Clock", pdi.NewGetRTC()},
		{"Temperature", pdi.NewGetTemperature()},
	}

	for _, q := range queries {
		record, err := s.Do(ctx, q.cmd)
		if err != nil {
			fmt.Printf("%s: FAILED: %v\n", q.name, err)
			failures++
			if ctx.Err() != nil {
				break
			}
			continue
		}
		fmt.Printf("%s:\n%s", q.name, pdi.FormatRecord(record))
	}

	if v, ok := s.BatteryVolts(); ok {
		charging := "no"
		if s.IsBatteryCharging() {
			charging = "yes"
		}
		fmt.Printf("\nBattery: %.2f V, charging: %s\n", v, charging)
	}

	if infoPingCount > 0 {
		failures += pingVersion(ctx, s, infoPingCount)
	}

	if failures > 0 {
		return &exitError{code: 1}
	}
	return nil
}

// pingVersion times count VERSION round trips and returns how many failed
func pingVersion(ctx context.Context, s *sensoplex.Session, count int) int {
	fmt.Printf("\n")
	successCount := 0
	failCount := 0
	var total time.Duration

	for i := 1; i <= count; i++ {
		fmt.Printf("Ping %d/%d: ", i, count)

		startTime := time.Now()
		v, err := s.RequestVersion(ctx)
		if err != nil {
			fmt.Printf("FAILED: %v\n", err)
			failCount++
			if ctx.Err() != nil {
				break
			}
			continue
		}
		rtt := time.Since(startTime)
		total += rtt
		successCount++
		fmt.Printf("VERSION %s, rtt=%v\n", v, rtt.Round(time.Millisecond))

		// Small delay between pings
		if i < count {
			time.Sleep(100 * time.Millisecond)
		}
	}

	// Summary
	fmt.Printf("\n--- Ping statistics ---\n")
	fmt.Printf("%d requests sent, %d responses received, %.0f%% loss\n",
		count, successCount, float64(failCount)/float64(count)*100)
	if successCount > 0 {
		fmt.Printf("average rtt=%v\n", (total / time.Duration(successCount)).Round(time.Millisecond))
	}
	return failCount
}
