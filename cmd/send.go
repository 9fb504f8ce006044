// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/sensoplex/pkg/pdi"
)

var (
	sendTimeout time.Duration
	sendLED     string
)

var sendCmd = &cobra.Command{
	Use:   "send <command> [args-hex]",
	Short: "Send one command and print the response",
	Long: `Issue a single PDI command and wait for its response.

The command is either a name (status, version, config, stream_get_config,
rtc, pressure, temperature, log_status, log_config) or a raw code such as
0x30. Arguments are given as hex bytes, e.g.:

  sensoplex send 0x62 2400        # STREAM_SET_CONFIG accel|battery
  sensoplex send set_rtc          # set the module clock to now
  sensoplex send led --led green

The response must arrive within --timeout (default: the configured command
timeout).`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runSend,
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().DurationVar(&sendTimeout, "timeout", 0, "Response timeout (0 uses the configured command timeout)")
	sendCmd.Flags().StringVar(&sendLED, "led", "system", "LED state for the led command (system, green, red)")
}

// namedCommands maps command names to builders
var namedCommands = map[string]func() (pdi.Command, error){
	"status":            func() (pdi.Command, error) { return pdi.NewStatusRequest(), nil },
	"version":           func() (pdi.Command, error) { return pdi.NewVersionRequest(), nil },
	"config":            func() (pdi.Command, error) { return pdi.NewConfigRequest(), nil },
	"stream_get_config": func() (pdi.Command, error) { return pdi.NewStreamConfigRequest(), nil },
	"rtc":               func() (pdi.Command, error) { return pdi.NewGetRTC(), nil },
	"set_rtc":           func() (pdi.Command, error) { return pdi.NewSetRTC(time.Now()), nil },
	"pressure":          func() (pdi.Command, error) { return pdi.NewGetPressure(), nil },
	"temperature":       func() (pdi.Command, error) { return pdi.NewGetTemperature(), nil },
	"log_status":        func() (pdi.Command, error) { return pdi.NewLogStatusRequest(), nil },
	"log_config":        func() (pdi.Command, error) { return pdi.NewLogConfigRequest(), nil },
	"log_first":         func() (pdi.Command, error) { return pdi.NewLogFirstRecord(), nil },
	"led": func() (pdi.Command, error) {
		state, err := parseLEDState(sendLED)
		if err != nil {
			return pdi.Command{}, err
		}
		return pdi.NewSetLED(state), nil
	},
}

// parseCommand builds a command from a name or code and optional hex args
func parseCommand(name string, argHex string) (pdi.Command, error) {
	if build, ok := namedCommands[strings.ToLower(name)]; ok {
		if argHex != "" {
			return pdi.Command{}, fmt.Errorf("%s takes no arguments", name)
		}
		return build()
	}

	code, err := strconv.ParseUint(name, 0, 8)
	if err != nil {
		return pdi.Command{}, fmt.Errorf("unknown command %q", name)
	}

	var args []byte
	if argHex != "" {
		args, err = hex.DecodeString(strings.ReplaceAll(argHex, " ", ""))
		if err != nil {
			return pdi.Command{}, fmt.Errorf("invalid hex arguments: %w", err)
		}
	}
	return pdi.NewCommand(uint8(code), args), nil
}

func parseLEDState(s string) (pdi.LEDState, error) {
	switch strings.ToLower(s) {
	case "system", "auto", "":
		return pdi.LEDSystemControl, nil
	case "green":
		return pdi.LEDGreen, nil
	case "red":
		return pdi.LEDRed, nil
	default:
		return 0, fmt.Errorf("unknown LED state %q (system, green or red)", s)
	}
}

func runSend(cmd *cobra.Command, args []string) error {
	argHex := ""
	if len(args) > 1 {
		argHex = args[1]
	}
	command, err := parseCommand(args[0], argHex)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	s, _, err := OpenSession(ctx)
	if err != nil {
		return &exitError{code: 2, err: fmt.Errorf("Connection error: %w", err)}
	}
	defer s.Close()

	timeout := sendTimeout
	if timeout <= 0 {
		timeout = cfg.Session.CommandTimeout
	}

	fmt.Printf("Sending %s (0x%02X) args=% X\n", pdi.FormatCommand(command.Code), command.Code, command.Args)
	startTime := time.Now()
	pc, err := s.Issue(command, timeout)
	if err != nil {
		return err
	}
	record, err := pc.Wait(ctx)
	if err != nil {
		return &exitError{code: 1, err: err}
	}

	fmt.Printf("Response after %v:\n", time.Since(startTime).Round(time.Millisecond))
	fmt.Print(pdi.FormatRecord(record))
	return nil
}
