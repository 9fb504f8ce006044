// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/sensoplex/pkg/pdi"
	"github.com/Thermoquad/sensoplex/pkg/sensoplex"
)

var (
	showAll        bool
	statsInterval  int
	useTUI         bool
	validateStream bool
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Detect and analyze malformed packets and anomalous values",
	Long: `Track framing errors, payload decode failures and anomalous values with
statistics.

This command decodes the raw byte stream and detects:
  - Checksum mismatches and framing errors (overflow, truncation)
  - Payload decode failures (truncated records, unknown commands)
  - Anomalous values (battery or temperature out of range, reserved
    option bits, non-unit quaternions)
  - Statistics and trends (packet rate, error rate, success rate)

By default, only errors are displayed. Use --show-all to display valid
packets too. With --stream the module is asked to start streaming with
the configured capture fields so there is traffic to validate.`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
	validateCmd.Flags().BoolVar(&showAll, "show-all", false, "Show all packets (not just errors)")
	validateCmd.Flags().IntVar(&statsInterval, "stats-interval", 10, "Statistics update interval (seconds)")
	validateCmd.Flags().BoolVar(&useTUI, "tui", true, "Use terminal UI (false for text mode)")
	validateCmd.Flags().BoolVar(&validateStream, "stream", false, "Enable streaming with the configured capture fields")
}

// decodedMsg carries one decoder result to the text or TUI consumer
type decodedMsg struct {
	packet    *pdi.Packet
	record    pdi.Record
	frameErr  error
	decodeErr error
	anomalies []pdi.ValidationError
}

// syncMsg reports the first valid frame and how much noise preceded it
type syncMsg struct {
	invalidBytes int
}

// packetValidator turns raw bytes into decodedMsg values. Errors before
// the first valid frame only count as skipped bytes.
type packetValidator struct {
	decoder      *pdi.Decoder
	synchronized bool
	invalidBytes int
}

func newPacketValidator() *packetValidator {
	return &packetValidator{decoder: pdi.NewDecoder()}
}

// feed decodes data and calls emit for each result. Returns a syncMsg the
// first time a frame validates.
func (v *packetValidator) feed(data []byte, emit func(decodedMsg)) *syncMsg {
	var synced *syncMsg
	for _, b := range data {
		packet, err := v.decoder.DecodeByte(b)
		if err != nil {
			if v.synchronized {
				emit(decodedMsg{frameErr: err})
			} else {
				v.invalidBytes++
			}
			continue
		}
		if packet == nil {
			if !v.synchronized && !v.decoder.Collecting() {
				v.invalidBytes++
			}
			continue
		}

		if !v.synchronized {
			v.synchronized = true
			synced = &syncMsg{invalidBytes: v.invalidBytes}
		}

		msg := decodedMsg{packet: packet}
		msg.record, msg.decodeErr = pdi.DecodeRecord(packet)
		if msg.decodeErr == nil {
			msg.anomalies = pdi.ValidateRecord(msg.record)
		}
		emit(msg)
	}
	return synced
}

// record applies a decoded message to stats
func (m decodedMsg) count(stats *pdi.Statistics) {
	if m.frameErr != nil {
		stats.RecordFrameError(m.frameErr)
		return
	}
	stats.Update(m.packet, m.decodeErr, m.anomalies)
}

func runValidate(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	t, dev, info, err := connectRaw(ctx)
	if err != nil {
		return &exitError{code: 2, err: fmt.Errorf("Connection error: %w", err)}
	}
	defer t.Disconnect()

	lost := make(chan error, 1)
	t.OnDisconnect(func(cause error) {
		select {
		case lost <- cause:
		default:
		}
	})

	data := make(chan []byte, 64)
	if err := t.Subscribe(func(b []byte) {
		buf := make([]byte, len(b))
		copy(buf, b)
		select {
		case data <- buf:
		default:
		}
	}); err != nil {
		return &exitError{code: 2, err: fmt.Errorf("subscribe: %w", err)}
	}

	if validateStream {
		enableStream(t, cfg.StreamOptions())
		defer t.Write(pdi.MustEncodePacket(pdi.CmdStreamEnable, []byte{0}))
	}

	if useTUI {
		return runValidateTUI(info, dev, data, lost)
	}
	return runValidateText(info, dev, data, lost, ctx.Done())
}

// enableStream selects opts and turns streaming on without waiting for
// acknowledgements
func enableStream(t sensoplex.Transport, opts pdi.StreamOptions) {
	set := pdi.NewStreamSetConfig(opts)
	if err := t.Write(pdi.MustEncodePacket(set.Code, set.Args)); err != nil {
		logger.Warn().Err(err).Msg("Stream config write failed")
	}
	// Give the module time to apply the configuration
	time.Sleep(50 * time.Millisecond)
	if err := t.Write(pdi.MustEncodePacket(pdi.CmdStreamEnable, []byte{1})); err != nil {
		logger.Warn().Err(err).Msg("Stream enable write failed")
	}
}

// printDecodeError prints a frame or payload error in highlighted format
func printDecodeError(msg decodedMsg) {
	timestamp := time.Now().Format("15:04:05.000")
	if msg.frameErr != nil {
		fmt.Printf("[%s] \033[1;31mFRAME ERROR:\033[0m %v\n", timestamp, msg.frameErr)
		fmt.Printf("  >>> FRAME DROPPED <<<\n\n")
		return
	}
	fmt.Printf("[%s] \033[1;31mDECODE ERROR:\033[0m %s (0x%02X) %v\n",
		timestamp, pdi.FormatCommand(msg.packet.Command()), msg.packet.Command(), msg.decodeErr)
	fmt.Printf("  >>> DECODE FAILED <<<\n\n")
}

// printValidationErrors prints the anomalies found in a record
func printValidationErrors(packet *pdi.Packet, anomalies []pdi.ValidationError) {
	timestamp := packet.Timestamp().Format("15:04:05.000")

	fmt.Printf("[%s] \033[1;33mVALIDATION ERROR:\033[0m %s (0x%02X)\n",
		timestamp, pdi.FormatCommand(packet.Command()), packet.Command())
	fmt.Printf("  Checksum: \033[1;32mOK\033[0m\n")

	for i, a := range anomalies {
		switch a.Type {
		case pdi.AnomalyReservedOption:
			fmt.Printf("  Issue %d: \033[1;31m%s\033[0m\n", i+1, a.Message)
		case pdi.AnomalyBatteryRange, pdi.AnomalyTemperatureRange:
			fmt.Printf("  Issue %d: \033[1;33m%s\033[0m\n", i+1, a.Message)
		case pdi.AnomalyQuaternionNorm:
			fmt.Printf("  Issue %d: \033[1;33m%s\033[0m\n", i+1, a.Message)
			if norm, ok := a.Details["norm"].(float64); ok {
				fmt.Printf("    |q|=%.4f (expected 1.0)\n", norm)
			}
		default:
			fmt.Printf("  Issue %d: %s\n", i+1, a.Message)
		}
	}

	fmt.Printf("  >>> RECORD FLAGGED <<<\n\n")
}

// runValidateText runs validation in text mode
func runValidateText(info string, dev sensoplex.Device, data <-chan []byte, lost <-chan error, done <-chan struct{}) error {
	fmt.Printf("Sensoplex - Validation Mode\n")
	fmt.Printf("Connection: %s\n", info)
	fmt.Printf("Device: %s\n", dev)
	fmt.Printf("Statistics interval: %d seconds\n", statsInterval)
	if showAll {
		fmt.Printf("Mode: All packets\n")
	} else {
		fmt.Printf("Mode: Errors only\n")
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	validator := newPacketValidator()
	stats := pdi.NewStatistics()

	// Statistics ticker
	statsTicker := time.NewTicker(time.Duration(statsInterval) * time.Second)
	defer statsTicker.Stop()

	handle := func(msg decodedMsg) {
		msg.count(stats)
		switch {
		case msg.frameErr != nil || msg.decodeErr != nil:
			printDecodeError(msg)
		case len(msg.anomalies) > 0:
			printValidationErrors(msg.packet, msg.anomalies)
		case showAll:
			fmt.Print(pdi.FormatPacket(msg.packet))
		}
	}

	for {
		select {
		case b := <-data:
			if synced := validator.feed(b, handle); synced != nil {
				if synced.invalidBytes > 0 {
					fmt.Printf("[SYNC] Synchronized after skipping %d invalid bytes\n\n", synced.invalidBytes)
				} else {
					fmt.Printf("[SYNC] Synchronized\n\n")
				}
			}

		case <-statsTicker.C:
			fmt.Println()
			fmt.Print(stats.String())
			fmt.Println()

		case cause := <-lost:
			fmt.Print(stats.String())
			return &exitError{code: 2, err: fmt.Errorf("link lost: %v", cause)}

		case <-done:
			fmt.Println()
			fmt.Print(stats.String())
			return nil
		}
	}
}

// runValidateTUI runs validation in TUI mode
func runValidateTUI(info string, dev sensoplex.Device, data <-chan []byte, lost <-chan error) error {
	m := initialValidateModel(info, dev.String(), statsInterval, showAll)
	p := tea.NewProgram(m, tea.WithAltScreen())

	validator := newPacketValidator()
	go func() {
		for {
			select {
			case b := <-data:
				synced := validator.feed(b, func(msg decodedMsg) { p.Send(msg) })
				if synced != nil {
					p.Send(*synced)
				}
			case cause := <-lost:
				p.Send(linkLostMsg{cause: cause})
				return
			}
		}
	}()

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("TUI error: %v", err)
	}
	return nil
}
