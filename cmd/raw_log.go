// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/sensoplex/pkg/pdi"
)

var rawLogStream bool

var rawLogCmd = &cobra.Command{
	Use:   "raw_log",
	Short: "Display raw packet log in human-readable format",
	Long: `Continuously decode and display PDI packets as they arrive.

Each packet is shown with its receive time, command name and decoded record.
Frames that fail the checksum or framing checks are reported inline.

With --stream the module is told to start streaming first, so sensor
records show up without another client driving it.

Supports BLE, serial and WebSocket connections.`,
	RunE: runRawLog,
}

func init() {
	rootCmd.AddCommand(rawLogCmd)
	rawLogCmd.Flags().BoolVar(&rawLogStream, "stream", false, "Send STREAM_ENABLE after connecting")
}

func runRawLog(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	t, dev, info, err := connectRaw(ctx)
	if err != nil {
		return err
	}
	defer t.Disconnect()

	fmt.Printf("Sensoplex - Raw Packet Log\n")
	fmt.Printf("Connection: %s\n", info)
	fmt.Printf("Device: %s\n", dev)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	lost := make(chan error, 1)
	t.OnDisconnect(func(err error) { lost <- err })

	// Subscribe delivers from a single goroutine, so the decoder needs no lock
	decoder := pdi.NewDecoder()
	err = t.Subscribe(func(data []byte) {
		for _, b := range data {
			packet, err := decoder.DecodeByte(b)
			if err != nil {
				fmt.Printf("[ERROR] %v\n", err)
				continue
			}
			if packet != nil {
				fmt.Print(pdi.FormatPacket(packet))
			}
		}
	})
	if err != nil {
		return err
	}

	if rawLogStream {
		if err := t.Write(pdi.MustEncodePacket(pdi.CmdStreamEnable, []byte{1})); err != nil {
			return fmt.Errorf("send STREAM_ENABLE: %w", err)
		}
	}

	select {
	case <-ctx.Done():
		if rawLogStream {
			t.Write(pdi.MustEncodePacket(pdi.CmdStreamEnable, []byte{0}))
		}
		return nil
	case err := <-lost:
		if err != nil {
			logger.Warn().Err(err).Msg("Connection lost")
		} else {
			logger.Info().Msg("Connection closed")
		}
		return nil
	}
}
