// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/sensoplex/pkg/pdi"
)

var (
	packetTestTimeout int
)

var packetTestCmd = &cobra.Command{
	Use:   "packet_test",
	Short: "Test connection by waiting for a valid PDI packet",
	Long: `Wait for a valid PDI packet on the connection until timeout.

This command connects to the module and requests its firmware version, then
waits for any valid packet. It ignores invalid bytes and waits for a
complete, valid frame (passing the checksum).

Exit codes:
  0 - Packet received before timeout
  1 - Timeout reached without receiving a valid packet
  2 - Connection error

Useful for testing connectivity to a module or WebSocket bridge.`,
	RunE: runPacketTest,
}

func init() {
	rootCmd.AddCommand(packetTestCmd)
	packetTestCmd.Flags().IntVar(&packetTestTimeout, "timeout", 10, "Timeout in seconds to wait for a packet")
}

func runPacketTest(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	t, dev, info, err := connectRaw(ctx)
	if err != nil {
		return &exitError{code: 2, err: fmt.Errorf("Connection error: %w", err)}
	}
	defer t.Disconnect()

	fmt.Printf("Sensoplex - Packet Test\n")
	fmt.Printf("Connection: %s\n", info)
	fmt.Printf("Device: %s\n", dev)
	fmt.Printf("Timeout: %d seconds\n", packetTestTimeout)
	fmt.Printf("Waiting for valid PDI packet...\n\n")

	decoder := pdi.NewDecoder()

	// Channel for packet reception
	packetChan := make(chan *pdi.Packet, 1)
	errChan := make(chan error, 1)

	t.OnDisconnect(func(err error) {
		if err == nil {
			err = fmt.Errorf("connection closed")
		}
		errChan <- err
	})

	invalidBytes := 0
	err = t.Subscribe(func(data []byte) {
		for _, b := range data {
			packet, decodeErr := decoder.DecodeByte(b)
			if decodeErr != nil {
				// Ignore decode errors, just count invalid frames
				invalidBytes++
				continue
			}
			if packet == nil {
				continue
			}
			if invalidBytes > 0 {
				fmt.Printf("(skipped %d invalid frames before sync)\n", invalidBytes)
				invalidBytes = 0
			}
			select {
			case packetChan <- packet:
			default:
			}
		}
	})
	if err != nil {
		return &exitError{code: 2, err: fmt.Errorf("Subscribe error: %w", err)}
	}

	// Prompt the module so an idle link still answers
	if err := t.Write(pdi.MustEncodePacket(pdi.CmdVersion, nil)); err != nil {
		return &exitError{code: 2, err: fmt.Errorf("Write error: %w", err)}
	}

	// Wait for packet or timeout
	select {
	case packet := <-packetChan:
		fmt.Printf("SUCCESS: Received valid packet\n")
		fmt.Printf("  Command: %s (0x%02X)\n", pdi.FormatCommand(packet.Command()), packet.Command())
		fmt.Printf("  Length: %d bytes\n", packet.Length())
		fmt.Printf("  Checksum: 0x%02X\n", packet.Checksum())
		return nil

	case err := <-errChan:
		return &exitError{code: 2, err: fmt.Errorf("Read error: %w", err)}

	case <-ctx.Done():
		return &exitError{code: 1}

	case <-time.After(time.Duration(packetTestTimeout) * time.Second):
		fmt.Fprintf(os.Stderr, "TIMEOUT: No valid packet received within %d seconds\n", packetTestTimeout)
		return &exitError{code: 1}
	}
}
