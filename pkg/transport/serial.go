// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"context"
	"fmt"
	"io"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"

	"github.com/Thermoquad/sensoplex/pkg/sensoplex"
)

// DefaultBaudRate is the SP-10BN UART rate
const DefaultBaudRate = 115200

// SerialConnection wraps a serial port
type SerialConnection struct {
	port serial.Port
}

func (s *SerialConnection) Read(p []byte) (int, error) {
	return s.port.Read(p)
}

func (s *SerialConnection) Write(p []byte) (int, error) {
	return s.port.Write(p)
}

func (s *SerialConnection) Close() error {
	return s.port.Close()
}

// OpenSerial opens a serial port at 8N1
func OpenSerial(portName string, baudRate int) (*SerialConnection, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", portName, err)
	}

	return &SerialConnection{port: port}, nil
}

// NewSerial creates a transport for modules attached over a UART. Scan
// lists the host's serial ports; the device ID is the port name.
func NewSerial(baudRate int) *Stream {
	if baudRate <= 0 {
		baudRate = DefaultBaudRate
	}
	open := func(ctx context.Context, dev sensoplex.Device) (io.ReadWriteCloser, error) {
		return OpenSerial(dev.ID, baudRate)
	}
	return NewStream(open, ListSerialPorts)
}

// ListSerialPorts lists serial ports, naming USB adapters by product
func ListSerialPorts(ctx context.Context) ([]sensoplex.Device, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("list serial ports: %w", err)
	}
	return serialDevices(ports), nil
}

func serialDevices(ports []*enumerator.PortDetails) []sensoplex.Device {
	devices := make([]sensoplex.Device, 0, len(ports))
	for _, p := range ports {
		dev := sensoplex.Device{ID: p.Name}
		if p.IsUSB {
			dev.Name = p.Product
			if dev.Name == "" {
				dev.Name = fmt.Sprintf("USB %s:%s", p.VID, p.PID)
			}
		}
		devices = append(devices, dev)
	}
	return devices
}
