// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package pdi

import "time"

// Packet represents a decoded PDI frame: a command byte and its payload.
// The checksum has already been verified and stripped.
type Packet struct {
	command   uint8
	payload   []byte
	checksum  uint8
	timestamp time.Time
}

// NewPacket creates a new packet with the given fields
func NewPacket(command uint8, payload []byte) *Packet {
	return &Packet{
		command:   command,
		payload:   payload,
		checksum:  Checksum(command, payload),
		timestamp: time.Now(),
	}
}

// Command returns the packet's command byte
func (p *Packet) Command() uint8 {
	return p.command
}

// Payload returns the packet's payload bytes (command and checksum excluded)
func (p *Packet) Payload() []byte {
	return p.payload
}

// Length returns the payload length
func (p *Packet) Length() int {
	return len(p.payload)
}

// Checksum returns the packet's checksum byte
func (p *Packet) Checksum() uint8 {
	return p.checksum
}

// Timestamp returns the packet's decode timestamp
func (p *Packet) Timestamp() time.Time {
	return p.timestamp
}
