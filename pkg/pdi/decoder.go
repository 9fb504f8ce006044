// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package pdi

import "time"

// DecoderCounters tracks frames seen by a Decoder
type DecoderCounters struct {
	Frames          uint64 // valid frames
	ChecksumErrors  uint64
	FramingErrors   uint64 // too short, overflow, dangling escape
	TruncatedFrames uint64 // aborted by a new start byte or Flush
}

// Decoder implements the PDI frame decoder state machine.
// A Decoder is not safe for concurrent use; feed it from a single stream.
type Decoder struct {
	state     int
	buffer    []byte // unstuffed content: command, payload, checksum
	rawBuffer []byte // raw bytes including framing
	counters  DecoderCounters
}

// NewDecoder creates a new protocol decoder
func NewDecoder() *Decoder {
	return &Decoder{
		state:     stateIdle,
		buffer:    make([]byte, 0, MaxContentSize),
		rawBuffer: make([]byte, 0, MaxFrameSize),
	}
}

// Reset resets the decoder state to idle
func (d *Decoder) Reset() {
	d.state = stateIdle
	d.buffer = d.buffer[:0]
	d.rawBuffer = d.rawBuffer[:0]
}

// GetRawBytes returns the raw bytes of the frame currently being collected
func (d *Decoder) GetRawBytes() []byte {
	return d.rawBuffer
}

// Counters returns a snapshot of the decoder's frame counters
func (d *Decoder) Counters() DecoderCounters {
	return d.counters
}

// ChecksumErrors returns the number of frames dropped for a bad checksum
func (d *Decoder) ChecksumErrors() uint64 {
	return d.counters.ChecksumErrors
}

// Collecting reports whether a frame is in progress
func (d *Decoder) Collecting() bool {
	return d.state != stateIdle
}

// Flush discards any frame in progress. It returns ErrFrameTruncated if a
// partial frame was dropped, nil otherwise.
func (d *Decoder) Flush() error {
	if d.state == stateIdle {
		return nil
	}
	d.counters.TruncatedFrames++
	d.Reset()
	return ErrFrameTruncated
}

// DecodeByte processes a single byte through the decoder state machine.
// Returns a completed packet, or nil if the packet is incomplete.
// Returns an error if a frame was dropped.
func (d *Decoder) DecodeByte(b byte) (*Packet, error) {
	// Most recent start wins, even straight after a stuff byte
	if b == StartByte {
		if d.state != stateIdle {
			d.counters.TruncatedFrames++
		}
		d.Reset()
		d.rawBuffer = append(d.rawBuffer, b)
		d.state = stateCollecting
		return nil, nil
	}

	switch d.state {
	case stateIdle:
		// Waiting for START byte
		return nil, nil

	case stateStuffed:
		d.rawBuffer = append(d.rawBuffer, b)
		if b == EndByte {
			d.counters.FramingErrors++
			d.Reset()
			return nil, ErrDanglingEscape
		}
		d.state = stateCollecting
		return nil, d.appendContent(b ^ StuffXor)

	default:
		d.rawBuffer = append(d.rawBuffer, b)
		switch b {
		case StuffByte:
			d.state = stateStuffed
			return nil, nil
		case EndByte:
			return d.closeFrame()
		default:
			return nil, d.appendContent(b)
		}
	}
}

// Feed decodes a burst of bytes. The result is identical to calling
// DecodeByte once per byte.
func (d *Decoder) Feed(data []byte) ([]*Packet, []error) {
	var packets []*Packet
	var errs []error
	for _, b := range data {
		p, err := d.DecodeByte(b)
		if err != nil {
			errs = append(errs, err)
		}
		if p != nil {
			packets = append(packets, p)
		}
	}
	return packets, errs
}

func (d *Decoder) appendContent(b byte) error {
	// Check for buffer overflow before accepting byte
	if len(d.buffer) >= MaxContentSize {
		d.counters.FramingErrors++
		d.Reset()
		return ErrFrameOverflow
	}
	d.buffer = append(d.buffer, b)
	return nil
}

func (d *Decoder) closeFrame() (*Packet, error) {
	defer d.Reset()

	// Need at least command + checksum
	if len(d.buffer) < 2 {
		d.counters.FramingErrors++
		return nil, ErrFrameTooShort
	}

	command := d.buffer[0]
	content := d.buffer[1 : len(d.buffer)-1]
	received := d.buffer[len(d.buffer)-1]

	calculated := Checksum(command, content)
	if received != calculated {
		d.counters.ChecksumErrors++
		return nil, &ChecksumError{Command: command, Expected: calculated, Got: received}
	}

	payload := make([]byte, len(content))
	copy(payload, content)

	d.counters.Frames++
	return &Packet{
		command:   command,
		payload:   payload,
		checksum:  received,
		timestamp: time.Now(),
	}, nil
}
