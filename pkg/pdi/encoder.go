// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package pdi

import "fmt"

// EncodePacket creates a complete wire-formatted PDI frame.
// Returns the frame bytes ready for transmission, including framing and
// byte stuffing.
func EncodePacket(command uint8, args []byte) ([]byte, error) {
	if len(args) > MaxPayloadSize {
		return nil, fmt.Errorf("payload too large: %d bytes (max %d)", len(args), MaxPayloadSize)
	}

	// Build the content section: command + args + checksum
	// This is what gets byte-stuffed
	content := make([]byte, 0, len(args)+2)
	content = append(content, command)
	content = append(content, args...)
	content = append(content, Checksum(command, args))

	stuffed := stuffBytes(content)

	// Build final frame with framing
	frame := make([]byte, 0, len(stuffed)+2)
	frame = append(frame, StartByte)
	frame = append(frame, stuffed...)
	frame = append(frame, EndByte)

	return frame, nil
}

// MustEncodePacket encodes a frame, panicking on error.
// Only use it with arguments known to fit in a frame.
func MustEncodePacket(command uint8, args []byte) []byte {
	data, err := EncodePacket(command, args)
	if err != nil {
		panic(fmt.Sprintf("pdi: encode error: %v", err))
	}
	return data
}

// EncodeCommand encodes a Command to wire format
func EncodeCommand(c Command) ([]byte, error) {
	return EncodePacket(c.Code, c.Args)
}

// isReserved reports whether b collides with a framing byte
func isReserved(b byte) bool {
	return b == StartByte || b == EndByte || b == StuffByte
}

// stuffBytes applies byte stuffing to escape special bytes.
// Special bytes (START, END, STUFF) are replaced with STUFF + (byte XOR StuffXor).
func stuffBytes(data []byte) []byte {
	// Pre-allocate with extra space for potential escapes
	result := make([]byte, 0, len(data)*2)

	for _, b := range data {
		if isReserved(b) {
			result = append(result, StuffByte, b^StuffXor)
		} else {
			result = append(result, b)
		}
	}

	return result
}

// UnstuffBytes removes byte stuffing from escaped data.
// This is the inverse of stuffBytes.
func UnstuffBytes(data []byte) ([]byte, error) {
	result := make([]byte, 0, len(data))
	escapeNext := false

	for _, b := range data {
		if escapeNext {
			result = append(result, b^StuffXor)
			escapeNext = false
		} else if b == StuffByte {
			escapeNext = true
		} else {
			result = append(result, b)
		}
	}

	if escapeNext {
		return nil, fmt.Errorf("incomplete escape sequence at end of data")
	}

	return result, nil
}
