// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package pdi

import (
	"errors"
	"fmt"
)

// Frame errors. None of these are fatal: the offending frame is dropped and
// the decoder returns to idle.
var (
	ErrChecksumMismatch = errors.New("checksum mismatch")
	ErrFrameTooShort    = errors.New("frame too short")
	ErrFrameOverflow    = errors.New("frame exceeds maximum size")
	ErrFrameTruncated   = errors.New("frame truncated")
	ErrDanglingEscape   = errors.New("stuff byte before end of frame")
)

// Payload errors
var (
	ErrTruncated      = errors.New("payload truncated")
	ErrUnknownCommand = errors.New("unknown command")
)

// ChecksumError reports a frame whose trailer did not match its content
type ChecksumError struct {
	Command  uint8
	Expected uint8
	Got      uint8
}

// Error implements the error interface
func (e *ChecksumError) Error() string {
	return fmt.Sprintf("checksum mismatch on command 0x%02X: expected 0x%02X, got 0x%02X",
		e.Command, e.Expected, e.Got)
}

// Unwrap allows errors.Is(err, ErrChecksumMismatch)
func (e *ChecksumError) Unwrap() error {
	return ErrChecksumMismatch
}

// DecodeErrorKind classifies payload decode failures
type DecodeErrorKind int

const (
	DecodeTruncated DecodeErrorKind = iota
	DecodeUnknownCommand
)

// DecodeError reports a packet whose payload could not be interpreted
type DecodeError struct {
	Kind    DecodeErrorKind
	Command uint8
	Field   string // set for truncation inside a streamed record
	Need    int
	Have    int
}

// Error implements the error interface
func (e *DecodeError) Error() string {
	switch e.Kind {
	case DecodeUnknownCommand:
		return fmt.Sprintf("unknown command 0x%02X", e.Command)
	default:
		if e.Field != "" {
			return fmt.Sprintf("command 0x%02X payload truncated at %s: need %d bytes, have %d",
				e.Command, e.Field, e.Need, e.Have)
		}
		return fmt.Sprintf("command 0x%02X payload truncated: need %d bytes, have %d",
			e.Command, e.Need, e.Have)
	}
}

// Unwrap maps the error kind to its sentinel
func (e *DecodeError) Unwrap() error {
	if e.Kind == DecodeUnknownCommand {
		return ErrUnknownCommand
	}
	return ErrTruncated
}

func truncated(cmd uint8, field string, need, have int) error {
	return &DecodeError{Kind: DecodeTruncated, Command: cmd, Field: field, Need: need, Have: have}
}
