// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package pdi

import (
	"encoding/binary"
	"time"
)

// Command is a request ready to be framed and written to the module.
// Response is the command byte of the record that answers it.
type Command struct {
	Code     uint8
	Args     []byte
	Response uint8
}

// Command builder functions create Command values with the correct argument
// layout for each request.

// NewCommand creates a command from a raw code and argument bytes.
// The expected response is looked up with ResponseFor.
func NewCommand(code uint8, args []byte) Command {
	return Command{Code: code, Args: args, Response: ResponseFor(code)}
}

// ResponseFor returns the command byte of the record that answers code.
// The module echoes the request code for every command except the
// log record requests, which are answered by a log record.
func ResponseFor(code uint8) uint8 {
	switch code {
	case CmdLogFirstGetRecord, CmdLogGetRecord:
		return CmdLogFirstGetRecord
	default:
		return code
	}
}

// NewVersionRequest creates a VERSION request (0x34).
// The module responds with a FirmwareVersion record.
func NewVersionRequest() Command {
	return NewCommand(CmdVersion, nil)
}

// NewStatusRequest creates a STATUS request (0x30).
// The module responds with a ModuleStatus record.
func NewStatusRequest() Command {
	return NewCommand(CmdStatus, nil)
}

// NewConfigRequest creates a GETCONFIG request (0x35)
func NewConfigRequest() Command {
	return NewCommand(CmdConfig, nil)
}

// NewStreamConfigRequest creates a STREAMGETCONFIG request (0x61)
func NewStreamConfigRequest() Command {
	return NewCommand(CmdStreamGetConfig, nil)
}

// NewStreamSetConfig creates a STREAMSETCONFIG request (0x62) selecting the
// field groups carried by subsequent streamed records.
func NewStreamSetConfig(opts StreamOptions) Command {
	args := make([]byte, 2)
	binary.LittleEndian.PutUint16(args, uint16(opts))
	return NewCommand(CmdStreamSetConfig, args)
}

// NewStreamEnable creates a STREAMENABLE request (0x63).
// Use enabled=false to stop streaming.
func NewStreamEnable(enabled bool) Command {
	return NewCommand(CmdStreamEnable, []byte{boolByte(enabled)})
}

// NewSetLED creates a SETLED request (0x80)
func NewSetLED(state LEDState) Command {
	var arg byte
	switch state {
	case LEDGreen:
		arg = LEDGreenBit
	case LEDRed:
		arg = LEDRedBit
	default:
		arg = LEDSystemControlBit
	}
	return NewCommand(CmdSetLED, []byte{arg})
}

// NewSetRTC creates a SETRTC request (0x82) from t
func NewSetRTC(t time.Time) Command {
	return NewCommand(CmdSetRTC, []byte{
		byte(t.Month()),
		byte(t.Day()),
		byte(t.Year() % 100),
		byte(t.Hour()),
		byte(t.Minute()),
		byte(t.Second()),
		0,
	})
}

// NewGetRTC creates a GETRTC request (0x83)
func NewGetRTC() Command {
	return NewCommand(CmdGetRTC, nil)
}

// NewGetPressure creates a GET_PRESSURE request (0x86)
func NewGetPressure() Command {
	return NewCommand(CmdGetPressure, nil)
}

// NewGetTemperature creates a GET_TEMPERATURE request (0x87)
func NewGetTemperature() Command {
	return NewCommand(CmdGetTemperature, nil)
}

// NewLogStatusRequest creates a LOGGETSTATUS request (0x58)
func NewLogStatusRequest() Command {
	return NewCommand(CmdLogStatus, nil)
}

// NewLogClear creates a LOGCLEAR request (0x59)
func NewLogClear() Command {
	return NewCommand(CmdLogClear, nil)
}

// NewLogEnable creates a LOGENABLE request (0x5E)
func NewLogEnable(enabled bool) Command {
	return NewCommand(CmdLogEnable, []byte{boolByte(enabled)})
}

// NewLogFirstRecord creates a LOGFIRSTGETRECORD request (0x5A)
func NewLogFirstRecord() Command {
	return NewCommand(CmdLogFirstGetRecord, nil)
}

// NewLogGetRecord creates a LOGGETRECORD request (0x5B) for record n
func NewLogGetRecord(n uint16) Command {
	return NewCommand(CmdLogGetRecord, []byte{byte(n % 256)})
}

// NewLogConfigRequest creates a LOGGETCONFIG request (0x5C)
func NewLogConfigRequest() Command {
	return NewCommand(CmdLogGetConfig, nil)
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
