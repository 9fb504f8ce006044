// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package pdi implements the packet data interface (PDI) spoken by the
// SP-10BN wearable sensor module.
//
// PDI frames are delimited by start and end sentinels, byte-stuffed, and
// protected by a trailing additive checksum:
//
//	0xD1 <command> <payload...> <checksum> 0xDF
//
// This package provides frame encoding/decoding, payload decoding into typed
// records, command builders, and human-readable formatting.
package pdi

import "fmt"

// Protocol framing bytes
const (
	StartByte = 0xD1
	EndByte   = 0xDF
	StuffByte = 0xDE
	StuffXor  = 0x20
)

// Packet size limits
const (
	MaxPayloadSize = 132
	// command + payload + checksum
	MaxContentSize = MaxPayloadSize + 2
	// every content byte stuffed, plus sentinels
	MaxFrameSize = MaxContentSize*2 + 2
)

// Status commands
const (
	CmdStatus  = 0x30
	CmdVersion = 0x34
	CmdConfig  = 0x35
)

// Data logging commands
const (
	CmdLogStatus         = 0x58
	CmdLogClear          = 0x59
	CmdLogFirstGetRecord = 0x5A
	CmdLogGetRecord      = 0x5B // arg: record number, modulo 256
	CmdLogGetConfig      = 0x5C
	CmdLogEnable         = 0x5E // arg: 0=disable, 1=enable
)

// Data streaming commands
const (
	CmdStreamRecord    = 0x60
	CmdStreamGetConfig = 0x61
	CmdStreamSetConfig = 0x62
	CmdStreamEnable    = 0x63
)

// Misc commands
const (
	CmdSetLED         = 0x80 // arg: bit0=green, bit1=red, bit7=system control
	CmdSetRTC         = 0x82
	CmdGetRTC         = 0x83
	CmdGetPressure    = 0x86
	CmdGetTemperature = 0x87
)

// LED argument bits for CmdSetLED
const (
	LEDGreenBit         = 0x01
	LEDRedBit           = 0x02
	LEDSystemControlBit = 0x80
)

// Decoder states (internal)
const (
	stateIdle = iota
	stateCollecting
	stateStuffed
)

// Stream options select which fields a SensorSample carries. The bit order
// is also the order of the fields on the wire.
type StreamOptions uint16

// Stream option bits
const (
	OptTimeDate       StreamOptions = 0x0001
	OptTimestamp      StreamOptions = 0x0002
	OptBattery        StreamOptions = 0x0004
	OptBLEState       StreamOptions = 0x0008
	OptGyroscope      StreamOptions = 0x0010
	OptAccelerometer  StreamOptions = 0x0020
	OptQuaternion     StreamOptions = 0x0040
	OptCompass        StreamOptions = 0x0080
	OptPressure       StreamOptions = 0x0100
	OptTemperature    StreamOptions = 0x0200
	OptLinearAccel    StreamOptions = 0x0400
	OptEuler          StreamOptions = 0x0800
	OptRSSI           StreamOptions = 0x1000
	OptRotationMatrix StreamOptions = 0x2000
	OptHeading        StreamOptions = 0x4000
)

// ChargerState is the charger state reported in a status record
type ChargerState uint8

// Charger state values
const (
	ChargerOnBattery ChargerState = 0x00
	ChargerCharging  ChargerState = 0x01
	ChargerComplete  ChargerState = 0x02
)

// LEDState selects who drives the module LED
type LEDState int

// LED state values
const (
	LEDSystemControl LEDState = iota
	LEDGreen
	LEDRed
)

func (l LEDState) String() string {
	switch l {
	case LEDSystemControl:
		return "SYSTEM"
	case LEDGreen:
		return "GREEN"
	case LEDRed:
		return "RED"
	default:
		return fmt.Sprintf("LED(%d)", int(l))
	}
}

// Module error counter indices in the status record
const (
	ErrorUARTTxOverflow = iota
	ErrorUARTRxBufferFull
	ErrorUARTRxCircBufferFull
	ErrorUARTParityOverflow
	ErrorBLETxOverflow
	ErrorBLERxBufferFull
	ErrorBLEStack
	ErrorNVM
	ErrorSPI
	ErrorPressure
	ErrorMPL
	ErrorFlash
	ErrorCount
)

// Engineering unit conversions for streamed fields
const (
	accelLSBPerG       = 4096.0
	gyroLSBPerDPS      = 16.4
	compassMicroTesla  = 0.3
	quaternionOne      = 1 << 30
	rotationOne        = 1 << 14
	centi              = 100.0
	batteryStatusScale = 6.6 / 4096.0
)
