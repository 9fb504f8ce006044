// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package pdi

import (
	"fmt"
	"net"
	"time"
)

// Record is a decoded PDI payload. The concrete types are FirmwareVersion,
// ModuleStatus, SensorSample, ModuleConfig, LogStatus, StreamConfig, RTC,
// Pressure, Temperature and Ack.
type Record interface {
	// Command returns the command byte of the packet the record came from
	Command() uint8
	record()
}

// VersionModel identifies the firmware build flavour
type VersionModel uint8

// Firmware model values
const (
	ModelStandard VersionModel = iota
	ModelProductionTest
	ModelEngineeringTest
	ModelCustom
)

func (m VersionModel) String() string {
	switch m {
	case ModelStandard:
		return "STANDARD"
	case ModelProductionTest:
		return "PROD_TEST"
	case ModelEngineeringTest:
		return "ENG_TEST"
	case ModelCustom:
		return "CUSTOM"
	default:
		return fmt.Sprintf("MODEL_%d", uint8(m))
	}
}

// FirmwareVersion is the response to CmdVersion
type FirmwareVersion struct {
	Version     uint8
	Revision    uint8
	Subrevision uint8
	Month       uint8
	Day         uint8
	Year        uint8 // years since 2000
	Model       VersionModel
}

func (FirmwareVersion) Command() uint8 { return CmdVersion }
func (FirmwareVersion) record()        {}

// String renders the version as "1.2.3 (08/01/2013) STANDARD"
func (v FirmwareVersion) String() string {
	return fmt.Sprintf("%d.%d.%d (%02d/%02d/%04d) %s",
		v.Version, v.Revision, v.Subrevision, v.Month, v.Day, 2000+int(v.Year), v.Model)
}

// ModuleStatus is the response to CmdStatus
type ModuleStatus struct {
	Model        uint8
	ChargerState ChargerState
	BatteryADC   uint16
	BatteryVolts float32
	Errors       [ErrorCount]uint8
}

func (ModuleStatus) Command() uint8 { return CmdStatus }
func (ModuleStatus) record()        {}

// IsCharging reports whether the battery is currently charging
func (s ModuleStatus) IsCharging() bool {
	return s.ChargerState == ChargerCharging
}

// Vector3 is a three-axis reading
type Vector3 struct {
	X float32 `json:"x" cbor:"x"`
	Y float32 `json:"y" cbor:"y"`
	Z float32 `json:"z" cbor:"z"`
}

// Quaternion is an orientation quaternion
type Quaternion struct {
	W float32 `json:"w" cbor:"w"`
	X float32 `json:"x" cbor:"x"`
	Y float32 `json:"y" cbor:"y"`
	Z float32 `json:"z" cbor:"z"`
}

// RotationMatrix is a row-major 3x3 rotation matrix (a..i)
type RotationMatrix [9]float32

// DateTime is the module's calendar clock
type DateTime struct {
	Month  uint8 `json:"month" cbor:"month"`
	Day    uint8 `json:"day" cbor:"day"`
	Year   uint8 `json:"year" cbor:"year"`
	Hour   uint8 `json:"hour" cbor:"hour"`
	Minute uint8 `json:"minute" cbor:"minute"`
	Second uint8 `json:"second" cbor:"second"`
}

// String renders "MM/DD/YY HH:MM:SS"
func (d DateTime) String() string {
	return fmt.Sprintf("%02d/%02d/%02d %02d:%02d:%02d", d.Month, d.Day, d.Year, d.Hour, d.Minute, d.Second)
}

// Time converts the clock to a time.Time in the given location
func (d DateTime) Time(loc *time.Location) time.Time {
	return time.Date(2000+int(d.Year), time.Month(d.Month), int(d.Day),
		int(d.Hour), int(d.Minute), int(d.Second), 0, loc)
}

// SensorSample is one streamed record. Only the fields selected by Options
// are populated; a nil field is absent, not zero.
type SensorSample struct {
	Options    StreamOptions `json:"options" cbor:"options"`
	ReceivedAt time.Time     `json:"received_at" cbor:"received_at"`

	TimeDate       *DateTime       `json:"time_date,omitempty" cbor:"time_date,omitempty"`
	Timestamp      *int32          `json:"timestamp_ms,omitempty" cbor:"timestamp_ms,omitempty"`
	BatteryVolts   *float32        `json:"battery_volts,omitempty" cbor:"battery_volts,omitempty"`
	BLEState       *uint8          `json:"ble_state,omitempty" cbor:"ble_state,omitempty"`
	Gyroscope      *Vector3        `json:"gyroscope_dps,omitempty" cbor:"gyroscope_dps,omitempty"`
	Accelerometer  *Vector3        `json:"accelerometer_g,omitempty" cbor:"accelerometer_g,omitempty"`
	Quaternion     *Quaternion     `json:"quaternion,omitempty" cbor:"quaternion,omitempty"`
	Compass        *Vector3        `json:"compass_ut,omitempty" cbor:"compass_ut,omitempty"`
	Pressure       *int32          `json:"pressure_pa,omitempty" cbor:"pressure_pa,omitempty"`
	Temperature    *float32        `json:"temperature_c,omitempty" cbor:"temperature_c,omitempty"`
	LinearAccel    *Vector3        `json:"linear_accel_g,omitempty" cbor:"linear_accel_g,omitempty"`
	Euler          *Vector3        `json:"euler_deg,omitempty" cbor:"euler_deg,omitempty"`
	RSSI           *int8           `json:"rssi_dbm,omitempty" cbor:"rssi_dbm,omitempty"`
	RotationMatrix *RotationMatrix `json:"rotation_matrix,omitempty" cbor:"rotation_matrix,omitempty"`
	Heading        *float32        `json:"heading_deg,omitempty" cbor:"heading_deg,omitempty"`
}

func (*SensorSample) Command() uint8 { return CmdStreamRecord }
func (*SensorSample) record()        {}

// Has reports whether the sample carries the given field group
func (s *SensorSample) Has(opt StreamOptions) bool {
	return s.Options&opt != 0
}

// ModuleConfig is the response to CmdConfig
type ModuleConfig struct {
	Address     net.HardwareAddr
	DebugEnable uint8
	Options     uint16
}

func (ModuleConfig) Command() uint8 { return CmdConfig }
func (ModuleConfig) record()        {}

// LogStatus is the response to CmdLogStatus
type LogStatus struct {
	Enabled    bool
	Records    uint16
	UsedBytes  uint32
	TotalBytes uint32
}

func (LogStatus) Command() uint8 { return CmdLogStatus }
func (LogStatus) record()        {}

// StreamConfig is the response to CmdStreamGetConfig
type StreamConfig struct {
	Options StreamOptions
}

func (StreamConfig) Command() uint8 { return CmdStreamGetConfig }
func (StreamConfig) record()        {}

// RTC is the response to CmdGetRTC
type RTC struct {
	DateTime
}

func (RTC) Command() uint8 { return CmdGetRTC }
func (RTC) record()        {}

// Pressure is the response to CmdGetPressure
type Pressure struct {
	Pascals int32
}

func (Pressure) Command() uint8 { return CmdGetPressure }
func (Pressure) record()        {}

// Temperature is the response to CmdGetTemperature
type Temperature struct {
	Celsius float32
}

func (Temperature) Command() uint8 { return CmdGetTemperature }
func (Temperature) record()        {}

// Ack is the bare echo the module sends for setter commands
type Ack struct {
	Code      uint8
	Status    uint8
	HasStatus bool
}

func (a Ack) Command() uint8 { return a.Code }
func (Ack) record()          {}

// LogRecord is one record read back from the module's data log. The record
// body has the same layout as a streamed sample.
type LogRecord struct {
	Length uint8
	Sample *SensorSample
}

func (LogRecord) Command() uint8 { return CmdLogFirstGetRecord }
func (LogRecord) record()        {}

// LogType configures one of the module's logging record types
type LogType struct {
	Enabled    bool
	Sensors    StreamOptions
	IntervalMs int32
}

// LogConfig is the response to CmdLogGetConfig
type LogConfig struct {
	Types [3]LogType
}

func (LogConfig) Command() uint8 { return CmdLogGetConfig }
func (LogConfig) record()        {}
