// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package pdi

import (
	"encoding/binary"
	"math/bits"
	"net"
)

// Fixed payload sizes of the non-streamed records
const (
	versionSize      = 7
	statusSize       = 4 + ErrorCount
	configSize       = 10
	logStatusSize    = 12
	streamConfigSize = 2
	rtcSize          = 6
	pressureSize     = 4
	temperatureSize  = 2
	optionsSize      = 2
	logTypeSize      = 8
	logConfigSize    = 3 * logTypeSize
)

// fieldSpec describes one optional group of a streamed record
type fieldSpec struct {
	opt    StreamOptions
	name   string
	size   int
	decode func(s *SensorSample, b []byte)
}

// sampleFields lists the streamed field groups in wire order
var sampleFields = []fieldSpec{
	{OptTimeDate, "time_date", 6, func(s *SensorSample, b []byte) {
		s.TimeDate = &DateTime{Month: b[0], Day: b[1], Year: b[2], Hour: b[3], Minute: b[4], Second: b[5]}
	}},
	{OptTimestamp, "timestamp", 4, func(s *SensorSample, b []byte) {
		v := int32(binary.LittleEndian.Uint32(b))
		s.Timestamp = &v
	}},
	{OptBattery, "battery", 2, func(s *SensorSample, b []byte) {
		v := float32(binary.LittleEndian.Uint16(b)) / 1000
		s.BatteryVolts = &v
	}},
	{OptBLEState, "ble_state", 1, func(s *SensorSample, b []byte) {
		v := b[0]
		s.BLEState = &v
	}},
	{OptGyroscope, "gyroscope", 6, func(s *SensorSample, b []byte) {
		s.Gyroscope = scaledVector(b, 1/gyroLSBPerDPS)
	}},
	{OptAccelerometer, "accelerometer", 6, func(s *SensorSample, b []byte) {
		s.Accelerometer = scaledVector(b, 1/accelLSBPerG)
	}},
	{OptQuaternion, "quaternion", 16, func(s *SensorSample, b []byte) {
		s.Quaternion = &Quaternion{
			W: q30(b[0:4]),
			X: q30(b[4:8]),
			Y: q30(b[8:12]),
			Z: q30(b[12:16]),
		}
	}},
	{OptCompass, "compass", 6, func(s *SensorSample, b []byte) {
		s.Compass = scaledVector(b, compassMicroTesla)
	}},
	{OptPressure, "pressure", 4, func(s *SensorSample, b []byte) {
		v := int32(binary.LittleEndian.Uint32(b))
		s.Pressure = &v
	}},
	{OptTemperature, "temperature", 2, func(s *SensorSample, b []byte) {
		v := float32(int16(binary.LittleEndian.Uint16(b))) / centi
		s.Temperature = &v
	}},
	{OptLinearAccel, "linear_accel", 6, func(s *SensorSample, b []byte) {
		s.LinearAccel = scaledVector(b, 1/accelLSBPerG)
	}},
	{OptEuler, "euler", 6, func(s *SensorSample, b []byte) {
		s.Euler = scaledVector(b, 1/centi)
	}},
	{OptRSSI, "rssi", 1, func(s *SensorSample, b []byte) {
		v := int8(b[0])
		s.RSSI = &v
	}},
	{OptRotationMatrix, "rotation_matrix", 18, func(s *SensorSample, b []byte) {
		var m RotationMatrix
		for i := range m {
			m[i] = float32(int16(binary.LittleEndian.Uint16(b[i*2:]))) / rotationOne
		}
		s.RotationMatrix = &m
	}},
	{OptHeading, "heading", 2, func(s *SensorSample, b []byte) {
		v := float32(binary.LittleEndian.Uint16(b)) / centi
		s.Heading = &v
	}},
}

// DecodeRecord interprets a validated packet's payload.
// Returns a *DecodeError for truncated payloads and unknown commands.
func DecodeRecord(p *Packet) (Record, error) {
	return DecodePayload(p.command, p.payload)
}

// DecodePayload interprets a command byte and payload
func DecodePayload(command uint8, payload []byte) (Record, error) {
	switch command {
	case CmdVersion:
		if len(payload) < versionSize {
			return nil, truncated(command, "", versionSize, len(payload))
		}
		return FirmwareVersion{
			Version:     payload[0],
			Revision:    payload[1],
			Subrevision: payload[2],
			Month:       payload[3],
			Day:         payload[4],
			Year:        payload[5],
			Model:       VersionModel(payload[6]),
		}, nil

	case CmdStatus:
		if len(payload) < statusSize {
			return nil, truncated(command, "", statusSize, len(payload))
		}
		adc := binary.LittleEndian.Uint16(payload[2:4])
		status := ModuleStatus{
			Model:        payload[0],
			ChargerState: ChargerState(payload[1]),
			BatteryADC:   adc,
			BatteryVolts: BatteryVoltsFromADC(adc),
		}
		copy(status.Errors[:], payload[4:statusSize])
		return status, nil

	case CmdStreamRecord:
		sample, err := decodeSample(command, payload)
		if err != nil {
			return nil, err
		}
		return sample, nil

	case CmdConfig:
		if len(payload) < configSize {
			return nil, truncated(command, "", configSize, len(payload))
		}
		addr := make(net.HardwareAddr, 6)
		copy(addr, payload[0:6])
		return ModuleConfig{
			Address:     addr,
			DebugEnable: payload[6],
			Options:     binary.LittleEndian.Uint16(payload[8:10]),
		}, nil

	case CmdLogStatus:
		if len(payload) < logStatusSize {
			return nil, truncated(command, "", logStatusSize, len(payload))
		}
		return LogStatus{
			Enabled:    payload[0] != 0,
			Records:    binary.LittleEndian.Uint16(payload[2:4]),
			UsedBytes:  binary.LittleEndian.Uint32(payload[4:8]),
			TotalBytes: binary.LittleEndian.Uint32(payload[8:12]),
		}, nil

	case CmdLogFirstGetRecord:
		if len(payload) < 1+optionsSize {
			return nil, truncated(command, "", 1+optionsSize, len(payload))
		}
		sample, err := decodeSample(command, payload[1:])
		if err != nil {
			return nil, err
		}
		return LogRecord{Length: payload[0], Sample: sample}, nil

	case CmdLogGetConfig:
		if len(payload) < logConfigSize {
			return nil, truncated(command, "", logConfigSize, len(payload))
		}
		var cfg LogConfig
		for i := range cfg.Types {
			b := payload[i*logTypeSize:]
			cfg.Types[i] = LogType{
				Enabled:    b[0] != 0,
				Sensors:    StreamOptions(binary.LittleEndian.Uint16(b[2:4])),
				IntervalMs: int32(binary.LittleEndian.Uint32(b[4:8])),
			}
		}
		return cfg, nil

	case CmdStreamGetConfig:
		if len(payload) < streamConfigSize {
			return nil, truncated(command, "", streamConfigSize, len(payload))
		}
		return StreamConfig{Options: StreamOptions(binary.LittleEndian.Uint16(payload))}, nil

	case CmdGetRTC:
		if len(payload) < rtcSize {
			return nil, truncated(command, "", rtcSize, len(payload))
		}
		return RTC{DateTime{
			Month:  payload[0],
			Day:    payload[1],
			Year:   payload[2],
			Hour:   payload[3],
			Minute: payload[4],
			Second: payload[5],
		}}, nil

	case CmdGetPressure:
		if len(payload) < pressureSize {
			return nil, truncated(command, "", pressureSize, len(payload))
		}
		return Pressure{Pascals: int32(binary.LittleEndian.Uint32(payload))}, nil

	case CmdGetTemperature:
		if len(payload) < temperatureSize {
			return nil, truncated(command, "", temperatureSize, len(payload))
		}
		return Temperature{Celsius: float32(int16(binary.LittleEndian.Uint16(payload))) / centi}, nil

	case CmdStreamEnable, CmdStreamSetConfig, CmdSetLED, CmdSetRTC, CmdLogClear, CmdLogEnable:
		ack := Ack{Code: command}
		if len(payload) > 0 {
			ack.Status = payload[0]
			ack.HasStatus = true
		}
		return ack, nil

	default:
		return nil, &DecodeError{Kind: DecodeUnknownCommand, Command: command, Have: len(payload)}
	}
}

// BatteryVoltsFromADC converts the status record's DCIN ADC reading to volts
func BatteryVoltsFromADC(adc uint16) float32 {
	return float32(float64(adc) * batteryStatusScale)
}

// SampleSize returns the payload size a streamed record with the given
// options occupies, options word included.
func SampleSize(opts StreamOptions) int {
	n := optionsSize
	for _, f := range sampleFields {
		if opts&f.opt != 0 {
			n += f.size
		}
	}
	return n
}

// FieldCount returns how many field groups the options select
func (o StreamOptions) FieldCount() int {
	return bits.OnesCount16(uint16(o & AllStreamOptions))
}

// AllStreamOptions selects every defined field group
const AllStreamOptions = OptTimeDate | OptTimestamp | OptBattery | OptBLEState |
	OptGyroscope | OptAccelerometer | OptQuaternion | OptCompass | OptPressure |
	OptTemperature | OptLinearAccel | OptEuler | OptRSSI | OptRotationMatrix | OptHeading

// decodeSample decodes a streamed record body. command is reported in
// truncation errors.
func decodeSample(command uint8, payload []byte) (*SensorSample, error) {
	if len(payload) < optionsSize {
		return nil, truncated(command, "options", optionsSize, len(payload))
	}

	s := &SensorSample{
		Options: StreamOptions(binary.LittleEndian.Uint16(payload)),
	}
	rest := payload[optionsSize:]

	for _, f := range sampleFields {
		if s.Options&f.opt == 0 {
			continue
		}
		if len(rest) < f.size {
			return nil, truncated(command, f.name, SampleSize(s.Options), len(payload))
		}
		f.decode(s, rest[:f.size])
		rest = rest[f.size:]
	}

	return s, nil
}

func scaledVector(b []byte, scale float32) *Vector3 {
	return &Vector3{
		X: float32(int16(binary.LittleEndian.Uint16(b[0:2]))) * scale,
		Y: float32(int16(binary.LittleEndian.Uint16(b[2:4]))) * scale,
		Z: float32(int16(binary.LittleEndian.Uint16(b[4:6]))) * scale,
	}
}

func q30(b []byte) float32 {
	return float32(float64(int32(binary.LittleEndian.Uint32(b))) / quaternionOne)
}
