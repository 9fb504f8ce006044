// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package pdi

import (
	"fmt"
	"strings"
)

// FormatPacket formats a packet into a human-readable string
func FormatPacket(p *Packet) string {
	timestamp := p.timestamp.Format("15:04:05.000")
	name := FormatCommand(p.command)

	result := fmt.Sprintf("[%s] %s (0x%02X) len=%d\n", timestamp, name, p.command, len(p.payload))

	record, err := DecodeRecord(p)
	if err != nil {
		result += fmt.Sprintf("  Decode error: %v\n", err)
		if len(p.payload) > 0 {
			result += formatHexDump(p.payload)
		}
		return result
	}

	return result + FormatRecord(record)
}

// FormatCommand returns the human-readable name for a command byte
func FormatCommand(cmd uint8) string {
	switch cmd {
	// Status
	case CmdStatus:
		return "STATUS"
	case CmdVersion:
		return "VERSION"
	case CmdConfig:
		return "CONFIG"

	// Data logging
	case CmdLogStatus:
		return "LOG_STATUS"
	case CmdLogClear:
		return "LOG_CLEAR"
	case CmdLogFirstGetRecord:
		return "LOG_RECORD"
	case CmdLogGetRecord:
		return "LOG_GET_RECORD"
	case CmdLogGetConfig:
		return "LOG_CONFIG"
	case CmdLogEnable:
		return "LOG_ENABLE"

	// Streaming
	case CmdStreamRecord:
		return "STREAM_RECORD"
	case CmdStreamGetConfig:
		return "STREAM_GET_CONFIG"
	case CmdStreamSetConfig:
		return "STREAM_SET_CONFIG"
	case CmdStreamEnable:
		return "STREAM_ENABLE"

	// Misc
	case CmdSetLED:
		return "SET_LED"
	case CmdSetRTC:
		return "SET_RTC"
	case CmdGetRTC:
		return "RTC"
	case CmdGetPressure:
		return "PRESSURE"
	case CmdGetTemperature:
		return "TEMPERATURE"

	default:
		return "UNKNOWN"
	}
}

// FormatRecord formats a decoded record, one field per indented line
func FormatRecord(r Record) string {
	switch v := r.(type) {
	case FirmwareVersion:
		return fmt.Sprintf("  Firmware: %s\n", v)

	case ModuleStatus:
		result := fmt.Sprintf("  Model: %d, Charger: %s, Battery: %.2f V (adc=%d)\n",
			v.Model, formatCharger(v.ChargerState), v.BatteryVolts, v.BatteryADC)
		var errs []string
		for i, count := range v.Errors {
			if count > 0 {
				errs = append(errs, fmt.Sprintf("%s=%d", formatModuleError(i), count))
			}
		}
		if len(errs) > 0 {
			result += fmt.Sprintf("  Errors: %s\n", strings.Join(errs, ", "))
		}
		return result

	case *SensorSample:
		return FormatSample(v)

	case ModuleConfig:
		return fmt.Sprintf("  BD Address: %s, Debug: 0x%02X, Options: 0x%04X\n", v.Address, v.DebugEnable, v.Options)

	case LogStatus:
		return fmt.Sprintf("  Enabled: %t, Records: %d, Used: %d/%d bytes\n", v.Enabled, v.Records, v.UsedBytes, v.TotalBytes)

	case LogRecord:
		return fmt.Sprintf("  Length: %d\n", v.Length) + FormatSample(v.Sample)

	case LogConfig:
		result := ""
		for i, t := range v.Types {
			result += fmt.Sprintf("  Type %d: enabled=%t interval=%d ms sensors=%s\n", i, t.Enabled, t.IntervalMs, t.Sensors)
		}
		return result

	case StreamConfig:
		return fmt.Sprintf("  Options: %s\n", v.Options)

	case RTC:
		return fmt.Sprintf("  Clock: %s\n", v.DateTime)

	case Pressure:
		return fmt.Sprintf("  Pressure: %d Pa\n", v.Pascals)

	case Temperature:
		return fmt.Sprintf("  Temperature: %.2f°C\n", v.Celsius)

	case Ack:
		if v.HasStatus {
			return fmt.Sprintf("  Ack %s, status=0x%02X\n", FormatCommand(v.Code), v.Status)
		}
		return fmt.Sprintf("  Ack %s\n", FormatCommand(v.Code))

	default:
		return fmt.Sprintf("  %v\n", r)
	}
}

// FormatSample formats the present fields of a streamed sample
func FormatSample(s *SensorSample) string {
	result := fmt.Sprintf("  Options: %s\n", s.Options)
	if s.TimeDate != nil {
		result += fmt.Sprintf("  Time/Date: %s\n", s.TimeDate)
	}
	if s.Timestamp != nil {
		result += fmt.Sprintf("  Timestamp: %d ms\n", *s.Timestamp)
	}
	if s.BatteryVolts != nil {
		result += fmt.Sprintf("  Battery: %.3f V\n", *s.BatteryVolts)
	}
	if s.BLEState != nil {
		result += fmt.Sprintf("  BLE State: 0x%02X\n", *s.BLEState)
	}
	if s.Gyroscope != nil {
		result += fmt.Sprintf("  Gyroscope: %s deg/s\n", formatVector(*s.Gyroscope))
	}
	if s.Accelerometer != nil {
		result += fmt.Sprintf("  Accelerometer: %s g\n", formatVector(*s.Accelerometer))
	}
	if s.Quaternion != nil {
		q := s.Quaternion
		result += fmt.Sprintf("  Quaternion: w=%.4f x=%.4f y=%.4f z=%.4f\n", q.W, q.X, q.Y, q.Z)
	}
	if s.Compass != nil {
		result += fmt.Sprintf("  Compass: %s uT\n", formatVector(*s.Compass))
	}
	if s.Pressure != nil {
		result += fmt.Sprintf("  Pressure: %d Pa\n", *s.Pressure)
	}
	if s.Temperature != nil {
		result += fmt.Sprintf("  Temperature: %.2f°C\n", *s.Temperature)
	}
	if s.LinearAccel != nil {
		result += fmt.Sprintf("  Linear Accel: %s g\n", formatVector(*s.LinearAccel))
	}
	if s.Euler != nil {
		result += fmt.Sprintf("  Euler: %s deg\n", formatVector(*s.Euler))
	}
	if s.RSSI != nil {
		result += fmt.Sprintf("  RSSI: %d dBm\n", *s.RSSI)
	}
	if s.RotationMatrix != nil {
		m := s.RotationMatrix
		result += fmt.Sprintf("  Rotation: [%.3f %.3f %.3f; %.3f %.3f %.3f; %.3f %.3f %.3f]\n",
			m[0], m[1], m[2], m[3], m[4], m[5], m[6], m[7], m[8])
	}
	if s.Heading != nil {
		result += fmt.Sprintf("  Heading: %.2f deg\n", *s.Heading)
	}
	return result
}

func formatVector(v Vector3) string {
	return fmt.Sprintf("x=%.3f y=%.3f z=%.3f", v.X, v.Y, v.Z)
}

func formatCharger(c ChargerState) string {
	switch c {
	case ChargerOnBattery:
		return "ON_BATTERY"
	case ChargerCharging:
		return "CHARGING"
	case ChargerComplete:
		return "COMPLETE"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02X)", uint8(c))
	}
}

var moduleErrorNames = [ErrorCount]string{
	"UART_TX_OVERFLOW",
	"UART_RX_BUFFER_FULL",
	"UART_RX_CIRC_BUFFER_FULL",
	"UART_PARITY_OVERFLOW",
	"BLE_TX_OVERFLOW",
	"BLE_RX_BUFFER_FULL",
	"BLE_STACK",
	"NVM",
	"SPI",
	"PRESSURE",
	"MPL",
	"FLASH",
}

func formatModuleError(i int) string {
	if i >= 0 && i < len(moduleErrorNames) {
		return moduleErrorNames[i]
	}
	return fmt.Sprintf("ERROR_%d", i)
}

func formatHexDump(payload []byte) string {
	result := "  Payload: "
	for i, b := range payload {
		if i > 0 && i%16 == 0 {
			result += "\n           "
		}
		result += fmt.Sprintf("%02X ", b)
	}
	return result + "\n"
}
