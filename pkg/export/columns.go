// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package export writes captured sensor samples to files and databases.
package export

import (
	"strconv"
	"time"

	"github.com/Thermoquad/sensoplex/pkg/pdi"
)

// column group for one streamed field, in wire order
type columnGroup struct {
	opt     pdi.StreamOptions
	headers []string
	values  func(s *pdi.SensorSample) []string
}

var columnGroups = []columnGroup{
	{pdi.OptTimeDate, []string{"time_date"}, func(s *pdi.SensorSample) []string {
		if s.TimeDate == nil {
			return blank(1)
		}
		return []string{s.TimeDate.String()}
	}},
	{pdi.OptTimestamp, []string{"timestamp_ms"}, func(s *pdi.SensorSample) []string {
		if s.Timestamp == nil {
			return blank(1)
		}
		return []string{strconv.FormatInt(int64(*s.Timestamp), 10)}
	}},
	{pdi.OptBattery, []string{"battery_v"}, func(s *pdi.SensorSample) []string {
		return floats(s.BatteryVolts)
	}},
	{pdi.OptBLEState, []string{"ble_state"}, func(s *pdi.SensorSample) []string {
		if s.BLEState == nil {
			return blank(1)
		}
		return []string{strconv.Itoa(int(*s.BLEState))}
	}},
	{pdi.OptGyroscope, axes("gyro"), func(s *pdi.SensorSample) []string {
		return vector(s.Gyroscope)
	}},
	{pdi.OptAccelerometer, axes("accel"), func(s *pdi.SensorSample) []string {
		return vector(s.Accelerometer)
	}},
	{pdi.OptQuaternion, []string{"quat_w", "quat_x", "quat_y", "quat_z"}, func(s *pdi.SensorSample) []string {
		if s.Quaternion == nil {
			return blank(4)
		}
		q := s.Quaternion
		return []string{formatFloat(q.W), formatFloat(q.X), formatFloat(q.Y), formatFloat(q.Z)}
	}},
	{pdi.OptCompass, axes("compass"), func(s *pdi.SensorSample) []string {
		return vector(s.Compass)
	}},
	{pdi.OptPressure, []string{"pressure_pa"}, func(s *pdi.SensorSample) []string {
		if s.Pressure == nil {
			return blank(1)
		}
		return []string{strconv.FormatInt(int64(*s.Pressure), 10)}
	}},
	{pdi.OptTemperature, []string{"temperature_c"}, func(s *pdi.SensorSample) []string {
		return floats(s.Temperature)
	}},
	{pdi.OptLinearAccel, axes("linear_accel"), func(s *pdi.SensorSample) []string {
		return vector(s.LinearAccel)
	}},
	{pdi.OptEuler, axes("euler"), func(s *pdi.SensorSample) []string {
		return vector(s.Euler)
	}},
	{pdi.OptRSSI, []string{"rssi_dbm"}, func(s *pdi.SensorSample) []string {
		if s.RSSI == nil {
			return blank(1)
		}
		return []string{strconv.Itoa(int(*s.RSSI))}
	}},
	{pdi.OptRotationMatrix, []string{"rot_a", "rot_b", "rot_c", "rot_d", "rot_e", "rot_f", "rot_g", "rot_h", "rot_i"}, func(s *pdi.SensorSample) []string {
		if s.RotationMatrix == nil {
			return blank(9)
		}
		out := make([]string, len(s.RotationMatrix))
		for i, v := range s.RotationMatrix {
			out[i] = formatFloat(v)
		}
		return out
	}},
	{pdi.OptHeading, []string{"heading_deg"}, func(s *pdi.SensorSample) []string {
		return floats(s.Heading)
	}},
}

// Header returns the column names for samples carrying opts
func Header(opts pdi.StreamOptions) []string {
	header := []string{"received_at", "options"}
	for _, g := range columnGroups {
		if opts&g.opt != 0 {
			header = append(header, g.headers...)
		}
	}
	return header
}

// Row returns the column values of s for the columns of opts. Fields
// selected by opts but absent from s are left empty.
func Row(opts pdi.StreamOptions, s *pdi.SensorSample) []string {
	row := []string{formatTime(s.ReceivedAt), strconv.FormatUint(uint64(s.Options), 10)}
	for _, g := range columnGroups {
		if opts&g.opt != 0 {
			row = append(row, g.values(s)...)
		}
	}
	return row
}

func axes(prefix string) []string {
	return []string{prefix + "_x", prefix + "_y", prefix + "_z"}
}

func vector(v *pdi.Vector3) []string {
	if v == nil {
		return blank(3)
	}
	return []string{formatFloat(v.X), formatFloat(v.Y), formatFloat(v.Z)}
}

func floats(v *float32) []string {
	if v == nil {
		return blank(1)
	}
	return []string{formatFloat(*v)}
}

func blank(n int) []string {
	return make([]string, n)
}

func formatFloat(v float32) string {
	return strconv.FormatFloat(float64(v), 'f', -1, 32)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
