// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package pdi

import (
	"strings"
	"sync"
	"testing"
)

// ============================================================
// Formatter
// ============================================================

func TestFormatPacket(t *testing.T) {
	tests := []struct {
		name    string
		packet  *Packet
		expects []string
	}{
		{
			name:    "version",
			packet:  NewPacket(CmdVersion, []byte{2, 1, 0, 6, 15, 24, 3}),
			expects: []string{"VERSION (0x34)", "Firmware: 2.1.0 (06/15/2024) CUSTOM"},
		},
		{
			name:    "status with errors",
			packet:  NewPacket(CmdStatus, []byte{2, 1, 0x00, 0x0A, 0, 0, 0, 0, 3, 0, 0, 0, 0, 0, 0, 1}),
			expects: []string{"STATUS (0x30)", "Charger: CHARGING", "BLE_TX_OVERFLOW=3", "FLASH=1"},
		},
		{
			name:    "sample",
			packet:  NewPacket(CmdStreamRecord, []byte{0x06, 0x00, 0x10, 0x00, 0x00, 0x00, 0x74, 0x0E}),
			expects: []string{"STREAM_RECORD (0x60)", "Timestamp: 16 ms", "Battery: 3.700 V"},
		},
		{
			name:    "unknown command",
			packet:  NewPacket(0x42, []byte{0xAA, 0xBB}),
			expects: []string{"UNKNOWN (0x42)", "Decode error", "AA BB"},
		},
		{
			name:    "ack",
			packet:  NewPacket(CmdStreamEnable, nil),
			expects: []string{"Ack STREAM_ENABLE"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := FormatPacket(tt.packet)
			for _, want := range tt.expects {
				if !strings.Contains(out, want) {
					t.Errorf("output missing %q:\n%s", want, out)
				}
			}
		})
	}
}

func TestFormatCommand(t *testing.T) {
	for _, code := range []uint8{
		CmdStatus, CmdVersion, CmdConfig, CmdLogStatus, CmdLogClear, CmdLogFirstGetRecord,
		CmdLogGetRecord, CmdLogGetConfig, CmdLogEnable, CmdStreamRecord, CmdStreamGetConfig,
		CmdStreamSetConfig, CmdStreamEnable, CmdSetLED, CmdSetRTC, CmdGetRTC, CmdGetPressure,
		CmdGetTemperature,
	} {
		if FormatCommand(code) == "UNKNOWN" {
			t.Errorf("command 0x%02X has no name", code)
		}
	}
}

// ============================================================
// Validator
// ============================================================

func TestValidateRecord(t *testing.T) {
	volts := func(v float32) *float32 { return &v }

	tests := []struct {
		name   string
		record Record
		want   []AnomalyType
	}{
		{"plausible sample", &SensorSample{Options: OptBattery, BatteryVolts: volts(3.9)}, nil},
		{"battery low", &SensorSample{Options: OptBattery, BatteryVolts: volts(0.4)}, []AnomalyType{AnomalyBatteryRange}},
		{"temperature hot", &SensorSample{Options: OptTemperature, Temperature: volts(120)}, []AnomalyType{AnomalyTemperatureRange}},
		{"quaternion skewed", &SensorSample{Options: OptQuaternion, Quaternion: &Quaternion{W: 0.5}}, []AnomalyType{AnomalyQuaternionNorm}},
		{"unit quaternion", &SensorSample{Options: OptQuaternion, Quaternion: &Quaternion{W: 1}}, nil},
		{"bad charger state", ModuleStatus{ChargerState: 7}, []AnomalyType{AnomalyInvalidValue}},
		{"temperature reading", Temperature{Celsius: -55}, []AnomalyType{AnomalyTemperatureRange}},
		{"version", FirmwareVersion{}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ValidateRecord(tt.record)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d anomalies %v, want %d", len(got), got, len(tt.want))
			}
			for i := range got {
				if got[i].Type != tt.want[i] {
					t.Errorf("anomaly %d type = %d, want %d", i, got[i].Type, tt.want[i])
				}
				if got[i].Error() == "" {
					t.Errorf("anomaly %d has no message", i)
				}
			}
		})
	}
}

// ============================================================
// Statistics
// ============================================================

func TestStatistics(t *testing.T) {
	s := NewStatistics()

	s.Update(NewPacket(CmdStreamRecord, nil), nil, nil)
	s.Update(NewPacket(CmdStatus, nil), nil, nil)
	s.Update(NewPacket(0x42, nil), &DecodeError{Kind: DecodeUnknownCommand, Command: 0x42}, nil)
	s.Update(NewPacket(CmdStreamRecord, nil), nil, []ValidationError{{Type: AnomalyBatteryRange}})
	s.RecordFrameError(&ChecksumError{})
	s.RecordFrameError(ErrFrameOverflow)
	s.RecordDropped()

	snap := s.Snapshot()
	if snap.TotalPackets != 6 {
		t.Errorf("TotalPackets = %d, want 6", snap.TotalPackets)
	}
	if snap.ValidPackets != 2 {
		t.Errorf("ValidPackets = %d, want 2", snap.ValidPackets)
	}
	if snap.Samples != 2 {
		t.Errorf("Samples = %d, want 2", snap.Samples)
	}
	if snap.ChecksumErrors != 1 || snap.FramingErrors != 1 || snap.DecodeErrors != 1 {
		t.Errorf("errors = %d/%d/%d, want 1/1/1", snap.ChecksumErrors, snap.FramingErrors, snap.DecodeErrors)
	}
	if snap.AnomalousValues != 1 || snap.DroppedPackets != 1 {
		t.Errorf("anomalous=%d dropped=%d, want 1/1", snap.AnomalousValues, snap.DroppedPackets)
	}
	if snap.Errors() != 3 {
		t.Errorf("Errors() = %d, want 3", snap.Errors())
	}
	if out := s.String(); !strings.Contains(out, "Checksum Errors:") || !strings.Contains(out, "Total Packets:") {
		t.Errorf("unexpected summary:\n%s", out)
	}

	s.Reset()
	if snap := s.Snapshot(); snap.TotalPackets != 0 || snap.Samples != 0 {
		t.Errorf("Reset did not clear counters: %+v", snap)
	}
}

func TestStatistics_Concurrent(t *testing.T) {
	s := NewStatistics()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.Update(NewPacket(CmdStatus, nil), nil, nil)
				_ = s.Snapshot()
			}
		}()
	}
	wg.Wait()

	if got := s.Snapshot().TotalPackets; got != 800 {
		t.Errorf("TotalPackets = %d, want 800", got)
	}
}
