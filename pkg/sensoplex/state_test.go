// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sensoplex

import "testing"

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateDisconnected, "DISCONNECTED"},
		{StateScanning, "SCANNING"},
		{StateConnecting, "CONNECTING"},
		{StateConnected, "CONNECTED"},
		{StateReady, "READY"},
		{StateFailedToConnect, "FAILED_TO_CONNECT"},
		{StateTransportError, "TRANSPORT_ERROR"},
		{State(42), "STATE_42"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", int(tt.state), got, tt.want)
		}
	}
}

func TestDeviceFilters(t *testing.T) {
	dev := Device{ID: "C0:FF:EE:00:11:22", Name: "SP-10BN"}

	tests := []struct {
		name   string
		filter DeviceFilter
		want   bool
	}{
		{"prefix match", NamePrefixFilter("sp-10"), true},
		{"prefix miss", NamePrefixFilter("HRM"), false},
		{"address match", AddressFilter("C0:FF:EE:00:11:22"), true},
		{"address case", AddressFilter("c0:ff:ee:00:11:22"), true},
		{"address miss", AddressFilter("AA:BB:CC:DD:EE:FF"), false},
		{"all pass", AllFilters(NamePrefixFilter("SP"), nil, AddressFilter(dev.ID)), true},
		{"all one fails", AllFilters(NamePrefixFilter("SP"), AddressFilter("x")), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter(dev); got != tt.want {
				t.Errorf("filter(%v) = %t, want %t", dev, got, tt.want)
			}
		})
	}

	if dev.String() != "SP-10BN (C0:FF:EE:00:11:22)" {
		t.Errorf("String() = %q", dev.String())
	}
	if (Device{ID: "/dev/ttyUSB0"}).String() != "/dev/ttyUSB0" {
		t.Error("unnamed device should render its ID")
	}
}
