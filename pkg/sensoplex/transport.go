// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sensoplex

import (
	"context"
	"strings"
)

// Device identifies a connectable sensor module
type Device struct {
	// ID is the transport-specific address: a BLE MAC or UUID, a serial
	// port path or a WebSocket URL.
	ID   string
	Name string
	RSSI int16
}

// String returns the device name and address
func (d Device) String() string {
	if d.Name == "" {
		return d.ID
	}
	return d.Name + " (" + d.ID + ")"
}

// Transport is the byte link to a sensor module.
//
// Implementations deliver notification bytes to the Subscribe callback in
// arrival order from a single goroutine. They may fragment frames
// arbitrarily.
type Transport interface {
	// Scan reports candidate devices to found until ctx is done or
	// StopScan is called. Transports with a fixed device list may return
	// as soon as every device has been reported.
	Scan(ctx context.Context, found func(Device)) error
	StopScan() error

	// Connect establishes the link to dev
	Connect(ctx context.Context, dev Device) error

	// Subscribe starts delivering received bytes to onData. The slice is
	// only valid for the duration of the call.
	Subscribe(onData func([]byte)) error

	// Write sends raw frame bytes to the module
	Write(data []byte) error

	Disconnect() error

	// OnDisconnect registers a handler for link loss not requested through
	// Disconnect. err describes the cause, nil if unknown.
	OnDisconnect(handler func(err error))
}

// DeviceFilter accepts or rejects a scan candidate
type DeviceFilter func(Device) bool

// NamePrefixFilter accepts devices whose name starts with prefix,
// ignoring case
func NamePrefixFilter(prefix string) DeviceFilter {
	prefix = strings.ToLower(prefix)
	return func(d Device) bool {
		return strings.HasPrefix(strings.ToLower(d.Name), prefix)
	}
}

// AddressFilter accepts the device with the given ID, ignoring case
func AddressFilter(id string) DeviceFilter {
	return func(d Device) bool {
		return strings.EqualFold(d.ID, id)
	}
}

// AllFilters accepts devices passing every filter
func AllFilters(filters ...DeviceFilter) DeviceFilter {
	return func(d Device) bool {
		for _, f := range filters {
			if f != nil && !f(d) {
				return false
			}
		}
		return true
	}
}
