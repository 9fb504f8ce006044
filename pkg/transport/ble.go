// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"tinygo.org/x/bluetooth"

	"github.com/Thermoquad/sensoplex/pkg/sensoplex"
)

// SP-10BN GATT layout
const (
	ServiceUUID        = "01000000-0000-0000-0000-000000000080"
	NotifyCharUUID     = "02000000-0000-0000-0000-000000000080"
	IndicateCharUUID   = "03000000-0000-0000-0000-000000000080"
	WriteCharUUID      = "04000000-0000-0000-0000-000000000080"
	DefaultBLEChunk    = 20
	bleScanResultQueue = 16
)

var (
	serviceUUID = must(bluetooth.ParseUUID(ServiceUUID))
	notifyUUID  = must(bluetooth.ParseUUID(NotifyCharUUID))
	writeUUID   = must(bluetooth.ParseUUID(WriteCharUUID))
)

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

// ErrCharacteristicMissing is returned when the connected peripheral does
// not expose the SP-10BN service
var ErrCharacteristicMissing = errors.New("sensoplex characteristic not found")

// BLE is a Transport over the host Bluetooth adapter
type BLE struct {
	adapter *bluetooth.Adapter
	chunk   int

	enableOnce sync.Once
	enableErr  error

	mu           sync.Mutex
	seen         map[string]bluetooth.Address
	device       *bluetooth.Device
	notify       bluetooth.DeviceCharacteristic
	write        bluetooth.DeviceCharacteristic
	closing      bool
	onDisconnect func(error)
}

var _ sensoplex.Transport = (*BLE)(nil)

// NewBLE creates a BLE transport on the default adapter
func NewBLE() *BLE {
	return &BLE{
		adapter: bluetooth.DefaultAdapter,
		chunk:   DefaultBLEChunk,
		seen:    make(map[string]bluetooth.Address),
	}
}

func (b *BLE) enable() error {
	b.enableOnce.Do(func() {
		b.enableErr = b.adapter.Enable()
		if b.enableErr != nil {
			b.enableErr = fmt.Errorf("enable BLE stack: %w", b.enableErr)
			return
		}
		b.adapter.SetConnectHandler(b.connectHandler)
	})
	return b.enableErr
}

// Scan reports advertising peripherals until ctx is done or StopScan
func (b *BLE) Scan(ctx context.Context, found func(sensoplex.Device)) error {
	if err := b.enable(); err != nil {
		return err
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			b.adapter.StopScan()
		case <-stop:
		}
	}()

	return b.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
		dev := sensoplex.Device{
			ID:   result.Address.String(),
			Name: result.LocalName(),
			RSSI: result.RSSI,
		}
		b.mu.Lock()
		b.seen[dev.ID] = result.Address
		b.mu.Unlock()
		found(dev)
	})
}

// StopScan ends a running Scan
func (b *BLE) StopScan() error {
	return b.adapter.StopScan()
}

// Connect connects to dev and discovers the SP-10BN characteristics. A
// device not seen by an earlier Scan is scanned for first.
func (b *BLE) Connect(ctx context.Context, dev sensoplex.Device) error {
	if err := b.enable(); err != nil {
		return err
	}

	addr, err := b.resolve(ctx, dev.ID)
	if err != nil {
		return err
	}

	device, err := b.adapter.Connect(addr, bluetooth.ConnectionParams{})
	if err != nil {
		return fmt.Errorf("connect %s: %w", dev.ID, err)
	}

	notify, write, err := discover(device)
	if err != nil {
		device.Disconnect()
		return err
	}

	b.mu.Lock()
	b.device = &device
	b.notify = notify
	b.write = write
	b.closing = false
	b.mu.Unlock()
	return nil
}

func (b *BLE) resolve(ctx context.Context, id string) (bluetooth.Address, error) {
	b.mu.Lock()
	addr, ok := b.seen[id]
	b.mu.Unlock()
	if ok {
		return addr, nil
	}

	results := make(chan bluetooth.Address, bleScanResultQueue)
	scanCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errc := make(chan error, 1)
	go func() {
		errc <- b.Scan(scanCtx, func(d sensoplex.Device) {
			if !sensoplex.AddressFilter(id)(d) {
				return
			}
			b.mu.Lock()
			a := b.seen[d.ID]
			b.mu.Unlock()
			select {
			case results <- a:
			default:
			}
		})
	}()

	select {
	case a := <-results:
		b.adapter.StopScan()
		<-errc
		return a, nil
	case err := <-errc:
		if err == nil {
			err = ctx.Err()
		}
		return bluetooth.Address{}, fmt.Errorf("scan for %s: %w", id, err)
	}
}

func discover(device bluetooth.Device) (notify, write bluetooth.DeviceCharacteristic, err error) {
	services, err := device.DiscoverServices([]bluetooth.UUID{serviceUUID})
	if err != nil {
		return notify, write, fmt.Errorf("discover services: %w", err)
	}
	if len(services) == 0 {
		return notify, write, ErrCharacteristicMissing
	}

	chars, err := services[0].DiscoverCharacteristics([]bluetooth.UUID{notifyUUID, writeUUID})
	if err != nil {
		return notify, write, fmt.Errorf("discover characteristics: %w", err)
	}

	var haveNotify, haveWrite bool
	for _, c := range chars {
		switch c.UUID() {
		case notifyUUID:
			notify, haveNotify = c, true
		case writeUUID:
			write, haveWrite = c, true
		}
	}
	if !haveNotify || !haveWrite {
		return notify, write, ErrCharacteristicMissing
	}
	return notify, write, nil
}

// Subscribe enables notifications on the data characteristic
func (b *BLE) Subscribe(onData func([]byte)) error {
	b.mu.Lock()
	connected := b.device != nil
	notify := b.notify
	b.mu.Unlock()

	if !connected {
		return ErrNotConnected
	}
	if err := notify.EnableNotifications(onData); err != nil {
		return fmt.Errorf("enable notifications: %w", err)
	}
	return nil
}

// Write sends data in attribute-sized chunks without response
func (b *BLE) Write(data []byte) error {
	b.mu.Lock()
	connected := b.device != nil
	write := b.write
	b.mu.Unlock()

	if !connected {
		return ErrNotConnected
	}
	for _, part := range chunks(data, b.chunk) {
		if _, err := write.WriteWithoutResponse(part); err != nil {
			return err
		}
	}
	return nil
}

// Disconnect drops the connection
func (b *BLE) Disconnect() error {
	b.mu.Lock()
	device := b.device
	b.device = nil
	b.closing = true
	b.mu.Unlock()

	if device == nil {
		return nil
	}
	return device.Disconnect()
}

// OnDisconnect registers the link loss handler
func (b *BLE) OnDisconnect(handler func(error)) {
	b.mu.Lock()
	b.onDisconnect = handler
	b.mu.Unlock()
}

func (b *BLE) connectHandler(device bluetooth.Device, connected bool) {
	if connected {
		return
	}

	b.mu.Lock()
	current := b.device
	requested := b.closing
	if current != nil && current.Address == device.Address {
		b.device = nil
	} else {
		current = nil
	}
	handler := b.onDisconnect
	b.mu.Unlock()

	if current == nil || requested || handler == nil {
		return
	}
	handler(fmt.Errorf("peripheral %s disconnected", device.Address.String()))
}

// chunks splits data into slices of at most size bytes
func chunks(data []byte, size int) [][]byte {
	if size <= 0 {
		size = DefaultBLEChunk
	}
	var out [][]byte
	for len(data) > size {
		out = append(out, data[:size])
		data = data[size:]
	}
	if len(data) > 0 {
		out = append(out, data)
	}
	return out
}
