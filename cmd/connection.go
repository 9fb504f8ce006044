// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/Thermoquad/sensoplex/internal/config"
	"github.com/Thermoquad/sensoplex/pkg/sensoplex"
	"github.com/Thermoquad/sensoplex/pkg/transport"
)

// OpenTransport builds the configured transport. Returns the transport and
// a human-readable description of it.
func OpenTransport() (sensoplex.Transport, string, error) {
	tc := cfg.Transport

	switch tc.Kind {
	case config.TransportSerial:
		t := transport.NewSerial(tc.Baud)
		if tc.Port == "" {
			return t, fmt.Sprintf("serial (first port) @ %d baud", tc.Baud), nil
		}
		return t, fmt.Sprintf("%s @ %d baud", tc.Port, tc.Baud), nil

	case config.TransportWebSocket:
		opts := transport.WebSocketOptions{
			URL:           tc.URL,
			Username:      tc.Username,
			SkipSSLVerify: tc.SkipSSLVerify,
		}
		if tc.Username != "" {
			password, err := config.GetPassword()
			if err != nil {
				return nil, "", err
			}
			opts.Password = password
		}
		info := tc.URL
		if tc.Username != "" {
			info = fmt.Sprintf("%s (user: %s)", tc.URL, tc.Username)
		}
		return transport.NewWebSocket(opts), info, nil

	case config.TransportBLE:
		info := "BLE"
		if tc.Address != "" {
			info = fmt.Sprintf("BLE %s", tc.Address)
		} else if tc.NamePrefix != "" {
			info = fmt.Sprintf("BLE name=%s*", tc.NamePrefix)
		}
		return transport.NewBLE(), info, nil

	default:
		return nil, "", fmt.Errorf("unknown transport %q", tc.Kind)
	}
}

// deviceFilter returns the scan filter for the configured transport
func deviceFilter() sensoplex.DeviceFilter {
	tc := cfg.Transport

	switch tc.Kind {
	case config.TransportSerial:
		if tc.Port != "" {
			return sensoplex.AddressFilter(tc.Port)
		}
		return nil
	case config.TransportWebSocket:
		return nil
	default:
		var filters []sensoplex.DeviceFilter
		if tc.NamePrefix != "" {
			filters = append(filters, sensoplex.NamePrefixFilter(tc.NamePrefix))
		}
		if tc.Address != "" {
			filters = append(filters, sensoplex.AddressFilter(tc.Address))
		}
		return sensoplex.AllFilters(filters...)
	}
}

// sessionLogger returns the logger handed to sessions. --log-packets
// lowers it to trace so every packet is logged.
func sessionLogger() zerolog.Logger {
	if cfg.Log.Packets {
		return logger.Level(zerolog.TraceLevel)
	}
	return logger
}

// OpenSession builds the configured transport and connects a session to
// the first matching device
func OpenSession(ctx context.Context, opts ...sensoplex.Option) (*sensoplex.Session, string, error) {
	t, info, err := OpenTransport()
	if err != nil {
		return nil, "", err
	}

	base := []sensoplex.Option{
		sensoplex.WithLogger(sessionLogger()),
		sensoplex.WithConnectTimeout(cfg.Session.ConnectTimeout),
		sensoplex.WithCommandTimeout(cfg.Session.CommandTimeout),
		sensoplex.WithDeviceFilter(deviceFilter()),
	}
	s := sensoplex.New(t, append(base, opts...)...)

	if err := s.Connect(ctx); err != nil {
		return nil, info, err
	}
	return s, info, nil
}

// findDevice scans t for the first device accepted by filter
func findDevice(ctx context.Context, t sensoplex.Transport, filter sensoplex.DeviceFilter, timeout time.Duration) (sensoplex.Device, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	found := make(chan sensoplex.Device, 1)
	errc := make(chan error, 1)
	go func() {
		errc <- t.Scan(ctx, func(d sensoplex.Device) {
			if filter != nil && !filter(d) {
				return
			}
			select {
			case found <- d:
				t.StopScan()
			default:
			}
		})
	}()

	select {
	case d := <-found:
		return d, nil
	case err := <-errc:
		// Fixed lists return before the callback result is read
		select {
		case d := <-found:
			return d, nil
		default:
		}
		if err == nil {
			err = sensoplex.ErrNoDevice
		}
		return sensoplex.Device{}, err
	case <-ctx.Done():
		t.StopScan()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return sensoplex.Device{}, fmt.Errorf("%w: %w", sensoplex.ErrNoDevice, sensoplex.ErrConnectTimeout)
		}
		return sensoplex.Device{}, ctx.Err()
	}
}

// connectRaw opens a transport without a session, for commands that
// decode the byte stream themselves
func connectRaw(ctx context.Context) (sensoplex.Transport, sensoplex.Device, string, error) {
	t, info, err := OpenTransport()
	if err != nil {
		return nil, sensoplex.Device{}, "", err
	}

	dev, err := findDevice(ctx, t, deviceFilter(), cfg.Session.ConnectTimeout)
	if err != nil {
		return nil, sensoplex.Device{}, info, err
	}

	connectCtx, cancel := context.WithTimeout(ctx, cfg.Session.ConnectTimeout)
	defer cancel()
	if err := t.Connect(connectCtx, dev); err != nil {
		return nil, dev, info, fmt.Errorf("connect %s: %w", dev, err)
	}
	return t, dev, info, nil
}

// signalContext returns a context cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
