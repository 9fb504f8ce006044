// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package transport provides sensoplex.Transport implementations: byte
// streams (serial port, WebSocket bridge) and native BLE.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/Thermoquad/sensoplex/pkg/sensoplex"
)

// ErrNotConnected is returned by Write and Subscribe before Connect
var ErrNotConnected = errors.New("transport not connected")

// readBufferSize is the read chunk size of stream transports
const readBufferSize = 256

// Opener opens the byte stream for a device
type Opener func(ctx context.Context, dev sensoplex.Device) (io.ReadWriteCloser, error)

// Lister enumerates devices reachable by a stream transport
type Lister func(ctx context.Context) ([]sensoplex.Device, error)

// Stream is a Transport over any io.ReadWriteCloser
type Stream struct {
	open Opener
	list Lister

	mu           sync.Mutex
	conn         io.ReadWriteCloser
	subscribed   bool
	closing      bool
	done         chan struct{}
	onDisconnect func(error)
}

var _ sensoplex.Transport = (*Stream)(nil)

// NewStream creates a stream transport. list may be nil, in which case
// Scan reports nothing.
func NewStream(open Opener, list Lister) *Stream {
	return &Stream{open: open, list: list}
}

// Scan reports every device the lister returns, then returns
func (s *Stream) Scan(ctx context.Context, found func(sensoplex.Device)) error {
	if s.list == nil {
		return nil
	}
	devices, err := s.list(ctx)
	if err != nil {
		return err
	}
	for _, d := range devices {
		if ctx.Err() != nil {
			break
		}
		found(d)
	}
	return nil
}

// StopScan is a no-op; Scan never blocks
func (s *Stream) StopScan() error {
	return nil
}

// Connect opens the stream for dev
func (s *Stream) Connect(ctx context.Context, dev sensoplex.Device) error {
	s.mu.Lock()
	if s.conn != nil {
		s.mu.Unlock()
		return fmt.Errorf("already connected")
	}
	s.mu.Unlock()

	conn, err := s.open(ctx, dev)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.conn = conn
	s.subscribed = false
	s.closing = false
	s.mu.Unlock()
	return nil
}

// Subscribe starts the read loop. onData is called from a single
// goroutine and must not retain the slice.
func (s *Stream) Subscribe(onData func([]byte)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return ErrNotConnected
	}
	if s.subscribed {
		return fmt.Errorf("already subscribed")
	}
	s.subscribed = true
	s.done = make(chan struct{})

	go s.readLoop(s.conn, s.done, onData)
	return nil
}

func (s *Stream) readLoop(conn io.Reader, done chan struct{}, onData func([]byte)) {
	buf := make([]byte, readBufferSize)
	var err error
	for {
		var n int
		n, err = conn.Read(buf)
		if n > 0 {
			onData(buf[:n])
		}
		if err != nil {
			break
		}
	}

	s.mu.Lock()
	requested := s.closing
	if !requested && s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	handler := s.onDisconnect
	s.mu.Unlock()
	close(done)

	if !requested && handler != nil {
		if errors.Is(err, io.EOF) {
			handler(nil)
		} else {
			handler(err)
		}
	}
}

// Write sends data in full
func (s *Stream) Write(data []byte) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}
	_, err := conn.Write(data)
	return err
}

// Disconnect closes the stream and waits for the read loop to exit
func (s *Stream) Disconnect() error {
	s.mu.Lock()
	conn := s.conn
	if conn == nil {
		s.mu.Unlock()
		return nil
	}
	s.closing = true
	s.conn = nil
	done := s.done
	subscribed := s.subscribed
	s.mu.Unlock()

	err := conn.Close()
	if subscribed {
		<-done
	}
	return err
}

// OnDisconnect registers the link loss handler
func (s *Stream) OnDisconnect(handler func(error)) {
	s.mu.Lock()
	s.onDisconnect = handler
	s.mu.Unlock()
}
