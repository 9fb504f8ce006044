// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/Thermoquad/sensoplex/pkg/pdi"
	"github.com/Thermoquad/sensoplex/pkg/sensoplex"
)

var pipeDevice = sensoplex.Device{ID: "pipe0", Name: "pipe"}

// pipeStream returns a Stream whose Connect hands out one end of a
// net.Pipe; the other end is returned to the test.
func pipeStream(t *testing.T) (*Stream, net.Conn) {
	t.Helper()

	local, peer := net.Pipe()
	t.Cleanup(func() { peer.Close() })

	open := func(ctx context.Context, dev sensoplex.Device) (io.ReadWriteCloser, error) {
		if dev.ID != pipeDevice.ID {
			return nil, errors.New("unknown device")
		}
		return local, nil
	}
	list := func(ctx context.Context) ([]sensoplex.Device, error) {
		return []sensoplex.Device{pipeDevice}, nil
	}
	return NewStream(open, list), peer
}

// collector accumulates received bytes
type collector struct {
	mu   sync.Mutex
	data []byte
	got  chan struct{}
}

func newCollector() *collector {
	return &collector{got: make(chan struct{}, 64)}
}

func (c *collector) onData(b []byte) {
	c.mu.Lock()
	c.data = append(c.data, b...)
	c.mu.Unlock()
	select {
	case c.got <- struct{}{}:
	default:
	}
}

func (c *collector) waitFor(t *testing.T, n int) []byte {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		c.mu.Lock()
		if len(c.data) >= n {
			out := append([]byte(nil), c.data...)
			c.mu.Unlock()
			return out
		}
		c.mu.Unlock()
		select {
		case <-c.got:
		case <-deadline:
			t.Fatalf("timed out waiting for %d bytes", n)
		}
	}
}

// ============================================================
// Stream Transport Tests
// ============================================================

func TestStream_Scan(t *testing.T) {
	s, _ := pipeStream(t)

	var found []sensoplex.Device
	if err := s.Scan(context.Background(), func(d sensoplex.Device) {
		found = append(found, d)
	}); err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if len(found) != 1 || found[0] != pipeDevice {
		t.Errorf("Scan found %v, want [%v]", found, pipeDevice)
	}

	if err := NewStream(nil, nil).Scan(context.Background(), func(sensoplex.Device) {
		t.Error("nil lister reported a device")
	}); err != nil {
		t.Errorf("Scan with nil lister: %v", err)
	}
}

func TestStream_NotConnected(t *testing.T) {
	s, _ := pipeStream(t)

	if err := s.Write([]byte{1}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Write error = %v, want ErrNotConnected", err)
	}
	if err := s.Subscribe(func([]byte) {}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Subscribe error = %v, want ErrNotConnected", err)
	}
	if err := s.Disconnect(); err != nil {
		t.Errorf("Disconnect before Connect: %v", err)
	}
}

func TestStream_ReadWrite(t *testing.T) {
	s, peer := pipeStream(t)
	ctx := context.Background()

	if err := s.Connect(ctx, pipeDevice); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if err := s.Connect(ctx, pipeDevice); err == nil {
		t.Error("second Connect should fail")
	}

	c := newCollector()
	if err := s.Subscribe(c.onData); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	frame := pdi.MustEncodePacket(pdi.CmdVersion, []byte{1, 4, 2, 8, 1, 13, 0})
	go peer.Write(frame)
	if got := c.waitFor(t, len(frame)); !bytes.Equal(got, frame) {
		t.Errorf("received % X, want % X", got, frame)
	}

	request := pdi.MustEncodePacket(pdi.CmdVersion, nil)
	read := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 64)
		n, _ := io.ReadAtLeast(peer, buf, len(request))
		read <- buf[:n]
	}()
	if err := s.Write(request); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	select {
	case got := <-read:
		if !bytes.Equal(got, request) {
			t.Errorf("peer read % X, want % X", got, request)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("peer never read the request")
	}

	if err := s.Disconnect(); err != nil {
		t.Errorf("Disconnect failed: %v", err)
	}
}

func TestStream_PeerCloseReportsLinkLoss(t *testing.T) {
	s, peer := pipeStream(t)

	lost := make(chan error, 1)
	s.OnDisconnect(func(err error) { lost <- err })

	if err := s.Connect(context.Background(), pipeDevice); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if err := s.Subscribe(func([]byte) {}); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	peer.Close()

	select {
	case err := <-lost:
		if err != nil {
			t.Errorf("EOF should report a nil cause, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OnDisconnect not called after peer close")
	}

	if err := s.Write([]byte{1}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Write after link loss = %v, want ErrNotConnected", err)
	}
}

func TestStream_DisconnectIsSilent(t *testing.T) {
	s, _ := pipeStream(t)

	s.OnDisconnect(func(err error) {
		t.Errorf("OnDisconnect called for a requested disconnect: %v", err)
	})

	if err := s.Connect(context.Background(), pipeDevice); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if err := s.Subscribe(func([]byte) {}); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if err := s.Disconnect(); err != nil {
		t.Errorf("Disconnect failed: %v", err)
	}
}

func TestStream_OpenFailure(t *testing.T) {
	s, _ := pipeStream(t)

	err := s.Connect(context.Background(), sensoplex.Device{ID: "missing"})
	if err == nil {
		t.Fatal("Connect to unknown device should fail")
	}
}

// ============================================================
// Session Over Stream Tests
// ============================================================

func TestStream_SessionRequestVersion(t *testing.T) {
	s, peer := pipeStream(t)

	// Answer every VERSION request on the far end of the pipe
	go func() {
		dec := pdi.NewDecoder()
		buf := make([]byte, 64)
		for {
			n, err := peer.Read(buf)
			if err != nil {
				return
			}
			packets, _ := dec.Feed(buf[:n])
			for _, p := range packets {
				if p.Command() == pdi.CmdVersion {
					peer.Write(pdi.MustEncodePacket(pdi.CmdVersion, []byte{1, 4, 2, 8, 1, 13, 0}))
				}
			}
		}
	}()

	session := sensoplex.New(s, sensoplex.WithConnectTimeout(time.Second))
	defer session.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := session.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if session.Device() != pipeDevice {
		t.Errorf("Device = %v, want %v", session.Device(), pipeDevice)
	}

	v, err := session.RequestVersion(ctx)
	if err != nil {
		t.Fatalf("RequestVersion failed: %v", err)
	}
	if v.Version != 1 || v.Revision != 4 || v.Subrevision != 2 {
		t.Errorf("version = %s, want 1.4.2", v)
	}
}
