// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sensoplex

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/Thermoquad/sensoplex/pkg/pdi"
)

// fakeTransport is an in-memory Transport. Frames written by the session
// are recorded; respond, when set, is called for each write and its
// result delivered back as received bytes.
type fakeTransport struct {
	mu           sync.Mutex
	devices      []Device
	connectErr   error
	subscribeErr error
	writeErr     error
	writes       [][]byte
	onData       func([]byte)
	onDisconnect func(error)
	respond      func(cmd uint8, args []byte) []byte
	stopped      chan struct{}
	stopOnce     sync.Once
	disconnects  int

	// Connect blocks on connectGate when set, signalling connectEntered
	connectGate    chan struct{}
	connectEntered chan struct{}
	afterConnect   func()
	afterSubscribe func()
}

func newFakeTransport(devices ...Device) *fakeTransport {
	return &fakeTransport{
		devices: devices,
		stopped: make(chan struct{}),
	}
}

func (f *fakeTransport) Scan(ctx context.Context, found func(Device)) error {
	for _, d := range f.devices {
		found(d)
	}
	select {
	case <-f.stopped:
	case <-ctx.Done():
	}
	return nil
}

func (f *fakeTransport) StopScan() error {
	f.stopOnce.Do(func() { close(f.stopped) })
	return nil
}

func (f *fakeTransport) Connect(ctx context.Context, dev Device) error {
	if f.connectGate != nil {
		close(f.connectEntered)
		<-f.connectGate
	}
	if f.afterConnect != nil {
		f.afterConnect()
	}
	return f.connectErr
}

func (f *fakeTransport) Subscribe(onData func([]byte)) error {
	if f.subscribeErr != nil {
		return f.subscribeErr
	}
	f.mu.Lock()
	f.onData = onData
	f.mu.Unlock()
	if f.afterSubscribe != nil {
		f.afterSubscribe()
	}
	return nil
}

func (f *fakeTransport) Write(data []byte) error {
	if f.writeErr != nil {
		return f.writeErr
	}
	f.mu.Lock()
	f.writes = append(f.writes, append([]byte(nil), data...))
	respond := f.respond
	f.mu.Unlock()

	if respond != nil {
		packets, _ := pdi.NewDecoder().Feed(data)
		for _, p := range packets {
			if reply := respond(p.Command(), p.Payload()); reply != nil {
				f.deliver(reply)
			}
		}
	}
	return nil
}

func (f *fakeTransport) Disconnect() error {
	f.mu.Lock()
	f.disconnects++
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) OnDisconnect(handler func(error)) {
	f.onDisconnect = handler
}

// deliver feeds bytes to the subscribed session
func (f *fakeTransport) deliver(data []byte) {
	f.mu.Lock()
	onData := f.onData
	f.mu.Unlock()
	onData(data)
}

func (f *fakeTransport) disconnectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disconnects
}

func (f *fakeTransport) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writes)
}

// echoAck answers setter commands with a bare echo
func echoAck(cmd uint8, args []byte) []byte {
	switch cmd {
	case pdi.CmdStreamEnable, pdi.CmdStreamSetConfig, pdi.CmdSetLED:
		return pdi.MustEncodePacket(cmd, nil)
	}
	return nil
}

var testDevice = Device{ID: "00:11:22:33:44:55", Name: "SP-10BN", RSSI: -50}

func versionFrame() []byte {
	return pdi.MustEncodePacket(pdi.CmdVersion, []byte{1, 4, 2, 8, 1, 13, 0})
}

func statusFrame(charger pdi.ChargerState) []byte {
	payload := make([]byte, 16)
	payload[0] = 2
	payload[1] = byte(charger)
	binary.LittleEndian.PutUint16(payload[2:], 2482)
	return pdi.MustEncodePacket(pdi.CmdStatus, payload)
}

// sampleFrame builds a streamed record with the timestamp and battery groups
func sampleFrame(ts int32, millivolts uint16) []byte {
	payload := make([]byte, 8)
	binary.LittleEndian.PutUint16(payload[0:], uint16(pdi.OptTimestamp|pdi.OptBattery))
	binary.LittleEndian.PutUint32(payload[2:], uint32(ts))
	binary.LittleEndian.PutUint16(payload[6:], millivolts)
	return pdi.MustEncodePacket(pdi.CmdStreamRecord, payload)
}

// readySession returns a session connected to a fake transport
func readySession(t *testing.T, opts ...Option) (*Session, *fakeTransport) {
	t.Helper()

	ft := newFakeTransport(testDevice)
	s := New(ft, opts...)
	if err := s.ConnectDevice(context.Background(), testDevice); err != nil {
		t.Fatalf("ConnectDevice failed: %v", err)
	}
	if s.State() != StateReady {
		t.Fatalf("State = %s, want READY", s.State())
	}
	return s, ft
}

// ============================================================
// Connection lifecycle
// ============================================================

func TestSession_ConnectTransitions(t *testing.T) {
	ft := newFakeTransport(testDevice)
	s := New(ft)

	var mu sync.Mutex
	var states []State
	s.OnStateChange(func(st State) {
		mu.Lock()
		states = append(states, st)
		mu.Unlock()
	})

	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	want := []State{StateScanning, StateConnecting, StateConnected, StateReady}
	mu.Lock()
	defer mu.Unlock()
	if len(states) != len(want) {
		t.Fatalf("states = %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Errorf("state %d = %s, want %s", i, states[i], want[i])
		}
	}
	if s.Device() != testDevice {
		t.Errorf("Device = %v, want %v", s.Device(), testDevice)
	}
}

func TestSession_ConnectFilter(t *testing.T) {
	other := Device{ID: "AA:BB:CC:DD:EE:FF", Name: "Heart Rate"}
	ft := newFakeTransport(other, testDevice)
	s := New(ft, WithDeviceFilter(NamePrefixFilter("sp-10")))

	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if s.Device().ID != testDevice.ID {
		t.Errorf("connected to %v, want %v", s.Device(), testDevice)
	}
}

func TestSession_ConnectTimeout(t *testing.T) {
	ft := newFakeTransport()
	s := New(ft, WithConnectTimeout(20*time.Millisecond))

	err := s.Connect(context.Background())
	if !errors.Is(err, ErrConnectTimeout) || !errors.Is(err, ErrNoDevice) {
		t.Fatalf("Connect = %v, want ErrNoDevice and ErrConnectTimeout", err)
	}
	if s.State() != StateFailedToConnect {
		t.Errorf("State = %s, want FAILED_TO_CONNECT", s.State())
	}
}

func TestSession_ConnectFailure(t *testing.T) {
	ft := newFakeTransport(testDevice)
	ft.connectErr = errors.New("peripheral refused")
	s := New(ft)

	if err := s.Connect(context.Background()); err == nil {
		t.Fatal("expected connect error")
	}
	if s.State() != StateFailedToConnect {
		t.Errorf("State = %s, want FAILED_TO_CONNECT", s.State())
	}

	// A failed session may try again
	ft.connectErr = nil
	if err := s.ConnectDevice(context.Background(), testDevice); err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if s.State() != StateReady {
		t.Errorf("State = %s, want READY", s.State())
	}
}

func TestSession_SubscribeFailure(t *testing.T) {
	ft := newFakeTransport(testDevice)
	ft.subscribeErr = errors.New("notify characteristic missing")
	s := New(ft)

	if err := s.ConnectDevice(context.Background(), testDevice); err == nil {
		t.Fatal("expected subscribe error")
	}
	if s.State() != StateTransportError {
		t.Errorf("State = %s, want TRANSPORT_ERROR", s.State())
	}
	if err := s.ConnectDevice(context.Background(), testDevice); !errors.Is(err, ErrAlreadyConnected) {
		t.Errorf("ConnectDevice from TRANSPORT_ERROR = %v, want ErrAlreadyConnected", err)
	}

	// The link stays open until the caller releases it
	if n := ft.disconnectCount(); n != 0 {
		t.Errorf("transport Disconnect called %d times before Disconnect, want 0", n)
	}
	if err := s.Disconnect(); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}
	if s.State() != StateDisconnected {
		t.Errorf("State = %s, want DISCONNECTED", s.State())
	}
	if n := ft.disconnectCount(); n != 1 {
		t.Errorf("transport Disconnect called %d times, want 1", n)
	}
}

// eventually polls cond until it holds or a second passes
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

// recordStates collects every state change reported by s
func recordStates(s *Session) func() []State {
	var mu sync.Mutex
	var states []State
	s.OnStateChange(func(st State) {
		mu.Lock()
		states = append(states, st)
		mu.Unlock()
	})
	return func() []State {
		mu.Lock()
		defer mu.Unlock()
		return append([]State(nil), states...)
	}
}

func hasState(states []State, want State) bool {
	for _, st := range states {
		if st == want {
			return true
		}
	}
	return false
}

func TestSession_DisconnectDuringScan(t *testing.T) {
	ft := newFakeTransport()
	s := New(ft, WithConnectTimeout(time.Minute))

	errc := make(chan error, 1)
	go func() { errc <- s.Connect(context.Background()) }()
	eventually(t, "SCANNING", func() bool { return s.State() == StateScanning })

	if err := s.Disconnect(); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}

	select {
	case err := <-errc:
		if !errors.Is(err, ErrDisconnected) {
			t.Errorf("Connect = %v, want ErrDisconnected", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Connect did not return after Disconnect")
	}
	if s.State() != StateDisconnected {
		t.Errorf("State = %s, want DISCONNECTED", s.State())
	}
}

func TestSession_DisconnectDuringConnect(t *testing.T) {
	ft := newFakeTransport(testDevice)
	ft.connectGate = make(chan struct{})
	ft.connectEntered = make(chan struct{})
	s := New(ft, WithConnectTimeout(time.Minute))
	states := recordStates(s)

	errc := make(chan error, 1)
	go func() { errc <- s.ConnectDevice(context.Background(), testDevice) }()
	<-ft.connectEntered

	if err := s.Disconnect(); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}
	if s.State() != StateDisconnected {
		t.Fatalf("State after Disconnect = %s, want DISCONNECTED", s.State())
	}

	// The transport finishes opening the link after the teardown
	close(ft.connectGate)

	select {
	case err := <-errc:
		if !errors.Is(err, ErrDisconnected) {
			t.Errorf("ConnectDevice = %v, want ErrDisconnected", err)
		}
	case <-time.After(time.Second):
		t.Fatal("ConnectDevice did not return after Disconnect")
	}

	// One release from Disconnect, one for the late link
	eventually(t, "late link released", func() bool { return ft.disconnectCount() == 2 })
	if s.State() != StateDisconnected {
		t.Errorf("final State = %s, want DISCONNECTED", s.State())
	}
	if got := states(); hasState(got, StateConnected) || hasState(got, StateReady) {
		t.Errorf("states = %v, torn down attempt must not reach CONNECTED or READY", got)
	}
}

func TestSession_LinkLossDuringConnect(t *testing.T) {
	ft := newFakeTransport(testDevice)
	s := New(ft, WithConnectTimeout(time.Minute))
	ft.afterConnect = func() { ft.onDisconnect(nil) }
	states := recordStates(s)

	err := s.ConnectDevice(context.Background(), testDevice)
	if !errors.Is(err, ErrDisconnected) {
		t.Fatalf("ConnectDevice = %v, want ErrDisconnected", err)
	}

	eventually(t, "link released", func() bool { return ft.disconnectCount() == 1 })
	if s.State() != StateDisconnected {
		t.Errorf("State = %s, want DISCONNECTED", s.State())
	}
	if hasState(states(), StateReady) {
		t.Errorf("states = %v, torn down attempt must not reach READY", states())
	}
}

func TestSession_LinkLossDuringSubscribe(t *testing.T) {
	ft := newFakeTransport(testDevice)
	s := New(ft)
	ft.afterSubscribe = func() { ft.onDisconnect(io.EOF) }
	states := recordStates(s)

	err := s.ConnectDevice(context.Background(), testDevice)
	if !errors.Is(err, ErrDisconnected) {
		t.Fatalf("ConnectDevice = %v, want ErrDisconnected", err)
	}
	if s.State() != StateDisconnected {
		t.Errorf("State = %s, want DISCONNECTED", s.State())
	}
	if n := ft.disconnectCount(); n != 1 {
		t.Errorf("transport Disconnect called %d times, want 1", n)
	}
	if hasState(states(), StateReady) {
		t.Errorf("states = %v, torn down attempt must not reach READY", states())
	}

	// The session can connect again afterwards
	ft.afterSubscribe = nil
	if err := s.ConnectDevice(context.Background(), testDevice); err != nil {
		t.Fatalf("reconnect failed: %v", err)
	}
	if s.State() != StateReady {
		t.Errorf("State = %s, want READY", s.State())
	}
}

func TestSession_AlreadyConnected(t *testing.T) {
	s, _ := readySession(t)
	if err := s.Connect(context.Background()); !errors.Is(err, ErrAlreadyConnected) {
		t.Errorf("Connect = %v, want ErrAlreadyConnected", err)
	}
}

// ============================================================
// Commands
// ============================================================

func TestSession_IssueNotReady(t *testing.T) {
	ft := newFakeTransport()
	s := New(ft)

	if _, err := s.Issue(pdi.NewVersionRequest(), 0); !errors.Is(err, ErrNotReady) {
		t.Fatalf("Issue = %v, want ErrNotReady", err)
	}
	if ft.writeCount() != 0 {
		t.Errorf("wrote %d frames, want 0", ft.writeCount())
	}
}

func TestSession_CommandExclusivity(t *testing.T) {
	s, ft := readySession(t)

	pc, err := s.Issue(pdi.NewVersionRequest(), time.Second)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if ft.writeCount() != 1 {
		t.Fatalf("wrote %d frames, want 1", ft.writeCount())
	}

	if _, err := s.Issue(pdi.NewStatusRequest(), time.Second); !errors.Is(err, ErrCommandPending) {
		t.Fatalf("second Issue = %v, want ErrCommandPending", err)
	}
	if ft.writeCount() != 1 {
		t.Errorf("rejected command touched the transport: %d writes", ft.writeCount())
	}
	if s.Pending() != pc {
		t.Error("Pending() should return the outstanding command")
	}

	ft.deliver(versionFrame())
	if _, err := pc.Wait(context.Background()); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}

	if _, err := s.Issue(pdi.NewStatusRequest(), time.Second); err != nil {
		t.Errorf("Issue after completion failed: %v", err)
	}
}

func TestSession_ResponseResolves(t *testing.T) {
	s, ft := readySession(t)

	pc, err := s.Issue(pdi.NewVersionRequest(), time.Second)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	want := pdi.MustEncodePacket(pdi.CmdVersion, nil)
	if got := ft.writes[0]; string(got) != string(want) {
		t.Errorf("wrote %X, want %X", got, want)
	}

	// Deliver the response one byte at a time
	for _, b := range versionFrame() {
		ft.deliver([]byte{b})
	}

	record, err := pc.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	v, ok := record.(pdi.FirmwareVersion)
	if !ok {
		t.Fatalf("record = %T, want FirmwareVersion", record)
	}
	if v.String() != "1.4.2 (08/01/2013) STANDARD" {
		t.Errorf("version = %s", v)
	}

	cached, ok := s.FirmwareVersion()
	if !ok || cached != v {
		t.Errorf("FirmwareVersion() = %v, %t", cached, ok)
	}
	if s.Pending() != nil {
		t.Error("slot should be free")
	}
}

func TestSession_CommandTimeout(t *testing.T) {
	s, _ := readySession(t)

	pc, err := s.Issue(pdi.NewStatusRequest(), 10*time.Millisecond)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	_, err = pc.Wait(context.Background())
	if !errors.Is(err, ErrCommandTimeout) {
		t.Fatalf("Wait = %v, want ErrCommandTimeout", err)
	}
	if s.State() != StateReady {
		t.Errorf("timeout changed state to %s", s.State())
	}
	if _, err := s.Issue(pdi.NewStatusRequest(), time.Second); err != nil {
		t.Errorf("slot not released after timeout: %v", err)
	}
}

func TestSession_TimeoutRace(t *testing.T) {
	s, ft := readySession(t)

	for i := 0; i < 200; i++ {
		pc, err := s.Issue(pdi.NewVersionRequest(), time.Millisecond)
		if err != nil {
			t.Fatalf("round %d: Issue failed: %v", i, err)
		}

		delivered := make(chan struct{})
		go func() {
			defer close(delivered)
			time.Sleep(time.Millisecond)
			ft.deliver(versionFrame())
		}()

		record, err := pc.Wait(context.Background())
		<-delivered

		switch {
		case err == nil:
			if _, ok := record.(pdi.FirmwareVersion); !ok {
				t.Fatalf("round %d: record = %T", i, record)
			}
		case errors.Is(err, ErrCommandTimeout):
			if record != nil {
				t.Fatalf("round %d: timed out with a record", i)
			}
		default:
			t.Fatalf("round %d: unexpected error %v", i, err)
		}

		// The outcome never changes after resolution
		r2, err2 := pc.Result()
		if r2 != record || err2 != err {
			t.Fatalf("round %d: result changed after resolution", i)
		}
		if s.Pending() != nil {
			t.Fatalf("round %d: slot still occupied", i)
		}
	}
}

func TestSession_WriteFailureFreesSlot(t *testing.T) {
	s, ft := readySession(t)
	ft.writeErr = errors.New("characteristic write failed")

	if _, err := s.Issue(pdi.NewStatusRequest(), time.Second); err == nil {
		t.Fatal("expected write error")
	}
	if s.Pending() != nil {
		t.Error("slot should be free after a write failure")
	}
}

func TestSession_DoCancelFreesSlot(t *testing.T) {
	s, _ := readySession(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := s.Do(ctx, pdi.NewStatusRequest())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Do = %v, want DeadlineExceeded", err)
	}
	if s.Pending() != nil {
		t.Error("slot should be free after cancellation")
	}
}

func TestSession_RequestHelpers(t *testing.T) {
	s, ft := readySession(t)
	ft.respond = func(cmd uint8, args []byte) []byte {
		switch cmd {
		case pdi.CmdVersion:
			return versionFrame()
		case pdi.CmdStatus:
			return statusFrame(pdi.ChargerCharging)
		}
		return echoAck(cmd, args)
	}

	ctx := context.Background()
	if _, err := s.RequestVersion(ctx); err != nil {
		t.Fatalf("RequestVersion failed: %v", err)
	}
	st, err := s.RequestStatus(ctx)
	if err != nil {
		t.Fatalf("RequestStatus failed: %v", err)
	}
	if st.Model != 2 {
		t.Errorf("Model = %d, want 2", st.Model)
	}
	if err := s.SetLED(ctx, pdi.LEDGreen); err != nil {
		t.Fatalf("SetLED failed: %v", err)
	}

	volts, ok := s.BatteryVolts()
	if !ok || volts < 3.99 || volts > 4.01 {
		t.Errorf("BatteryVolts = %f, %t", volts, ok)
	}
	if !s.IsBatteryCharging() {
		t.Error("IsBatteryCharging = false, want true")
	}
}

// ============================================================
// Capture and routing
// ============================================================

func TestSession_CaptureThreeSamples(t *testing.T) {
	s, ft := readySession(t)
	ft.respond = echoAck

	var mu sync.Mutex
	var notified []*pdi.SensorSample
	s.OnSample(func(sample *pdi.SensorSample) {
		mu.Lock()
		notified = append(notified, sample)
		mu.Unlock()
	})

	if err := s.StartCapture(context.Background(), pdi.OptTimestamp|pdi.OptBattery); err != nil {
		t.Fatalf("StartCapture failed: %v", err)
	}
	if !s.IsCapturing() {
		t.Fatal("IsCapturing = false after StartCapture")
	}
	if s.CaptureID().String() == "00000000-0000-0000-0000-000000000000" {
		t.Error("capture should have an ID")
	}

	// The first write selects the fields
	if got := ft.writes[0]; string(got) != string(pdi.MustEncodePacket(pdi.CmdStreamSetConfig, []byte{0x06, 0x00})) {
		t.Errorf("first write = %X", got)
	}

	for i := 0; i < 3; i++ {
		ft.deliver(sampleFrame(int32(100*(i+1)), uint16(3700+i)))
	}

	samples := s.Store().All()
	if len(samples) != 3 {
		t.Fatalf("store has %d samples, want 3", len(samples))
	}
	for i, sample := range samples {
		if sample.Timestamp == nil || *sample.Timestamp != int32(100*(i+1)) {
			t.Errorf("sample %d timestamp = %v", i, sample.Timestamp)
		}
		if sample.BatteryVolts == nil {
			t.Errorf("sample %d battery absent", i)
		}
		if sample.Accelerometer != nil || sample.Gyroscope != nil || sample.Quaternion != nil || sample.TimeDate != nil {
			t.Errorf("sample %d has unexpected fields", i)
		}
		if sample.ReceivedAt.IsZero() {
			t.Errorf("sample %d has no receive time", i)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(notified) != 3 || notified[0] != samples[0] {
		t.Errorf("OnSample called %d times, want 3", len(notified))
	}
}

func TestSession_SampleRightAfterAckIsCaptured(t *testing.T) {
	s, ft := readySession(t)

	pc, err := s.Issue(pdi.NewStreamEnable(true), time.Second)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	// Ack and first sample in the same burst
	burst := append(pdi.MustEncodePacket(pdi.CmdStreamEnable, nil), sampleFrame(1, 3700)...)
	ft.deliver(burst)

	if _, err := pc.Wait(context.Background()); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if s.Store().Len() != 1 {
		t.Errorf("store has %d samples, want 1", s.Store().Len())
	}
}

func TestSession_RoutingPrefersPendingCommand(t *testing.T) {
	s, ft := readySession(t)
	ft.respond = echoAck
	if err := s.StartCapture(context.Background(), 0); err != nil {
		t.Fatalf("StartCapture failed: %v", err)
	}
	ft.respond = nil

	pc, err := s.Issue(pdi.NewStatusRequest(), time.Second)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	burst := append(sampleFrame(1, 3700), statusFrame(pdi.ChargerOnBattery)...)
	burst = append(burst, sampleFrame(2, 3701)...)
	ft.deliver(burst)

	record, err := pc.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if _, ok := record.(pdi.ModuleStatus); !ok {
		t.Errorf("pending command resolved with %T", record)
	}
	if s.Store().Len() != 2 {
		t.Errorf("store has %d samples, want 2", s.Store().Len())
	}
}

func TestSession_UnclaimedRecordsDropped(t *testing.T) {
	s, ft := readySession(t)

	var records int
	s.OnRecord(func(pdi.Record) { records++ })

	ft.deliver(sampleFrame(1, 3700))
	ft.deliver(statusFrame(pdi.ChargerComplete))
	ft.deliver(pdi.MustEncodePacket(0x42, []byte{1}))

	if s.Store().Len() != 0 {
		t.Errorf("store has %d samples, want 0", s.Store().Len())
	}
	stats := s.Stats()
	if stats.Link.DroppedPackets != 2 {
		t.Errorf("DroppedPackets = %d, want 2", stats.Link.DroppedPackets)
	}
	if stats.Link.DecodeErrors != 1 {
		t.Errorf("DecodeErrors = %d, want 1", stats.Link.DecodeErrors)
	}
	if records != 2 {
		t.Errorf("OnRecord called %d times, want 2", records)
	}

	// Unclaimed status still refreshes the cache
	if st, ok := s.Status(); !ok || st.ChargerState != pdi.ChargerComplete {
		t.Errorf("Status() = %+v, %t", st, ok)
	}
}

func TestSession_StopCaptureKeepsInFlightSamples(t *testing.T) {
	s, ft := readySession(t)
	ft.respond = echoAck
	if err := s.StartCapture(context.Background(), 0); err != nil {
		t.Fatalf("StartCapture failed: %v", err)
	}
	ft.respond = nil

	pc, err := s.Issue(pdi.NewStreamEnable(false), time.Second)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	// A sample already in flight, the ack, then a straggler
	burst := append(sampleFrame(1, 3700), pdi.MustEncodePacket(pdi.CmdStreamEnable, nil)...)
	burst = append(burst, sampleFrame(2, 3700)...)
	ft.deliver(burst)

	if _, err := pc.Wait(context.Background()); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if s.IsCapturing() {
		t.Error("IsCapturing = true after disable ack")
	}
	if s.Store().Len() != 1 {
		t.Errorf("store has %d samples, want 1", s.Store().Len())
	}
}

func TestSession_FrameErrorsCounted(t *testing.T) {
	s, ft := readySession(t)

	bad := sampleFrame(1, 3700)
	bad[3] ^= 0x01
	ft.deliver(bad)
	ft.deliver([]byte{pdi.StartByte, pdi.EndByte})

	stats := s.Stats()
	if stats.Decoder.ChecksumErrors != 1 {
		t.Errorf("ChecksumErrors = %d, want 1", stats.Decoder.ChecksumErrors)
	}
	if stats.Link.ChecksumErrors != 1 || stats.Link.FramingErrors != 1 {
		t.Errorf("link errors = %d/%d, want 1/1", stats.Link.ChecksumErrors, stats.Link.FramingErrors)
	}
	if s.State() != StateReady {
		t.Errorf("frame errors changed state to %s", s.State())
	}
}

func TestSession_Unsubscribe(t *testing.T) {
	s, ft := readySession(t)

	var count int
	unsubscribe := s.OnRecord(func(pdi.Record) { count++ })
	ft.deliver(statusFrame(pdi.ChargerOnBattery))
	unsubscribe()
	ft.deliver(statusFrame(pdi.ChargerOnBattery))

	if count != 1 {
		t.Errorf("callback ran %d times, want 1", count)
	}
}

// ============================================================
// Teardown
// ============================================================

func TestSession_DisconnectFailsPending(t *testing.T) {
	s, ft := readySession(t)
	s.Store().Append(&pdi.SensorSample{})

	pc, err := s.Issue(pdi.NewStatusRequest(), time.Second)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	// Leave a partial frame in the decoder
	ft.deliver([]byte{pdi.StartByte, pdi.CmdStatus})

	if err := s.Disconnect(); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}

	if _, err := pc.Wait(context.Background()); !errors.Is(err, ErrDisconnected) {
		t.Errorf("Wait = %v, want ErrDisconnected", err)
	}
	if s.State() != StateDisconnected {
		t.Errorf("State = %s, want DISCONNECTED", s.State())
	}
	if s.Store().Len() != 1 {
		t.Errorf("Disconnect should keep the store, len=%d", s.Store().Len())
	}
	if s.Stats().Decoder.TruncatedFrames != 1 {
		t.Errorf("TruncatedFrames = %d, want 1", s.Stats().Decoder.TruncatedFrames)
	}
	if ft.disconnects != 1 {
		t.Errorf("transport Disconnect called %d times, want 1", ft.disconnects)
	}

	// A second Disconnect is a no-op
	if err := s.Disconnect(); err != nil {
		t.Errorf("second Disconnect = %v", err)
	}
	if ft.disconnects != 1 {
		t.Errorf("transport Disconnect called %d times, want 1", ft.disconnects)
	}
}

func TestSession_LinkLoss(t *testing.T) {
	s, ft := readySession(t)
	ft.respond = echoAck
	if err := s.StartCapture(context.Background(), 0); err != nil {
		t.Fatalf("StartCapture failed: %v", err)
	}
	ft.respond = nil

	pc, err := s.Issue(pdi.NewStatusRequest(), time.Second)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	ft.onDisconnect(io.EOF)

	_, err = pc.Wait(context.Background())
	if !errors.Is(err, ErrDisconnected) || !errors.Is(err, io.EOF) {
		t.Errorf("Wait = %v, want ErrDisconnected wrapping EOF", err)
	}
	if s.State() != StateDisconnected {
		t.Errorf("State = %s, want DISCONNECTED", s.State())
	}
	if s.IsCapturing() {
		t.Error("capture should stop on link loss")
	}
}

func TestSession_CloseClearsStore(t *testing.T) {
	s, _ := readySession(t)
	s.Store().Append(&pdi.SensorSample{})

	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if s.Store().Len() != 0 {
		t.Errorf("store has %d samples after Close", s.Store().Len())
	}
}
