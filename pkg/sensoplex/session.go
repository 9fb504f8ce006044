// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package sensoplex drives a command/response session with an SP-10BN
// sensor module over an asynchronous byte transport.
//
// A Session owns the link lifecycle, allows one outstanding command at a
// time, and routes every decoded record either to that command, to the
// capture store, or to the log.
package sensoplex

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Thermoquad/sensoplex/pkg/pdi"
)

// Session errors
var (
	ErrCommandPending   = errors.New("a command is already pending")
	ErrNotReady         = errors.New("session not ready")
	ErrCommandTimeout   = errors.New("command timed out")
	ErrDisconnected     = errors.New("disconnected")
	ErrAlreadyConnected = errors.New("session already connected or connecting")
	ErrConnectTimeout   = errors.New("connect timed out")
	ErrNoDevice         = errors.New("no matching device found")
	ErrUnexpectedRecord = errors.New("unexpected response record")
)

// Defaults
const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultCommandTimeout = 2 * time.Second
)

// Option configures a Session
type Option func(*Session)

// WithLogger sets the session logger. The default discards everything.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Session) { s.log = log }
}

// WithConnectTimeout bounds scanning plus connection establishment
func WithConnectTimeout(d time.Duration) Option {
	return func(s *Session) { s.connectTimeout = d }
}

// WithCommandTimeout sets the timeout used when Issue is given none
func WithCommandTimeout(d time.Duration) Option {
	return func(s *Session) { s.commandTimeout = d }
}

// WithDeviceFilter restricts which scan candidates Connect accepts
func WithDeviceFilter(f DeviceFilter) Option {
	return func(s *Session) { s.filter = f }
}

// WithStore sets the store captured samples are appended to
func WithStore(store *Store) Option {
	return func(s *Session) { s.store = store }
}

// Stats is a snapshot of the session's link counters
type Stats struct {
	Link    pdi.StatisticsSnapshot
	Decoder pdi.DecoderCounters
}

// Session is a connection to one sensor module
type Session struct {
	transport      Transport
	log            zerolog.Logger
	connectTimeout time.Duration
	commandTimeout time.Duration
	filter         DeviceFilter
	store          *Store
	stats          *pdi.Statistics

	// Receive path. The decoder is fed from one transport goroutine at a
	// time; rxMu only guards it against Flush on teardown.
	rxMu    sync.Mutex
	decoder *pdi.Decoder

	mu            sync.Mutex
	state         State
	attempt       uint64 // bumped by teardown; stale connect steps abort
	cancelAttempt context.CancelFunc
	device        Device
	pending       *PendingCommand
	capturing     bool
	captureID     uuid.UUID
	version       *pdi.FirmwareVersion
	status        *pdi.ModuleStatus
	counters      pdi.DecoderCounters // copied from decoder after each burst

	subMu      sync.Mutex
	nextSubID  int
	stateSubs  map[int]func(State)
	sampleSubs map[int]func(*pdi.SensorSample)
	recordSubs map[int]func(pdi.Record)
}

// New creates a disconnected session on top of t
func New(t Transport, opts ...Option) *Session {
	s := &Session{
		transport:      t,
		log:            zerolog.Nop(),
		connectTimeout: DefaultConnectTimeout,
		commandTimeout: DefaultCommandTimeout,
		stats:          pdi.NewStatistics(),
		decoder:        pdi.NewDecoder(),
		state:          StateDisconnected,
		stateSubs:      make(map[int]func(State)),
		sampleSubs:     make(map[int]func(*pdi.SensorSample)),
		recordSubs:     make(map[int]func(pdi.Record)),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.store == nil {
		s.store = NewStore()
	}

	t.OnDisconnect(s.handleLinkLoss)
	return s
}

// ============================================================
// Connection lifecycle
// ============================================================

// Connect scans for the first device accepted by the device filter and
// connects to it. Scanning and connecting together are bounded by the
// connect timeout.
//
// A Disconnect or link loss during the attempt cancels it: Connect
// releases any link it opened and returns ErrDisconnected. If Subscribe
// fails the session is left in StateTransportError with the link still
// open; call Disconnect to release it.
func (s *Session) Connect(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.connectTimeout)
	defer cancel()

	attempt, err := s.begin(StateScanning, cancel)
	if err != nil {
		return err
	}

	dev, err := s.scan(ctx)
	if err != nil {
		if !s.advance(attempt, StateFailedToConnect) {
			return ErrDisconnected
		}
		return err
	}

	s.log.Info().Str("device", dev.String()).Int16("rssi", dev.RSSI).Msg("Device found")
	if !s.advance(attempt, StateConnecting) {
		return ErrDisconnected
	}
	return s.connect(ctx, attempt, dev)
}

// ConnectDevice connects to dev without scanning. Cancellation and
// Subscribe failure behave as for Connect.
func (s *Session) ConnectDevice(ctx context.Context, dev Device) error {
	ctx, cancel := context.WithTimeout(ctx, s.connectTimeout)
	defer cancel()

	attempt, err := s.begin(StateConnecting, cancel)
	if err != nil {
		return err
	}
	return s.connect(ctx, attempt, dev)
}

// begin moves an idle session into its first connection state and
// returns the attempt number later steps check with advance. cancel is
// called if the attempt is torn down.
func (s *Session) begin(next State, cancel context.CancelFunc) (uint64, error) {
	s.mu.Lock()
	if !s.state.idle() {
		s.mu.Unlock()
		return 0, ErrAlreadyConnected
	}
	prev := s.state
	s.state = next
	s.cancelAttempt = cancel
	attempt := s.attempt
	s.mu.Unlock()

	s.notifyState(prev, next)
	return attempt, nil
}

// advance moves the session to next if attempt has not been torn down
func (s *Session) advance(attempt uint64, next State) bool {
	s.mu.Lock()
	if s.attempt != attempt {
		s.mu.Unlock()
		return false
	}
	prev := s.state
	s.state = next
	s.mu.Unlock()

	s.notifyState(prev, next)
	return true
}

func (s *Session) current(attempt uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempt == attempt
}

// abandon releases a link opened by an attempt that was torn down
func (s *Session) abandon(dev Device) error {
	s.log.Debug().Str("device", dev.String()).Msg("Connect abandoned after teardown")
	if err := s.transport.Disconnect(); err != nil {
		s.log.Warn().Err(err).Msg("Failed to release abandoned link")
	}
	return ErrDisconnected
}

func (s *Session) scan(ctx context.Context) (Device, error) {
	found := make(chan Device, 1)
	scanErr := make(chan error, 1)

	go func() {
		scanErr <- s.transport.Scan(ctx, func(d Device) {
			if s.filter != nil && !s.filter(d) {
				s.log.Debug().Str("device", d.String()).Msg("Scan candidate rejected by filter")
				return
			}
			select {
			case found <- d:
			default:
			}
		})
	}()

	select {
	case dev := <-found:
		if err := s.transport.StopScan(); err != nil {
			s.log.Warn().Err(err).Msg("Failed to stop scan")
		}
		return dev, nil

	case err := <-scanErr:
		// Scan may report a candidate right before returning
		select {
		case dev := <-found:
			return dev, nil
		default:
		}
		if err != nil && ctx.Err() == nil {
			return Device{}, fmt.Errorf("scan: %w", err)
		}
		if ctx.Err() != nil {
			return Device{}, fmt.Errorf("%w: %w", ErrNoDevice, ErrConnectTimeout)
		}
		return Device{}, ErrNoDevice

	case <-ctx.Done():
		if err := s.transport.StopScan(); err != nil {
			s.log.Warn().Err(err).Msg("Failed to stop scan")
		}
		return Device{}, fmt.Errorf("%w: %w", ErrNoDevice, ErrConnectTimeout)
	}
}

func (s *Session) connect(ctx context.Context, attempt uint64, dev Device) error {
	result := make(chan error, 1)
	go func() {
		result <- s.transport.Connect(ctx, dev)
	}()

	select {
	case err := <-result:
		if err != nil {
			s.log.Error().Err(err).Str("device", dev.String()).Msg("Connect failed")
			if !s.advance(attempt, StateFailedToConnect) {
				return ErrDisconnected
			}
			return fmt.Errorf("connect %s: %w", dev, err)
		}

	case <-ctx.Done():
		// Tear down a connection that completes after the deadline
		go func() {
			if err := <-result; err == nil {
				s.transport.Disconnect()
			}
		}()
		if !s.advance(attempt, StateFailedToConnect) {
			return ErrDisconnected
		}
		s.log.Error().Str("device", dev.String()).Msg("Connect timed out")
		return fmt.Errorf("connect %s: %w", dev, ErrConnectTimeout)
	}

	s.resetReceive()

	s.mu.Lock()
	if s.attempt != attempt {
		s.mu.Unlock()
		return s.abandon(dev)
	}
	prev := s.state
	s.device = dev
	s.state = StateConnected
	s.mu.Unlock()
	s.notifyState(prev, StateConnected)

	if !s.current(attempt) {
		return s.abandon(dev)
	}
	if err := s.transport.Subscribe(s.handleData); err != nil {
		s.log.Error().Err(err).Msg("Subscribe failed")
		if !s.advance(attempt, StateTransportError) {
			return s.abandon(dev)
		}
		return fmt.Errorf("subscribe: %w", err)
	}

	if !s.advance(attempt, StateReady) {
		return s.abandon(dev)
	}
	s.log.Info().Str("device", dev.String()).Msg("Session ready")
	return nil
}

// Disconnect tears down the link. The pending command fails with
// ErrDisconnected and capture stops. Stored samples are kept.
func (s *Session) Disconnect() error {
	if !s.teardown(ErrDisconnected) {
		return nil
	}
	if err := s.transport.Disconnect(); err != nil {
		return fmt.Errorf("disconnect: %w", err)
	}
	return nil
}

// Close disconnects and clears the store
func (s *Session) Close() error {
	err := s.Disconnect()
	s.store.Clear()
	return err
}

func (s *Session) handleLinkLoss(cause error) {
	err := ErrDisconnected
	if cause != nil {
		err = fmt.Errorf("%w: %w", ErrDisconnected, cause)
	}
	if s.teardown(err) {
		s.log.Warn().Err(cause).Msg("Link lost")
	}
}

// teardown moves the session to Disconnected and fails the pending
// command with err. Returns false if there was nothing to tear down.
func (s *Session) teardown(err error) bool {
	s.mu.Lock()
	prev := s.state
	if prev == StateDisconnected {
		s.mu.Unlock()
		return false
	}
	pending := s.pending
	s.pending = nil
	s.capturing = false
	s.state = StateDisconnected
	s.attempt++
	cancel := s.cancelAttempt
	s.cancelAttempt = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	if pending != nil {
		pending.complete(nil, err)
	}

	s.rxMu.Lock()
	if ferr := s.decoder.Flush(); ferr != nil {
		s.stats.RecordFrameError(ferr)
		s.log.Debug().Err(ferr).Msg("Dropped partial frame")
	}
	s.publishCounters()
	s.rxMu.Unlock()

	s.notifyState(prev, StateDisconnected)
	return true
}

func (s *Session) resetReceive() {
	s.rxMu.Lock()
	s.decoder.Reset()
	s.rxMu.Unlock()
}

// publishCounters copies the decoder counters for Stats. Called with rxMu
// held.
func (s *Session) publishCounters() {
	counters := s.decoder.Counters()
	s.mu.Lock()
	s.counters = counters
	s.mu.Unlock()
}

func (s *Session) notifyState(prev, next State) {
	if prev == next {
		return
	}
	s.log.Debug().Stringer("from", prev).Stringer("to", next).Msg("State change")

	s.subMu.Lock()
	subs := make([]func(State), 0, len(s.stateSubs))
	for _, fn := range s.stateSubs {
		subs = append(subs, fn)
	}
	s.subMu.Unlock()

	for _, fn := range subs {
		fn(next)
	}
}

// ============================================================
// Commands
// ============================================================

// Issue encodes cmd, writes it and occupies the command slot until the
// response arrives or timeout expires. A timeout of zero uses the session
// default. Fails with ErrCommandPending, without writing, while another
// command is outstanding.
func (s *Session) Issue(cmd pdi.Command, timeout time.Duration) (*PendingCommand, error) {
	if timeout <= 0 {
		timeout = s.commandTimeout
	}

	frame, err := pdi.EncodeCommand(cmd)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", pdi.FormatCommand(cmd.Code), err)
	}

	s.mu.Lock()
	if s.state != StateReady {
		s.mu.Unlock()
		return nil, ErrNotReady
	}
	if s.pending != nil {
		s.mu.Unlock()
		return nil, ErrCommandPending
	}
	pc := newPendingCommand(cmd)
	pc.timer = time.AfterFunc(timeout, func() {
		s.resolve(pc, nil, fmt.Errorf("%s: %w", pdi.FormatCommand(cmd.Code), ErrCommandTimeout))
	})
	s.pending = pc
	s.mu.Unlock()

	s.log.Debug().
		Str("command", pdi.FormatCommand(cmd.Code)).
		Str("frame", hex.EncodeToString(frame)).
		Dur("timeout", timeout).
		Msg("Issuing command")

	if err := s.transport.Write(frame); err != nil {
		err = fmt.Errorf("write %s: %w", pdi.FormatCommand(cmd.Code), err)
		s.resolve(pc, nil, err)
		return nil, err
	}

	return pc, nil
}

// IssueCommand issues a raw command code with argument bytes
func (s *Session) IssueCommand(code uint8, args []byte, timeout time.Duration) (*PendingCommand, error) {
	return s.Issue(pdi.NewCommand(code, args), timeout)
}

// Do issues cmd and waits for its response. Cancelling ctx fails the
// command and frees the slot.
func (s *Session) Do(ctx context.Context, cmd pdi.Command) (pdi.Record, error) {
	pc, err := s.Issue(cmd, 0)
	if err != nil {
		return nil, err
	}

	select {
	case <-pc.Done():
		return pc.Result()
	case <-ctx.Done():
		if s.resolve(pc, nil, ctx.Err()) {
			return nil, ctx.Err()
		}
		// The response won the race
		return pc.Result()
	}
}

// resolve completes pc if it still holds the command slot. The first
// caller wins; later calls are no-ops and return false.
func (s *Session) resolve(pc *PendingCommand, r pdi.Record, err error) bool {
	s.mu.Lock()
	if s.pending != pc {
		s.mu.Unlock()
		return false
	}
	s.pending = nil
	s.mu.Unlock()

	if err != nil {
		s.log.Debug().Err(err).Msg("Command failed")
	}
	pc.complete(r, err)
	return true
}

// RequestVersion reads the firmware version
func (s *Session) RequestVersion(ctx context.Context) (pdi.FirmwareVersion, error) {
	r, err := s.Do(ctx, pdi.NewVersionRequest())
	if err != nil {
		return pdi.FirmwareVersion{}, err
	}
	v, ok := r.(pdi.FirmwareVersion)
	if !ok {
		return pdi.FirmwareVersion{}, fmt.Errorf("%w: %T", ErrUnexpectedRecord, r)
	}
	return v, nil
}

// RequestStatus reads the module status
func (s *Session) RequestStatus(ctx context.Context) (pdi.ModuleStatus, error) {
	r, err := s.Do(ctx, pdi.NewStatusRequest())
	if err != nil {
		return pdi.ModuleStatus{}, err
	}
	st, ok := r.(pdi.ModuleStatus)
	if !ok {
		return pdi.ModuleStatus{}, fmt.Errorf("%w: %T", ErrUnexpectedRecord, r)
	}
	return st, nil
}

// SetLED hands the module LED to the firmware or forces a colour
func (s *Session) SetLED(ctx context.Context, state pdi.LEDState) error {
	_, err := s.Do(ctx, pdi.NewSetLED(state))
	return err
}

// ============================================================
// Capture
// ============================================================

// StartCapture selects the streamed field groups (when opts is non-zero)
// and enables streaming. Capture is active from the moment the enable
// acknowledgement is received.
func (s *Session) StartCapture(ctx context.Context, opts pdi.StreamOptions) error {
	if opts != 0 {
		if _, err := s.Do(ctx, pdi.NewStreamSetConfig(opts)); err != nil {
			return fmt.Errorf("set stream config: %w", err)
		}
	}
	if _, err := s.Do(ctx, pdi.NewStreamEnable(true)); err != nil {
		return fmt.Errorf("enable stream: %w", err)
	}
	s.log.Info().Stringer("options", opts).Str("capture_id", s.CaptureID().String()).Msg("Capture started")
	return nil
}

// StopCapture disables streaming. Samples arriving before the
// acknowledgement are still stored.
func (s *Session) StopCapture(ctx context.Context) error {
	if _, err := s.Do(ctx, pdi.NewStreamEnable(false)); err != nil {
		return fmt.Errorf("disable stream: %w", err)
	}
	s.log.Info().Int("samples", s.store.Len()).Msg("Capture stopped")
	return nil
}

// ============================================================
// Receive path
// ============================================================

func (s *Session) handleData(data []byte) {
	s.rxMu.Lock()
	defer s.rxMu.Unlock()

	for _, b := range data {
		packet, err := s.decoder.DecodeByte(b)
		if err != nil {
			s.stats.RecordFrameError(err)
			s.log.Debug().Err(err).Msg("Dropped frame")
			continue
		}
		if packet != nil {
			s.handlePacket(packet)
		}
	}
	s.publishCounters()
}

func (s *Session) handlePacket(p *pdi.Packet) {
	if e := s.log.Trace(); e.Enabled() {
		e.Str("command", pdi.FormatCommand(p.Command())).
			Str("payload", hex.EncodeToString(p.Payload())).
			Msg("Packet received")
	}

	record, err := pdi.DecodeRecord(p)
	if err != nil {
		s.stats.Update(p, err, nil)
		s.log.Debug().Err(err).Msg("Dropped undecodable packet")
		return
	}

	anomalies := pdi.ValidateRecord(record)
	s.stats.Update(p, nil, anomalies)
	for _, a := range anomalies {
		s.log.Warn().Str("command", pdi.FormatCommand(p.Command())).Msg(a.Message)
	}

	if sample, ok := record.(*pdi.SensorSample); ok {
		sample.ReceivedAt = p.Timestamp()
	}

	s.route(record)
}

// route delivers a record to the pending command, then to capture, and
// otherwise drops it
func (s *Session) route(record pdi.Record) {
	s.mu.Lock()
	switch v := record.(type) {
	case pdi.FirmwareVersion:
		s.version = &v
	case pdi.ModuleStatus:
		s.status = &v
	}

	var resolved *PendingCommand
	if s.pending != nil && s.pending.matches(record) {
		resolved = s.pending
		s.pending = nil
		if resolved.command.Code == pdi.CmdStreamEnable {
			s.applyStreamEnable(resolved.command)
		}
	}

	sample, isSample := record.(*pdi.SensorSample)
	captured := resolved == nil && isSample && s.capturing
	s.mu.Unlock()

	switch {
	case resolved != nil:
		resolved.complete(record, nil)
	case captured:
		s.store.Append(sample)
		s.notifySample(sample)
	default:
		s.stats.RecordDropped()
		s.log.Debug().Str("command", pdi.FormatCommand(record.Command())).Msg("Discarding unclaimed record")
	}

	s.notifyRecord(record)
}

// applyStreamEnable switches capture on the acknowledged stream enable
// request. Called with s.mu held.
func (s *Session) applyStreamEnable(cmd pdi.Command) {
	enable := len(cmd.Args) > 0 && cmd.Args[0] != 0
	if enable && !s.capturing {
		s.captureID = uuid.New()
	}
	s.capturing = enable
}

func (s *Session) notifySample(sample *pdi.SensorSample) {
	s.subMu.Lock()
	subs := make([]func(*pdi.SensorSample), 0, len(s.sampleSubs))
	for _, fn := range s.sampleSubs {
		subs = append(subs, fn)
	}
	s.subMu.Unlock()

	for _, fn := range subs {
		fn(sample)
	}
}

func (s *Session) notifyRecord(record pdi.Record) {
	s.subMu.Lock()
	subs := make([]func(pdi.Record), 0, len(s.recordSubs))
	for _, fn := range s.recordSubs {
		subs = append(subs, fn)
	}
	s.subMu.Unlock()

	for _, fn := range subs {
		fn(record)
	}
}

// ============================================================
// Subscriptions
// ============================================================

// OnStateChange registers fn for every state transition. Returns a func
// that removes the subscription.
func (s *Session) OnStateChange(fn func(State)) func() {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	id := s.nextSubID
	s.nextSubID++
	s.stateSubs[id] = fn
	return func() { s.unsubscribe(id) }
}

// OnSample registers fn for every captured sample. Callbacks run on the
// receive path and must not block; in particular they must not call Do,
// StartCapture, StopCapture or Disconnect.
func (s *Session) OnSample(fn func(*pdi.SensorSample)) func() {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	id := s.nextSubID
	s.nextSubID++
	s.sampleSubs[id] = fn
	return func() { s.unsubscribe(id) }
}

// OnRecord registers fn for every decoded record, claimed or not
func (s *Session) OnRecord(fn func(pdi.Record)) func() {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	id := s.nextSubID
	s.nextSubID++
	s.recordSubs[id] = fn
	return func() { s.unsubscribe(id) }
}

func (s *Session) unsubscribe(id int) {
	s.subMu.Lock()
	delete(s.stateSubs, id)
	delete(s.sampleSubs, id)
	delete(s.recordSubs, id)
	s.subMu.Unlock()
}

// ============================================================
// Accessors
// ============================================================

// State returns the current lifecycle state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Device returns the device of the current or last connection
func (s *Session) Device() Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.device
}

// FirmwareVersion returns the last version record seen
func (s *Session) FirmwareVersion() (pdi.FirmwareVersion, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.version == nil {
		return pdi.FirmwareVersion{}, false
	}
	return *s.version, true
}

// Status returns the last status record seen
func (s *Session) Status() (pdi.ModuleStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == nil {
		return pdi.ModuleStatus{}, false
	}
	return *s.status, true
}

// BatteryVolts returns the battery voltage from the last status record
func (s *Session) BatteryVolts() (float32, bool) {
	st, ok := s.Status()
	return st.BatteryVolts, ok
}

// IsBatteryCharging reports whether the last status record showed the
// battery charging
func (s *Session) IsBatteryCharging() bool {
	st, ok := s.Status()
	return ok && st.IsCharging()
}

// IsCapturing reports whether streamed samples are being stored
func (s *Session) IsCapturing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capturing
}

// CaptureID identifies the current or most recent capture. It is the zero
// UUID before the first capture.
func (s *Session) CaptureID() uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.captureID
}

// Pending returns the outstanding command, or nil
func (s *Session) Pending() *PendingCommand {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// Stats returns a snapshot of the link counters. Safe to call from
// subscription callbacks.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	counters := s.counters
	s.mu.Unlock()

	return Stats{
		Link:    s.stats.Snapshot(),
		Decoder: counters,
	}
}

// Store returns the capture store
func (s *Session) Store() *Store {
	return s.store
}
