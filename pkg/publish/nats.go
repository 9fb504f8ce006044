// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package publish forwards live sensor data to a NATS message bus.
package publish

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/Thermoquad/sensoplex/pkg/pdi"
)

// DefaultSubjectPrefix is the subject root samples are published under
const DefaultSubjectPrefix = "sensoplex"

// Publisher is the subset of *nats.Conn used to send messages
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Options configures a NATS connection
type Options struct {
	URL               string
	Name              string
	Username          string
	Password          string
	MaxReconnects     int
	ReconnectInterval time.Duration
}

// Connect dials NATS with reconnect handling logged to log
func Connect(opts Options, log zerolog.Logger) (*nats.Conn, error) {
	if opts.Name == "" {
		opts.Name = "sensoplex-bridge"
	}
	if opts.ReconnectInterval <= 0 {
		opts.ReconnectInterval = 2 * time.Second
	}

	nc, err := nats.Connect(opts.URL,
		nats.Name(opts.Name),
		nats.UserInfo(opts.Username, opts.Password),
		nats.ReconnectWait(opts.ReconnectInterval),
		nats.MaxReconnects(opts.MaxReconnects),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect NATS: %w", err)
	}
	return nc, nil
}

// SampleMessage is the JSON body of a published sample
type SampleMessage struct {
	CaptureID uuid.UUID         `json:"capture_id"`
	DeviceID  string            `json:"device_id"`
	Seq       uint64            `json:"seq"`
	Sample    *pdi.SensorSample `json:"sample"`
}

// StatusMessage is the JSON body of a published module status
type StatusMessage struct {
	DeviceID     string  `json:"device_id"`
	Charging     bool    `json:"charging"`
	BatteryVolts float32 `json:"battery_volts"`
	Errors       []int   `json:"errors"`
}

// SamplePublisher publishes samples to <prefix>.<device>.sample and module
// status to <prefix>.<device>.status
type SamplePublisher struct {
	pub      Publisher
	prefix   string
	deviceID string
	token    string
	log      zerolog.Logger

	seq    atomic.Uint64
	failed atomic.Uint64
}

// NewSamplePublisher creates a publisher for one device
func NewSamplePublisher(pub Publisher, prefix, deviceID string, log zerolog.Logger) *SamplePublisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &SamplePublisher{
		pub:      pub,
		prefix:   prefix,
		deviceID: deviceID,
		token:    SubjectToken(deviceID),
		log:      log,
	}
}

// SampleSubject returns the subject samples are published on
func (p *SamplePublisher) SampleSubject() string {
	return p.prefix + "." + p.token + ".sample"
}

// StatusSubject returns the subject status records are published on
func (p *SamplePublisher) StatusSubject() string {
	return p.prefix + "." + p.token + ".status"
}

// PublishSample sends one sample of a capture
func (p *SamplePublisher) PublishSample(captureID uuid.UUID, s *pdi.SensorSample) error {
	msg := SampleMessage{
		CaptureID: captureID,
		DeviceID:  p.deviceID,
		Seq:       p.seq.Add(1) - 1,
		Sample:    s,
	}
	return p.publish(p.SampleSubject(), msg)
}

// PublishStatus sends a module status record
func (p *SamplePublisher) PublishStatus(st pdi.ModuleStatus) error {
	msg := StatusMessage{
		DeviceID:     p.deviceID,
		Charging:     st.IsCharging(),
		BatteryVolts: st.BatteryVolts,
		Errors:       make([]int, len(st.Errors)),
	}
	for i, n := range st.Errors {
		msg.Errors[i] = int(n)
	}
	return p.publish(p.StatusSubject(), msg)
}

// Published returns how many samples have been sent
func (p *SamplePublisher) Published() uint64 {
	return p.seq.Load()
}

// Failed returns how many publishes returned an error
func (p *SamplePublisher) Failed() uint64 {
	return p.failed.Load()
}

func (p *SamplePublisher) publish(subject string, msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if err := p.pub.Publish(subject, data); err != nil {
		p.failed.Add(1)
		p.log.Debug().Err(err).Str("subject", subject).Msg("publish failed")
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// SubjectToken converts a device ID into a single NATS subject token
func SubjectToken(id string) string {
	if id == "" {
		return "unknown"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '/', ':':
			return '_'
		}
		return r
	}, id)
}
