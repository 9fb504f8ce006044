// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package pdi

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Statistics tracks link traffic and error rates. Safe for concurrent use.
type Statistics struct {
	mu sync.Mutex

	startTime      time.Time
	lastUpdateTime time.Time

	// Counters
	totalPackets    uint64
	validPackets    uint64
	checksumErrors  uint64
	framingErrors   uint64
	decodeErrors    uint64
	anomalousValues uint64
	droppedPackets  uint64
	samples         uint64
}

// StatisticsSnapshot is a point-in-time copy of Statistics
type StatisticsSnapshot struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	TotalPackets    uint64
	ValidPackets    uint64
	ChecksumErrors  uint64
	FramingErrors   uint64
	DecodeErrors    uint64
	AnomalousValues uint64
	DroppedPackets  uint64 // valid packets nobody was waiting for
	Samples         uint64

	// Rates (calculated)
	PacketRate float64 // packets/sec
	ErrorRate  float64 // errors/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		startTime:      now,
		lastUpdateTime: now,
	}
}

// RecordFrameError counts a frame dropped by the decoder
func (s *Statistics) RecordFrameError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.totalPackets++
	if errors.Is(err, ErrChecksumMismatch) {
		s.checksumErrors++
	} else {
		s.framingErrors++
	}
	s.lastUpdateTime = time.Now()
}

// Update counts a framed packet, its payload decode result and any
// anomalies found in the decoded record
func (s *Statistics) Update(packet *Packet, decodeErr error, anomalies []ValidationError) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.totalPackets++
	s.lastUpdateTime = time.Now()

	if decodeErr != nil {
		s.decodeErrors++
		return
	}

	if packet != nil && packet.command == CmdStreamRecord {
		s.samples++
	}

	if len(anomalies) > 0 {
		s.anomalousValues++
		return
	}
	s.validPackets++
}

// RecordDropped counts a valid packet that had no consumer
func (s *Statistics) RecordDropped() {
	s.mu.Lock()
	s.droppedPackets++
	s.mu.Unlock()
}

// Snapshot returns the current counters with rates calculated
func (s *Statistics) Snapshot() StatisticsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := StatisticsSnapshot{
		StartTime:       s.startTime,
		LastUpdateTime:  s.lastUpdateTime,
		TotalPackets:    s.totalPackets,
		ValidPackets:    s.validPackets,
		ChecksumErrors:  s.checksumErrors,
		FramingErrors:   s.framingErrors,
		DecodeErrors:    s.decodeErrors,
		AnomalousValues: s.anomalousValues,
		DroppedPackets:  s.droppedPackets,
		Samples:         s.samples,
	}

	elapsed := time.Since(s.startTime).Seconds()
	if elapsed > 0 {
		snap.PacketRate = float64(snap.TotalPackets) / elapsed
		snap.ErrorRate = float64(snap.Errors()) / elapsed
	}
	return snap
}

// Errors returns the number of packets that failed framing or decoding
func (s StatisticsSnapshot) Errors() uint64 {
	return s.ChecksumErrors + s.FramingErrors + s.DecodeErrors
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	return s.Snapshot().String()
}

// String returns a formatted statistics summary
func (s StatisticsSnapshot) String() string {
	percent := func(n uint64) float64 {
		if s.TotalPackets == 0 {
			return 0
		}
		return float64(n) * 100.0 / float64(s.TotalPackets)
	}

	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Total Packets:   %8d\n", s.TotalPackets)
	result += fmt.Sprintf("Valid Packets:   %8d (%.1f%%)\n", s.ValidPackets, percent(s.ValidPackets))
	result += fmt.Sprintf("Samples:         %8d\n", s.Samples)

	if s.ChecksumErrors > 0 {
		result += fmt.Sprintf("Checksum Errors: %8d (%.1f%%)\n", s.ChecksumErrors, percent(s.ChecksumErrors))
	}
	if s.FramingErrors > 0 {
		result += fmt.Sprintf("Framing Errors:  %8d (%.1f%%)\n", s.FramingErrors, percent(s.FramingErrors))
	}
	if s.DecodeErrors > 0 {
		result += fmt.Sprintf("Decode Errors:   %8d (%.1f%%)\n", s.DecodeErrors, percent(s.DecodeErrors))
	}
	if s.AnomalousValues > 0 {
		result += fmt.Sprintf("Anomalous Values:%8d (%.1f%%)\n", s.AnomalousValues, percent(s.AnomalousValues))
	}
	if s.DroppedPackets > 0 {
		result += fmt.Sprintf("Unclaimed:       %8d\n", s.DroppedPackets)
	}

	result += fmt.Sprintf("Packet Rate:     %8.1f pkts/sec\n", s.PacketRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	result += "================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	s.startTime = now
	s.lastUpdateTime = now
	s.totalPackets = 0
	s.validPackets = 0
	s.checksumErrors = 0
	s.framingErrors = 0
	s.decodeErrors = 0
	s.anomalousValues = 0
	s.droppedPackets = 0
	s.samples = 0
}
