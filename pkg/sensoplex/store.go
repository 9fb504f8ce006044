// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sensoplex

import (
	"sync"

	"github.com/Thermoquad/sensoplex/pkg/pdi"
)

// Store is an append-only, arrival-ordered collection of captured samples.
// Safe for one writer and any number of readers.
type Store struct {
	mu      sync.RWMutex
	samples []*pdi.SensorSample
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{}
}

// Append adds a sample at the end of the store
func (s *Store) Append(sample *pdi.SensorSample) {
	s.mu.Lock()
	s.samples = append(s.samples, sample)
	s.mu.Unlock()
}

// All returns a copy of every stored sample in arrival order
func (s *Store) All() []*pdi.SensorSample {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*pdi.SensorSample, len(s.samples))
	copy(out, s.samples)
	return out
}

// Since returns the samples stored at or after index i, so exporters can
// pick up where they left off
func (s *Store) Since(i int) []*pdi.SensorSample {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if i < 0 {
		i = 0
	}
	if i >= len(s.samples) {
		return nil
	}
	out := make([]*pdi.SensorSample, len(s.samples)-i)
	copy(out, s.samples[i:])
	return out
}

// Len returns the number of stored samples
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.samples)
}

// Drain returns every stored sample and empties the store in one step
func (s *Store) Drain() []*pdi.SensorSample {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := s.samples
	s.samples = nil
	return out
}

// Clear removes every stored sample
func (s *Store) Clear() {
	s.mu.Lock()
	s.samples = nil
	s.mu.Unlock()
}
