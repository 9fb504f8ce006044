// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sensoplex

import (
	"sync"
	"testing"

	"github.com/Thermoquad/sensoplex/pkg/pdi"
)

func newSample(ts int32) *pdi.SensorSample {
	return &pdi.SensorSample{Options: pdi.OptTimestamp, Timestamp: &ts}
}

func TestStore_AppendOrder(t *testing.T) {
	s := NewStore()
	for i := int32(0); i < 5; i++ {
		s.Append(newSample(i))
	}

	all := s.All()
	if len(all) != 5 || s.Len() != 5 {
		t.Fatalf("len = %d/%d, want 5", len(all), s.Len())
	}
	for i, sample := range all {
		if *sample.Timestamp != int32(i) {
			t.Errorf("sample %d timestamp = %d", i, *sample.Timestamp)
		}
	}

	// All returns a copy
	all[0] = nil
	if s.All()[0] == nil {
		t.Error("All() exposed internal slice")
	}

	since := s.Since(3)
	if len(since) != 2 || *since[0].Timestamp != 3 {
		t.Errorf("Since(3) = %d samples", len(since))
	}
	if s.Since(10) != nil {
		t.Error("Since past the end should be nil")
	}
	if len(s.Since(-1)) != 5 {
		t.Error("Since(-1) should return everything")
	}
}

func TestStore_DrainAndClear(t *testing.T) {
	s := NewStore()
	s.Append(newSample(1))
	s.Append(newSample(2))

	drained := s.Drain()
	if len(drained) != 2 || s.Len() != 0 {
		t.Fatalf("Drain returned %d, store left with %d", len(drained), s.Len())
	}

	s.Append(newSample(3))
	s.Clear()
	if s.Len() != 0 {
		t.Errorf("Clear left %d samples", s.Len())
	}
}

func TestStore_ConcurrentReaders(t *testing.T) {
	s := NewStore()
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := int32(0); i < 1000; i++ {
			s.Append(newSample(i))
		}
	}()

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				all := s.All()
				for j, sample := range all {
					if *sample.Timestamp != int32(j) {
						t.Errorf("reader saw sample %d out of order", j)
						return
					}
				}
			}
		}()
	}
	wg.Wait()

	if s.Len() != 1000 {
		t.Errorf("Len = %d, want 1000", s.Len())
	}
}
