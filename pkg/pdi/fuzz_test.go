// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package pdi

import (
	"bytes"
	"math/rand"
	"os"
	"strconv"
	"testing"
	"time"
)

// getFuzzRounds returns the number of fuzz rounds from FUZZ_ROUNDS env var, default 1000
func getFuzzRounds() int {
	if envRounds := os.Getenv("FUZZ_ROUNDS"); envRounds != "" {
		if rounds, err := strconv.Atoi(envRounds); err == nil && rounds > 0 {
			return rounds
		}
	}
	return 1000
}

// getFuzzSeed returns the seed from FUZZ_SEED env var, or generates one from current time
func getFuzzSeed() int64 {
	if envSeed := os.Getenv("FUZZ_SEED"); envSeed != "" {
		if seed, err := strconv.ParseInt(envSeed, 10, 64); err == nil {
			return seed
		}
	}
	return time.Now().UnixNano()
}

// newFuzzRng creates a new random number generator and logs the seed for reproducibility
func newFuzzRng(t *testing.T) *rand.Rand {
	seed := getFuzzSeed()
	t.Logf("Seed: %d (reproduce with FUZZ_SEED=%d)", seed, seed)
	return rand.New(rand.NewSource(seed))
}

// randomPayload returns a payload biased towards sentinel values
func randomPayload(rng *rand.Rand, maxLen int) []byte {
	payload := make([]byte, rng.Intn(maxLen+1))
	for i := range payload {
		switch rng.Intn(4) {
		case 0:
			payload[i] = []byte{StartByte, EndByte, StuffByte}[rng.Intn(3)]
		default:
			payload[i] = byte(rng.Intn(256))
		}
	}
	return payload
}

// fieldPresent reports whether the field group selected by opt is populated
func fieldPresent(s *SensorSample, opt StreamOptions) bool {
	switch opt {
	case OptTimeDate:
		return s.TimeDate != nil
	case OptTimestamp:
		return s.Timestamp != nil
	case OptBattery:
		return s.BatteryVolts != nil
	case OptBLEState:
		return s.BLEState != nil
	case OptGyroscope:
		return s.Gyroscope != nil
	case OptAccelerometer:
		return s.Accelerometer != nil
	case OptQuaternion:
		return s.Quaternion != nil
	case OptCompass:
		return s.Compass != nil
	case OptPressure:
		return s.Pressure != nil
	case OptTemperature:
		return s.Temperature != nil
	case OptLinearAccel:
		return s.LinearAccel != nil
	case OptEuler:
		return s.Euler != nil
	case OptRSSI:
		return s.RSSI != nil
	case OptRotationMatrix:
		return s.RotationMatrix != nil
	case OptHeading:
		return s.Heading != nil
	}
	return false
}

// ============================================================
// Decoder Fuzz Tests
// ============================================================

// TestFuzzDecoder_RandomBytes feeds random bytes to the decoder
// and verifies it doesn't crash or panic
func TestFuzzDecoder_RandomBytes(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)
	t.Logf("Running %d fuzz rounds", rounds)

	for i := 0; i < rounds; i++ {
		d := NewDecoder()

		// Generate random byte sequence of random length (1-512 bytes)
		length := rng.Intn(512) + 1
		data := make([]byte, length)
		rng.Read(data)

		// Feed all bytes to decoder - should not panic
		for _, b := range data {
			p, _ := d.DecodeByte(b)
			if p != nil {
				// Anything that decodes must also survive payload decoding
				DecodeRecord(p)
			}
		}
	}
}

// TestFuzzEncoder_RoundTrip encodes random packets and decodes them back
func TestFuzzEncoder_RoundTrip(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)
	t.Logf("Running %d fuzz rounds", rounds)

	for i := 0; i < rounds; i++ {
		command := uint8(rng.Intn(256))
		payload := randomPayload(rng, MaxPayloadSize)

		frame, err := EncodePacket(command, payload)
		if err != nil {
			t.Fatalf("round %d: EncodePacket failed: %v", i, err)
		}

		packets, errs := NewDecoder().Feed(frame)
		if len(errs) != 0 || len(packets) != 1 {
			t.Fatalf("round %d: packets=%d errs=%v frame=%X", i, len(packets), errs, frame)
		}
		if packets[0].Command() != command || !bytes.Equal(packets[0].Payload(), payload) {
			t.Fatalf("round %d: round trip mismatch", i)
		}
	}
}

// TestFuzzDecoder_Fragmentation splits a stream of frames at random points
// and checks the result matches a single batch
func TestFuzzDecoder_Fragmentation(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)
	t.Logf("Running %d fuzz rounds", rounds)

	for i := 0; i < rounds; i++ {
		var stream []byte
		frames := rng.Intn(5) + 1
		for j := 0; j < frames; j++ {
			stream = append(stream, MustEncodePacket(uint8(rng.Intn(256)), randomPayload(rng, 40))...)
			// Sprinkle noise between frames
			if rng.Intn(2) == 0 {
				stream = append(stream, byte(rng.Intn(256)))
			}
		}

		want, wantErrs := NewDecoder().Feed(stream)

		d := NewDecoder()
		var got []*Packet
		var gotErrs []error
		for rest := stream; len(rest) > 0; {
			n := rng.Intn(len(rest)) + 1
			ps, es := d.Feed(rest[:n])
			got = append(got, ps...)
			gotErrs = append(gotErrs, es...)
			rest = rest[n:]
		}

		if len(got) != len(want) || len(gotErrs) != len(wantErrs) {
			t.Fatalf("round %d: batch=%d/%d fragmented=%d/%d", i, len(want), len(wantErrs), len(got), len(gotErrs))
		}
		for j := range want {
			if got[j].Command() != want[j].Command() || !bytes.Equal(got[j].Payload(), want[j].Payload()) {
				t.Fatalf("round %d: packet %d differs", i, j)
			}
		}
	}
}

// TestFuzzPayload_RandomSamples decodes random streamed records. A payload
// at least SampleSize long must decode, anything shorter must report truncation.
func TestFuzzPayload_RandomSamples(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)
	t.Logf("Running %d fuzz rounds", rounds)

	for i := 0; i < rounds; i++ {
		opts := StreamOptions(rng.Intn(1 << 16))
		size := SampleSize(opts)
		length := rng.Intn(size+8) + optionsSize
		payload := make([]byte, length)
		rng.Read(payload)
		payload[0] = byte(opts)
		payload[1] = byte(opts >> 8)

		record, err := DecodePayload(CmdStreamRecord, payload)
		if length >= size {
			if err != nil {
				t.Fatalf("round %d: opts=%s len=%d size=%d: %v", i, opts, length, size, err)
			}
			s := record.(*SensorSample)
			for _, f := range sampleFields {
				if fieldPresent(s, f.opt) != (opts&f.opt != 0) {
					t.Fatalf("round %d: field %s presence mismatch", i, f.name)
				}
			}
		} else if err == nil {
			t.Fatalf("round %d: opts=%s len=%d size=%d: expected truncation", i, opts, length, size)
		}
	}
}
