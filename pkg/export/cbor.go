// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package export

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"

	"github.com/Thermoquad/sensoplex/pkg/pdi"
)

// CBORWriter writes samples as a sequence of CBOR maps (RFC 8742)
type CBORWriter struct {
	buf *bufio.Writer
	enc *cbor.Encoder
}

// encMode encodes timestamps as RFC 3339 strings with nanoseconds
var encMode = func() cbor.EncMode {
	em, err := cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

// NewCBORWriter creates a CBOR sequence writer
func NewCBORWriter(w io.Writer) *CBORWriter {
	buf := bufio.NewWriter(w)
	return &CBORWriter{buf: buf, enc: encMode.NewEncoder(buf)}
}

// Write appends one sample
func (c *CBORWriter) Write(s *pdi.SensorSample) error {
	return c.enc.Encode(s)
}

// Close flushes buffered items
func (c *CBORWriter) Close() error {
	return c.buf.Flush()
}

// ReadCBOR decodes a CBOR sequence written by CBORWriter
func ReadCBOR(r io.Reader) ([]*pdi.SensorSample, error) {
	dec := cbor.NewDecoder(r)
	var samples []*pdi.SensorSample
	for {
		var s pdi.SensorSample
		if err := dec.Decode(&s); err != nil {
			if errors.Is(err, io.EOF) {
				return samples, nil
			}
			return samples, fmt.Errorf("failed to decode CBOR: %w", err)
		}
		samples = append(samples, &s)
	}
}
