// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package export

import (
	"bufio"
	"encoding/json"
	"io"

	"github.com/Thermoquad/sensoplex/pkg/pdi"
)

// JSONLWriter writes one JSON object per sample per line. Absent fields
// are omitted.
type JSONLWriter struct {
	buf *bufio.Writer
	enc *json.Encoder
}

// NewJSONLWriter creates a JSON Lines writer
func NewJSONLWriter(w io.Writer) *JSONLWriter {
	buf := bufio.NewWriter(w)
	return &JSONLWriter{buf: buf, enc: json.NewEncoder(buf)}
}

// Write appends one sample
func (j *JSONLWriter) Write(s *pdi.SensorSample) error {
	return j.enc.Encode(s)
}

// Close flushes buffered lines
func (j *JSONLWriter) Close() error {
	return j.buf.Flush()
}
