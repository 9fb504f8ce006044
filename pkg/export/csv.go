// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package export

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/Thermoquad/sensoplex/pkg/pdi"
)

// DefaultFileName is the file captured samples are serialized to
const DefaultFileName = "sensor-data.csv"

// Extensions of the files written by this package
const (
	ExtCSV   = ".csv"
	ExtJSONL = ".jsonl"
	ExtCBOR  = ".cbor"
)

// CSVWriter writes samples as CSV rows, one column per field in wire order.
// The header is written before the first row.
type CSVWriter struct {
	w      *csv.Writer
	opts   pdi.StreamOptions
	header bool
}

// NewCSVWriter creates a writer for samples carrying opts. Pass 0 to take
// the options of the first sample written.
func NewCSVWriter(w io.Writer, opts pdi.StreamOptions) *CSVWriter {
	return &CSVWriter{w: csv.NewWriter(w), opts: opts}
}

// Write appends one sample
func (c *CSVWriter) Write(s *pdi.SensorSample) error {
	if !c.header {
		if c.opts == 0 {
			c.opts = s.Options
		}
		if err := c.w.Write(Header(c.opts)); err != nil {
			return err
		}
		c.header = true
	}
	return c.w.Write(Row(c.opts, s))
}

// Flush writes buffered rows to the underlying writer
func (c *CSVWriter) Flush() error {
	c.w.Flush()
	return c.w.Error()
}

// Close flushes; the underlying writer is left open
func (c *CSVWriter) Close() error {
	return c.Flush()
}

// SampleWriter is implemented by the CSV, JSONL and CBOR writers
type SampleWriter interface {
	Write(s *pdi.SensorSample) error
	Close() error
}

// WriteAll writes every sample then closes w
func WriteAll(w SampleWriter, samples []*pdi.SensorSample) error {
	for i, s := range samples {
		if err := w.Write(s); err != nil {
			w.Close()
			return fmt.Errorf("sample %d: %w", i, err)
		}
	}
	return w.Close()
}

// WriteFile serializes samples into dir/name in the given format
// ("csv", "jsonl" or "cbor"). An empty name uses DefaultFileName with the
// format's extension. Returns the path written.
func WriteFile(dir, name, format string, opts pdi.StreamOptions, samples []*pdi.SensorSample) (string, error) {
	ext, err := Extension(format)
	if err != nil {
		return "", err
	}
	if name == "" {
		name = DefaultFileName[:len(DefaultFileName)-len(ExtCSV)] + ext
	}
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}

	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	w, err := NewWriter(f, format, opts)
	if err != nil {
		return "", err
	}
	if err := WriteAll(w, samples); err != nil {
		return "", err
	}
	return path, f.Close()
}

// NewWriter returns the sample writer for format
func NewWriter(w io.Writer, format string, opts pdi.StreamOptions) (SampleWriter, error) {
	switch format {
	case "csv", "":
		return NewCSVWriter(w, opts), nil
	case "jsonl":
		return NewJSONLWriter(w), nil
	case "cbor":
		return NewCBORWriter(w), nil
	default:
		return nil, fmt.Errorf("unknown export format %q", format)
	}
}

// Extension returns the file extension for format
func Extension(format string) (string, error) {
	switch format {
	case "csv", "":
		return ExtCSV, nil
	case "jsonl":
		return ExtJSONL, nil
	case "cbor":
		return ExtCBOR, nil
	default:
		return "", fmt.Errorf("unknown export format %q", format)
	}
}

// DeleteAll removes every serialized sample file in dir and returns how
// many were deleted. Other files are left alone.
func DeleteAll(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}

	deleted := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch filepath.Ext(e.Name()) {
		case ExtCSV, ExtJSONL, ExtCBOR:
		default:
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}
