// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/Thermoquad/sensoplex/pkg/sensoplex"
)

// durationUnits lists the units formatDuration breaks a duration into
var durationUnits = []struct {
	name string
	size time.Duration
}{
	{"day", 24 * time.Hour},
	{"hour", time.Hour},
	{"minute", time.Minute},
	{"second", time.Second},
}

// formatDuration formats d as e.g. "1 hour, 2 minutes, and 3 seconds".
// Sub-second remainders are dropped.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return "0 seconds"
	}

	parts := []string{}
	for _, u := range durationUnits {
		n := d / u.size
		d -= n * u.size
		switch {
		case n == 1:
			parts = append(parts, "1 "+u.name)
		case n > 1:
			parts = append(parts, fmt.Sprintf("%d %ss", n, u.name))
		}
	}

	switch len(parts) {
	case 1:
		return parts[0]
	case 2:
		return parts[0] + " and " + parts[1]
	}
	last := parts[len(parts)-1]
	return strings.Join(parts[:len(parts)-1], ", ") + ", and " + last
}

// formatStats renders the counters printed at the end of a capture or
// bridge run
func formatStats(st sensoplex.Stats) string {
	var b strings.Builder
	b.WriteString(st.Link.String())
	fmt.Fprintf(&b, "Decoder: frames=%d checksum=%d framing=%d truncated=%d\n",
		st.Decoder.Frames, st.Decoder.ChecksumErrors, st.Decoder.FramingErrors, st.Decoder.TruncatedFrames)
	return b.String()
}
