// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package pdi

import (
	"fmt"
	"strings"
)

// Names returns the field group names selected by o, in wire order
func (o StreamOptions) Names() []string {
	names := make([]string, 0, o.FieldCount())
	for _, f := range sampleFields {
		if o&f.opt != 0 {
			names = append(names, f.name)
		}
	}
	return names
}

// String renders the options as "accelerometer|battery (0x0024)"
func (o StreamOptions) String() string {
	if o == 0 {
		return "none (0x0000)"
	}
	return fmt.Sprintf("%s (0x%04X)", strings.Join(o.Names(), "|"), uint16(o))
}

// ParseStreamOptions converts field group names into an options word.
// "all" selects every field group.
func ParseStreamOptions(names []string) (StreamOptions, error) {
	var opts StreamOptions
	for _, raw := range names {
		name := strings.ToLower(strings.TrimSpace(raw))
		if name == "" {
			continue
		}
		if name == "all" {
			opts |= AllStreamOptions
			continue
		}
		found := false
		for _, f := range sampleFields {
			if f.name == name {
				opts |= f.opt
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("unknown stream field %q", raw)
		}
	}
	return opts, nil
}
