// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package pdi

// Checksum computes the additive PDI checksum: the sum of the command byte
// and every payload byte, modulo 256.
func Checksum(command uint8, payload []byte) uint8 {
	sum := command
	for _, b := range payload {
		sum += b
	}
	return sum
}
