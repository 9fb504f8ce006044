// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// Sensoplex - SP-10BN wearable sensor tool
//
// A CLI tool for connecting to SP-10BN modules, capturing streamed sensor
// records and exporting them.

package main

import (
	"os"

	"github.com/Thermoquad/sensoplex/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
