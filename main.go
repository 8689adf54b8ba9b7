// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// Tempsense - multi-device Peltier temperature controller bridge
//
// Drives temperature-control boards over serial or WebSocket links and
// forwards setpoints received over OSC, MQTT and HTTP.

package main

import (
	"os"

	"github.com/Thermoquad/tempsense/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
