// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package controlloop

import "github.com/Thermoquad/tempsense/pkg/orchestrator"

// Action is a request queued for the control goroutine
type Action interface {
	action()
}

// Connect opens device Device. Empty Port or zero Baud use the configured
// endpoint.
type Connect struct {
	Device int
	Port   string
	Baud   int
}

type Disconnect struct {
	Device int
}

// Send writes a raw command line
type Send struct {
	Device int
	Text   string
}

type Ping struct {
	Device int
}

// SetOverride toggles manual override for a device
type SetOverride struct {
	Device  int
	Enabled bool
}

// ManualSet sets a device's target directly
type ManualSet struct {
	Device int
	Value  int
}

// ManualSetText sets a device's target from user-typed text
type ManualSetText struct {
	Device int
	Text   string
}

// SetActive starts or stops heating and cooling on every connected device
type SetActive struct {
	Active bool
}

// ReloadDevices replaces the endpoints used by the next Connect of each
// device
type ReloadDevices struct {
	Devices []orchestrator.Device
}

func (Connect) action()       {}
func (Disconnect) action()    {}
func (Send) action()          {}
func (Ping) action()          {}
func (SetOverride) action()   {}
func (ManualSet) action()     {}
func (ManualSetText) action() {}
func (SetActive) action()     {}
func (ReloadDevices) action() {}
