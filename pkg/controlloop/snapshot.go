// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package controlloop

import (
	"time"

	"github.com/Thermoquad/tempsense/pkg/eventlog"
	"github.com/Thermoquad/tempsense/pkg/orchestrator"
	"github.com/Thermoquad/tempsense/pkg/setpoint"
)

// DeviceView is one device as seen by readers
type DeviceView struct {
	orchestrator.DeviceStatus
	Setpoint setpoint.State `json:"setpoint"`
}

// Snapshot is an immutable view of the loop's state
type Snapshot struct {
	Time    time.Time        `json:"time"`
	Active  bool             `json:"active"`
	Devices []DeviceView     `json:"devices"`
	Log     []eventlog.Entry `json:"log"`
}

func newSnapshot(orch *orchestrator.Orchestrator, pipe *setpoint.Pipeline, active bool) *Snapshot {
	statuses := orch.Snapshot()
	states := pipe.States()

	devices := make([]DeviceView, len(statuses))
	for i, st := range statuses {
		devices[i].DeviceStatus = st
		if i < len(states) {
			devices[i].Setpoint = states[i]
		}
	}

	return &Snapshot{
		Time:    time.Now(),
		Active:  active,
		Devices: devices,
		Log:     orch.Log().Entries(),
	}
}

// Device returns the view of device id
func (s *Snapshot) Device(id int) (DeviceView, bool) {
	if id < 0 || id >= len(s.Devices) {
		return DeviceView{}, false
	}
	return s.Devices[id], true
}

// DeviceID returns the id of the device with label, or -1
func (s *Snapshot) DeviceID(label string) int {
	for i, d := range s.Devices {
		if d.Label == label {
			return i
		}
	}
	return -1
}
