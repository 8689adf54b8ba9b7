// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package orchestrator

import (
	"github.com/Thermoquad/tempsense/pkg/espcomm"
	"github.com/Thermoquad/tempsense/pkg/telemetry"
)

// SessionState is the lifecycle state of one device session
type SessionState int

const (
	// StateIdle has no worker
	StateIdle SessionState = iota
	// StateSpawning has a worker with a Connect in flight
	StateSpawning
	// StateConnected has a worker holding an open link
	StateConnected
	// StateDisconnecting has a worker that was asked to go away
	StateDisconnecting
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSpawning:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}

// Device is the configured endpoint of one board
type Device struct {
	Label string
	Port  string
	Baud  int
}

// session is the orchestrator-owned record for one device. A non-nil
// handle exists exactly when state is not StateIdle. linkOpen is set by
// Connected and cleared only when the worker's Disconnected is reaped, so it
// stays true while a Disconnect is in flight.
type session struct {
	device        Device
	state         SessionState
	handle        *espcomm.Handle
	statusText    string
	connectFailed bool
	linkOpen      bool

	telemetry telemetry.Telemetry
	stats     *telemetry.Statistics
}

func newSession(d Device) *session {
	return &session{
		device:     d,
		statusText: d.Label + ": Not connected.",
		stats:      telemetry.NewStatistics(),
	}
}

// DeviceStatus is a read-only view of one session
type DeviceStatus struct {
	ID         int                 `json:"id"`
	Label      string              `json:"label"`
	Port       string              `json:"port"`
	Baud       int                 `json:"baud"`
	State      string              `json:"state"`
	Connected  bool                `json:"connected"`
	StatusText string              `json:"status_text"`
	Telemetry  telemetry.Telemetry `json:"telemetry"`
	Lines      uint64              `json:"lines"`
	Failures   uint64              `json:"parse_failures"`
	Anomalies  uint64              `json:"anomalies"`
}

func (s *session) status(id int) DeviceStatus {
	return DeviceStatus{
		ID:         id,
		Label:      s.device.Label,
		Port:       s.device.Port,
		Baud:       s.device.Baud,
		State:      s.state.String(),
		Connected:  s.linkOpen,
		StatusText: s.statusText,
		Telemetry:  s.telemetry,
		Lines:      s.stats.TotalLines,
		Failures:   s.stats.FieldFailures,
		Anomalies:  s.stats.AnomalousValues,
	}
}
