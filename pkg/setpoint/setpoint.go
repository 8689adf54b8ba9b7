// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package setpoint turns external (device, value) events and manual entries
// into per-device target temperatures, and forwards changed targets to the
// devices.
package setpoint

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/Thermoquad/tempsense/pkg/espcomm"
	"github.com/Thermoquad/tempsense/pkg/eventlog"
	"github.com/rs/zerolog"
)

var (
	ErrUnknownDevice = errors.New("unknown device")
	ErrOutOfRange    = errors.New("setpoint out of range")
	ErrInvalidInput  = errors.New("invalid temperature input")
)

// AppSource is the event log source for pipeline entries
const AppSource = "APP"

// Default setpoint bounds, matching the board's signed 8-bit target
const (
	DefaultMin = -128
	DefaultMax = 127
)

// UnknownDevicePolicy decides what happens to events for unknown device ids
type UnknownDevicePolicy int

const (
	// PolicyFallback applies the value to the fallback device with a warning
	PolicyFallback UnknownDevicePolicy = iota
	// PolicyDrop discards the event with a warning
	PolicyDrop
)

// ParsePolicy parses "fallback" or "drop"
func ParsePolicy(s string) (UnknownDevicePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "fallback":
		return PolicyFallback, nil
	case "drop":
		return PolicyDrop, nil
	default:
		return PolicyFallback, fmt.Errorf("unknown device policy %q (use fallback or drop)", s)
	}
}

func (p UnknownDevicePolicy) String() string {
	if p == PolicyDrop {
		return "drop"
	}
	return "fallback"
}

// Event is one external setpoint
type Event struct {
	Device int
	Value  int
}

// State is the setpoint state of one device
type State struct {
	Target         int  `json:"target"`
	PreviousSent   int  `json:"previous_sent"`
	ManualOverride bool `json:"manual_override"`
}

// Dispatcher delivers target commands to devices
type Dispatcher interface {
	Connected(id int) bool
	Send(id int, text string) error
}

// Config configures a Pipeline
type Config struct {
	Labels         []string
	Policy         UnknownDevicePolicy
	FallbackDevice int
	Min            int
	Max            int
	Log            *eventlog.Log
	Logger         zerolog.Logger
}

// Pipeline holds the setpoint state of every device. It is not safe for
// concurrent use.
type Pipeline struct {
	states   []State
	labels   []string
	policy   UnknownDevicePolicy
	fallback int
	min, max int
	log      *eventlog.Log
	logger   zerolog.Logger
}

// New creates a pipeline with one zeroed state per label
func New(cfg Config) *Pipeline {
	if cfg.Min == 0 && cfg.Max == 0 {
		cfg.Min, cfg.Max = DefaultMin, DefaultMax
	}
	if cfg.Log == nil {
		cfg.Log = eventlog.New(eventlog.DefaultCapacity, cfg.Logger)
	}
	if cfg.FallbackDevice < 0 || cfg.FallbackDevice >= len(cfg.Labels) {
		cfg.FallbackDevice = 0
	}

	return &Pipeline{
		states:   make([]State, len(cfg.Labels)),
		labels:   cfg.Labels,
		policy:   cfg.Policy,
		fallback: cfg.FallbackDevice,
		min:      cfg.Min,
		max:      cfg.Max,
		log:      cfg.Log,
		logger:   cfg.Logger,
	}
}

// Len returns the number of devices
func (p *Pipeline) Len() int {
	return len(p.states)
}

func (p *Pipeline) label(id int) string {
	return p.labels[id]
}

func (p *Pipeline) valid(id int) bool {
	return id >= 0 && id < len(p.states)
}

// State returns the setpoint state of device id
func (p *Pipeline) State(id int) (State, error) {
	if !p.valid(id) {
		return State{}, fmt.Errorf("%w: %d", ErrUnknownDevice, id)
	}
	return p.states[id], nil
}

// States returns a copy of every device's state
func (p *Pipeline) States() []State {
	out := make([]State, len(p.states))
	copy(out, p.states)
	return out
}

// Apply applies an external event. It returns true when a target changed.
func (p *Pipeline) Apply(ev Event) bool {
	if len(p.states) == 0 {
		return false
	}

	id := ev.Device
	if !p.valid(id) {
		if p.policy == PolicyDrop {
			p.log.Warnf(AppSource, "Invalid device id: %d. Dropping setpoint %d.", id, ev.Value)
			return false
		}
		p.log.Warnf(AppSource, "Invalid device id: %d. Defaulting to %s.", id, p.label(p.fallback))
		id = p.fallback
	}

	st := &p.states[id]
	if st.ManualOverride {
		p.logger.Debug().Str("device", p.label(id)).Int("value", ev.Value).Msg("setpoint ignored, manual override")
		return false
	}
	if st.Target == ev.Value {
		return false
	}

	p.logger.Debug().Str("device", p.label(id)).Int("value", ev.Value).Msg("setpoint update")
	st.Target = ev.Value
	return true
}

// ApplyAll applies events in order and reports whether any target changed
func (p *Pipeline) ApplyAll(events []Event) bool {
	changed := false
	for _, ev := range events {
		if p.Apply(ev) {
			changed = true
		}
	}
	return changed
}

// SetManualOverride gates external events for device id. Turning it off
// does not replay events received while it was on.
func (p *Pipeline) SetManualOverride(id int, on bool) error {
	if !p.valid(id) {
		return fmt.Errorf("%w: %d", ErrUnknownDevice, id)
	}
	if p.states[id].ManualOverride == on {
		return nil
	}
	p.states[id].ManualOverride = on

	if on {
		p.log.Infof(AppSource, "Manual override enabled for %s.", p.label(id))
	} else {
		p.log.Infof(AppSource, "Manual override disabled for %s.", p.label(id))
	}
	return nil
}

// ManualSet sets device id's target directly, regardless of override
func (p *Pipeline) ManualSet(id, value int) error {
	if !p.valid(id) {
		return fmt.Errorf("%w: %d", ErrUnknownDevice, id)
	}
	if value < p.min || value > p.max {
		p.log.Errorf(AppSource, "Invalid temperature input for %s: '%d'", p.label(id), value)
		return fmt.Errorf("%w: %d not in [%d, %d]", ErrOutOfRange, value, p.min, p.max)
	}

	p.states[id].Target = value
	p.log.Infof(AppSource, "Manual override: %s target directly set to %d°C", p.label(id), value)
	return nil
}

// ManualSetText parses text as an integer target for device id
func (p *Pipeline) ManualSetText(id int, text string) error {
	if !p.valid(id) {
		return fmt.Errorf("%w: %d", ErrUnknownDevice, id)
	}

	value, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil {
		p.log.Errorf(AppSource, "Invalid temperature input for %s: '%s'", p.label(id), text)
		return fmt.Errorf("%w: %q", ErrInvalidInput, text)
	}
	return p.ManualSet(id, value)
}

// Dispatch sends setTemp to every connected device whose target differs
// from the last value sent. A change for a disconnected device is logged as
// undelivered. Either way the change is consumed and not retried.
func (p *Pipeline) Dispatch(d Dispatcher) {
	for id := range p.states {
		st := &p.states[id]
		if st.Target == st.PreviousSent {
			continue
		}

		label := p.label(id)
		if d.Connected(id) {
			if err := d.Send(id, espcomm.SetTempCommand(st.Target)); err != nil {
				p.logger.Warn().Str("device", label).Err(err).Msg("setpoint delivery failed")
			}
		} else {
			p.log.Errorf(label, "Target %d°C not delivered: %s not connected.", st.Target, label)
		}

		st.PreviousSent = st.Target
	}
}
