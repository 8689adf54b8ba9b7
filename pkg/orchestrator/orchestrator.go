// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package orchestrator owns every device session: it spawns and joins
// workers, forwards commands, and folds worker status into the connectivity,
// status text and telemetry shown to users.
//
// An Orchestrator is not safe for concurrent use. It is meant to be owned by
// a single control goroutine.
package orchestrator

import (
	"errors"
	"fmt"
	"time"

	"github.com/Thermoquad/tempsense/pkg/espcomm"
	"github.com/Thermoquad/tempsense/pkg/eventlog"
	"github.com/Thermoquad/tempsense/pkg/mailbox"
	"github.com/Thermoquad/tempsense/pkg/telemetry"
	"github.com/Thermoquad/tempsense/pkg/transport"
	"github.com/rs/zerolog"
)

var (
	ErrUnknownDevice = errors.New("unknown device")
	ErrNotConnected  = errors.New("not connected")
	ErrAlreadyActive = errors.New("already connected or connection attempt in progress")
	ErrDelivery      = errors.New("command delivery failed")
)

// AppSource is the event log source used for entries not tied to a device
const AppSource = "APP"

// Config configures an Orchestrator
type Config struct {
	Devices      []Device
	Open         transport.Opener
	PollInterval time.Duration
	Log          *eventlog.Log
	Logger       zerolog.Logger
}

// Orchestrator manages N independent device sessions
type Orchestrator struct {
	sessions     []*session
	open         transport.Opener
	pollInterval time.Duration
	log          *eventlog.Log
	logger       zerolog.Logger

	spawn func(espcomm.Config) *espcomm.Handle
}

// New creates an orchestrator with one idle session per configured device
func New(cfg Config) *Orchestrator {
	if cfg.Log == nil {
		cfg.Log = eventlog.New(eventlog.DefaultCapacity, cfg.Logger)
	}

	o := &Orchestrator{
		open:         cfg.Open,
		pollInterval: cfg.PollInterval,
		log:          cfg.Log,
		logger:       cfg.Logger,
		spawn:        espcomm.Spawn,
	}
	for _, d := range cfg.Devices {
		o.sessions = append(o.sessions, newSession(d))
	}
	return o
}

// Len returns the number of devices
func (o *Orchestrator) Len() int {
	return len(o.sessions)
}

// Log returns the shared rolling event log
func (o *Orchestrator) Log() *eventlog.Log {
	return o.log
}

func (o *Orchestrator) session(id int) (*session, error) {
	if id < 0 || id >= len(o.sessions) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownDevice, id)
	}
	return o.sessions[id], nil
}

// Label returns the label of device id, or "" when id is unknown
func (o *Orchestrator) Label(id int) string {
	s, err := o.session(id)
	if err != nil {
		return ""
	}
	return s.device.Label
}

// SetEndpoint changes the port and baud used by the next Connect of device
// id. A live session is not touched.
func (o *Orchestrator) SetEndpoint(id int, port string, baud int) error {
	s, err := o.session(id)
	if err != nil {
		return err
	}
	s.device.Port = port
	s.device.Baud = baud
	return nil
}

// Connect spawns a worker for device id and asks it to open port at baud.
// An empty port or non-positive baud falls back to the configured endpoint.
func (o *Orchestrator) Connect(id int, port string, baud int) error {
	s, err := o.session(id)
	if err != nil {
		return err
	}
	label := s.device.Label

	if s.state != StateIdle {
		o.log.Error(label, "Already connected or connection attempt in progress.")
		return fmt.Errorf("%s: %w", label, ErrAlreadyActive)
	}

	if port == "" {
		port = s.device.Port
	}
	if baud <= 0 {
		baud = s.device.Baud
	}
	s.device.Port = port
	s.device.Baud = baud

	h := o.spawn(espcomm.Config{
		Label:        label,
		Open:         o.open,
		PollInterval: o.pollInterval,
		Logger:       o.logger,
	})

	if err := h.Send(espcomm.Connect{Port: port, Baud: baud}); err != nil {
		// Only reachable if the worker dies before its first command;
		// never leave a worker without an owner
		h.Release()
		if joinErr := h.Join(); joinErr != nil {
			o.log.Errorf(label, "Error joining %s thread: %v", label, joinErr)
		}
		s.statusText = fmt.Sprintf("%s: Failed to send connect cmd: %v", label, err)
		o.log.Errorf(label, "Failed to send connect cmd: %v", err)
		return fmt.Errorf("%s: %w: %v", label, ErrDelivery, err)
	}

	s.handle = h
	s.state = StateSpawning
	s.connectFailed = false

	msg := fmt.Sprintf("Attempting to connect to %s @ %s (%d baud)...", label, port, baud)
	s.statusText = msg
	o.log.Info(label, msg)
	return nil
}

// Disconnect asks device id's worker to close its link
func (o *Orchestrator) Disconnect(id int) error {
	s, err := o.session(id)
	if err != nil {
		return err
	}
	label := s.device.Label

	var cmd espcomm.Command
	switch s.state {
	case StateConnected:
		cmd = espcomm.Disconnect{}
	case StateSpawning:
		// Disconnect on a not-yet-open link would leave the worker idle
		cmd = espcomm.Stop{}
	case StateDisconnecting:
		o.log.Info(label, "Disconnect already in progress.")
		return nil
	default:
		o.log.Error(label, "Not connected.")
		return fmt.Errorf("%s: %w", label, ErrNotConnected)
	}

	if err := s.handle.Send(cmd); err != nil {
		s.statusText = fmt.Sprintf("%s: Failed to send disconnect cmd: %v", label, err)
		o.log.Errorf(label, "Failed to send disconnect cmd: %v", err)
		o.dropSession(s)
		return fmt.Errorf("%s: %w: %v", label, ErrDelivery, err)
	}

	s.state = StateDisconnecting
	s.statusText = label + ": Disconnect command sent."
	o.log.Info(label, "Disconnect command sent.")
	return nil
}

// Send writes one command line to device id. Commands queued while the
// link is still opening are delivered after the Connect. Send is refused
// only when no worker command sender is held.
func (o *Orchestrator) Send(id int, text string) error {
	s, err := o.session(id)
	if err != nil {
		return err
	}
	label := s.device.Label

	if s.handle == nil || s.connectFailed {
		s.statusText = label + ": Not connected."
		o.log.Errorf(label, "Attempted to send command while %s not connected.", label)
		return fmt.Errorf("%s: %w", label, ErrNotConnected)
	}

	if err := s.handle.Send(espcomm.SendCommand{Text: text}); err != nil {
		s.statusText = fmt.Sprintf("%s: Error sending command: %v", label, err)
		o.log.Errorf(label, "Failed to send '%s': %v", text, err)
		o.dropSession(s)
		return fmt.Errorf("%s: %w: %v", label, ErrDelivery, err)
	}

	o.log.Infof(label, "Sent command: %s", text)
	return nil
}

// Ping sends PING to device id
func (o *Orchestrator) Ping(id int) error {
	return o.Send(id, espcomm.PingCommand)
}

// Connected reports whether device id holds an open link. It stays true
// after Disconnect until the worker's Disconnected has been processed.
func (o *Orchestrator) Connected(id int) bool {
	s, err := o.session(id)
	if err != nil {
		return false
	}
	return s.linkOpen
}

// State returns the session state of device id
func (o *Orchestrator) State(id int) SessionState {
	s, err := o.session(id)
	if err != nil {
		return StateIdle
	}
	return s.state
}

// StatusText returns the last status line of device id
func (o *Orchestrator) StatusText(id int) string {
	s, err := o.session(id)
	if err != nil {
		return ""
	}
	return s.statusText
}

// Telemetry returns the latest telemetry of device id
func (o *Orchestrator) Telemetry(id int) telemetry.Telemetry {
	s, err := o.session(id)
	if err != nil {
		return telemetry.Telemetry{}
	}
	return s.telemetry
}

// Snapshot returns a read-only view of every session
func (o *Orchestrator) Snapshot() []DeviceStatus {
	out := make([]DeviceStatus, len(o.sessions))
	for id, s := range o.sessions {
		out[id] = s.status(id)
	}
	return out
}

// Reconcile drains every pending status event of every session. It never
// blocks on device I/O; it only joins workers that have already reported
// their exit. It returns true if any event was processed.
func (o *Orchestrator) Reconcile() bool {
	processed := false
	for _, s := range o.sessions {
		if o.reconcileSession(s) {
			processed = true
		}
	}
	return processed
}

func (o *Orchestrator) reconcileSession(s *session) bool {
	processed := false

	for s.handle != nil {
		st, err := s.handle.TryStatus()
		if errors.Is(err, mailbox.ErrEmpty) {
			break
		}
		processed = true

		if errors.Is(err, mailbox.ErrClosed) {
			// Worker exited without reporting Disconnected
			quiet := s.connectFailed
			o.reap(s)
			if !quiet {
				s.statusText = s.device.Label + ": " + espcomm.ReasonByWorker
				o.log.Info(s.device.Label, espcomm.ReasonByWorker)
			}
			break
		}

		o.apply(s, st)
	}

	return processed
}

func (o *Orchestrator) apply(s *session, st espcomm.Status) {
	label := s.device.Label

	switch st := st.(type) {
	case espcomm.Connected:
		if s.state == StateSpawning {
			s.state = StateConnected
		}
		s.linkOpen = true
		s.statusText = label + " Connected."
		o.log.Info(label, "Connected.")

	case espcomm.Disconnected:
		reason := st.Reason
		if reason == "" {
			reason = espcomm.ReasonByWorker
		}
		if !s.connectFailed {
			s.statusText = label + ": " + reason
		}
		o.log.Info(label, reason)
		o.reap(s)

	case espcomm.Error:
		msg := "Error: " + st.Message
		s.statusText = label + ": " + msg
		o.log.Error(label, msg)

		if s.state == StateSpawning {
			// The open failed and the worker is idle; let it go
			s.handle.Release()
			s.state = StateDisconnecting
			s.connectFailed = true
		}

	case espcomm.Message:
		o.log.Info(label, "MSG: "+st.Text)
		o.ingest(s, st.Text)
	}
}

// ingest parses every line of a received chunk into telemetry
func (o *Orchestrator) ingest(s *session, text string) {
	label := s.device.Label

	for _, line := range telemetry.SplitLines(text) {
		r := telemetry.Parse(label, line)
		anomalies := telemetry.ValidateReading(r)
		s.stats.Update(r, anomalies)

		for _, f := range r.Failures {
			o.log.Errorf(label, "Telemetry parse failure: %s", f.Error())
		}
		for _, a := range anomalies {
			if a.Type == telemetry.ANOMALY_INVALID_TEMP {
				o.logger.Warn().Str("device", label).Msg(a.Message)
			}
		}

		s.telemetry = s.telemetry.Apply(r)
	}
}

// reap joins the session's worker and returns the session to idle
func (o *Orchestrator) reap(s *session) {
	if s.handle != nil {
		if err := s.handle.Join(); err != nil {
			o.log.Errorf(s.device.Label, "Thread panicked or error on join: %v", err)
		}
	}
	s.handle = nil
	s.state = StateIdle
	s.connectFailed = false
	s.linkOpen = false
}

// dropSession cleans up a session whose worker refused a command
func (o *Orchestrator) dropSession(s *session) {
	if s.handle == nil {
		return
	}
	s.handle.Release()
	<-s.handle.Done()
	o.reconcileSession(s)
}

// Shutdown stops and joins every worker. Send failures are ignored since the
// worker may already be gone; a panicked worker is logged.
func (o *Orchestrator) Shutdown() {
	o.log.Info(AppSource, "Application exiting. Stopping workers.")

	for _, s := range o.sessions {
		if s.handle == nil {
			continue
		}
		label := s.device.Label

		if err := s.handle.Send(espcomm.Stop{}); err != nil {
			o.logger.Debug().Str("device", label).Err(err).Msg("stop not delivered")
		}

		if err := s.handle.Join(); err != nil {
			o.log.Errorf(label, "%s thread panicked during exit: %v", label, err)
		} else {
			o.log.Info(label, "Worker thread joined successfully.")
		}

		s.handle = nil
		s.state = StateIdle
		s.connectFailed = false
		s.linkOpen = false
		s.statusText = label + ": Not connected."
	}
}
