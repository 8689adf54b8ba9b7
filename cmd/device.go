// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/Thermoquad/tempsense/pkg/config"
	"github.com/Thermoquad/tempsense/pkg/espcomm"
	"github.com/Thermoquad/tempsense/pkg/mailbox"
	"github.com/Thermoquad/tempsense/pkg/transport"
)

// errWorkerExited is returned when a worker goes away without a Disconnected
var errWorkerExited = errors.New("worker exited")

// device is a single worker driven directly by a one-shot tool
type device struct {
	target config.Device
	handle *espcomm.Handle
	poll   time.Duration
}

// openDevice spawns a worker for the single-device target and waits until
// the link is open or fails
func openDevice(a *app, timeout time.Duration) (*device, error) {
	open, err := newOpener(a.cfg)
	if err != nil {
		return nil, err
	}

	target := singleTarget(a.cfg)
	d := &device{
		target: target,
		poll:   a.cfg.Worker.PollInterval,
		handle: espcomm.Spawn(espcomm.Config{
			Label:        target.Label,
			Open:         open,
			PollInterval: a.cfg.Worker.PollInterval,
			Logger:       a.logger,
		}),
	}
	if d.poll <= 0 {
		d.poll = espcomm.DefaultPollInterval
	}

	if err := d.handle.Send(espcomm.Connect{Port: target.Port, Baud: target.Baud}); err != nil {
		return nil, err
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		st, err := d.handle.TryStatus()
		switch {
		case errors.Is(err, mailbox.ErrEmpty):
			time.Sleep(d.poll)
			continue
		case err != nil:
			return nil, errWorkerExited
		}

		switch st := st.(type) {
		case espcomm.Connected:
			return d, nil
		case espcomm.Error:
			d.Close()
			return nil, errors.New(st.Message)
		case espcomm.Disconnected:
			d.Close()
			return nil, fmt.Errorf("disconnected: %s", st.Reason)
		}
	}

	d.Close()
	return nil, fmt.Errorf("timed out connecting to %s", d.Describe())
}

// Describe returns a human-readable endpoint description
func (d *device) Describe() string {
	return transport.Describe(d.target.Port, d.target.Baud)
}

// Send writes one command line to the board
func (d *device) Send(text string) error {
	return d.handle.Send(espcomm.SendCommand{Text: text})
}

// Next waits up to timeout for the next status event. It returns nil, nil
// when nothing arrived in time.
func (d *device) Next(timeout time.Duration) (espcomm.Status, error) {
	deadline := time.Now().Add(timeout)
	for {
		st, err := d.handle.TryStatus()
		if err == nil {
			return st, nil
		}
		if !errors.Is(err, mailbox.ErrEmpty) {
			return nil, errWorkerExited
		}
		if !time.Now().Before(deadline) {
			return nil, nil
		}
		time.Sleep(d.poll)
	}
}

// Close stops the worker and waits for it to exit
func (d *device) Close() error {
	_ = d.handle.Send(espcomm.Stop{})
	return d.handle.Join()
}
