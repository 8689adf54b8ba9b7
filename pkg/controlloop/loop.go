// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package controlloop runs the single control goroutine. It is the only
// writer of orchestrator and setpoint state; everything else talks to it
// through the setpoint and action mailboxes and reads published snapshots.
package controlloop

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Thermoquad/tempsense/pkg/espcomm"
	"github.com/Thermoquad/tempsense/pkg/eventlog"
	"github.com/Thermoquad/tempsense/pkg/mailbox"
	"github.com/Thermoquad/tempsense/pkg/orchestrator"
	"github.com/Thermoquad/tempsense/pkg/setpoint"
	"github.com/rs/zerolog"
)

// DefaultInterval is the tick period when none is configured
const DefaultInterval = 50 * time.Millisecond

// Config configures a Loop
type Config struct {
	Orchestrator *orchestrator.Orchestrator
	Pipeline     *setpoint.Pipeline
	Logger       zerolog.Logger
}

// Loop owns the orchestrator and the setpoint pipeline
type Loop struct {
	orch   *orchestrator.Orchestrator
	pipe   *setpoint.Pipeline
	log    *eventlog.Log
	logger zerolog.Logger

	setpoints *mailbox.Mailbox[setpoint.Event]
	actions   *mailbox.Mailbox[Action]

	active    bool
	snapshot  atomic.Pointer[Snapshot]
	observers []func(*Snapshot)
	shutdown  sync.Once
}

// New creates a loop and publishes an initial snapshot
func New(cfg Config) *Loop {
	l := &Loop{
		orch:      cfg.Orchestrator,
		pipe:      cfg.Pipeline,
		log:       cfg.Orchestrator.Log(),
		logger:    cfg.Logger.With().Str("component", "loop").Logger(),
		setpoints: mailbox.New[setpoint.Event](),
		actions:   mailbox.New[Action](),
	}
	l.publish()
	return l
}

// Setpoints is the queue external setpoint sources push into
func (l *Loop) Setpoints() *mailbox.Mailbox[setpoint.Event] {
	return l.setpoints
}

// Submit queues an action. It fails with mailbox.ErrClosed after Shutdown.
func (l *Loop) Submit(a Action) error {
	return l.actions.Send(a)
}

// Observe registers fn to be called from the control goroutine after each
// published snapshot. It must be called before Run and fn must not block.
func (l *Loop) Observe(fn func(*Snapshot)) {
	l.observers = append(l.observers, fn)
}

// Snapshot returns the latest published snapshot. Safe for concurrent use.
func (l *Loop) Snapshot() *Snapshot {
	return l.snapshot.Load()
}

// Tick runs one control iteration and reports whether anything happened.
// Tick, Run and Shutdown must all be called from the same goroutine.
func (l *Loop) Tick() bool {
	worked := false

	if events := l.setpoints.Drain(); len(events) > 0 {
		l.pipe.ApplyAll(events)
		worked = true
	}

	for _, a := range l.actions.Drain() {
		l.apply(a)
		worked = true
	}

	l.pipe.Dispatch(l.orch)

	if l.orch.Reconcile() {
		worked = true
	}

	l.publish()
	return worked
}

// Run ticks every interval, or sooner when input arrives, until ctx is done.
// It then shuts down every worker.
func (l *Loop) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	l.logger.Debug().Dur("interval", interval).Msg("control loop started")

	for {
		l.Tick()

		select {
		case <-ctx.Done():
			l.Shutdown()
			return
		case <-ticker.C:
		case <-l.setpoints.Ready():
		case <-l.actions.Ready():
		}
	}
}

// Shutdown stops every worker and closes the input queues. Safe to call
// more than once.
func (l *Loop) Shutdown() {
	l.shutdown.Do(func() {
		l.setpoints.Close()
		l.actions.Close()
		l.orch.Shutdown()
		l.publish()
		l.logger.Debug().Msg("control loop stopped")
	})
}

func (l *Loop) apply(a Action) {
	var err error

	switch a := a.(type) {
	case Connect:
		err = l.orch.Connect(a.Device, a.Port, a.Baud)
	case Disconnect:
		err = l.orch.Disconnect(a.Device)
	case Send:
		err = l.orch.Send(a.Device, a.Text)
	case Ping:
		err = l.orch.Ping(a.Device)
	case SetOverride:
		err = l.pipe.SetManualOverride(a.Device, a.Enabled)
	case ManualSet:
		err = l.pipe.ManualSet(a.Device, a.Value)
	case ManualSetText:
		err = l.pipe.ManualSetText(a.Device, a.Text)
	case SetActive:
		l.setActive(a.Active)
	case ReloadDevices:
		l.reloadDevices(a.Devices)
	default:
		l.logger.Warn().Msgf("unknown action %T", a)
	}

	if err != nil {
		l.logger.Debug().Err(err).Msgf("%T failed", a)
	}
}

func (l *Loop) setActive(active bool) {
	l.active = active

	verb := "STOP"
	if active {
		verb = "START"
	}

	for id := 0; id < l.orch.Len(); id++ {
		label := l.orch.Label(id)
		if !l.orch.Connected(id) {
			l.log.Errorf(label, "Cannot %s, not connected.", verb)
			continue
		}
		if err := l.orch.Send(id, espcomm.TempActiveCommand(active)); err != nil {
			l.log.Errorf(label, "Error sending %s: %v", verb, err)
			continue
		}
		l.log.Infof(label, "%s command sent.", verb)
	}
}

func (l *Loop) reloadDevices(devices []orchestrator.Device) {
	if len(devices) != l.orch.Len() {
		l.log.Errorf(orchestrator.AppSource, "Device count changed (%d -> %d); restart to apply.", l.orch.Len(), len(devices))
	}

	for id, d := range devices {
		if id >= l.orch.Len() {
			break
		}
		if err := l.orch.SetEndpoint(id, d.Port, d.Baud); err != nil {
			l.logger.Warn().Err(err).Msg("endpoint not updated")
		}
	}
	l.log.Info(orchestrator.AppSource, "Device table reloaded; changes apply on next connect.")
}

func (l *Loop) publish() {
	snap := newSnapshot(l.orch, l.pipe, l.active)
	l.snapshot.Store(snap)
	for _, fn := range l.observers {
		fn(snap)
	}
}
