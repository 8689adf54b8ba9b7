// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package controlloop

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Thermoquad/tempsense/pkg/eventlog"
	"github.com/Thermoquad/tempsense/pkg/mailbox"
	"github.com/Thermoquad/tempsense/pkg/orchestrator"
	"github.com/Thermoquad/tempsense/pkg/setpoint"
	"github.com/Thermoquad/tempsense/pkg/transport"
	"github.com/rs/zerolog"
)

type portBank struct {
	mu    sync.Mutex
	ports map[string]*transport.MockPort
}

func (b *portBank) open(name string, baud int) (transport.Port, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p := transport.NewMockPort()
	b.ports[name] = p
	return p, nil
}

func (b *portBank) port(name string) *transport.MockPort {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ports[name]
}

func newTestLoop(t *testing.T) (*Loop, *portBank) {
	t.Helper()

	bank := &portBank{ports: map[string]*transport.MockPort{}}
	log := eventlog.New(eventlog.DefaultCapacity, zerolog.Nop())
	devices := []orchestrator.Device{
		{Label: "ESP1", Port: "/dev/ttyUSB0", Baud: 115200},
		{Label: "ESP2", Port: "/dev/ttyUSB1", Baud: 115200},
	}

	orch := orchestrator.New(orchestrator.Config{
		Devices:      devices,
		Open:         bank.open,
		PollInterval: time.Millisecond,
		Log:          log,
		Logger:       zerolog.Nop(),
	})
	pipe := setpoint.New(setpoint.Config{
		Labels: []string{"ESP1", "ESP2"},
		Log:    log,
		Logger: zerolog.Nop(),
	})

	l := New(Config{Orchestrator: orch, Pipeline: pipe, Logger: zerolog.Nop()})
	t.Cleanup(l.Shutdown)
	return l, bank
}

func tickUntil(t *testing.T, l *Loop, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		l.Tick()
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func hasLog(l *Loop, source, prefix string) bool {
	for _, e := range l.Snapshot().Log {
		if e.Source == source && strings.HasPrefix(e.Message, prefix) {
			return true
		}
	}
	return false
}

func connect(t *testing.T, l *Loop, id int) {
	t.Helper()
	if err := l.Submit(Connect{Device: id}); err != nil {
		t.Fatalf("Submit(Connect) failed: %v", err)
	}
	tickUntil(t, l, "connected", func() bool {
		d, _ := l.Snapshot().Device(id)
		return d.Connected
	})
}

func TestTick_SetpointReachesConnectedDevice(t *testing.T) {
	l, bank := newTestLoop(t)
	connect(t, l, 0)

	if err := l.Setpoints().Send(setpoint.Event{Device: 0, Value: 25}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	port := bank.port("/dev/ttyUSB0")
	tickUntil(t, l, "setTemp written", func() bool { return port.Flushes() == 1 })

	if port.Written() != "setTemp 25\n" {
		t.Errorf("written = %q", port.Written())
	}

	d, _ := l.Snapshot().Device(0)
	if d.Setpoint.Target != 25 || d.Setpoint.PreviousSent != 25 {
		t.Errorf("setpoint = %+v", d.Setpoint)
	}

	// Same value again is not resent
	l.Setpoints().Send(setpoint.Event{Device: 0, Value: 25})
	for i := 0; i < 10; i++ {
		l.Tick()
	}
	if port.Flushes() != 1 {
		t.Errorf("flushes = %d, want 1", port.Flushes())
	}
}

func TestTick_SetpointForDisconnectedDeviceIsConsumed(t *testing.T) {
	l, bank := newTestLoop(t)

	l.Setpoints().Send(setpoint.Event{Device: 1, Value: 30})
	l.Tick()

	if !hasLog(l, "ESP2", "Target 30°C not delivered: ESP2 not connected.") {
		t.Error("undelivered setpoint not logged")
	}

	connect(t, l, 1)
	for i := 0; i < 10; i++ {
		l.Tick()
	}
	if w := bank.port("/dev/ttyUSB1").Written(); w != "" {
		t.Errorf("stale setpoint replayed after connect: %q", w)
	}
}

func TestTick_ManualOverrideGatesExternalEvents(t *testing.T) {
	l, _ := newTestLoop(t)

	l.Submit(SetOverride{Device: 0, Enabled: true})
	l.Tick()
	l.Setpoints().Send(setpoint.Event{Device: 0, Value: 40})
	l.Tick()

	d, _ := l.Snapshot().Device(0)
	if d.Setpoint.Target != 0 || !d.Setpoint.ManualOverride {
		t.Errorf("setpoint = %+v, want override with target 0", d.Setpoint)
	}

	l.Submit(ManualSetText{Device: 0, Text: " 18 "})
	l.Tick()
	d, _ = l.Snapshot().Device(0)
	if d.Setpoint.Target != 18 {
		t.Errorf("target = %d, want 18", d.Setpoint.Target)
	}

	l.Submit(ManualSetText{Device: 0, Text: "warm"})
	l.Tick()
	if !hasLog(l, setpoint.AppSource, "Invalid temperature input for ESP1: 'warm'") {
		t.Error("invalid input not logged")
	}
}

func TestTick_SetActive(t *testing.T) {
	l, bank := newTestLoop(t)
	connect(t, l, 0)

	l.Submit(SetActive{Active: true})
	port := bank.port("/dev/ttyUSB0")
	tickUntil(t, l, "tempActive written", func() bool { return port.Flushes() == 1 })

	if port.Written() != "tempActive 1\n" {
		t.Errorf("written = %q", port.Written())
	}
	if !l.Snapshot().Active {
		t.Error("snapshot not active")
	}
	if !hasLog(l, "ESP1", "START command sent.") {
		t.Error("START not logged for ESP1")
	}
	if !hasLog(l, "ESP2", "Cannot START, not connected.") {
		t.Error("missing not-connected error for ESP2")
	}
}

func TestTick_ReloadDevices(t *testing.T) {
	l, bank := newTestLoop(t)

	l.Submit(ReloadDevices{Devices: []orchestrator.Device{
		{Label: "ESP1", Port: "/dev/ttyACM0", Baud: 9600},
		{Label: "ESP2", Port: "/dev/ttyUSB1", Baud: 115200},
	}})
	l.Tick()

	connect(t, l, 0)
	if bank.port("/dev/ttyACM0") == nil {
		t.Error("reloaded endpoint not used")
	}
	d, _ := l.Snapshot().Device(0)
	if d.Port != "/dev/ttyACM0" || d.Baud != 9600 {
		t.Errorf("device = %+v", d.DeviceStatus)
	}
}

func TestObserve(t *testing.T) {
	l, _ := newTestLoop(t)

	var seen []*Snapshot
	l.Observe(func(s *Snapshot) { seen = append(seen, s) })
	l.Tick()
	l.Tick()

	if len(seen) != 2 {
		t.Fatalf("observer called %d times, want 2", len(seen))
	}
	if seen[1] != l.Snapshot() {
		t.Error("observer did not receive the published snapshot")
	}
}

func TestSnapshot_Lookup(t *testing.T) {
	l, _ := newTestLoop(t)
	s := l.Snapshot()

	if s.DeviceID("ESP2") != 1 || s.DeviceID("nope") != -1 {
		t.Errorf("DeviceID lookups wrong")
	}
	if _, ok := s.Device(2); ok {
		t.Error("Device(2) found")
	}
	if d, ok := s.Device(0); !ok || d.State != orchestrator.StateIdle.String() {
		t.Errorf("Device(0) = %+v, %v", d, ok)
	}
}

func TestRun_ShutdownOnCancel(t *testing.T) {
	l, bank := newTestLoop(t)
	connect(t, l, 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Run(ctx, time.Millisecond)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}

	if !bank.port("/dev/ttyUSB0").IsClosed() {
		t.Error("port left open after shutdown")
	}
	if err := l.Submit(Ping{Device: 0}); !errors.Is(err, mailbox.ErrClosed) {
		t.Errorf("Submit after shutdown = %v, want ErrClosed", err)
	}
	if err := l.Setpoints().Send(setpoint.Event{}); !errors.Is(err, mailbox.ErrClosed) {
		t.Errorf("Setpoints().Send after shutdown = %v, want ErrClosed", err)
	}
	l.Shutdown()
}
