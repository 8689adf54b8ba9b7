// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package espcomm

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Thermoquad/tempsense/pkg/mailbox"
	"github.com/Thermoquad/tempsense/pkg/transport"
	"github.com/rs/zerolog"
)

func spawnWith(t *testing.T, open transport.Opener) *Handle {
	t.Helper()
	return Spawn(Config{
		Label:        "ESP1",
		Open:         open,
		PollInterval: time.Millisecond,
		Logger:       zerolog.Nop(),
	})
}

func waitStatus(t *testing.T, h *Handle) Status {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s, err := h.TryStatus()
		if err == nil {
			return s
		}
		if errors.Is(err, mailbox.ErrClosed) {
			t.Fatal("status mailbox closed while waiting for a status")
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("timed out waiting for status")
	return nil
}

func joinWithin(t *testing.T, h *Handle) error {
	t.Helper()
	select {
	case <-h.Done():
		return h.Join()
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not exit")
		return nil
	}
}

func TestWorker_ConnectSendDisconnect(t *testing.T) {
	port := transport.NewMockPort()
	open, opened := transport.MockOpener(port, nil)
	h := spawnWith(t, open)

	if err := h.Send(Connect{Port: "/dev/ttyUSB0", Baud: 115200}); err != nil {
		t.Fatalf("Send(Connect) failed: %v", err)
	}
	if s := waitStatus(t, h); s != (Connected{}) {
		t.Fatalf("first status = %#v, want Connected", s)
	}
	if len(*opened) != 1 || (*opened)[0] != "/dev/ttyUSB0" {
		t.Errorf("opened = %v", *opened)
	}

	h.Send(SendCommand{Text: "setTemp 10"})
	h.Send(Disconnect{})

	s := waitStatus(t, h)
	d, ok := s.(Disconnected)
	if !ok || d.Reason != ReasonByUser {
		t.Fatalf("status = %#v, want Disconnected{%q}", s, ReasonByUser)
	}

	if err := joinWithin(t, h); err != nil {
		t.Errorf("Join() = %v", err)
	}
	if port.Written() != "setTemp 10\n" {
		t.Errorf("written = %q, want %q", port.Written(), "setTemp 10\n")
	}
	if port.Flushes() != 1 {
		t.Errorf("flushes = %d, want 1", port.Flushes())
	}
	if !port.IsClosed() {
		t.Error("port not closed after Disconnect")
	}
	if err := h.Send(Stop{}); !errors.Is(err, ErrWorkerGone) {
		t.Errorf("Send after exit = %v, want ErrWorkerGone", err)
	}
}

func TestWorker_ConnectFailureStaysIdle(t *testing.T) {
	open, _ := transport.MockOpener(nil, errors.New("no such file or directory"))
	h := spawnWith(t, open)

	h.Send(Connect{Port: "/dev/ttyUSB9", Baud: 115200})

	s := waitStatus(t, h)
	e, ok := s.(Error)
	if !ok {
		t.Fatalf("status = %#v, want Error", s)
	}
	want := "Failed to connect to /dev/ttyUSB9: no such file or directory"
	if e.Message != want {
		t.Errorf("message = %q, want %q", e.Message, want)
	}

	// Still alive and idle
	h.Send(SendCommand{Text: "PING"})
	if s, ok := waitStatus(t, h).(Error); !ok || !strings.HasPrefix(s.Message, "Not connected") {
		t.Errorf("status = %#v, want not-connected Error", s)
	}

	h.Send(Stop{})
	if d, ok := waitStatus(t, h).(Disconnected); !ok || d.Reason != ReasonWorkerStopped {
		t.Errorf("status = %#v, want Disconnected{%q}", d, ReasonWorkerStopped)
	}
	if err := joinWithin(t, h); err != nil {
		t.Errorf("Join() = %v", err)
	}
}

func TestWorker_ConnectTwice(t *testing.T) {
	port := transport.NewMockPort()
	open, opened := transport.MockOpener(port, nil)
	h := spawnWith(t, open)
	defer func() {
		h.Send(Stop{})
		joinWithin(t, h)
	}()

	h.Send(Connect{Port: "/dev/ttyUSB0", Baud: 115200})
	waitStatus(t, h)
	h.Send(Connect{Port: "/dev/ttyUSB0", Baud: 115200})

	s := waitStatus(t, h)
	if e, ok := s.(Error); !ok || e.Message != "Already connected or connection attempt in progress." {
		t.Errorf("status = %#v", s)
	}
	if len(*opened) != 1 {
		t.Errorf("opener called %d times, want 1", len(*opened))
	}
}

func TestWorker_DisconnectWhenIdle(t *testing.T) {
	open, _ := transport.MockOpener(transport.NewMockPort(), nil)
	h := spawnWith(t, open)

	h.Send(Disconnect{})
	if s, ok := waitStatus(t, h).(Message); !ok || s.Text != "Already disconnected." {
		t.Errorf("status = %#v", s)
	}

	h.Release()
	if err := joinWithin(t, h); err != nil {
		t.Errorf("Join() = %v", err)
	}
}

func TestWorker_ReceivesTrimmedText(t *testing.T) {
	port := transport.NewMockPort()
	open, _ := transport.MockOpener(port, nil)
	h := spawnWith(t, open)
	defer func() {
		h.Send(Stop{})
		joinWithin(t, h)
	}()

	h.Send(Connect{Port: "/dev/ttyUSB0", Baud: 115200})
	waitStatus(t, h)

	port.QueueRead("Skin_Temp_Smoothed:12.12,Exterior_Temp:18.73\r\n")

	s := waitStatus(t, h)
	m, ok := s.(Message)
	if !ok {
		t.Fatalf("status = %#v, want Message", s)
	}
	if m.Text != "Skin_Temp_Smoothed:12.12,Exterior_Temp:18.73" {
		t.Errorf("text = %q", m.Text)
	}
}

func TestWorker_TransportFailures(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(p *transport.MockPort)
		send   bool
		prefix string
	}{
		{
			name:   "read error",
			setup:  func(p *transport.MockPort) { p.FailRead(errors.New("device unplugged")) },
			prefix: "Serial read error: device unplugged",
		},
		{
			name:   "write error",
			setup:  func(p *transport.MockPort) { p.FailWrite(errors.New("broken pipe")) },
			send:   true,
			prefix: "Failed to send command: broken pipe",
		},
		{
			name:   "flush error",
			setup:  func(p *transport.MockPort) { p.FailFlush(errors.New("i/o error")) },
			send:   true,
			prefix: "Failed to flush serial port: i/o error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			port := transport.NewMockPort()
			open, _ := transport.MockOpener(port, nil)
			h := spawnWith(t, open)

			h.Send(Connect{Port: "/dev/ttyUSB0", Baud: 115200})
			if s := waitStatus(t, h); s != (Connected{}) {
				t.Fatalf("status = %#v, want Connected", s)
			}

			tt.setup(port)
			if tt.send {
				h.Send(SendCommand{Text: "setTemp 5"})
			}

			s := waitStatus(t, h)
			e, ok := s.(Error)
			if !ok || !strings.HasPrefix(e.Message, tt.prefix) {
				t.Fatalf("status = %#v, want Error with prefix %q", s, tt.prefix)
			}
			s = waitStatus(t, h)
			if d, ok := s.(Disconnected); !ok || !strings.HasPrefix(d.Reason, tt.prefix) {
				t.Fatalf("status = %#v, want Disconnected", s)
			}

			if err := joinWithin(t, h); err != nil {
				t.Errorf("Join() = %v", err)
			}
			if !port.IsClosed() {
				t.Error("port not closed")
			}
			if _, err := h.TryStatus(); !errors.Is(err, mailbox.ErrClosed) {
				t.Errorf("TryStatus after exit = %v, want ErrClosed", err)
			}
		})
	}
}

func TestWorker_ReleaseClosesPortSilently(t *testing.T) {
	port := transport.NewMockPort()
	open, _ := transport.MockOpener(port, nil)
	h := spawnWith(t, open)

	h.Send(Connect{Port: "/dev/ttyUSB0", Baud: 115200})
	waitStatus(t, h)

	h.Release()
	if err := joinWithin(t, h); err != nil {
		t.Errorf("Join() = %v", err)
	}
	if !port.IsClosed() {
		t.Error("port not closed after Release")
	}
	if _, err := h.TryStatus(); !errors.Is(err, mailbox.ErrClosed) {
		t.Errorf("TryStatus = %v, want ErrClosed with no Disconnected", err)
	}
}

func TestWorker_PanicReportedByJoin(t *testing.T) {
	h := spawnWith(t, func(name string, baud int) (transport.Port, error) {
		panic("opener exploded")
	})

	h.Send(Connect{Port: "/dev/ttyUSB0", Baud: 115200})

	err := joinWithin(t, h)
	if err == nil || !strings.Contains(err.Error(), "opener exploded") {
		t.Errorf("Join() = %v, want panic error", err)
	}
	if err := h.Send(Stop{}); !errors.Is(err, ErrWorkerGone) {
		t.Errorf("Send after panic = %v, want ErrWorkerGone", err)
	}
}

func TestCommandBuilders(t *testing.T) {
	tests := []struct {
		got  string
		want string
	}{
		{SetTempCommand(77), "setTemp 77"},
		{SetTempCommand(-12), "setTemp -12"},
		{TempActiveCommand(true), "tempActive 1"},
		{TempActiveCommand(false), "tempActive 0"},
		{PingCommand, "PING"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestFormatStatus(t *testing.T) {
	tests := []struct {
		in   Status
		want string
	}{
		{Connected{}, "CONNECTED"},
		{Disconnected{}, "DISCONNECTED"},
		{Disconnected{Reason: "gone"}, "DISCONNECTED (gone)"},
		{Error{Message: "bad"}, "ERROR: bad"},
		{Message{Text: "hi"}, "MSG: hi"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := FormatStatus(tt.in); got != tt.want {
				t.Errorf("FormatStatus() = %q, want %q", got, tt.want)
			}
		})
	}
}
