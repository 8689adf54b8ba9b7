// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestIsWebSocketURL(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"/dev/ttyUSB0", false},
		{"COM3", false},
		{"ws://bridge.local/esp1", true},
		{"wss://bridge.local/esp1", true},
		{"http://bridge.local", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsWebSocketURL(tt.name); got != tt.want {
				t.Errorf("IsWebSocketURL(%q) = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}

func TestDescribe(t *testing.T) {
	if got := Describe("/dev/ttyUSB0", 115200); got != "Serial: /dev/ttyUSB0 @ 115200 baud" {
		t.Errorf("Describe(serial) = %q", got)
	}
	if got := Describe("ws://host/x", 115200); got != "WebSocket: ws://host/x" {
		t.Errorf("Describe(ws) = %q", got)
	}
}

func TestIsTimeout(t *testing.T) {
	if IsTimeout(nil) {
		t.Error("IsTimeout(nil) = true")
	}
	if !IsTimeout(os.ErrDeadlineExceeded) {
		t.Error("IsTimeout(os.ErrDeadlineExceeded) = false")
	}
	if IsTimeout(errors.New("broken pipe")) {
		t.Error("IsTimeout(broken pipe) = true")
	}
}

func TestOpenSerial_InvalidBaud(t *testing.T) {
	_, err := OpenSerial("/dev/null", 0, Options{})
	if err == nil {
		t.Fatal("expected error for zero baud rate")
	}
}

func TestOpenWebSocket_RejectsScheme(t *testing.T) {
	_, err := OpenWebSocket("http://localhost/x", Options{})
	if err == nil || !strings.Contains(err.Error(), "unsupported URL scheme") {
		t.Errorf("OpenWebSocket(http) error = %v", err)
	}
}

func newEchoServer(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			reply := "echo:" + strings.TrimSpace(string(data)) + "\n"
			if err := conn.WriteMessage(mt, []byte(reply)); err != nil {
				return
			}
		}
	}))
}

func TestWebSocketPort_RoundTrip(t *testing.T) {
	srv := newEchoServer(t)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	port, err := OpenWebSocket(wsURL, Options{ReadTimeout: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("OpenWebSocket failed: %v", err)
	}
	defer port.Close()

	if _, err := port.Write([]byte("PING\n")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := port.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	buf := make([]byte, 64)
	deadline := time.Now().Add(2 * time.Second)
	var got strings.Builder
	for time.Now().Before(deadline) && !strings.Contains(got.String(), "\n") {
		n, err := port.Read(buf)
		if err != nil {
			t.Fatalf("Read failed: %v", err)
		}
		got.Write(buf[:n])
	}

	if got.String() != "echo:PING\n" {
		t.Errorf("received %q, want %q", got.String(), "echo:PING\n")
	}
}

func TestWebSocketPort_ReadTimeoutIsNotError(t *testing.T) {
	srv := newEchoServer(t)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	port, err := OpenWebSocket(wsURL, Options{ReadTimeout: 10 * time.Millisecond})
	if err != nil {
		t.Fatalf("OpenWebSocket failed: %v", err)
	}
	defer port.Close()

	n, err := port.Read(make([]byte, 16))
	if n != 0 || err != nil {
		t.Errorf("Read with nothing pending = (%d, %v), want (0, nil)", n, err)
	}
}

func TestWebSocketPort_ServerCloseIsError(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.Close()
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	port, err := OpenWebSocket(wsURL, Options{ReadTimeout: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("OpenWebSocket failed: %v", err)
	}
	defer port.Close()

	buf := make([]byte, 16)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := port.Read(buf); err != nil {
			return
		}
	}
	t.Error("expected a read error after the server closed the connection")
}

func TestMockPort(t *testing.T) {
	m := NewMockPort()
	m.QueueRead("abc")

	buf := make([]byte, 2)
	n, _ := m.Read(buf)
	if string(buf[:n]) != "ab" {
		t.Errorf("first Read = %q, want %q", buf[:n], "ab")
	}
	n, _ = m.Read(buf)
	if string(buf[:n]) != "c" {
		t.Errorf("second Read = %q, want %q", buf[:n], "c")
	}
	if n, err := m.Read(buf); n != 0 || err != nil {
		t.Errorf("empty Read = (%d, %v), want (0, nil)", n, err)
	}

	m.Write([]byte("setTemp 10\n"))
	m.Flush()
	if m.Written() != "setTemp 10\n" || m.Flushes() != 1 {
		t.Errorf("Written() = %q, Flushes() = %d", m.Written(), m.Flushes())
	}
}
