// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package eventlog

import (
	"bytes"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestLog_EvictsOldest(t *testing.T) {
	l := New(200, zerolog.Nop())
	for i := 0; i < 250; i++ {
		l.Infof("ESP1", "line %d", i)
	}

	entries := l.Entries()
	if len(entries) != 200 {
		t.Fatalf("len = %d, want 200", len(entries))
	}
	if entries[0].Message != "line 50" {
		t.Errorf("oldest = %q, want %q", entries[0].Message, "line 50")
	}
	if entries[199].Message != "line 249" {
		t.Errorf("newest = %q, want %q", entries[199].Message, "line 249")
	}
	for i := 1; i < len(entries); i++ {
		if entries[i].Timestamp.Before(entries[i-1].Timestamp) {
			t.Fatalf("entries out of order at %d", i)
		}
	}
}

func TestLog_DefaultCapacity(t *testing.T) {
	if c := New(0, zerolog.Nop()).Capacity(); c != DefaultCapacity {
		t.Errorf("Capacity() = %d, want %d", c, DefaultCapacity)
	}
}

func TestLog_Tail(t *testing.T) {
	l := New(10, zerolog.Nop())
	for i := 0; i < 5; i++ {
		l.Info("", fmt.Sprint(i))
	}

	tests := []struct {
		n    int
		want string
	}{
		{2, "3,4"},
		{0, "0,1,2,3,4"},
		{99, "0,1,2,3,4"},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.n), func(t *testing.T) {
			var msgs []string
			for _, e := range l.Tail(tt.n) {
				msgs = append(msgs, e.Message)
			}
			if got := strings.Join(msgs, ","); got != tt.want {
				t.Errorf("Tail(%d) = %s, want %s", tt.n, got, tt.want)
			}
		})
	}
}

func TestEntry_String(t *testing.T) {
	ts := time.Date(2025, 1, 2, 13, 4, 5, 678_000_000, time.Local)

	e := Entry{Timestamp: ts, Source: "ESP1", Message: "Connected."}
	if got := e.String(); got != "[13:04:05.678] [ESP1] Connected." {
		t.Errorf("String() = %q", got)
	}

	e.Source = ""
	if got := e.String(); got != "[13:04:05.678] Connected." {
		t.Errorf("String() without source = %q", got)
	}
}

func TestLog_MirrorsToLogger(t *testing.T) {
	var buf bytes.Buffer
	l := New(5, zerolog.New(&buf))

	l.Info("ESP2", "Connected.")
	l.Errorf("ESP2", "Error: %s", "boom")

	out := buf.String()
	if !strings.Contains(out, `"level":"info"`) || !strings.Contains(out, `"device":"ESP2"`) {
		t.Errorf("info entry not mirrored: %s", out)
	}
	if !strings.Contains(out, `"level":"error"`) || !strings.Contains(out, "Error: boom") {
		t.Errorf("error entry not mirrored: %s", out)
	}

	entries := l.Entries()
	if len(entries) != 2 || entries[0].IsError || !entries[1].IsError {
		t.Errorf("entries = %+v", entries)
	}
}

func TestLog_WarnIsNotError(t *testing.T) {
	var buf bytes.Buffer
	l := New(5, zerolog.New(&buf))

	l.Warnf("APP", "Invalid device id: %d.", 7)

	if out := buf.String(); !strings.Contains(out, `"level":"warn"`) || !strings.Contains(out, "Invalid device id: 7.") {
		t.Errorf("warning not mirrored at warn level: %s", out)
	}

	entries := l.Entries()
	if len(entries) != 1 {
		t.Fatalf("len = %d, want 1", len(entries))
	}
	if entries[0].IsError || !entries[0].IsWarning {
		t.Errorf("entry = %+v, want warning and not error", entries[0])
	}
}
