// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package eventlog keeps the bounded, user-visible rolling log of device
// events. Entries are mirrored to the process logger.
package eventlog

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultCapacity is the number of entries retained when none is configured
const DefaultCapacity = 200

// Entry is one timestamped, source-identified log line
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
	Message   string    `json:"message"`
	IsError   bool      `json:"is_error"`
	IsWarning bool      `json:"is_warning,omitempty"`
}

// String formats the entry as "[15:04:05.000] [ESP1] message"
func (e Entry) String() string {
	if e.Source == "" {
		return fmt.Sprintf("[%s] %s", e.Timestamp.Format("15:04:05.000"), e.Message)
	}
	return fmt.Sprintf("[%s] [%s] %s", e.Timestamp.Format("15:04:05.000"), e.Source, e.Message)
}

// Log is a capped FIFO of entries. Oldest entries are evicted first.
type Log struct {
	mu       sync.Mutex
	entries  []Entry
	capacity int
	logger   zerolog.Logger
	now      func() time.Time
}

// New creates a log holding at most capacity entries
func New(capacity int, logger zerolog.Logger) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{
		capacity: capacity,
		logger:   logger,
		now:      time.Now,
	}
}

// Info appends an informational entry
func (l *Log) Info(source, msg string) {
	l.push(source, msg, zerolog.InfoLevel)
}

// Infof appends a formatted informational entry
func (l *Log) Infof(source, format string, args ...any) {
	l.push(source, fmt.Sprintf(format, args...), zerolog.InfoLevel)
}

// Warnf appends a formatted warning entry. Warnings are not errors.
func (l *Log) Warnf(source, format string, args ...any) {
	l.push(source, fmt.Sprintf(format, args...), zerolog.WarnLevel)
}

// Error appends an error entry
func (l *Log) Error(source, msg string) {
	l.push(source, msg, zerolog.ErrorLevel)
}

// Errorf appends a formatted error entry
func (l *Log) Errorf(source, format string, args ...any) {
	l.push(source, fmt.Sprintf(format, args...), zerolog.ErrorLevel)
}

func (l *Log) push(source, msg string, level zerolog.Level) {
	e := Entry{
		Timestamp: l.now(),
		Source:    source,
		Message:   msg,
		IsError:   level == zerolog.ErrorLevel,
		IsWarning: level == zerolog.WarnLevel,
	}

	l.mu.Lock()
	l.entries = append(l.entries, e)
	if over := len(l.entries) - l.capacity; over > 0 {
		copy(l.entries, l.entries[over:])
		l.entries = l.entries[:l.capacity]
	}
	l.mu.Unlock()

	ev := l.logger.WithLevel(level)
	if source != "" {
		ev = ev.Str("device", source)
	}
	ev.Msg(msg)
}

// Entries returns a copy of the retained entries, oldest first
func (l *Log) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Tail returns a copy of the newest n entries, oldest first
func (l *Log) Tail(n int) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n <= 0 || n > len(l.entries) {
		n = len(l.entries)
	}
	out := make([]Entry, n)
	copy(out, l.entries[len(l.entries)-n:])
	return out
}

// Len returns the number of retained entries
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Capacity returns the maximum number of retained entries
func (l *Log) Capacity() int {
	return l.capacity
}
