// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"bytes"
	"errors"
	"sync"
)

// ErrMockClosed is returned by MockPort operations after Close
var ErrMockClosed = errors.New("mock port closed")

// MockPort is an in-memory Port for tests. Reads return queued chunks one at
// a time and (0, nil) when none are queued, like a serial read timeout.
type MockPort struct {
	mu       sync.Mutex
	reads    [][]byte
	written  bytes.Buffer
	flushes  int
	closed   bool
	readErr  error
	writeErr error
	flushErr error
}

// NewMockPort creates an empty mock port
func NewMockPort() *MockPort {
	return &MockPort{}
}

// QueueRead makes data available to the next Read
func (m *MockPort) QueueRead(data string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads = append(m.reads, []byte(data))
}

// FailRead makes every later Read return err once the queue is empty
func (m *MockPort) FailRead(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readErr = err
}

// FailWrite makes every later Write return err
func (m *MockPort) FailWrite(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeErr = err
}

// FailFlush makes every later Flush return err
func (m *MockPort) FailFlush(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flushErr = err
}

func (m *MockPort) Read(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, ErrMockClosed
	}
	if len(m.reads) == 0 {
		if m.readErr != nil {
			return 0, m.readErr
		}
		return 0, nil
	}

	n := copy(p, m.reads[0])
	if n < len(m.reads[0]) {
		m.reads[0] = m.reads[0][n:]
	} else {
		m.reads = m.reads[1:]
	}
	return n, nil
}

func (m *MockPort) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, ErrMockClosed
	}
	if m.writeErr != nil {
		return 0, m.writeErr
	}
	return m.written.Write(p)
}

func (m *MockPort) Flush() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.flushErr != nil {
		return m.flushErr
	}
	m.flushes++
	return nil
}

func (m *MockPort) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Written returns everything written so far
func (m *MockPort) Written() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.written.String()
}

// Flushes returns the number of successful Flush calls
func (m *MockPort) Flushes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flushes
}

// IsClosed reports whether Close has been called
func (m *MockPort) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// MockOpener returns an Opener that hands out port for every name, or err
// when err is non-nil. Opened names are recorded in the returned slice
// pointer for assertions.
func MockOpener(port Port, err error) (Opener, *[]string) {
	var mu sync.Mutex
	opened := []string{}
	return func(name string, baud int) (Port, error) {
		mu.Lock()
		defer mu.Unlock()
		opened = append(opened, name)
		if err != nil {
			return nil, err
		}
		return port, nil
	}, &opened
}
