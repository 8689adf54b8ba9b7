// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package mailbox provides an unbounded, ordered, multi-producer queue with
// an explicit closed state. It is the thread boundary between the control
// loop and each device worker: a Send to a mailbox whose consumer has gone
// fails instead of blocking, and a consumer can tell "nothing queued" apart
// from "producer gone".
package mailbox

import (
	"errors"
	"sync"
)

var (
	// ErrEmpty is returned by TryRecv when nothing is queued
	ErrEmpty = errors.New("mailbox empty")

	// ErrClosed is returned by Send after Close, and by TryRecv once the
	// mailbox is closed and fully drained
	ErrClosed = errors.New("mailbox closed")
)

// Mailbox is a FIFO queue safe for concurrent use
type Mailbox[T any] struct {
	mu     sync.Mutex
	queue  []T
	closed bool
	ready  chan struct{}
}

// New creates an open, empty mailbox
func New[T any]() *Mailbox[T] {
	return &Mailbox[T]{
		ready: make(chan struct{}, 1),
	}
}

// Send appends v to the queue. It never blocks.
func (m *Mailbox[T]) Send(v T) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.queue = append(m.queue, v)
	m.mu.Unlock()

	m.notify()
	return nil
}

// TryRecv removes and returns the oldest value without blocking.
// Values queued before Close are still delivered after it.
func (m *Mailbox[T]) TryRecv() (T, error) {
	var zero T

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.queue) == 0 {
		if m.closed {
			return zero, ErrClosed
		}
		return zero, ErrEmpty
	}

	v := m.queue[0]
	m.queue[0] = zero
	m.queue = m.queue[1:]
	if len(m.queue) == 0 {
		m.queue = nil
	}
	return v, nil
}

// Drain removes and returns everything currently queued
func (m *Mailbox[T]) Drain() []T {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := m.queue
	m.queue = nil
	return out
}

// Ready returns a channel that receives after a Send or Close. It is a wake-up
// hint only; callers must still TryRecv until ErrEmpty.
func (m *Mailbox[T]) Ready() <-chan struct{} {
	return m.ready
}

// Close marks the mailbox closed. Closing twice is a no-op.
func (m *Mailbox[T]) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()

	m.notify()
}

// Len returns the number of queued values
func (m *Mailbox[T]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

func (m *Mailbox[T]) notify() {
	select {
	case m.ready <- struct{}{}:
	default:
	}
}
