// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package espcomm

import (
	"errors"
	"fmt"

	"github.com/Thermoquad/tempsense/pkg/mailbox"
)

// ErrWorkerGone is returned by Handle.Send once the worker has exited
var ErrWorkerGone = errors.New("worker has exited")

// Handle is the owner's side of a running worker: the command sender, the
// status receiver and the join point.
type Handle struct {
	label    string
	commands *mailbox.Mailbox[Command]
	status   *mailbox.Mailbox[Status]
	done     chan struct{}
	err      error
}

// Spawn starts a worker goroutine and returns its handle. The worker starts
// idle and waits for a Connect command.
func Spawn(cfg Config) *Handle {
	h := &Handle{
		label:    cfg.Label,
		commands: mailbox.New[Command](),
		status:   mailbox.New[Status](),
		done:     make(chan struct{}),
	}
	w := newWorker(cfg, h.commands, h.status)

	go func() {
		defer close(h.done)
		defer func() {
			if r := recover(); r != nil {
				w.log.Error().Interface("panic", r).Msg("worker panicked")
				w.closePort()
				h.err = fmt.Errorf("%s worker panicked: %v", h.label, r)
			}
		}()
		w.run()
	}()

	return h
}

// Label returns the device label the worker was spawned for
func (h *Handle) Label() string {
	return h.label
}

// Send queues a command for the worker
func (h *Handle) Send(cmd Command) error {
	if err := h.commands.Send(cmd); err != nil {
		return ErrWorkerGone
	}
	return nil
}

// TryStatus returns the next pending status event without blocking. It
// returns mailbox.ErrEmpty when nothing is pending and mailbox.ErrClosed
// once the worker has exited and every event has been received.
func (h *Handle) TryStatus() (Status, error) {
	return h.status.TryRecv()
}

// Release drops the owner's command sender. An idle worker treats this as a
// permanent disconnection and exits silently.
func (h *Handle) Release() {
	h.commands.Close()
}

// Done is closed when the worker goroutine has returned
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Join blocks until the worker goroutine returns. A recovered panic is
// reported as an error.
func (h *Handle) Join() error {
	<-h.done
	return h.err
}
