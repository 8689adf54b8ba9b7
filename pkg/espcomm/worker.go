// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package espcomm runs one goroutine per temperature-control board. The
// goroutine exclusively owns the board's link and talks to its owner only
// through a command mailbox and a status mailbox.
package espcomm

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Thermoquad/tempsense/pkg/mailbox"
	"github.com/Thermoquad/tempsense/pkg/transport"
	"github.com/rs/zerolog"
)

// Defaults applied when Config leaves them unset
const (
	DefaultPollInterval   = 20 * time.Millisecond
	DefaultReadBufferSize = 1024
)

// Config configures a worker
type Config struct {
	Label          string
	Open           transport.Opener
	PollInterval   time.Duration
	ReadBufferSize int
	Logger         zerolog.Logger
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = DefaultReadBufferSize
	}
	return c
}

// worker is the state owned by one device goroutine
type worker struct {
	cfg      Config
	log      zerolog.Logger
	commands *mailbox.Mailbox[Command]
	status   *mailbox.Mailbox[Status]

	port     transport.Port
	portName string
	buf      []byte
}

func newWorker(cfg Config, commands *mailbox.Mailbox[Command], status *mailbox.Mailbox[Status]) *worker {
	cfg = cfg.withDefaults()
	return &worker{
		cfg:      cfg,
		log:      cfg.Logger.With().Str("device", cfg.Label).Logger(),
		commands: commands,
		status:   status,
		buf:      make([]byte, cfg.ReadBufferSize),
	}
}

// run is the worker loop. It returns after Stop, after any Disconnected, or
// when the owner closes the command mailbox.
func (w *worker) run() {
	defer w.status.Close()
	defer w.commands.Close()

	w.log.Debug().Msg("worker started")
	defer w.log.Debug().Msg("worker stopped")

	timer := time.NewTimer(w.cfg.PollInterval)
	defer timer.Stop()

	for {
		cmd, err := w.commands.TryRecv()
		switch {
		case err == nil:
			if !w.handle(cmd) {
				return
			}

		case errors.Is(err, mailbox.ErrClosed):
			// Owner is gone, nobody to notify
			w.closePort()
			return

		default:
			if w.port != nil && !w.poll() {
				return
			}
		}

		if w.commands.Len() > 0 {
			continue
		}

		timer.Reset(w.cfg.PollInterval)
		select {
		case <-w.commands.Ready():
			timer.Stop()
		case <-timer.C:
		}
	}
}

// handle processes one command and reports whether the loop continues
func (w *worker) handle(cmd Command) bool {
	switch c := cmd.(type) {
	case Connect:
		w.connect(c)
		return true

	case Disconnect:
		if w.port == nil {
			w.emit(Message{Text: "Already disconnected."})
			return true
		}
		w.closePort()
		w.emit(Disconnected{Reason: ReasonByUser})
		return false

	case SendCommand:
		return w.send(c.Text)

	case Stop:
		w.closePort()
		w.emit(Disconnected{Reason: ReasonWorkerStopped})
		return false

	default:
		w.emit(Error{Message: fmt.Sprintf("Unsupported command %T.", cmd)})
		return true
	}
}

func (w *worker) connect(c Connect) {
	if w.port != nil {
		w.emit(Error{Message: "Already connected or connection attempt in progress."})
		return
	}

	port, err := w.cfg.Open(c.Port, c.Baud)
	if err != nil {
		w.log.Warn().Err(err).Str("port", c.Port).Int("baud", c.Baud).Msg("connect failed")
		w.emit(Error{Message: fmt.Sprintf("Failed to connect to %s: %v", c.Port, err)})
		return
	}

	w.port = port
	w.portName = c.Port
	w.log.Info().Str("port", c.Port).Int("baud", c.Baud).Msg("connected")
	w.emit(Connected{})
}

func (w *worker) send(text string) bool {
	if w.port == nil {
		w.emit(Error{Message: "Not connected. Cannot send command."})
		return true
	}

	if _, err := w.port.Write([]byte(text + LineTerminator)); err != nil {
		return w.fail(fmt.Sprintf("Failed to send command: %v. Disconnecting.", err))
	}
	if err := w.port.Flush(); err != nil {
		return w.fail(fmt.Sprintf("Failed to flush serial port: %v. Disconnecting.", err))
	}

	w.log.Debug().Str("command", text).Msg("sent")
	return true
}

// poll makes one bounded-timeout read attempt
func (w *worker) poll() bool {
	n, err := w.port.Read(w.buf)
	if err != nil {
		if transport.IsTimeout(err) {
			return true
		}
		return w.fail(fmt.Sprintf("Serial read error: %v. Disconnecting.", err))
	}
	if n == 0 {
		return true
	}

	text := strings.TrimSpace(strings.ToValidUTF8(string(w.buf[:n]), "�"))
	w.emit(Message{Text: text})
	return true
}

// fail tears the link down after a transport failure. The loop ends.
func (w *worker) fail(reason string) bool {
	w.log.Error().Str("port", w.portName).Msg(reason)
	w.emit(Error{Message: reason})
	w.closePort()
	w.emit(Disconnected{Reason: reason})
	return false
}

func (w *worker) closePort() {
	if w.port == nil {
		return
	}
	if err := w.port.Close(); err != nil {
		w.log.Debug().Err(err).Msg("close failed")
	}
	w.port = nil
	w.portName = ""
}

func (w *worker) emit(s Status) {
	// A closed status mailbox means the owner is gone; nothing to do
	_ = w.status.Send(s)
}
