// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package oscsource receives normalized setpoints over OSC and turns them
// into setpoint events.
//
// An address of the form /PeltN selects device N-1. The first float argument
// is multiplied by the configured scale, truncated and saturated to the
// signed 8-bit range.
package oscsource

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/Thermoquad/tempsense/pkg/setpoint"
	"github.com/hypebeast/go-osc/osc"
	"github.com/rs/zerolog"
)

// Defaults
const (
	DefaultListen = "127.0.0.1:9000"
	DefaultScale  = 100.0
	AddressPrefix = "/Pelt"
)

// UnknownDevice is the id given to events whose address names no device
const UnknownDevice = -1

var (
	ErrNoArguments  = errors.New("message has no arguments")
	ErrNotFloat     = errors.New("first argument is not a float")
	ErrNotListening = errors.New("not listening")
)

// Sink receives decoded events. *mailbox.Mailbox[setpoint.Event] is a Sink.
type Sink interface {
	Send(ev setpoint.Event) error
}

// Config configures a Source
type Config struct {
	Listen string
	Scale  float64
	Logger zerolog.Logger
}

// Source is an OSC UDP listener. It implements osc.Dispatcher.
type Source struct {
	cfg    Config
	out    Sink
	server *osc.Server
	logger zerolog.Logger

	mu     sync.Mutex
	conn   net.PacketConn
	closed bool
}

// New creates a source that pushes events into out
func New(cfg Config, out Sink) *Source {
	if cfg.Listen == "" {
		cfg.Listen = DefaultListen
	}
	if cfg.Scale == 0 {
		cfg.Scale = DefaultScale
	}

	s := &Source{
		cfg:    cfg,
		out:    out,
		logger: cfg.Logger.With().Str("component", "osc").Logger(),
	}
	s.server = &osc.Server{Addr: cfg.Listen, Dispatcher: s}
	return s
}

// Listen binds the UDP socket
func (s *Source) Listen() error {
	conn, err := net.ListenPacket("udp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen for OSC on %s: %w", s.cfg.Listen, err)
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	s.logger.Info().Str("addr", conn.LocalAddr().String()).Msg("listening for OSC")
	return nil
}

// Addr returns the bound address, or nil before Listen
func (s *Source) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// Serve receives packets until ctx is done or Close is called. Packets are
// dispatched in arrival order.
func (s *Source) Serve(ctx context.Context) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrNotListening
	}

	stop := context.AfterFunc(ctx, func() { s.Close() })
	defer stop()

	for {
		packet, err := s.server.ReceivePacket(conn)
		if err != nil {
			if ctx.Err() != nil || s.isClosed() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Warn().Err(err).Msg("invalid OSC packet")
			continue
		}
		if packet != nil {
			s.Dispatch(packet)
		}
	}
}

// Close releases the socket
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil || s.closed {
		return nil
	}
	s.closed = true
	return s.conn.Close()
}

func (s *Source) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Dispatch implements osc.Dispatcher. Bundles are flattened.
func (s *Source) Dispatch(packet osc.Packet) {
	switch p := packet.(type) {
	case *osc.Message:
		s.handleMessage(p)
	case *osc.Bundle:
		for _, m := range p.Messages {
			s.handleMessage(m)
		}
		for _, b := range p.Bundles {
			s.Dispatch(b)
		}
	default:
		s.logger.Warn().Msgf("unsupported OSC packet %T", packet)
	}
}

func (s *Source) handleMessage(msg *osc.Message) {
	ev, err := EventFromMessage(msg, s.cfg.Scale)
	if err != nil {
		s.logger.Warn().Str("address", msg.Address).Err(err).Msg("ignoring OSC message")
		return
	}
	if ev.Device == UnknownDevice {
		s.logger.Warn().Str("address", msg.Address).Msg("unrecognised OSC address")
	}

	s.logger.Debug().Str("address", msg.Address).Int("device", ev.Device).Int("value", ev.Value).Msg("setpoint")
	if err := s.out.Send(ev); err != nil {
		s.logger.Debug().Err(err).Msg("setpoint sink closed")
	}
}

// EventFromMessage decodes one OSC message
func EventFromMessage(msg *osc.Message, scale float64) (setpoint.Event, error) {
	if len(msg.Arguments) == 0 {
		return setpoint.Event{}, ErrNoArguments
	}

	var value int
	switch v := msg.Arguments[0].(type) {
	case float32:
		value = Scale(float64(v*float32(scale)), 1)
	case float64:
		value = Scale(v, scale)
	default:
		return setpoint.Event{}, fmt.Errorf("%w: %T", ErrNotFloat, v)
	}

	return setpoint.Event{Device: DeviceID(msg.Address), Value: value}, nil
}

// DeviceID maps /PeltN to N-1. Anything else is UnknownDevice.
func DeviceID(address string) int {
	rest, ok := strings.CutPrefix(address, AddressPrefix)
	if !ok {
		return UnknownDevice
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 1 || strconv.Itoa(n) != rest {
		return UnknownDevice
	}
	return n - 1
}

// Scale multiplies v by scale, truncates toward zero and saturates to
// [-128, 127]. NaN maps to 0.
func Scale(v, scale float64) int {
	x := math.Trunc(v * scale)
	switch {
	case math.IsNaN(x):
		return 0
	case x > math.MaxInt8:
		return math.MaxInt8
	case x < math.MinInt8:
		return math.MinInt8
	default:
		return int(x)
	}
}
