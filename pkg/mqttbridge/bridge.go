// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package mqttbridge mirrors device state to an MQTT broker and accepts
// setpoints from it.
//
// Topics, under a configurable prefix:
//
//	<prefix>/online            "online" | "offline" (retained, last will)
//	<prefix>/<label>/connected "true" | "false" (retained)
//	<prefix>/<label>/telemetry JSON telemetry
//	<prefix>/<label>/setpoint  numeric target, subscribed
package mqttbridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Thermoquad/tempsense/pkg/controlloop"
	"github.com/Thermoquad/tempsense/pkg/setpoint"
	"github.com/Thermoquad/tempsense/pkg/telemetry"
	MQTT "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

const (
	DefaultTopicPrefix = "tempsense"
	DefaultClientID    = "tempsense"

	// UnknownDevice is the id given to setpoints for labels not in the table
	UnknownDevice = -1

	connectTimeout = 10 * time.Second
	quiesceMillis  = 250
)

var (
	ErrBadTopic   = errors.New("not a setpoint topic")
	ErrBadPayload = errors.New("setpoint payload is not a finite number")
)

// Sink receives setpoint events
type Sink interface {
	Send(setpoint.Event) error
}

// Config configures a Bridge
type Config struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	Logger      zerolog.Logger
}

type deviceState struct {
	connected bool
	telemetry telemetry.Telemetry
	sent      bool
}

// Bridge publishes snapshots and forwards setpoint messages to a Sink
type Bridge struct {
	client MQTT.Client
	prefix string
	labels []string
	sink   Sink
	logger zerolog.Logger

	mu   sync.Mutex
	last map[string]deviceState
}

// New builds a bridge with a paho client for cfg.Broker. Call Connect to
// start it.
func New(cfg Config, labels []string, sink Sink) *Bridge {
	cfg = cfg.withDefaults()
	b := newBridge(cfg, labels, sink)

	opts := MQTT.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetWill(b.topic("online"), "offline", 0, true)
	opts.OnConnect = b.onConnect
	opts.OnConnectionLost = b.onConnectionLost
	opts.SetDefaultPublishHandler(b.receiver)

	b.client = MQTT.NewClient(opts)
	return b
}

// NewWithClient builds a bridge over an existing client
func NewWithClient(client MQTT.Client, cfg Config, labels []string, sink Sink) *Bridge {
	b := newBridge(cfg, labels, sink)
	b.client = client
	return b
}

func (c Config) withDefaults() Config {
	if c.TopicPrefix == "" {
		c.TopicPrefix = DefaultTopicPrefix
	}
	if c.ClientID == "" {
		c.ClientID = DefaultClientID
	}
	return c
}

func newBridge(cfg Config, labels []string, sink Sink) *Bridge {
	cfg = cfg.withDefaults()
	return &Bridge{
		prefix: strings.TrimSuffix(cfg.TopicPrefix, "/"),
		labels: labels,
		sink:   sink,
		logger: cfg.Logger.With().Str("component", "mqtt").Logger(),
		last:   map[string]deviceState{},
	}
}

// Connect connects to the broker, waiting at most the connect timeout
func (b *Bridge) Connect() error {
	token := b.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("mqtt connect: timed out after %v", connectTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	return nil
}

// Close publishes offline and disconnects
func (b *Bridge) Close() {
	if !b.client.IsConnected() {
		return
	}
	b.client.Publish(b.topic("online"), 0, true, "offline").WaitTimeout(time.Second)
	b.client.Disconnect(quiesceMillis)
}

func (b *Bridge) topic(parts ...string) string {
	return b.prefix + "/" + strings.Join(parts, "/")
}

func (b *Bridge) onConnect(client MQTT.Client) {
	b.logger.Info().Msg("connected to broker")

	// Retained state is republished from the next snapshot
	b.mu.Lock()
	b.last = map[string]deviceState{}
	b.mu.Unlock()

	client.Publish(b.topic("online"), 0, true, "online")
	client.Subscribe(b.topic("+", "setpoint"), 0, b.handleSetpoint)
}

func (b *Bridge) onConnectionLost(_ MQTT.Client, err error) {
	b.logger.Warn().Err(err).Msg("broker connection lost")
}

func (b *Bridge) receiver(_ MQTT.Client, msg MQTT.Message) {
	b.logger.Debug().Str("topic", msg.Topic()).Msg("message without handler")
}

// Publish mirrors snap to the broker. It never waits on a token, so it is
// safe to register as a control loop observer.
func (b *Bridge) Publish(snap *controlloop.Snapshot) {
	if snap == nil || !b.client.IsConnected() {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, d := range snap.Devices {
		prev := b.last[d.Label]
		next := prev

		if !prev.sent || prev.connected != d.Connected {
			b.client.Publish(b.topic(d.Label, "connected"), 0, true, strconv.FormatBool(d.Connected))
			next.connected = d.Connected
			next.sent = true
		}

		if !d.Telemetry.Empty() && !prev.telemetry.Equal(d.Telemetry) {
			payload, err := json.Marshal(d.Telemetry)
			if err != nil {
				b.logger.Error().Err(err).Str("device", d.Label).Msg("telemetry encode failed")
			} else {
				b.client.Publish(b.topic(d.Label, "telemetry"), 0, false, payload)
				next.telemetry = d.Telemetry
			}
		}

		b.last[d.Label] = next
	}
}

func (b *Bridge) handleSetpoint(_ MQTT.Client, msg MQTT.Message) {
	ev, err := b.EventFromMessage(msg.Topic(), msg.Payload())
	if err != nil {
		b.logger.Warn().Err(err).Str("topic", msg.Topic()).Msg("setpoint ignored")
		return
	}
	if err := b.sink.Send(ev); err != nil {
		b.logger.Debug().Err(err).Msg("setpoint not queued")
	}
}

// EventFromMessage converts a setpoint message into an event. Labels that
// are not configured map to UnknownDevice.
func (b *Bridge) EventFromMessage(topic string, payload []byte) (setpoint.Event, error) {
	label, err := b.LabelFromTopic(topic)
	if err != nil {
		return setpoint.Event{}, err
	}
	value, err := ParseSetpoint(payload)
	if err != nil {
		return setpoint.Event{}, err
	}
	return setpoint.Event{Device: b.deviceID(label), Value: value}, nil
}

// LabelFromTopic extracts the label from <prefix>/<label>/setpoint
func (b *Bridge) LabelFromTopic(topic string) (string, error) {
	rest, ok := strings.CutPrefix(topic, b.prefix+"/")
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrBadTopic, topic)
	}
	label, ok := strings.CutSuffix(rest, "/setpoint")
	if !ok || label == "" || strings.Contains(label, "/") {
		return "", fmt.Errorf("%w: %s", ErrBadTopic, topic)
	}
	return label, nil
}

func (b *Bridge) deviceID(label string) int {
	for i, l := range b.labels {
		if l == label {
			return i
		}
	}
	return UnknownDevice
}

// ParseSetpoint parses a numeric payload, truncating toward zero
func ParseSetpoint(payload []byte) (int, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(string(payload)), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%w: %q", ErrBadPayload, payload)
	}
	if f < math.MinInt32 || f > math.MaxInt32 {
		return 0, fmt.Errorf("%w: %q out of range", ErrBadPayload, payload)
	}
	return int(f), nil
}
