// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config loads tempsense settings from tempsense.yaml, TEMPSENSE_*
// environment variables and command-line flags, and watches the file for
// changes.
package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

const (
	ConfigName = "tempsense"
	EnvPrefix  = "TEMPSENSE"
)

// Device is one board's endpoint
type Device struct {
	Label       string `mapstructure:"label"`
	Port        string `mapstructure:"port"`
	Baud        int    `mapstructure:"baud"`
	AutoConnect bool   `mapstructure:"auto_connect"`
}

type Worker struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	OpenTimeout  time.Duration `mapstructure:"open_timeout"`
}

type Loop struct {
	Interval time.Duration `mapstructure:"interval"`
}

type EventLog struct {
	Capacity int `mapstructure:"capacity"`
}

type Setpoint struct {
	UnknownDevice  string `mapstructure:"unknown_device"`
	FallbackDevice int    `mapstructure:"fallback_device"`
	Min            int    `mapstructure:"min"`
	Max            int    `mapstructure:"max"`
}

type OSC struct {
	Listen string  `mapstructure:"listen"`
	Scale  float64 `mapstructure:"scale"`
}

type MQTT struct {
	Broker      string `mapstructure:"broker"`
	ClientID    string `mapstructure:"client_id"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	TopicPrefix string `mapstructure:"topic_prefix"`
}

type API struct {
	Listen string `mapstructure:"listen"`
}

type WebSocket struct {
	Username    string `mapstructure:"username"`
	NoSSLVerify bool   `mapstructure:"no_ssl_verify"`
}

// Config is the complete application configuration
type Config struct {
	LogLevel  string    `mapstructure:"log_level"`
	Devices   []Device  `mapstructure:"devices"`
	Worker    Worker    `mapstructure:"worker"`
	Loop      Loop      `mapstructure:"loop"`
	EventLog  EventLog  `mapstructure:"event_log"`
	Setpoint  Setpoint  `mapstructure:"setpoint"`
	OSC       OSC       `mapstructure:"osc"`
	MQTT      MQTT      `mapstructure:"mqtt"`
	API       API       `mapstructure:"api"`
	WebSocket WebSocket `mapstructure:"websocket"`
}

// DeviceLabels returns the configured labels in device-id order
func (c *Config) DeviceLabels() []string {
	labels := make([]string, len(c.Devices))
	for i, d := range c.Devices {
		labels[i] = d.Label
	}
	return labels
}

// Validate checks the configuration for values the application cannot use
func (c *Config) Validate() error {
	var errs []error

	if len(c.Devices) == 0 {
		errs = append(errs, errors.New("at least one device is required"))
	}

	seen := map[string]bool{}
	for i, d := range c.Devices {
		if strings.TrimSpace(d.Label) == "" {
			errs = append(errs, fmt.Errorf("devices[%d]: label is required", i))
		} else if seen[d.Label] {
			errs = append(errs, fmt.Errorf("devices[%d]: duplicate label %q", i, d.Label))
		}
		seen[d.Label] = true

		if strings.TrimSpace(d.Port) == "" {
			errs = append(errs, fmt.Errorf("devices[%d] (%s): port is required", i, d.Label))
		}
		if d.Baud <= 0 {
			errs = append(errs, fmt.Errorf("devices[%d] (%s): baud must be positive, got %d", i, d.Label, d.Baud))
		}
	}

	switch strings.ToLower(c.Setpoint.UnknownDevice) {
	case "fallback", "drop":
	default:
		errs = append(errs, fmt.Errorf("setpoint.unknown_device must be fallback or drop, got %q", c.Setpoint.UnknownDevice))
	}
	if len(c.Devices) > 0 && (c.Setpoint.FallbackDevice < 0 || c.Setpoint.FallbackDevice >= len(c.Devices)) {
		errs = append(errs, fmt.Errorf("setpoint.fallback_device %d is not a configured device", c.Setpoint.FallbackDevice))
	}
	if c.Setpoint.Min > c.Setpoint.Max {
		errs = append(errs, fmt.Errorf("setpoint.min %d is above setpoint.max %d", c.Setpoint.Min, c.Setpoint.Max))
	}

	if c.Worker.PollInterval <= 0 || c.Worker.ReadTimeout <= 0 || c.Worker.OpenTimeout <= 0 {
		errs = append(errs, errors.New("worker intervals and timeouts must be positive"))
	}
	if c.Loop.Interval <= 0 {
		errs = append(errs, errors.New("loop.interval must be positive"))
	}
	if c.OSC.Scale == 0 {
		errs = append(errs, errors.New("osc.scale must not be zero"))
	}

	return errors.Join(errs...)
}

// Loader reads and watches the configuration
type Loader struct {
	v      *viper.Viper
	logger zerolog.Logger

	mu      sync.Mutex
	current *Config
}

// NewLoader creates a loader with every default set
func NewLoader(logger zerolog.Logger) *Loader {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return &Loader{v: v, logger: logger}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("devices", []map[string]any{
		{"label": "ESP1", "port": "/dev/ttyUSB0", "baud": 115200, "auto_connect": false},
		{"label": "ESP2", "port": "/dev/ttyUSB1", "baud": 115200, "auto_connect": false},
	})

	v.SetDefault("worker.poll_interval", 20*time.Millisecond)
	v.SetDefault("worker.read_timeout", 50*time.Millisecond)
	v.SetDefault("worker.open_timeout", time.Second)
	v.SetDefault("loop.interval", 50*time.Millisecond)
	v.SetDefault("event_log.capacity", 200)

	v.SetDefault("setpoint.unknown_device", "fallback")
	v.SetDefault("setpoint.fallback_device", 0)
	v.SetDefault("setpoint.min", -128)
	v.SetDefault("setpoint.max", 127)

	v.SetDefault("osc.listen", "127.0.0.1:9000")
	v.SetDefault("osc.scale", 100.0)

	v.SetDefault("mqtt.broker", "")
	v.SetDefault("mqtt.client_id", "tempsense")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.topic_prefix", "tempsense")

	v.SetDefault("api.listen", "")

	v.SetDefault("websocket.username", "")
	v.SetDefault("websocket.no_ssl_verify", false)
}

// Viper exposes the underlying instance so cobra flags can be bound over it
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// Load reads file, or searches for tempsense.yaml when file is empty. A
// missing config file is not an error; defaults apply.
func (l *Loader) Load(file string) (*Config, error) {
	if file != "" {
		l.v.SetConfigFile(file)
	} else {
		l.v.SetConfigName(ConfigName)
		l.v.SetConfigType("yaml")
		l.v.AddConfigPath(".")
		l.v.AddConfigPath("./config")
		l.v.AddConfigPath("/etc/tempsense")
	}

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("unable to read config file: %w", err)
		}
		l.logger.Debug().Msg("no config file found, using defaults")
	} else {
		l.logger.Info().Str("file", l.v.ConfigFileUsed()).Msg("loaded config")
	}

	cfg, err := l.decode()
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.current = cfg
	l.mu.Unlock()
	return cfg, nil
}

func (l *Loader) decode() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Current returns the last successfully loaded configuration
func (l *Loader) Current() *Config {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

// Watch calls fn with each valid configuration written to the config file.
// Invalid edits are logged and the previous configuration stays current.
func (l *Loader) Watch(fn func(*Config)) {
	l.v.OnConfigChange(func(e fsnotify.Event) {
		l.logger.Info().Msgf("Config file changed: %v", e.Name)
		l.logger.Debug().Msgf("Config Additional Info: %v", e.String())

		cfg, err := l.decode()
		if err != nil {
			l.logger.Error().Err(err).Msg("ignoring config change")
			return
		}

		l.mu.Lock()
		l.current = cfg
		l.mu.Unlock()

		fn(cfg)
	})
	l.v.WatchConfig()
}
