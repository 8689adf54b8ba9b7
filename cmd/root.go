// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"

	"github.com/Thermoquad/tempsense/pkg/config"
	"github.com/Thermoquad/tempsense/pkg/transport"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	configFile string
	logLevel   string
	logFile    string

	// Single-device flags
	portName string
	baudRate int

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool
)

var rootCmd = &cobra.Command{
	Use:   "tempsense",
	Short: "Multi-device temperature controller bridge",
	Long: `Tempsense - drives Peltier temperature controller boards over serial links.

Each board runs its own worker. Setpoints arrive over OSC (/Pelt1, /Pelt2, ...),
MQTT or the HTTP API and are forwarded to connected boards as setTemp commands.
Telemetry lines from the boards are parsed, validated and shown.

Configuration is read from tempsense.yaml in ., ./config or /etc/tempsense, or
from --config. Every key can be overridden with a TEMPSENSE_ environment
variable (e.g. TEMPSENSE_OSC_LISTEN).

Single-device tools (raw_log, monitor, ping, send) accept:
  Serial:    --port /dev/ttyUSB0 [--baud 115200]
  WebSocket: --url ws://host/path [--username user]
and fall back to the first configured device.

For WebSocket authentication, the password is read from the TEMPSENSE_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.`,
	Version:       "1.0.0",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Config file (default: search for tempsense.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: trace, debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Write process logs to a file (\"-\" discards)")

	// Serial connection flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port device")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 115200, "Baud rate (serial only)")

	// WebSocket connection flags
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig reads the configuration with command-line flags bound over it
func loadConfig(cmd *cobra.Command, logger zerolog.Logger) (*config.Loader, *config.Config, error) {
	loader := config.NewLoader(logger)
	v := loader.Viper()

	flags := cmd.Flags()
	bindings := map[string]string{
		"log_level":               "log-level",
		"websocket.username":      "username",
		"websocket.no_ssl_verify": "no-ssl-verify",
	}
	for key, flag := range bindings {
		if f := flags.Lookup(flag); f != nil && f.Changed {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, nil, fmt.Errorf("bind flag %s: %w", flag, err)
			}
		}
	}

	cfg, err := loader.Load(configFile)
	if err != nil {
		return nil, nil, err
	}
	return loader, cfg, nil
}

// newOpener builds the transport for cfg, prompting for a WebSocket password
// when a username is configured
func newOpener(cfg *config.Config) (transport.Opener, error) {
	opts := transport.Options{
		ReadTimeout:   cfg.Worker.ReadTimeout,
		OpenTimeout:   cfg.Worker.OpenTimeout,
		Username:      cfg.WebSocket.Username,
		SkipSSLVerify: cfg.WebSocket.NoSSLVerify,
	}

	if opts.Username != "" {
		password, err := transport.GetPassword()
		if err != nil {
			return nil, err
		}
		opts.Password = password
	}

	return transport.NewOpener(opts), nil
}

// singleTarget picks the endpoint for single-device tools: --url, then
// --port, then the first configured device
func singleTarget(cfg *config.Config) config.Device {
	switch {
	case wsURL != "":
		return config.Device{Label: "WS", Port: wsURL, Baud: baudRate}
	case portName != "":
		return config.Device{Label: "ESP", Port: portName, Baud: baudRate}
	default:
		return cfg.Devices[0]
	}
}
