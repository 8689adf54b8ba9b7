// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

var controlCmd = &cobra.Command{
	Use:   "control",
	Short: "Interactive TUI for controlling the temperature boards",
	Long: `Control every configured board via an interactive terminal UI.

Features:
  - Per-device connect, disconnect and ping
  - Live status and telemetry (skin and exterior temperature)
  - Setpoints from OSC, MQTT and the HTTP API, forwarded as they change
  - Manual override with direct target entry
  - Start/stop heating and cooling on every connected board
  - Raw command entry
  - Rolling event log

Keys:
  Tab/Shift+Tab  switch between device list, target input and command input
  Up/Down        select device
  c / d / p      connect / disconnect / ping the selected device
  o              toggle manual override for the selected device
  s / x          start / stop all connected devices
  Enter          submit the focused input
  q, Ctrl+C      quit

Process logs are discarded unless --log-file is given.`,
	RunE: runControl,
}

func init() {
	rootCmd.AddCommand(controlCmd)
}

func runControl(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd, true)
	if err != nil {
		return err
	}
	defer a.Close()

	loop, err := a.newLoop()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	wait, err := a.startServices(ctx, loop)
	if err != nil {
		cancel()
		loop.Shutdown()
		wait()
		return err
	}

	a.autoConnect(loop)

	// The TUI drives loop.Tick from its own update goroutine
	m := initialControlModel(loop, a.cfg.Loop.Interval)
	p := tea.NewProgram(m, tea.WithAltScreen())

	_, runErr := p.Run()

	cancel()
	exitStart := time.Now()
	loop.Shutdown()
	wait()

	for _, e := range loop.Snapshot().Log {
		if !e.Timestamp.Before(exitStart) {
			fmt.Println(e.String())
		}
	}

	if runErr != nil {
		return fmt.Errorf("TUI error: %v", runErr)
	}
	return nil
}
