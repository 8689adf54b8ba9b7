// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the controller headless",
	Long: `Run the control loop without a terminal UI.

Starts the OSC listener, and the MQTT bridge and HTTP API when configured.
Devices with auto_connect: true are connected at startup. Every event log
entry is written to the process log.

When a config file is in use, edits to it are applied live: the device list
is reconciled and the OSC listener is rebound if osc.listen or osc.scale
changed. A failed rebind keeps the previous listener.

SIGINT or SIGTERM stops every worker and exits.`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd, false)
	if err != nil {
		return err
	}
	defer a.Close()

	loop, err := a.newLoop()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	wait, err := a.startServices(ctx, loop)
	if err != nil {
		stop()
		loop.Shutdown()
		wait()
		return err
	}

	a.logger.Info().Int("devices", len(a.cfg.Devices)).Msg("controller running")
	a.autoConnect(loop)

	// Blocks until a signal arrives; shuts the workers down on the way out
	loop.Run(ctx, a.cfg.Loop.Interval)

	wait()
	a.logger.Info().Msg("controller stopped")
	return nil
}
