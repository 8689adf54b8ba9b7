// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/Thermoquad/tempsense/pkg/config"
	"github.com/Thermoquad/tempsense/pkg/controlloop"
	"github.com/Thermoquad/tempsense/pkg/eventlog"
	"github.com/Thermoquad/tempsense/pkg/logging"
	"github.com/Thermoquad/tempsense/pkg/mqttbridge"
	"github.com/Thermoquad/tempsense/pkg/orchestrator"
	"github.com/Thermoquad/tempsense/pkg/oscsource"
	"github.com/Thermoquad/tempsense/pkg/setpoint"
	"github.com/Thermoquad/tempsense/pkg/statusapi"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// app holds what every command needs: config, logger and the log sink
type app struct {
	loader *config.Loader
	cfg    *config.Config
	logger zerolog.Logger
	closer io.Closer
}

// setup loads config and opens the process logger. Interactive commands
// discard process logs unless --log-file is given so the screen stays clean.
func setup(cmd *cobra.Command, interactive bool) (*app, error) {
	path := logFile
	if interactive && path == "" {
		path = "-"
	}

	logger, closer, err := logging.Open(logLevel, path)
	if err != nil {
		return nil, err
	}

	loader, cfg, err := loadConfig(cmd, logger)
	if err != nil {
		closer.Close()
		return nil, err
	}

	return &app{
		loader: loader,
		cfg:    cfg,
		logger: logger.Level(logging.ParseLevel(cfg.LogLevel)),
		closer: closer,
	}, nil
}

func (a *app) Close() {
	a.closer.Close()
}

func orchestratorDevices(devices []config.Device) []orchestrator.Device {
	out := make([]orchestrator.Device, len(devices))
	for i, d := range devices {
		out[i] = orchestrator.Device{Label: d.Label, Port: d.Port, Baud: d.Baud}
	}
	return out
}

// newLoop builds the orchestrator, setpoint pipeline and control loop
func (a *app) newLoop() (*controlloop.Loop, error) {
	open, err := newOpener(a.cfg)
	if err != nil {
		return nil, err
	}

	policy, err := setpoint.ParsePolicy(a.cfg.Setpoint.UnknownDevice)
	if err != nil {
		return nil, err
	}

	log := eventlog.New(a.cfg.EventLog.Capacity, a.logger)

	orch := orchestrator.New(orchestrator.Config{
		Devices:      orchestratorDevices(a.cfg.Devices),
		Open:         open,
		PollInterval: a.cfg.Worker.PollInterval,
		Log:          log,
		Logger:       a.logger,
	})

	pipe := setpoint.New(setpoint.Config{
		Labels:         a.cfg.DeviceLabels(),
		Policy:         policy,
		FallbackDevice: a.cfg.Setpoint.FallbackDevice,
		Min:            a.cfg.Setpoint.Min,
		Max:            a.cfg.Setpoint.Max,
		Log:            log,
		Logger:         a.logger,
	})

	return controlloop.New(controlloop.Config{
		Orchestrator: orch,
		Pipeline:     pipe,
		Logger:       a.logger,
	}), nil
}

// autoConnect queues a Connect for every device marked auto_connect
func (a *app) autoConnect(loop *controlloop.Loop) {
	for id, d := range a.cfg.Devices {
		if !d.AutoConnect {
			continue
		}
		if err := loop.Submit(controlloop.Connect{Device: id}); err != nil {
			a.logger.Warn().Err(err).Str("device", d.Label).Msg("auto-connect not queued")
		}
	}
}

func oscConfig(c *config.Config) oscsource.Config {
	return oscsource.Config{Listen: c.OSC.Listen, Scale: c.OSC.Scale}
}

// startServices starts the OSC listener, MQTT bridge, HTTP API and config
// watcher that are enabled in the config. They stop when ctx is done; the
// returned function waits for them. Must be called before the loop runs.
func (a *app) startServices(ctx context.Context, loop *controlloop.Loop) (func(), error) {
	var wg sync.WaitGroup
	var closers []func()

	wait := func() {
		wg.Wait()
		for _, c := range closers {
			c()
		}
	}

	osc := oscsource.NewRunner(ctx, loop.Setpoints(), a.logger)
	closers = append(closers, osc.Stop)
	if err := osc.Apply(oscConfig(a.cfg)); err != nil {
		return wait, fmt.Errorf("osc: %w", err)
	}
	if addr := osc.Addr(); addr != nil {
		a.logger.Info().Str("addr", addr.String()).Msg("OSC listener started")
	}

	if a.cfg.MQTT.Broker != "" {
		bridge := mqttbridge.New(mqttbridge.Config{
			Broker:      a.cfg.MQTT.Broker,
			ClientID:    a.cfg.MQTT.ClientID,
			Username:    a.cfg.MQTT.Username,
			Password:    a.cfg.MQTT.Password,
			TopicPrefix: a.cfg.MQTT.TopicPrefix,
			Logger:      a.logger,
		}, a.cfg.DeviceLabels(), loop.Setpoints())

		if err := bridge.Connect(); err != nil {
			return wait, err
		}
		loop.Observe(bridge.Publish)
		closers = append(closers, bridge.Close)
	}

	if a.cfg.API.Listen != "" {
		gin.SetMode(gin.ReleaseMode)
		handler := statusapi.NewHandler(loop, a.logger)
		srv, err := statusapi.NewServer(a.cfg.API.Listen, handler.InitRoutes())
		if err != nil {
			return wait, fmt.Errorf("api: %w", err)
		}
		a.logger.Info().Str("addr", srv.Addr().String()).Msg("HTTP API started")

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Serve(ctx); err != nil {
				a.logger.Error().Err(err).Msg("HTTP API stopped")
			}
		}()
	}

	if a.loader.Viper().ConfigFileUsed() != "" {
		a.loader.Watch(func(c *config.Config) {
			if err := loop.Submit(controlloop.ReloadDevices{Devices: orchestratorDevices(c.Devices)}); err != nil {
				a.logger.Debug().Err(err).Msg("device reload not queued")
			}
			if err := osc.Apply(oscConfig(c)); err != nil {
				a.logger.Error().Err(err).Msg("OSC listener not restarted")
			}
		})
	}

	return wait, nil
}
