// Copyright 2026 The MachineRancher Authors
// SPDX-License-Identifier: Apache-2.0

// Command machine-rancher is the fleet controller: it discovers
// machines on the telemetry bus, monitors their properties, and serves
// AR client sessions over WebSockets.
//
// Usage:
//
//	machine-rancher --config rancher.yaml
//
// Without --config the configuration path is read from the
// RANCHER_CONFIG environment variable.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/Shane14705/MachineRancher/bus"
	"github.com/Shane14705/MachineRancher/fleet"
	"github.com/Shane14705/MachineRancher/lib/clock"
	"github.com/Shane14705/MachineRancher/lib/config"
	"github.com/Shane14705/MachineRancher/lib/process"
	"github.com/Shane14705/MachineRancher/lib/version"
	"github.com/Shane14705/MachineRancher/machine"
	"github.com/Shane14705/MachineRancher/session"
)

func main() {
	configPath := pflag.String("config", "", "path to the YAML configuration file")
	showVersion := pflag.Bool("version", false, "print version and exit")
	pflag.Parse()

	if *showVersion {
		fmt.Println(version.Full())
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath); err != nil && ctx.Err() == nil {
		process.Fatal(err)
	}
}

func run(ctx context.Context, configPath string) error {
	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)
	logger.Info("machine-rancher starting", "version", version.Info())

	clk := clock.Real()

	telemetry, err := bus.DialMQTT(bus.MQTTOptions{
		Address:  cfg.MQTT.Address,
		Port:     cfg.MQTT.Port,
		Username: cfg.MQTT.Username,
		Password: cfg.MQTT.Password,
		ClientID: "machine-rancher",
	}, logger)
	if err != nil {
		return err
	}
	defer telemetry.Close()

	machines := fleet.NewRegistry()
	machines.RegisterMachine(machine.DiscoveryPrefix, func(name string) machine.Machine {
		return machine.NewPrinter(name, machine.PrinterOptions{
			RPCTimeout:      cfg.Printer.RPCTimeout,
			LevelingTimeout: cfg.Printer.LevelingTimeout,
			SampleInterval:  cfg.Printer.SampleInterval,
			TempTolerance:   cfg.Printer.TempTolerance,
			Lookback:        cfg.Printer.Lookback,
			VisChunks:       cfg.Printer.VisChunks,
			LogDir:          cfg.Printer.LogDir,
		}, clk, logger)
	})

	monitor := fleet.New(telemetry, machines, clk, cfg.MQTT.DiscoveryWindow, logger)
	if err := monitor.Discover(ctx); err != nil {
		return fmt.Errorf("machine discovery: %w", err)
	}

	sessions := session.NewRegistry()
	sessions.RegisterSession("HolographicInterface", session.NewHolographic)
	router := session.NewRouter(sessions, monitor, clk, session.RouterOptions{
		Listen:         cfg.Server.Listen,
		MaxSessions:    cfg.Server.MaxSessions,
		StatusInterval: cfg.Server.StatusInterval,
	}, logger)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errs := make(chan error, 2)
	go func() { errs <- monitor.Run(runCtx) }()
	go func() {
		logger.Info("session server listening", "address", cfg.Server.Listen)
		errs <- router.ListenAndServe(runCtx)
	}()

	// The first real failure (or shutdown signal) stops everything;
	// then wait for the other loop to wind down.
	var failure error
	for i := 0; i < 2; i++ {
		err := <-errs
		if err != nil && !errors.Is(err, context.Canceled) && failure == nil {
			failure = err
		}
		cancel()
	}
	if failure != nil {
		return failure
	}
	logger.Info("machine-rancher stopped")
	return nil
}
