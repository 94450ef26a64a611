// Copyright (c) Skyfleet Robotics
// SPDX-License-Identifier: MPL-2.0

// Command latticebridge runs the drone to C2 middleware: it connects
// the configured MAVLink vehicles, publishes them as entities, and
// executes tasking on their behalf.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"
	metrics "github.com/hashicorp/go-metrics"

	"github.com/skyfleet/latticebridge/bridge"
	"github.com/skyfleet/latticebridge/config"
	"github.com/skyfleet/latticebridge/version"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "bridge.yaml", "path to the bridge configuration file")
	logLevel := flag.String("log-level", "", "override the configured log level")
	showVersion := flag.Bool("version", false, "print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("latticebridge", version.String())
		return 0
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "latticebridge: %v\n", err)
		return 1
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	logger := hclog.New(&hclog.LoggerOptions{
		Name:  "latticebridge",
		Level: hclog.LevelFromString(cfg.LogLevel),
	})
	logger.Info("starting", "version", version.String())

	// In-memory sink so metrics show up in SIGUSR1 dumps and tests;
	// nothing is exported off-process.
	inm := metrics.NewInmemSink(10*time.Second, time.Minute)
	metrics.DefaultInmemSignal(inm)
	if _, err := metrics.NewGlobal(metrics.DefaultConfig("latticebridge"), inm); err != nil {
		logger.Warn("metrics setup failed", "error", err)
	}

	b, err := bridge.New(cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := b.Run(ctx); err != nil {
		logger.Error("bridge exited with error", "error", err)
		return 1
	}
	return 0
}
