// ams-host runs the AMS control host. It connects to Moonraker, drives
// the AFC filament-feed hardware and exposes the tool-change machine to
// whatever front end consumes its log stream.
//
// Usage:
//
//	ams-host [-config ams.cfg] [options]
//
// Options:
//
//	-config string    Host configuration file (optional, defaults apply)
//	-mock             Force the simulated backend regardless of config
//	-loglevel string  Log level: debug, info, warn, error (default "info")
//	-logfile string   Log file path with rotation (default: stderr)
//	-json             Emit JSON log lines
//
// Examples:
//
//	# Connect to the local Moonraker instance
//	ams-host
//
//	# Run against simulated hardware with verbose logging
//	ams-host -mock -loglevel debug
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ams-host/pkg/ams"
	"ams-host/pkg/backend"
	"ams-host/pkg/config"
	"ams-host/pkg/log"
	"ams-host/pkg/machine"
	"ams-host/pkg/topology"
)

func main() {
	configFile := flag.String("config", "", "Host configuration file")
	forceMock := flag.Bool("mock", false, "Force the simulated backend")
	logLevel := flag.String("loglevel", "", "Log level: debug, info, warn, error")
	logFile := flag.String("logfile", "", "Log file path (default: stderr)")
	jsonLogs := flag.Bool("json", false, "Emit JSON log lines")
	flag.Parse()

	cfg, err := config.ParseHostConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing config: %v\n", err)
		os.Exit(1)
	}
	if *forceMock {
		cfg.UseMock = true
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	logger := log.New("ams-host")
	logger.SetLevel(log.ParseLevel(cfg.LogLevel))
	if *jsonLogs {
		logger.SetFormat(log.FormatJSON)
	}
	if *logFile != "" {
		w, err := log.NewRotatingFileWriter(log.RotationConfig{Filename: *logFile})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening log file: %v\n", err)
			os.Exit(1)
		}
		defer w.Close()
		logger.SetWriter(w)
		logger.SetColorize(false)
	}

	logger.WithFields(log.Fields{
		"mock": cfg.UseMock,
		"url":  cfg.MoonrakerURL,
	}).Info("starting")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	// Reconnect loop: a dead Moonraker connection tears the host down
	// and a fresh one is brought up after the configured interval.
	for {
		host, err := ams.Open(cfg, logger)
		if err != nil {
			logger.WithError(err).Error("startup failed")
			select {
			case s := <-sig:
				logger.WithField("signal", s.String()).Info("shutting down")
				return
			case <-time.After(cfg.ReconnectInterval):
				continue
			}
		}

		m := host.Machine
		m.OnState(func(s machine.State) {
			logger.WithField("state", s.String()).Info("state changed")
		})
		m.OnCompletion(func(c backend.Completion) {
			if c.Err != nil {
				logger.WithError(c.Err).WithField("op", c.Op.String()).Error("operation failed")
			}
		})
		m.OnLayout(func(l topology.Layout) {
			logger.WithFields(log.Fields{
				"tools":    l.PhysicalCount(),
				"unmapped": len(l.Unmapped),
			}).Info("layout resolved")
		})

		printTopology(logger, m.Topology())

		select {
		case s := <-sig:
			logger.WithField("signal", s.String()).Info("shutting down")
			host.Close()
			return
		case <-host.TransportDone():
			logger.Warn("moonraker connection lost, reconnecting")
			host.Close()
			select {
			case s := <-sig:
				logger.WithField("signal", s.String()).Info("shutting down")
				return
			case <-time.After(cfg.ReconnectInterval):
			}
		}
	}
}

func printTopology(logger *log.Logger, t topology.Topology) {
	logger.WithFields(log.Fields{
		"kind":  t.Kind.String(),
		"lanes": len(t.Lanes),
		"units": len(t.Units),
	}).Info("topology")
	for _, ln := range t.Lanes {
		fields := log.Fields{
			"unit":   ln.Unit,
			"status": ln.Status.String(),
		}
		if ln.MappedTool != topology.UnmappedTool {
			fields["tool"] = ln.MappedTool
		}
		if ln.Material != "" {
			fields["material"] = ln.Material
		}
		logger.WithFields(fields).Info(ln.Name)
	}
}
