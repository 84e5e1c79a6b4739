// Typed host configuration
//
// Maps the [ams], [mock] and [moonraker] sections onto a HostConfig.
// Environment variables override the file so a developer can flip the
// mock backend on without editing config (AMS_MOCK=1, AMS_MOCK_LANES=8,
// AMS_MOCK_LAYOUT=toolchanger).
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package config

import (
	"os"
	"strconv"
	"time"
)

// Mock unit layout variants.
const (
	LayoutHub         = "hub"         // one unit, all lanes on one hub nozzle
	LayoutToolChanger = "toolchanger" // one unit, lane-per-tool
	LayoutMixed       = "mixed"       // hub unit plus toolchanger unit
	LayoutMulti       = "multi"       // several hub units
)

// HostConfig is the parsed AMS host configuration.
type HostConfig struct {
	// [ams]
	UseMock  bool
	LogLevel string

	// [mock]
	MockLanes    int
	MockLayout   string
	MockDelay    time.Duration // full simulated operation duration
	MockMounted  string        // lane mounted at startup, "" for none
	MockEmpty    []int         // lane indexes seeded with no filament

	// [moonraker]
	MoonrakerURL      string
	ReconnectInterval time.Duration
}

// DefaultHostConfig returns the configuration used when no file is given.
func DefaultHostConfig() HostConfig {
	return HostConfig{
		LogLevel:          "info",
		MockLanes:         4,
		MockLayout:        LayoutHub,
		MockDelay:         3 * time.Second,
		MoonrakerURL:      "ws://localhost:7125/websocket",
		ReconnectInterval: 5 * time.Second,
	}
}

// ParseHostConfig loads a HostConfig from a config file path. An empty
// path yields the defaults. Environment overrides apply either way.
func ParseHostConfig(path string) (HostConfig, error) {
	hc := DefaultHostConfig()

	if path != "" {
		c, err := Load(path)
		if err != nil {
			return hc, err
		}

		ams := c.Section("ams")
		hc.UseMock = ams.GetBool("mock", hc.UseMock)
		hc.LogLevel = ams.Get("log_level", hc.LogLevel)

		mock := c.Section("mock")
		hc.MockLanes = mock.GetInt("lanes", hc.MockLanes)
		hc.MockLayout = mock.Get("layout", hc.MockLayout)
		hc.MockDelay = time.Duration(mock.GetFloat("operation_delay", hc.MockDelay.Seconds()) * float64(time.Second))
		hc.MockMounted = mock.Get("mounted_lane", hc.MockMounted)

		moon := c.Section("moonraker")
		hc.MoonrakerURL = moon.Get("url", hc.MoonrakerURL)
		hc.ReconnectInterval = time.Duration(moon.GetFloat("reconnect_interval", hc.ReconnectInterval.Seconds()) * float64(time.Second))
	}

	applyEnvOverrides(&hc)
	return hc, nil
}

func applyEnvOverrides(hc *HostConfig) {
	if v := os.Getenv("AMS_MOCK"); v != "" {
		hc.UseMock = v == "1" || v == "true"
	}
	if v := os.Getenv("AMS_MOCK_LANES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			hc.MockLanes = n
		}
	}
	if v := os.Getenv("AMS_MOCK_LAYOUT"); v != "" {
		switch v {
		case LayoutHub, LayoutToolChanger, LayoutMixed, LayoutMulti:
			hc.MockLayout = v
		}
	}
	if v := os.Getenv("AMS_MOONRAKER_URL"); v != "" {
		hc.MoonrakerURL = v
	}
}
