// Host assembly: picks the backend from configuration and wires the
// tool-change machine over it.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package ams

import (
	"ams-host/pkg/afc"
	"ams-host/pkg/backend"
	"ams-host/pkg/config"
	"ams-host/pkg/log"
	"ams-host/pkg/machine"
	"ams-host/pkg/mock"
	"ams-host/pkg/moonraker"
)

// Host is a running machine plus whatever transport it owns.
type Host struct {
	Machine *machine.Machine

	client *moonraker.Client
}

// NewBackend selects the backend from configuration: the in-process
// mock when cfg.UseMock is set (or forced through the AMS_MOCK
// environment override), otherwise AFC over a fresh Moonraker
// connection. The returned client is nil in the mock case.
func NewBackend(cfg config.HostConfig, logger *log.Logger) (backend.Backend, *moonraker.Client, error) {
	if cfg.UseMock {
		return mock.New(cfg, logger), nil, nil
	}
	client, err := moonraker.Dial(cfg.MoonrakerURL, logger)
	if err != nil {
		return nil, nil, err
	}
	return afc.New(client, logger), client, nil
}

// Open builds and starts a host from configuration.
func Open(cfg config.HostConfig, logger *log.Logger) (*Host, error) {
	b, client, err := NewBackend(cfg, logger)
	if err != nil {
		return nil, err
	}
	m := machine.New(b, logger)
	if err := m.Start(); err != nil {
		m.Close()
		if client != nil {
			client.Close()
		}
		return nil, err
	}
	return &Host{Machine: m, client: client}, nil
}

// Close tears the machine and its transport down.
func (h *Host) Close() {
	h.Machine.Close()
	if h.client != nil {
		h.client.Close()
	}
}

// TransportDone signals when the Moonraker connection dies, so callers
// can run a reconnect loop. Never signals for the mock backend.
func (h *Host) TransportDone() <-chan struct{} {
	if h.client == nil {
		return nil
	}
	return h.client.Done()
}
