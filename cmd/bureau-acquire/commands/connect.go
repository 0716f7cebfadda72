// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bureau-foundation/acquire/lib/config"
	"github.com/bureau-foundation/acquire/lib/devicelink"
	"github.com/bureau-foundation/acquire/lib/devicesim"
)

// deviceParams is the flag group shared by commands that open a
// device session.
type deviceParams struct {
	Config   string `flag:"config,c" desc:"path to the YAML configuration file"`
	Device   string `flag:"device,d" desc:"device bridge address in host:port form"`
	Simulate string `flag:"simulate" desc:"JSONC device profile served in place of hardware"`
}

// load resolves configuration and applies the flag overrides.
func (p deviceParams) load() (*config.Config, error) {
	cfg, err := config.Resolve(p.Config)
	if err != nil {
		return nil, err
	}
	if p.Device != "" {
		cfg.Device.Address = p.Device
	}
	if p.Simulate != "" {
		cfg.Device.SimulateProfile = p.Simulate
	}
	return cfg, nil
}

// connector builds the device connector from resolved configuration:
// an in-process simulated device when a profile is configured, the
// TCP bridge otherwise.
func connector(cfg *config.Config, logger *slog.Logger) (devicelink.Connector, error) {
	if profilePath := cfg.Device.SimulateProfile; profilePath != "" {
		profile, err := devicesim.LoadProfile(profilePath)
		if err != nil {
			return nil, err
		}
		device, err := devicesim.New(devicesim.Config{Profile: *profile, Logger: logger})
		if err != nil {
			return nil, fmt.Errorf("building simulated device: %w", err)
		}
		return device, nil
	}
	if cfg.Device.Address == "" {
		return nil, fmt.Errorf("no device: set device.address in the configuration, or pass --device or --simulate")
	}
	return &devicelink.TCPConnector{
		Address: cfg.Device.Address,
		Timeout: cfg.ConnectTimeout(),
	}, nil
}

// openFileSession connects to the configured device and opens its
// file transfer channel. The caller owns the session; closing it
// releases the channel as well.
func openFileSession(ctx context.Context, p deviceParams, logger *slog.Logger) (*devicelink.Session, *devicelink.FileChannel, error) {
	cfg, err := p.load()
	if err != nil {
		return nil, nil, err
	}
	conn, err := connector(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	session, err := devicelink.Connect(ctx, conn, devicelink.SessionConfig{Logger: logger})
	if err != nil {
		return nil, nil, err
	}
	channel, err := session.OpenFileTransfer(ctx)
	if err != nil {
		session.Close()
		return nil, nil, err
	}
	return session, channel, nil
}
