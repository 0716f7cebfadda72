// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package devicelink

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"
)

// Connector supplies connections to a paired device. Dial is called
// once for the control connection and once per service channel; every
// connection carries its own lockstep message stream.
//
// Implementations: [TCPConnector] reaches a device bridge over TCP,
// and lib/devicesim's Device serves an in-process simulated device.
type Connector interface {
	// Dial locates the device and opens a connection to it. A failure
	// to locate any device must wrap [ErrNoDevice].
	Dial(ctx context.Context) (io.ReadWriteCloser, error)
}

// Compile-time interface check.
var _ Connector = (*TCPConnector)(nil)

// TCPConnector reaches a device bridge listening on a TCP address,
// the usual arrangement when a relay daemon exposes a USB-attached
// device on localhost.
type TCPConnector struct {
	// Address is the bridge address in "host:port" form.
	Address string

	// Timeout bounds connection establishment. Zero means no
	// standalone timeout; only the context deadline applies.
	Timeout time.Duration
}

// Dial opens a TCP connection to the bridge. A dial failure means no
// device is reachable at the address, so the error wraps ErrNoDevice.
func (c *TCPConnector) Dial(ctx context.Context) (io.ReadWriteCloser, error) {
	if c.Address == "" {
		return nil, fmt.Errorf("%w: no bridge address configured", ErrNoDevice)
	}
	conn, err := (&net.Dialer{Timeout: c.Timeout}).DialContext(ctx, "tcp", c.Address)
	if err != nil {
		return nil, fmt.Errorf("%w: dialing %s: %v", ErrNoDevice, c.Address, err)
	}
	return conn, nil
}
