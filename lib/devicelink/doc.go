// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package devicelink manages authenticated sessions with a paired
// mobile device and the per-capability service channels opened over
// them.
//
// A [Session] is established with [Connect]: the connector locates the
// device and opens the control connection, then the session performs
// the hello handshake and retrieves the device identity. Capability
// channels are opened from the session:
//
//   - [Session.OpenFileTransfer] -- remote file access (stat, list,
//     chunked reads), service "com.apple.afc"
//   - [Session.OpenInventory] -- installed application browsing,
//     service "com.apple.mobile.installation_proxy"
//   - [Session.OpenService] -- generic open by [ServiceKind], used for
//     the reserved record-query capability
//
// Channels are owned by the session: [Session.Close] closes every open
// channel before the control connection, and closing a channel twice
// is a no-op. All operations are synchronous request/response over the
// channel's own connection; the package contains no background
// goroutines.
//
// The wire protocol is length-prefixed CBOR messages (lib/codec). A
// [Connector] supplies connections: [TCPConnector] dials a device
// bridge over TCP, and lib/devicesim provides an in-process simulated
// device for tests and the --simulate flag.
//
// Errors follow two patterns. Connection establishment failures are
// reported as *[ConnectError] with the failed [ConnectStage]; service
// refusals as *[ServiceError] naming the service. Both unwrap to
// sentinels ([ErrNoDevice], [ErrServiceUnavailable], [ErrNotFound],
// [ErrPermission], [ErrClosed]) for errors.Is checks.
package devicelink
