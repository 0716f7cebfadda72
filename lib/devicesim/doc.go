// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package devicesim provides an in-process simulated device that
// speaks the devicelink wire protocol. A Device implements
// devicelink.Connector: every Dial returns one end of a synchronous
// pipe whose other end is served by a goroutine running the device
// side of the protocol (hello, ticketed service opens, file
// operations, application browsing).
//
// The device is driven by a Profile: the identity it reports, the
// services it advertises, a file tree, and the installed application
// descriptors. Profiles are built programmatically in tests or loaded
// from JSONC fixture files (JSON extended with comments and trailing
// commas) via LoadProfile.
//
// Faults on the profile inject the failure modes the acquisition
// pipeline has to survive: refused handshakes, refused services,
// permission-denied paths, reads that abort partway through a file,
// and per-chunk transfer latency. Latency goes through a clock.Clock,
// so tests can drive it deterministically with clock.Fake.
package devicesim
