// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package devicefs exposes a connected device's filesystem as a
// read-only FUSE mount, backed by a file transfer channel. It is the
// browse-without-copy path: an examiner can walk the device tree with
// ordinary tools before deciding what to acquire, without staging a
// single byte.
//
// Every kernel operation maps to one lockstep exchange on the
// underlying channel (stat, list, or a bounded chunk read), so mounts
// are inherently single-stream. Nothing is cached beyond the kernel's
// short attribute timeouts; the device remains the source of truth.
package devicefs
