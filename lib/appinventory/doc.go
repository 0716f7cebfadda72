// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package appinventory enumerates the applications installed on an
// acquired device and renders the canonical inventory export.
//
// A browse result is a loose attribute map reported by the device.
// Descriptors missing any identifying attribute (bundle name,
// identifier, version) are dropped and counted rather than aborting
// the enumeration, so one damaged entry never costs the rest of the
// inventory. Device-reported order is preserved.
package appinventory
