// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package report renders a human-readable summary of an acquisition
// run from its manifest.
//
// The canonical rendering is GitHub-flavored markdown, which doubles
// as the plain-text report: it names the sealed artifact and the
// inventory export, identifies the device, and carries a per-artifact
// outcome table. The optional HTML rendering is produced by passing
// that same markdown through goldmark, so the two formats can never
// disagree.
package report
