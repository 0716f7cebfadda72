// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package acquire drives one acquisition run end to end: connect to
// the device, stage and export the message store, seal the export,
// enumerate installed applications, then record the run in a manifest
// and a report inside a per-run case directory.
//
// The run is strictly sequential and single-threaded. Only a connect
// failure aborts it; every later device-side failure is confined to
// the artifact it affects, recorded as skipped with a reason, and the
// remaining artifacts are still attempted. A sealing failure retains
// the plaintext export as the artifact of record, flagged in the
// outcome. Host-side failures writing the manifest or report are
// errors: a run without its record is not a run.
package acquire
