// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides binary entrypoint helpers. These functions
// centralize the raw stderr reporting that exists before or after the
// structured logger:
//
//   - Fatal error reporting to stderr when the logger may not be
//     initialized (pre-logger).
//   - Process exit after an unrecoverable error in main().
//
// All other output in the acquire binary goes through the structured
// logger or, for command results, stdout.
package process
