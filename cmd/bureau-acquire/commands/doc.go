// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands builds the bureau-acquire command tree. Each
// subcommand lives in its own file. Flag groups shared between
// subcommands (device selection, sealing key sources) are params
// structs embedded where needed.
package commands
