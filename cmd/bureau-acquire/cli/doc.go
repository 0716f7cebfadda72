// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli provides the command-line framework for the bureau-acquire
// binary.
//
// The central type is [Command], which represents a named subcommand
// with optional nested [Command.Subcommands], a params struct bound to
// flags via struct tags (see [BindFlags]), and a Run function receiving
// the context and a structured logger. Commands are assembled into a
// tree in cmd/bureau-acquire/commands and dispatched via
// [Command.Execute], which handles flag parsing, subcommand routing,
// and structured help output with examples.
//
// When a user types an unknown subcommand or flag, the framework
// computes Levenshtein edit distance against all known names and
// suggests the closest match (threshold: distance <= 3). This is
// implemented in suggest.go.
package cli
