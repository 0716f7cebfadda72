// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for acquisition
// runs.
//
// Configuration comes from a single file named by the --config flag or
// the ACQUIRE_CONFIG environment variable (via [Resolve]). There are
// no fallbacks, no ~/.config discovery, and no automatic file search;
// with neither set, a run uses [Default] values outright. This keeps
// runs deterministic and auditable with no hidden overrides.
//
// Decoding is strict: unknown keys are configuration errors. Variable
// expansion is performed on host path fields after loading (${HOME}
// and ${VAR:-default} patterns); device-side paths are never expanded.
// Validation happens on load and reports every problem at once,
// including malformed age escrow recipients.
package config
