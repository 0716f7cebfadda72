// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package recordui implements a terminal viewer for acquired message
// exports. Built on bubbletea (Elm architecture), it shows records as
// a scrollable table with a detail pane for the selected message and
// an fzf-style fuzzy filter across date, phone number, and body.
//
// Sealed exports are unsealed entirely in memory: the viewer never
// writes recovered plaintext to disk.
package recordui
