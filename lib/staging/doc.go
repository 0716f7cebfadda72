// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package staging copies remote device files into local staging
// storage over a devicelink file transfer channel.
//
// A staged file is ephemeral: it exists so an extractor can work on a
// local copy (SQLite cannot query a file that is still on the
// device), and the pipeline removes it once the consuming extraction
// finishes. Transfers are chunked, digested with lib/digest during
// the copy, and never leave a partial file behind: any failure
// removes what was written before the error returns.
package staging
