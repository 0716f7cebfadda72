// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package bundle archives a finished case directory into a single tar
// file, optionally compressed with zstd or lz4.
//
// Create walks the case directory and writes one archive; Extract is
// the inverse and sniffs the compression from the archive's leading
// magic bytes, so a bundle is self-describing regardless of its file
// name. Extraction is fail-closed: entries that would escape the
// target directory or that are not plain files or directories are
// rejected.
package bundle
