// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package manifest records what one acquisition run produced.
//
// The manifest file is CBOR in Core Deterministic Encoding, so
// re-encoding an unchanged manifest is byte-identical and its digest
// is stable. It names the run, the device, the wall-clock window, the
// status of every artifact (produced or skipped, with digests, sizes,
// and skip counts), and the seal parameters needed to re-derive the
// sealing key: key source, scrypt salt, derivation label. Key bytes
// are never stored.
package manifest
