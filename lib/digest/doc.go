// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package digest computes BLAKE3 content digests for acquisition
// artifacts.
//
// Digests use BLAKE3 keyed hashing with a fixed artifact domain key,
// so artifact digests can never collide with hashes computed for other
// purposes. [Hasher] supports incremental hashing during a copy;
// [File] and [Bytes] cover the one-shot cases. [Format] and [Parse]
// convert to and from the canonical 64-character hex form recorded in
// run manifests.
//
// Depends on github.com/zeebo/blake3. No other internal dependencies.
package digest
