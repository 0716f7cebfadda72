// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret provides a memory-safe buffer for sensitive data such
// as sealing keys, passphrases, and escrow identities.
//
// [Buffer] allocates memory outside the Go heap via mmap(MAP_ANONYMOUS),
// locks it into physical RAM via mlock (preventing swap), and marks it
// excluded from core dumps via madvise(MADV_DONTDUMP). On Close, the
// memory is zeroed, unlocked, and unmapped. Because the memory lives
// outside the Go heap, the garbage collector cannot copy or relocate
// it, guaranteeing key material does not persist after release.
//
// Constructors:
//
//   - [New] -- allocates a zero-filled buffer of a given size
//   - [NewFromBytes] -- copies into protected memory, zeros the source
//   - [ReadFromPath] -- reads a secret from a file, or stdin via "-"
//
// Access via [Buffer.Bytes] (slice into the mmap region) or
// [Buffer.String] (heap copy for API boundaries). [Buffer.Equal] uses
// constant-time comparison. After Close, any access panics. Close is
// idempotent.
//
// Depends on golang.org/x/sys/unix. No other internal dependencies.
// Imported by lib/sealkey for key provisioning and by lib/seal, which
// reads key bytes from a Buffer and never copies them elsewhere.
package secret
