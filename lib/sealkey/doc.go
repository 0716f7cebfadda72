// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sealkey provisions the key material that lib/seal consumes.
//
// Master key sources: a 32-byte keyfile (raw or hex), a passphrase
// stretched with scrypt, or a fresh random key. Per-artifact sealing
// keys are separated from the master with HKDF so two artifacts in one
// run never share an AES key. Key material lives in secret.Buffer
// values (mmap-backed, locked, zeroed on close) from the moment it is
// read or derived.
//
// Escrow wraps the master key to age recipients so a random per-run
// key remains recoverable. The escrow file sits beside the sealed
// artifact; decrypting it requires one of the recipient private keys.
package sealkey
