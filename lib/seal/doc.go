// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package seal encrypts finalized plaintext artifacts at rest and
// retires the plaintext.
//
// A sealed file is a small header (one format version byte and a
// random per-artifact IV) followed by the AES-256-CBC ciphertext of
// the plaintext with PKCS#7 padding. Sealing streams the plaintext in
// bounded chunks, so artifact size is not memory-bound. On success the
// plaintext file is removed; on any failure the partial sealed file is
// removed and the plaintext preserved, so a sealed path either holds a
// complete artifact or nothing.
//
// The package performs no key derivation and never logs key material.
// Keys arrive as secret.Buffer values; provisioning lives in
// lib/sealkey.
package seal
