// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the standard CBOR encoding configuration.
//
// The acquisition tool uses two serialization formats with a clear
// boundary:
//
//   - JSON for human-facing output: `manifest show`, CLI --json
//     output, and log records.
//   - CBOR for machine artifacts and protocols: the on-disk run
//     manifest and the device control-channel framing.
//
// This package provides the shared CBOR encoding and decoding modes so
// that every package encodes identically without duplicating
// configuration. The encoder uses Core Deterministic Encoding (RFC 8949
// §4.2): sorted map keys, smallest integer encoding, no
// indefinite-length items. Same logical data always produces identical
// bytes, which keeps manifest digests stable across re-encodes.
//
// For buffer-oriented operations (files):
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// For stream-oriented operations (device connections):
//
//	encoder := codec.NewEncoder(conn)
//	decoder := codec.NewDecoder(conn)
//
// # Struct Tag Rules
//
// The struct tag on a type documents its serialization format:
//
//   - `cbor` tag: this type is ONLY ever serialized as CBOR. It will
//     never be marshaled to JSON. Examples: device wire frames.
//   - `json` tag: this type may be serialized as BOTH JSON and CBOR.
//     fxamacker/cbor v2 reads `json` tags as fallback when `cbor`
//     tags are absent, so a single `json` tag controls field naming
//     and omitempty for both formats. Examples: the run manifest,
//     which is CBOR on disk and JSON in `manifest show` output.
//
// Never use both `cbor` and `json` tags on the same field. The tag
// choice documents the contract; doubling up obscures whether a type
// participates in JSON serialization.
package codec
