// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package digest

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/zeebo/blake3"
)

// Digest is a 32-byte BLAKE3 digest. Every artifact the pipeline
// produces (staged copies, CSV exports, sealed files) is identified by
// one of these in the run manifest.
type Digest [32]byte

// artifactDomainKey is the 32-byte key for BLAKE3 keyed hashing of
// artifact content. Domain separation ensures the same bytes hashed in
// another context produce a different digest. The value is the ASCII
// encoding of the domain name, zero-padded to 32 bytes, so the key is
// inspectable in hex dumps without sacrificing any cryptographic
// property (BLAKE3 keyed mode treats the key as opaque). Changing it
// invalidates every recorded digest.
var artifactDomainKey = [32]byte{
	'a', 'c', 'q', 'u', 'i', 'r', 'e', '.', 'a', 'r', 't', 'i', 'f', 'a', 'c', 't',
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// Hasher computes an artifact digest incrementally. It implements
// io.Writer so callers can tee content through it while copying,
// avoiding a second pass over the data.
type Hasher struct {
	inner *blake3.Hasher
}

// NewHasher returns a Hasher keyed for the artifact domain.
func NewHasher() *Hasher {
	hasher, err := blake3.NewKeyed(artifactDomainKey[:])
	if err != nil {
		// NewKeyed fails only for a wrong key length, which the
		// fixed-size array rules out.
		panic("digest: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	return &Hasher{inner: hasher}
}

// Write absorbs data into the digest. It never returns an error.
func (h *Hasher) Write(data []byte) (int, error) {
	return h.inner.Write(data)
}

// Sum returns the digest of everything written so far. The hasher
// remains usable; further writes extend the input.
func (h *Hasher) Sum() Digest {
	var digest Digest
	copy(digest[:], h.inner.Sum(nil))
	return digest
}

// Bytes computes the artifact digest of data in one call.
func Bytes(data []byte) Digest {
	hasher := NewHasher()
	hasher.Write(data)
	return hasher.Sum()
}

// File computes the artifact digest of the file at path by streaming
// its content through the hasher.
func File(path string) (Digest, error) {
	file, err := os.Open(path)
	if err != nil {
		return Digest{}, fmt.Errorf("opening %s: %w", path, err)
	}
	defer file.Close()

	hasher := NewHasher()
	if _, err := io.Copy(hasher, file); err != nil {
		return Digest{}, fmt.Errorf("reading %s: %w", path, err)
	}
	return hasher.Sum(), nil
}

// MarshalText implements encoding.TextMarshaler. Digests serialize as
// their canonical hex form in both CBOR and JSON.
func (d Digest) MarshalText() ([]byte, error) {
	return []byte(Format(d)), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Digest) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Format returns the hex-encoded string representation of a digest.
// This is the canonical format used in manifests, logs, and CLI
// output.
func Format(digest Digest) string {
	return hex.EncodeToString(digest[:])
}

// Parse parses a 64-character hex string into a Digest.
func Parse(hexString string) (Digest, error) {
	var digest Digest
	decoded, err := hex.DecodeString(hexString)
	if err != nil {
		return digest, fmt.Errorf("parsing digest: %w", err)
	}
	if len(decoded) != 32 {
		return digest, fmt.Errorf("digest is %d bytes, want 32", len(decoded))
	}
	copy(digest[:], decoded)
	return digest, nil
}
