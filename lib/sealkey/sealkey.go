// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sealkey

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/scrypt"

	"github.com/bureau-foundation/acquire/lib/secret"
)

const (
	// KeySize is the master and derived key length in bytes.
	KeySize = 32

	// SaltSize is the scrypt salt length in bytes.
	SaltSize = 16

	// Scrypt cost parameters for passphrase stretching.
	ScryptN = 1 << 15
	ScryptR = 8
	ScryptP = 1
)

// Source identifies where a master key came from. Recorded in the run
// manifest; the key bytes never are.
type Source string

const (
	SourceKeyfile    Source = "keyfile"
	SourcePassphrase Source = "passphrase"
	SourceRandom     Source = "random"
	SourceEscrow     Source = "escrow"
)

// Material is a provisioned master key. Salt is set only for
// passphrase-derived material, so an unseal can re-derive the same
// key; it is safe to persist.
type Material struct {
	Key    *secret.Buffer
	Source Source
	Salt   []byte
}

// Close releases the key memory. Idempotent.
func (m *Material) Close() error {
	if m.Key != nil {
		return m.Key.Close()
	}
	return nil
}

// FromKeyfile loads a master key from a file holding either exactly 32
// raw bytes or 64 hex characters (surrounding whitespace tolerated).
// A 32-byte file is always treated as raw.
func FromKeyfile(path string) (*Material, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("sealkey: reading keyfile: %w", err)
	}
	defer secret.Zero(raw)

	if len(raw) == KeySize {
		key, err := secret.NewFromBytes(raw)
		if err != nil {
			return nil, fmt.Errorf("sealkey: protecting key: %w", err)
		}
		return &Material{Key: key, Source: SourceKeyfile}, nil
	}

	text := bytes.TrimSpace(raw)
	if len(text) == 2*KeySize {
		decoded := make([]byte, KeySize)
		if _, err := hex.Decode(decoded, text); err != nil {
			return nil, fmt.Errorf("sealkey: decoding hex keyfile %s: %w", path, err)
		}
		key, err := secret.NewFromBytes(decoded)
		if err != nil {
			return nil, fmt.Errorf("sealkey: protecting key: %w", err)
		}
		return &Material{Key: key, Source: SourceKeyfile}, nil
	}

	return nil, fmt.Errorf("sealkey: keyfile %s must hold %d raw bytes or %d hex characters, got %d bytes", path, KeySize, 2*KeySize, len(raw))
}

// FromPassphrase stretches a passphrase into a master key with scrypt.
// A nil salt draws a fresh one; pass the persisted salt to re-derive
// the same key for unsealing. The passphrase buffer is borrowed, not
// closed.
func FromPassphrase(passphrase *secret.Buffer, salt []byte) (*Material, error) {
	if salt == nil {
		fresh, err := NewSalt()
		if err != nil {
			return nil, err
		}
		salt = fresh
	}
	if len(salt) != SaltSize {
		return nil, fmt.Errorf("sealkey: salt must be %d bytes, got %d", SaltSize, len(salt))
	}

	derived, err := scrypt.Key(passphrase.Bytes(), salt, ScryptN, ScryptR, ScryptP, KeySize)
	if err != nil {
		return nil, fmt.Errorf("sealkey: stretching passphrase: %w", err)
	}
	key, err := secret.NewFromBytes(derived)
	if err != nil {
		return nil, fmt.Errorf("sealkey: protecting key: %w", err)
	}
	return &Material{Key: key, Source: SourcePassphrase, Salt: salt}, nil
}

// Random draws a fresh master key. Callers must escrow it or the
// sealed artifact is unrecoverable.
func Random() (*Material, error) {
	raw := make([]byte, KeySize)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("sealkey: drawing random key: %w", err)
	}
	key, err := secret.NewFromBytes(raw)
	if err != nil {
		return nil, fmt.Errorf("sealkey: protecting key: %w", err)
	}
	return &Material{Key: key, Source: SourceRandom}, nil
}

// NewSalt draws a fresh scrypt salt.
func NewSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("sealkey: drawing salt: %w", err)
	}
	return salt, nil
}

// Derive separates a per-artifact sealing key from the master with
// HKDF-SHA256. The same material and label always yield the same key;
// distinct labels yield independent keys.
func (m *Material) Derive(label string) (*secret.Buffer, error) {
	if label == "" {
		return nil, fmt.Errorf("sealkey: derivation label must not be empty")
	}
	reader := hkdf.New(sha256.New, m.Key.Bytes(), nil, []byte("sealkey/v1/"+label))
	derived := make([]byte, KeySize)
	if _, err := io.ReadFull(reader, derived); err != nil {
		return nil, fmt.Errorf("sealkey: deriving key for %s: %w", label, err)
	}
	key, err := secret.NewFromBytes(derived)
	if err != nil {
		return nil, fmt.Errorf("sealkey: protecting derived key: %w", err)
	}
	return key, nil
}

// PassphraseFromEnv reads a passphrase from the named environment
// variable. The environment copy cannot be zeroed; prefer a file or
// the interactive prompt where the environment is shared.
func PassphraseFromEnv(name string) (*secret.Buffer, error) {
	value := os.Getenv(name)
	if value == "" {
		return nil, fmt.Errorf("sealkey: environment variable %s is unset or empty", name)
	}
	passphrase, err := secret.NewFromBytes([]byte(value))
	if err != nil {
		return nil, fmt.Errorf("sealkey: protecting passphrase: %w", err)
	}
	return passphrase, nil
}
