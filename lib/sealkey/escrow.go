// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sealkey

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"filippo.io/age"

	"github.com/bureau-foundation/acquire/lib/secret"
)

// Keypair is an age x25519 escrow keypair. The identity is held in
// mmap-backed memory; the recipient string is safe to publish and to
// place in configuration.
type Keypair struct {
	// Identity is the secret key in AGE-SECRET-KEY-1... form. Never
	// log it or pass it on a command line.
	Identity *secret.Buffer

	// Recipient is the corresponding public key in age1... form.
	Recipient string
}

// GenerateKeypair generates a fresh escrow keypair. The caller must
// Close it when done.
func GenerateKeypair() (*Keypair, error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("sealkey: generating escrow keypair: %w", err)
	}

	// Move the identity into protected memory immediately. The
	// transient string is heap-allocated and GC'd; the buffer is the
	// durable copy.
	buffer, err := secret.NewFromBytes([]byte(identity.String()))
	if err != nil {
		return nil, fmt.Errorf("sealkey: protecting escrow identity: %w", err)
	}
	return &Keypair{
		Identity:  buffer,
		Recipient: identity.Recipient().String(),
	}, nil
}

// Close releases the identity memory. Idempotent.
func (k *Keypair) Close() error {
	if k.Identity != nil {
		return k.Identity.Close()
	}
	return nil
}

// ValidateRecipient reports whether key parses as an age x25519
// recipient. Used to check configuration before a run depends on it.
func ValidateRecipient(key string) error {
	if _, err := age.ParseX25519Recipient(key); err != nil {
		return fmt.Errorf("sealkey: invalid escrow recipient: %w", err)
	}
	return nil
}

// Escrow encrypts the master key to the given age recipients and
// writes the ciphertext file at path. At least one recipient is
// required. A failed write leaves no partial file.
func Escrow(material *Material, recipientKeys []string, path string) error {
	if len(recipientKeys) == 0 {
		return fmt.Errorf("sealkey: escrow requires at least one recipient")
	}
	recipients := make([]age.Recipient, 0, len(recipientKeys))
	for _, key := range recipientKeys {
		recipient, err := age.ParseX25519Recipient(key)
		if err != nil {
			return fmt.Errorf("sealkey: parsing escrow recipient %q: %w", key, err)
		}
		recipients = append(recipients, recipient)
	}

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("sealkey: creating escrow file: %w", err)
	}
	success := false
	defer func() {
		if !success {
			file.Close()
			os.Remove(path)
		}
	}()

	writer, err := age.Encrypt(file, recipients...)
	if err != nil {
		return fmt.Errorf("sealkey: starting escrow encryption: %w", err)
	}
	if _, err := writer.Write(material.Key.Bytes()); err != nil {
		return fmt.Errorf("sealkey: writing escrowed key: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("sealkey: finalizing escrow encryption: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("sealkey: closing escrow file: %w", err)
	}
	success = true
	return nil
}

// IdentityFromFile reads an age identity from a keygen-format file:
// blank lines and "#" comment lines are skipped, the first remaining
// line is the identity. A bare single-line file works too. The caller
// must Close the returned buffer.
func IdentityFromFile(path string) (*secret.Buffer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("sealkey: reading identity file: %w", err)
	}
	defer secret.Zero(data)

	for _, line := range bytes.Split(data, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 || line[0] == '#' {
			continue
		}
		buffer, err := secret.NewFromBytes(line)
		if err != nil {
			return nil, fmt.Errorf("sealkey: protecting identity: %w", err)
		}
		return buffer, nil
	}
	return nil, fmt.Errorf("sealkey: identity file %s holds no identity line", path)
}

// FromEscrow recovers a master key from an escrow file using one of
// the recipient identities. The identity buffer is borrowed, not
// closed.
func FromEscrow(path string, identity *secret.Buffer) (*Material, error) {
	parsed, err := age.ParseX25519Identity(identity.String())
	if err != nil {
		return nil, fmt.Errorf("sealkey: parsing escrow identity: %w", err)
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("sealkey: opening escrow file: %w", err)
	}
	defer file.Close()

	reader, err := age.Decrypt(file, parsed)
	if err != nil {
		return nil, fmt.Errorf("sealkey: decrypting escrow file %s: %w", path, err)
	}
	raw, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("sealkey: reading escrowed key: %w", err)
	}
	if len(raw) != KeySize {
		secret.Zero(raw)
		return nil, fmt.Errorf("sealkey: escrow file %s holds %d bytes, want %d", path, len(raw), KeySize)
	}
	key, err := secret.NewFromBytes(raw)
	if err != nil {
		return nil, fmt.Errorf("sealkey: protecting recovered key: %w", err)
	}
	return &Material{Key: key, Source: SourceEscrow}, nil
}
