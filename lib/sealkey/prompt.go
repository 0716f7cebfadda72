// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sealkey

import (
	"fmt"
	"os"

	"golang.org/x/term"

	"github.com/bureau-foundation/acquire/lib/secret"
)

// Prompt reads a passphrase interactively with echo disabled. It
// refuses to run when stdin is not a terminal, so scripted runs must
// provision keys through a file, the environment, or escrow.
func Prompt(label string) (*secret.Buffer, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return nil, fmt.Errorf("sealkey: passphrase prompt requires a terminal")
	}

	fmt.Fprintf(os.Stderr, "%s: ", label)
	raw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("sealkey: reading passphrase: %w", err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("sealkey: passphrase is empty")
	}
	passphrase, err := secret.NewFromBytes(raw)
	if err != nil {
		return nil, fmt.Errorf("sealkey: protecting passphrase: %w", err)
	}
	return passphrase, nil
}
