// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/bureau-foundation/acquire/lib/acquire"
	"github.com/bureau-foundation/acquire/lib/manifest"
	"github.com/bureau-foundation/acquire/lib/sealkey"
	"github.com/bureau-foundation/acquire/lib/secret"
)

// keySourceParams is the flag group for choosing where the sealing
// key comes from. The sources are mutually exclusive; with none set,
// the command prompts for a passphrase on the controlling terminal.
type keySourceParams struct {
	KeyFile        string `flag:"key-file" desc:"file holding the 32-byte master key, raw or hex"`
	PassphraseFile string `flag:"passphrase-file" desc:"file holding the sealing passphrase"`
	PassphraseEnv  string `flag:"passphrase-env" desc:"environment variable holding the sealing passphrase"`
}

// caseKeyParams provisions key material for an already-sealed case:
// the key source flags, escrow recovery, and the manifest override.
type caseKeyParams struct {
	keySourceParams
	EscrowIdentity string `flag:"escrow-identity" desc:"age identity file for recovering the key from the case escrow"`
	Manifest       string `flag:"manifest" desc:"case manifest path (default: manifest.cbor beside the sealed file)"`
}

// caseManifest locates and reads the manifest of the case holding
// sealedPath, returning it with the case directory. An explicit
// --manifest path must exist; the implicit sibling manifest.cbor is
// optional, since a sealed file can outlive its case directory.
func (p caseKeyParams) caseManifest(sealedPath string) (*manifest.Manifest, string, error) {
	if p.Manifest != "" {
		m, err := manifest.Read(p.Manifest)
		if err != nil {
			return nil, "", err
		}
		return m, filepath.Dir(p.Manifest), nil
	}
	caseDir := filepath.Dir(sealedPath)
	m, err := manifest.Read(filepath.Join(caseDir, acquire.ManifestFileName))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, caseDir, nil
		}
		return nil, "", err
	}
	return m, caseDir, nil
}

// material provisions the master key for an existing case. Escrow
// recovery and keyfiles stand alone; the passphrase sources need the
// KDF salt recorded in the manifest at sealing time.
func (p caseKeyParams) material(caseDir string, m *manifest.Manifest) (*sealkey.Material, error) {
	if p.EscrowIdentity != "" {
		identity, err := sealkey.IdentityFromFile(p.EscrowIdentity)
		if err != nil {
			return nil, err
		}
		defer identity.Close()
		return sealkey.FromEscrow(filepath.Join(caseDir, acquire.EscrowFileName), identity)
	}
	if p.KeyFile != "" {
		return sealkey.FromKeyfile(p.KeyFile)
	}

	var salt []byte
	if m != nil && m.Seal != nil {
		salt = m.Seal.Salt
	}
	if len(salt) == 0 {
		return nil, fmt.Errorf("no KDF salt on record for this case; passphrase recovery is not possible, use --key-file or --escrow-identity")
	}

	var (
		passphrase *secret.Buffer
		err        error
	)
	switch {
	case p.PassphraseFile != "":
		passphrase, err = secret.ReadFromPath(p.PassphraseFile)
	case p.PassphraseEnv != "":
		passphrase, err = sealkey.PassphraseFromEnv(p.PassphraseEnv)
	default:
		passphrase, err = sealkey.Prompt("Sealing passphrase")
	}
	if err != nil {
		return nil, err
	}
	defer passphrase.Close()
	return sealkey.FromPassphrase(passphrase, salt)
}

// unsealKey provisions the master key for the case containing
// sealedPath and derives the message export key from it. The caller
// must Close the returned key. The manifest is returned for digest
// verification; it is nil when the case has none.
func (p caseKeyParams) unsealKey(sealedPath string) (*secret.Buffer, *manifest.Manifest, error) {
	m, caseDir, err := p.caseManifest(sealedPath)
	if err != nil {
		return nil, nil, err
	}
	material, err := p.material(caseDir, m)
	if err != nil {
		return nil, nil, err
	}
	defer material.Close()

	// The per-artifact derivation label travels in the manifest; a
	// case without one gets the message export default.
	label := acquire.MessagesArtifact
	if m != nil && m.Seal != nil && m.Seal.Derivation != "" {
		label = m.Seal.Derivation
	}
	key, err := material.Derive(label)
	if err != nil {
		return nil, nil, err
	}
	return key, m, nil
}
