// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/bureau-foundation/acquire/cmd/bureau-acquire/cli"
	"github.com/bureau-foundation/acquire/lib/acquire"
	"github.com/bureau-foundation/acquire/lib/digest"
	"github.com/bureau-foundation/acquire/lib/seal"
)

type unsealParams struct {
	caseKeyParams
	Output string `flag:"output,o" desc:"plaintext output path (default: the sealed path without its .enc suffix)"`
}

func unsealCommand() *cli.Command {
	var params unsealParams

	return &cli.Command{
		Name:    "unseal",
		Summary: "Decrypt a sealed artifact and verify its digest",
		Description: `Decrypt a sealed artifact back to plaintext.

The key is provisioned the same way the run sealed it: from a key
file, from a passphrase stretched with the KDF salt recorded in the
case manifest, or by recovering the escrowed key with an age
identity. When the manifest records a digest for the artifact, the
decrypted plaintext is verified against it; a mismatch leaves the
plaintext in place for inspection and exits non-zero.`,
		Usage:  "bureau-acquire unseal [flags] <sealed-file>",
		Params: func() any { return &params },
		Run: func(_ context.Context, args []string, logger *slog.Logger) error {
			if len(args) != 1 {
				return fmt.Errorf("unseal takes exactly one sealed file argument")
			}
			sealedPath := args[0]

			outPath := params.Output
			if outPath == "" {
				outPath = strings.TrimSuffix(sealedPath, acquire.SealedSuffix)
				if outPath == sealedPath {
					return fmt.Errorf("%s has no %s suffix, pass --output", sealedPath, acquire.SealedSuffix)
				}
			}

			key, m, err := params.unsealKey(sealedPath)
			if err != nil {
				return err
			}
			defer key.Close()

			artifact, err := seal.New(seal.Config{Logger: logger}).Unseal(sealedPath, outPath, key)
			if err != nil {
				return err
			}
			fmt.Printf("unsealed: %s (%d bytes)\n", artifact.PlaintextPath, artifact.Size)

			if m == nil {
				fmt.Println("no case manifest found, digest not verified")
				return nil
			}
			recorded := m.Artifact(acquire.MessagesArtifact)
			if recorded == nil || recorded.Digest == nil {
				fmt.Println("manifest records no digest for this artifact")
				return nil
			}
			if *recorded.Digest != artifact.PlaintextDigest {
				fmt.Fprintf(os.Stderr, "digest mismatch for %s\n  manifest: %s\n  computed: %s\n",
					artifact.PlaintextPath,
					digest.Format(*recorded.Digest),
					digest.Format(artifact.PlaintextDigest))
				return &cli.ExitError{Code: 1}
			}
			fmt.Printf("digest verified: %s\n", digest.Format(artifact.PlaintextDigest))
			return nil
		},
		Examples: []cli.Example{
			{
				Description: "Unseal with the original passphrase",
				Command:     "bureau-acquire unseal CASE/sms_messages.csv.enc --passphrase-file ./case.pass",
			},
			{
				Description: "Recover through the escrow with an examiner identity",
				Command:     "bureau-acquire unseal CASE/sms_messages.csv.enc --escrow-identity examiner.key",
			},
			{
				Description: "Unseal to an explicit path, manifest elsewhere",
				Command:     "bureau-acquire unseal export.enc --manifest CASE/manifest.cbor -o /tmp/messages.csv",
			},
		},
	}
}
