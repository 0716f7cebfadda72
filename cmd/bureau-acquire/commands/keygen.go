// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/bureau-foundation/acquire/cmd/bureau-acquire/cli"
	"github.com/bureau-foundation/acquire/lib/sealkey"
)

type keygenParams struct {
	Output string `flag:"output,o" desc:"write the identity to this file (mode 0600) instead of stdout"`
}

func keygenCommand() *cli.Command {
	var params keygenParams

	return &cli.Command{
		Name:    "keygen",
		Summary: "Generate an age escrow keypair",
		Description: `Generate an x25519 keypair for sealing key escrow.

The public key goes into the configuration (seal.escrow_recipients)
or on the run command line; the identity stays with the examiner and
recovers the sealing key from a case's escrow file via
"unseal --escrow-identity".`,
		Usage:  "bureau-acquire keygen [flags]",
		Params: func() any { return &params },
		Run: func(_ context.Context, args []string, _ *slog.Logger) error {
			if len(args) != 0 {
				return fmt.Errorf("keygen takes no arguments")
			}
			keypair, err := sealkey.GenerateKeypair()
			if err != nil {
				return err
			}
			defer keypair.Close()

			content := fmt.Sprintf("# created: %s\n# public key: %s\n%s\n",
				time.Now().UTC().Format(time.RFC3339), keypair.Recipient, keypair.Identity.String())

			if params.Output == "" {
				fmt.Print(content)
				return nil
			}
			if err := os.WriteFile(params.Output, []byte(content), 0o600); err != nil {
				return fmt.Errorf("writing identity file: %w", err)
			}
			fmt.Printf("public key: %s\nidentity written to %s\n", keypair.Recipient, params.Output)
			return nil
		},
		Examples: []cli.Example{
			{
				Description: "Generate an examiner identity file",
				Command:     "bureau-acquire keygen -o examiner.key",
			},
		},
	}
}
