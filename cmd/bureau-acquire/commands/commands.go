// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bureau-foundation/acquire/cmd/bureau-acquire/cli"
	"github.com/bureau-foundation/acquire/lib/version"
)

// Root builds and returns the complete bureau-acquire command tree.
func Root() *cli.Command {
	return &cli.Command{
		Name: "bureau-acquire",
		Description: `Sealed evidence acquisition for mobile devices.

bureau-acquire connects to a device over its link protocol, exports
the message store and the installed application inventory to CSV,
seals the message export, and records everything in a per-run case
directory: manifest, report, and optionally a single-file bundle.`,
		Subcommands: []*cli.Command{
			runCommand(),
			unsealCommand(),
			viewCommand(),
			manifestCommand(),
			lsCommand(),
			mountCommand(),
			keygenCommand(),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func(_ context.Context, _ []string, _ *slog.Logger) error {
					fmt.Printf("bureau-acquire %s\n", version.Full())
					return nil
				},
			},
		},
		Examples: []cli.Example{
			{
				Description: "Acquire a device exposed by a USB bridge",
				Command:     "bureau-acquire run --device 127.0.0.1:27015 --passphrase-file ./case.pass",
			},
			{
				Description: "Acquire a simulated device profile (no hardware)",
				Command:     "bureau-acquire run --simulate profiles/handset.jsonc --random-key --escrow-recipient age1...",
			},
			{
				Description: "Decrypt the sealed message export and verify it",
				Command:     "bureau-acquire unseal CASE/sms_messages.csv.enc --passphrase-file ./case.pass",
			},
			{
				Description: "Browse sealed messages without writing plaintext",
				Command:     "bureau-acquire view CASE/sms_messages.csv.enc --escrow-identity ./examiner.key",
			},
			{
				Description: "Print a case manifest as JSON",
				Command:     "bureau-acquire manifest CASE/",
			},
			{
				Description: "List a directory on the device",
				Command:     "bureau-acquire ls --device 127.0.0.1:27015 -l /var/mobile/Library/SMS",
			},
			{
				Description: "Mount the device filesystem read-only",
				Command:     "bureau-acquire mount --device 127.0.0.1:27015 /mnt/device",
			},
			{
				Description: "Generate an escrow keypair for an examiner",
				Command:     "bureau-acquire keygen -o examiner.key",
			},
		},
	}
}
