// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/bureau-foundation/acquire/cmd/bureau-acquire/cli"
	"github.com/bureau-foundation/acquire/lib/acquire"
	"github.com/bureau-foundation/acquire/lib/manifest"
)

func manifestCommand() *cli.Command {
	return &cli.Command{
		Name:    "manifest",
		Summary: "Print a case manifest as JSON",
		Description: `Decode a case manifest and print it as indented JSON.

The argument is either a manifest file or a case directory, in which
case the manifest.cbor inside it is read.`,
		Usage: "bureau-acquire manifest <case-dir | manifest.cbor>",
		Run: func(_ context.Context, args []string, _ *slog.Logger) error {
			if len(args) != 1 {
				return fmt.Errorf("manifest takes exactly one case directory or manifest path")
			}
			path := args[0]
			if info, err := os.Stat(path); err == nil && info.IsDir() {
				path = filepath.Join(path, acquire.ManifestFileName)
			}

			m, err := manifest.Read(path)
			if err != nil {
				return err
			}
			data, err := m.JSON()
			if err != nil {
				return err
			}
			fmt.Printf("%s\n", data)
			return nil
		},
		Examples: []cli.Example{
			{
				Description: "Print the manifest of a case directory",
				Command:     "bureau-acquire manifest ./00008110-000A1D0A1E800-20260825-101500",
			},
			{
				Description: "Pipe artifact digests into jq",
				Command:     "bureau-acquire manifest CASE/ | jq '.artifacts[] | {name, digest}'",
			},
		},
	}
}
