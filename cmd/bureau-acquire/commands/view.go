// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/bureau-foundation/acquire/cmd/bureau-acquire/cli"
	"github.com/bureau-foundation/acquire/lib/acquire"
	"github.com/bureau-foundation/acquire/lib/recordui"
	"github.com/bureau-foundation/acquire/lib/secret"
)

type viewParams struct {
	caseKeyParams
}

func viewCommand() *cli.Command {
	var params viewParams

	return &cli.Command{
		Name:    "view",
		Summary: "Browse a message export in the terminal",
		Description: `Open a message export in an interactive terminal viewer.

A sealed export (.enc) is decrypted in memory; no plaintext touches
disk. The viewer supports fuzzy filtering over message text and phone
numbers, and a detail pane for the selected record.`,
		Usage:  "bureau-acquire view [flags] <export.csv | export.csv.enc>",
		Params: func() any { return &params },
		Run: func(_ context.Context, args []string, _ *slog.Logger) error {
			if len(args) != 1 {
				return fmt.Errorf("view takes exactly one export path")
			}
			path := args[0]

			var (
				records []recordui.Record
				err     error
			)
			if strings.HasSuffix(path, acquire.SealedSuffix) {
				var key *secret.Buffer
				key, _, err = params.unsealKey(path)
				if err != nil {
					return err
				}
				defer key.Close()
				records, err = recordui.LoadSealed(path, key)
			} else {
				records, err = recordui.LoadCSV(path)
			}
			if err != nil {
				return err
			}

			program := tea.NewProgram(recordui.NewModel(records, filepath.Base(path)), tea.WithAltScreen())
			_, err = program.Run()
			return err
		},
		Examples: []cli.Example{
			{
				Description: "View a sealed export without writing plaintext",
				Command:     "bureau-acquire view CASE/sms_messages.csv.enc --passphrase-file ./case.pass",
			},
			{
				Description: "View an already-unsealed export",
				Command:     "bureau-acquire view CASE/sms_messages.csv",
			},
		},
	}
}
