// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/bureau-foundation/acquire/cmd/bureau-acquire/cli"
	"github.com/bureau-foundation/acquire/lib/devicelink"
)

type lsParams struct {
	deviceParams
	Long bool `flag:"long,l" desc:"show size and modification time"`
}

func lsCommand() *cli.Command {
	var params lsParams

	return &cli.Command{
		Name:    "ls",
		Summary: "List files on the device",
		Description: `List a path on the device over the file transfer channel.

A directory lists its entries; a file lists itself. With no path, the
device root is listed. Directory names carry a trailing slash.`,
		Usage:  "bureau-acquire ls [flags] [device-path]",
		Params: func() any { return &params },
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) > 1 {
				return fmt.Errorf("ls takes at most one device path")
			}
			target := "/"
			if len(args) == 1 {
				target = args[0]
			}

			session, channel, err := openFileSession(ctx, params.deviceParams, logger)
			if err != nil {
				return err
			}
			defer session.Close()

			info, err := channel.Stat(ctx, target)
			if err != nil {
				return err
			}
			entries := []devicelink.FileInfo{info}
			if info.Dir {
				entries, err = channel.List(ctx, target)
				if err != nil {
					return err
				}
			}
			slices.SortFunc(entries, func(a, b devicelink.FileInfo) int {
				return strings.Compare(a.Name, b.Name)
			})

			writer := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			for _, entry := range entries {
				name := entry.Name
				if entry.Dir {
					name += "/"
				}
				if params.Long {
					fmt.Fprintf(writer, "%d\t%s\t%s\n", entry.Size, entry.ModTime().Format(time.RFC3339), name)
				} else {
					fmt.Fprintf(writer, "%s\n", name)
				}
			}
			return writer.Flush()
		},
		Examples: []cli.Example{
			{
				Description: "List the message store directory",
				Command:     "bureau-acquire ls --device 127.0.0.1:27015 -l /var/mobile/Library/SMS",
			},
			{
				Description: "List the root of a simulated device",
				Command:     "bureau-acquire ls --simulate profiles/handset.jsonc /",
			},
		},
	}
}
