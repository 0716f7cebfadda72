// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bureau-foundation/acquire/cmd/bureau-acquire/cli"
	"github.com/bureau-foundation/acquire/lib/devicefs"
)

type mountParams struct {
	deviceParams
	Root       string `flag:"root" desc:"device directory exposed as the mount root (default: /)"`
	AllowOther bool   `flag:"allow-other" desc:"allow other local users to read the mount"`
}

func mountCommand() *cli.Command {
	var params mountParams

	return &cli.Command{
		Name:    "mount",
		Summary: "Mount the device filesystem read-only over FUSE",
		Description: `Expose the device's file tree as a local read-only filesystem.

Every read goes through the device's file transfer channel; nothing
is copied ahead of time. The mount serves until interrupted or
unmounted externally, then the device session is closed.`,
		Usage:  "bureau-acquire mount [flags] <mountpoint>",
		Params: func() any { return &params },
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) != 1 {
				return fmt.Errorf("mount takes exactly one mountpoint argument")
			}
			mountpoint := args[0]

			session, channel, err := openFileSession(ctx, params.deviceParams, logger)
			if err != nil {
				return err
			}
			defer session.Close()

			server, err := devicefs.Mount(ctx, devicefs.Options{
				Mountpoint: mountpoint,
				Conn:       channel,
				Root:       params.Root,
				AllowOther: params.AllowOther,
				Logger:     logger,
			})
			if err != nil {
				return err
			}
			fmt.Printf("mounted %s at %s (interrupt to unmount)\n", session.DeviceID(), mountpoint)

			// Serve until the context is cancelled or the mount ends on
			// its own (an external fusermount -u).
			served := make(chan struct{})
			go func() {
				server.Wait()
				close(served)
			}()
			select {
			case <-ctx.Done():
				if err := server.Unmount(); err != nil {
					return fmt.Errorf("unmounting %s: %w", mountpoint, err)
				}
				<-served
			case <-served:
			}
			return nil
		},
		Examples: []cli.Example{
			{
				Description: "Mount a bridged device",
				Command:     "bureau-acquire mount --device 127.0.0.1:27015 /mnt/device",
			},
			{
				Description: "Mount only the SMS directory of a simulated device",
				Command:     "bureau-acquire mount --simulate profiles/handset.jsonc --root /var/mobile/Library/SMS /tmp/sms",
			},
		},
	}
}
