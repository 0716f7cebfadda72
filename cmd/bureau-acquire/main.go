// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/bureau-foundation/acquire/cmd/bureau-acquire/commands"
	"github.com/bureau-foundation/acquire/lib/process"
)

func main() {
	if err := run(); err != nil {
		// Commands that print their own diagnostics (like unseal on a
		// digest mismatch) return an ExitError with the desired code.
		// Don't print a redundant "error:" line for those.
		if coder, ok := err.(interface{ ExitCode() int }); ok {
			os.Exit(coder.ExitCode())
		}
		process.Fatal(err)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return commands.Root().Execute(ctx, os.Args[1:])
}
