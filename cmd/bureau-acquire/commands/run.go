// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/bureau-foundation/acquire/cmd/bureau-acquire/cli"
	"github.com/bureau-foundation/acquire/lib/acquire"
	"github.com/bureau-foundation/acquire/lib/bundle"
	"github.com/bureau-foundation/acquire/lib/config"
	"github.com/bureau-foundation/acquire/lib/manifest"
	"github.com/bureau-foundation/acquire/lib/sealkey"
	"github.com/bureau-foundation/acquire/lib/secret"
)

// runParams collects the run flags. Every flag overrides the
// corresponding configuration field; the configuration file carries
// the durable settings.
type runParams struct {
	deviceParams
	keySourceParams
	OutputDir       string   `flag:"output-dir,o" desc:"directory receiving case directories"`
	MessageStore    string   `flag:"message-store" desc:"message store path on the device"`
	RandomKey       bool     `flag:"random-key" desc:"seal with a fresh random key (escrow required)"`
	EscrowRecipient []string `flag:"escrow-recipient" desc:"age recipient the sealing key is escrowed to (repeatable)"`
	HTMLReport      bool     `flag:"html-report" desc:"also render the report as HTML"`
	Bundle          string   `flag:"bundle" desc:"bundle the finished case directory: none, lz4, or zstd"`
	StagingDir      string   `flag:"staging-dir" desc:"working directory for staged device copies"`
}

func runCommand() *cli.Command {
	var params runParams

	return &cli.Command{
		Name:    "run",
		Summary: "Acquire a device into a sealed case directory",
		Description: `Perform one acquisition run.

The run connects to the device, copies the message store through the
staging area, exports messages and the installed application
inventory to CSV, seals the message export, and writes the manifest
and report into a fresh case directory. Device-side failures after
connect are recorded per artifact in the manifest; the run keeps
whatever it could produce.

The sealing key comes from exactly one source: a key file, a
passphrase (file, environment variable, or interactive prompt), or a
random key escrowed to age recipients. Passphrase-derived keys store
their KDF salt in the manifest so the same passphrase can unseal the
case later.`,
		Usage:  "bureau-acquire run [flags]",
		Params: func() any { return &params },
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) != 0 {
				return fmt.Errorf("run takes no positional arguments")
			}

			cfg, err := params.load()
			if err != nil {
				return err
			}
			params.apply(cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}
			logger = configuredLogger(cfg.Logging)

			if err := cfg.EnsureDirs(); err != nil {
				return err
			}
			conn, err := connector(cfg, logger)
			if err != nil {
				return err
			}

			material, err := sealMaterial(cfg.Seal)
			if err != nil {
				return err
			}
			defer material.Close()

			compression := bundle.CompressionNone
			if cfg.Output.Bundle != "" {
				compression, err = bundle.ParseCompression(cfg.Output.Bundle)
				if err != nil {
					return err
				}
			}

			result, err := acquire.Run(ctx, acquire.Config{
				Connector:         conn,
				CasePath:          cfg.CasePath,
				StagingDir:        cfg.Staging.Dir,
				MessageStorePath:  cfg.Device.MessageStore,
				Key:               material,
				EscrowRecipients:  cfg.Seal.EscrowRecipients,
				HTMLReport:        cfg.Output.HTMLReport,
				Bundle:            cfg.Output.Bundle != "",
				BundleCompression: compression,
				Logger:            logger,
			})
			if err != nil {
				return err
			}

			fmt.Printf("case directory: %s\n", result.CaseDir)
			fmt.Printf("manifest:       %s\n", result.ManifestPath)
			fmt.Printf("report:         %s\n", result.ReportPath)
			if result.HTMLReportPath != "" {
				fmt.Printf("html report:    %s\n", result.HTMLReportPath)
			}
			if result.BundlePath != "" {
				fmt.Printf("bundle:         %s\n", result.BundlePath)
			}
			for _, artifact := range result.Manifest.Artifacts {
				if artifact.Status == manifest.StatusSkipped {
					fmt.Printf("skipped:        %s (%s)\n", artifact.Name, artifact.Reason)
				}
			}
			return nil
		},
		Examples: []cli.Example{
			{
				Description: "Run against a bridged device with a passphrase file",
				Command:     "bureau-acquire run --device 127.0.0.1:27015 --passphrase-file ./case.pass",
			},
			{
				Description: "Random key, escrowed to two examiners, bundled",
				Command:     "bureau-acquire run --random-key --escrow-recipient age1aaa... --escrow-recipient age1bbb... --bundle zstd",
			},
			{
				Description: "Rehearse the pipeline against a simulated device",
				Command:     "bureau-acquire run --simulate profiles/handset.jsonc --key-file ./master.key",
			},
		},
	}
}

// apply copies the run flag overrides onto the resolved configuration.
// A key source flag replaces the whole configured source set, so a
// one-off --key-file run does not collide with a configured
// passphrase file.
func (p runParams) apply(cfg *config.Config) {
	if p.OutputDir != "" {
		cfg.Output.Dir = p.OutputDir
	}
	if p.MessageStore != "" {
		cfg.Device.MessageStore = p.MessageStore
	}
	if p.StagingDir != "" {
		cfg.Staging.Dir = p.StagingDir
	}
	if p.HTMLReport {
		cfg.Output.HTMLReport = true
	}
	if p.Bundle != "" {
		cfg.Output.Bundle = p.Bundle
	}
	if p.KeyFile != "" || p.PassphraseFile != "" || p.PassphraseEnv != "" || p.RandomKey {
		cfg.Seal.KeyFile = p.KeyFile
		cfg.Seal.PassphraseFile = p.PassphraseFile
		cfg.Seal.PassphraseEnv = p.PassphraseEnv
		cfg.Seal.RandomKey = p.RandomKey
	}
	if len(p.EscrowRecipient) > 0 {
		cfg.Seal.EscrowRecipients = p.EscrowRecipient
	}
}

// sealMaterial provisions the sealing key for a new run. Passphrase
// sources draw a fresh KDF salt; the run records it in the manifest.
func sealMaterial(cfg config.SealConfig) (*sealkey.Material, error) {
	passphraseKey := func(passphrase *secret.Buffer, err error) (*sealkey.Material, error) {
		if err != nil {
			return nil, err
		}
		defer passphrase.Close()
		return sealkey.FromPassphrase(passphrase, nil)
	}

	switch {
	case cfg.KeyFile != "":
		return sealkey.FromKeyfile(cfg.KeyFile)
	case cfg.PassphraseFile != "":
		return passphraseKey(secret.ReadFromPath(cfg.PassphraseFile))
	case cfg.PassphraseEnv != "":
		return passphraseKey(sealkey.PassphraseFromEnv(cfg.PassphraseEnv))
	case cfg.RandomKey:
		return sealkey.Random()
	default:
		return passphraseKey(sealkey.Prompt("Sealing passphrase"))
	}
}

// configuredLogger builds the run logger from the logging section.
// The framework's startup logger only covers flag parsing and
// configuration loading; once the configuration is known, it wins.
func configuredLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	options := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, options))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, options))
}
