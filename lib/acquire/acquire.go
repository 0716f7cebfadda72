// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package acquire

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/bureau-foundation/acquire/lib/appinventory"
	"github.com/bureau-foundation/acquire/lib/bundle"
	"github.com/bureau-foundation/acquire/lib/clock"
	"github.com/bureau-foundation/acquire/lib/devicelink"
	"github.com/bureau-foundation/acquire/lib/manifest"
	"github.com/bureau-foundation/acquire/lib/messagestore"
	"github.com/bureau-foundation/acquire/lib/report"
	"github.com/bureau-foundation/acquire/lib/seal"
	"github.com/bureau-foundation/acquire/lib/sealkey"
	"github.com/bureau-foundation/acquire/lib/staging"
)

// Artifact names recorded in the manifest.
const (
	MessagesArtifact  = "messages"
	InventoryArtifact = "inventory"
)

// File names inside the case directory.
const (
	MessagesFileName   = "sms_messages.csv"
	InventoryFileName  = "installed_apps.csv"
	ManifestFileName   = "manifest.cbor"
	ReportFileName     = "report.md"
	HTMLReportFileName = "report.html"
	EscrowFileName     = "seal.key.age"

	// SealedSuffix is appended to the message export once sealed.
	SealedSuffix = ".enc"
)

// DefaultMessageStore is the message store path on the device.
const DefaultMessageStore = "/var/mobile/Library/SMS/sms.db"

// SealAlgorithm is recorded in the manifest seal parameters. The seal
// package is the authority; this is its name for the record.
const SealAlgorithm = "aes-256-cbc"

// Config configures one acquisition run. Connector and Key are
// required; everything else has a workable default.
type Config struct {
	// Connector locates and dials the device.
	Connector devicelink.Connector

	// CasePath chooses the case directory for a run, given the
	// device UDID and the session start time. The directory is
	// created if needed. Nil means "<udid>-<timestamp>" under the
	// current directory.
	CasePath func(udid string, startedAt time.Time) string

	// StagingDir is the parent directory for the per-run staging
	// directory holding the raw message store copy. Empty means the
	// system temporary directory. The per-run directory is removed
	// when the run finishes.
	StagingDir string

	// MessageStorePath is the message store path on the device.
	// Empty means DefaultMessageStore.
	MessageStorePath string

	// Key is the provisioned sealing key material. Provisioning
	// policy (prompting, escrow requirements) is the caller's
	// concern; the run only derives and uses keys.
	Key *sealkey.Material

	// EscrowRecipients are age public keys. When non-empty, the key
	// material is escrowed to them in the case directory before any
	// artifact is produced, so a failed run cannot strand sealed
	// output without its key.
	EscrowRecipients []string

	// HTMLReport writes an HTML rendering of the report alongside
	// the markdown.
	HTMLReport bool

	// Bundle archives the finished case directory into a single
	// file written next to it.
	Bundle bool

	// BundleCompression selects the bundle stream compression. The
	// zero value is a plain tar.
	BundleCompression bundle.Compression

	// Clock supplies run timestamps. Defaults to the real clock.
	Clock clock.Clock

	// Logger receives run progress. Defaults to a discard logger.
	Logger *slog.Logger
}

// Result reports where a completed run left its outputs. Artifact
// outcomes, including partial failures, are in the manifest.
type Result struct {
	// CaseDir is the case directory for this run.
	CaseDir string

	// Manifest is the complete run record, as written to disk.
	Manifest *manifest.Manifest

	// ManifestPath is the manifest file inside the case directory.
	ManifestPath string

	// ReportPath is the markdown report inside the case directory.
	ReportPath string

	// HTMLReportPath is set when Config.HTMLReport was requested.
	HTMLReportPath string

	// BundlePath is set when bundling was requested and succeeded.
	BundlePath string
}

// Run performs one acquisition: connect, stage and export the message
// store, seal the export, enumerate installed applications, then
// write the manifest, the report, and optionally a bundle.
//
// Only two classes of failure abort the run with an error: failing to
// establish the device session, and failing to write the run's own
// record on the host. Device-side failures after connect are confined
// to the artifact they affect and recorded in the manifest, so a run
// that could save anything saves it. A bundling failure is logged and
// leaves Result.BundlePath empty; the case directory is already
// complete and self-contained at that point.
func Run(ctx context.Context, cfg Config) (*Result, error) {
	if cfg.Connector == nil {
		return nil, fmt.Errorf("acquire: connector is required")
	}
	if cfg.Key == nil {
		return nil, fmt.Errorf("acquire: sealing key material is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	casePath := cfg.CasePath
	if casePath == nil {
		casePath = defaultCasePath
	}
	storePath := cfg.MessageStorePath
	if storePath == "" {
		storePath = DefaultMessageStore
	}

	startedAt := clk.Now().UTC()

	session, err := devicelink.Connect(ctx, cfg.Connector, devicelink.SessionConfig{Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("acquire: %w", err)
	}
	defer session.Close()

	identity := session.Identity()
	logger.Info("device session established",
		"udid", identity.UDID,
		"device_name", identity.DeviceName,
		"product_version", identity.ProductVersion)

	caseDir := casePath(identity.UDID, startedAt)
	if err := os.MkdirAll(caseDir, 0o755); err != nil {
		return nil, fmt.Errorf("acquire: creating case directory: %w", err)
	}

	m := manifest.New(manifest.Device{
		UDID:           identity.UDID,
		Name:           identity.DeviceName,
		ProductVersion: identity.ProductVersion,
	}, startedAt)

	// Escrow before any artifact exists. A run that dies halfway must
	// not leave sealed output whose key lives only in process memory.
	escrowPath := ""
	if len(cfg.EscrowRecipients) > 0 {
		escrowPath = filepath.Join(caseDir, EscrowFileName)
		if err := sealkey.Escrow(cfg.Key, cfg.EscrowRecipients, escrowPath); err != nil {
			return nil, fmt.Errorf("acquire: %w", err)
		}
		logger.Info("sealing key escrowed",
			"path", escrowPath,
			"recipients", len(cfg.EscrowRecipients))
	}

	stagingRoot := cfg.StagingDir
	if stagingRoot == "" {
		stagingRoot = os.TempDir()
	}
	stagingDir := filepath.Join(stagingRoot, "acquire-"+m.RunID)
	if err := os.MkdirAll(stagingDir, 0o700); err != nil {
		return nil, fmt.Errorf("acquire: creating staging directory: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(stagingDir); err != nil {
			logger.Warn("removing staging directory", "path", stagingDir, "error", err)
		}
	}()

	r := &runner{
		session:    session,
		caseDir:    caseDir,
		stagingDir: stagingDir,
		storePath:  storePath,
		key:        cfg.Key,
		stager:     staging.New(staging.Config{Logger: logger}),
		messages:   messagestore.New(messagestore.Config{Logger: logger}),
		apps:       appinventory.New(appinventory.Config{Logger: logger}),
		sealer:     seal.New(seal.Config{Logger: logger}),
		logger:     logger,
	}

	m.Add(r.exportMessages(ctx))
	m.Add(r.exportInventory(ctx))

	// Teardown before the record is written: the session's channels
	// are part of the run, report generation is not.
	if err := session.Close(); err != nil {
		logger.Warn("closing device session", "error", err)
	}
	m.FinishedAt = clk.Now().UTC()

	m.Seal = &manifest.SealParameters{
		Algorithm:  SealAlgorithm,
		KeySource:  string(cfg.Key.Source),
		Salt:       cfg.Key.Salt,
		Derivation: MessagesArtifact,
		EscrowPath: escrowPath,
	}

	result := &Result{
		CaseDir:      caseDir,
		Manifest:     m,
		ManifestPath: filepath.Join(caseDir, ManifestFileName),
		ReportPath:   filepath.Join(caseDir, ReportFileName),
	}
	if err := manifest.Write(result.ManifestPath, m); err != nil {
		return nil, fmt.Errorf("acquire: %w", err)
	}

	generatedAt := clk.Now().UTC()
	if err := os.WriteFile(result.ReportPath, []byte(report.Text(m, generatedAt)), 0o644); err != nil {
		return nil, fmt.Errorf("acquire: writing report: %w", err)
	}
	if cfg.HTMLReport {
		rendered, err := report.HTML(m, generatedAt)
		if err != nil {
			return nil, fmt.Errorf("acquire: %w", err)
		}
		result.HTMLReportPath = filepath.Join(caseDir, HTMLReportFileName)
		if err := os.WriteFile(result.HTMLReportPath, rendered, 0o644); err != nil {
			return nil, fmt.Errorf("acquire: writing HTML report: %w", err)
		}
	}

	if cfg.Bundle {
		bundlePath := caseDir + cfg.BundleCompression.Extension()
		info, err := bundle.Create(caseDir, bundlePath, bundle.Config{
			Compression: cfg.BundleCompression,
			Logger:      logger,
		})
		if err != nil {
			logger.Warn("bundling case directory", "path", bundlePath, "error", err)
		} else {
			result.BundlePath = info.Path
		}
	}

	produced, skipped := 0, 0
	for _, artifact := range m.Artifacts {
		if artifact.Status == manifest.StatusProduced {
			produced++
		} else {
			skipped++
		}
	}
	logger.Info("acquisition complete",
		"run_id", m.RunID,
		"case_dir", caseDir,
		"produced", produced,
		"skipped", skipped,
		"duration", m.FinishedAt.Sub(m.StartedAt).Round(time.Millisecond))

	return result, nil
}

// defaultCasePath places the case directory in the current directory,
// named by device and session start.
func defaultCasePath(udid string, startedAt time.Time) string {
	return udid + "-" + startedAt.Format("20060102-150405")
}
