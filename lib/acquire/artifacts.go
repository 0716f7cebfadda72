// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package acquire

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/bureau-foundation/acquire/lib/appinventory"
	"github.com/bureau-foundation/acquire/lib/devicelink"
	"github.com/bureau-foundation/acquire/lib/digest"
	"github.com/bureau-foundation/acquire/lib/manifest"
	"github.com/bureau-foundation/acquire/lib/messagestore"
	"github.com/bureau-foundation/acquire/lib/seal"
	"github.com/bureau-foundation/acquire/lib/sealkey"
	"github.com/bureau-foundation/acquire/lib/staging"
)

// userApplicationType is the install class requested from the
// inventory service: user-installed applications, not system ones.
const userApplicationType = "User"

// runner holds the per-run state the artifact stages share. Stages
// run sequentially on one goroutine and return the artifact record
// for the manifest; they never abort the run.
type runner struct {
	session    *devicelink.Session
	caseDir    string
	stagingDir string
	storePath  string
	key        *sealkey.Material

	stager   *staging.Stager
	messages *messagestore.Extractor
	apps     *appinventory.Extractor
	sealer   *seal.Sealer

	logger *slog.Logger
}

// skip finalizes an artifact that never materialized.
func (r *runner) skip(artifact manifest.Artifact, reason error) manifest.Artifact {
	artifact.Status = manifest.StatusSkipped
	artifact.Reason = reason.Error()
	r.logger.Warn("artifact skipped",
		"artifact", artifact.Name,
		"reason", artifact.Reason)
	return artifact
}

// exportMessages stages the device message store, exports it to CSV,
// and seals the export. Device-side and extraction failures skip the
// artifact; a sealing failure keeps the plaintext CSV as the artifact
// of record.
func (r *runner) exportMessages(ctx context.Context) manifest.Artifact {
	artifact := manifest.Artifact{Name: MessagesArtifact}

	channel, err := r.session.OpenFileTransfer(ctx)
	if err != nil {
		return r.skip(artifact, fmt.Errorf("opening file transfer channel: %w", err))
	}
	defer channel.Close()

	staged, err := r.stager.Stage(ctx, channel, r.storePath, r.stagingDir)
	if err != nil {
		return r.skip(artifact, fmt.Errorf("staging message store: %w", err))
	}
	defer func() {
		if err := staged.Remove(); err != nil {
			r.logger.Warn("removing staged message store", "error", err)
		}
	}()

	csvPath := filepath.Join(r.caseDir, MessagesFileName)
	skippedRecords, err := r.writeMessageCSV(ctx, staged.LocalPath, csvPath)
	if err != nil {
		return r.skip(artifact, err)
	}
	artifact.SkippedRecords = skippedRecords

	key, err := r.key.Derive(MessagesArtifact)
	if err != nil {
		return r.retainPlaintext(artifact, csvPath, err)
	}
	defer key.Close()

	sealed, err := r.sealer.Seal(csvPath, csvPath+SealedSuffix, key)
	if err != nil {
		return r.retainPlaintext(artifact, csvPath, err)
	}

	artifact.Status = manifest.StatusProduced
	artifact.Path = sealed.SealedPath
	artifact.Size = sealed.Size
	artifact.Digest = &sealed.PlaintextDigest
	return artifact
}

// writeMessageCSV runs the extraction query against the staged store
// and writes the canonical CSV export. Returns the count of source
// records skipped as malformed. On any failure the partial CSV is
// removed.
func (r *runner) writeMessageCSV(ctx context.Context, databasePath, csvPath string) (int, error) {
	records, err := r.messages.Extract(ctx, databasePath)
	if err != nil {
		return 0, fmt.Errorf("querying message store: %w", err)
	}
	defer records.Close()

	// 0o600 while plaintext. Sealing replaces the file entirely.
	out, err := os.OpenFile(csvPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return 0, fmt.Errorf("creating %s: %w", csvPath, err)
	}
	success := false
	defer func() {
		if !success {
			out.Close()
			os.Remove(csvPath)
		}
	}()

	exported, err := messagestore.WriteCSV(out, records)
	if err != nil {
		return 0, fmt.Errorf("exporting messages: %w", err)
	}
	if err := out.Close(); err != nil {
		return 0, fmt.Errorf("closing %s: %w", csvPath, err)
	}
	success = true

	r.logger.Info("messages exported",
		"path", csvPath,
		"records", exported,
		"skipped_records", records.Skipped())
	return records.Skipped(), nil
}

// retainPlaintext finalizes the messages artifact after a sealing
// failure. The sealer has removed any partial sealed file and left
// the plaintext intact, so the plaintext CSV becomes the artifact of
// record, flagged in the manifest.
func (r *runner) retainPlaintext(artifact manifest.Artifact, csvPath string, sealErr error) manifest.Artifact {
	artifact.Status = manifest.StatusProduced
	artifact.Path = csvPath
	artifact.Reason = fmt.Sprintf("sealing failed, plaintext retained: %v", sealErr)
	if info, err := os.Stat(csvPath); err == nil {
		artifact.Size = info.Size()
	}
	if d, err := digest.File(csvPath); err == nil {
		artifact.Digest = &d
	}
	r.logger.Error("sealing failed, plaintext retained",
		"path", csvPath,
		"error", sealErr)
	return artifact
}

// exportInventory enumerates user-installed applications and writes
// the inventory CSV. The inventory is metadata, not content; it is
// not sealed.
func (r *runner) exportInventory(ctx context.Context) manifest.Artifact {
	artifact := manifest.Artifact{Name: InventoryArtifact}

	channel, err := r.session.OpenInventory(ctx)
	if err != nil {
		return r.skip(artifact, fmt.Errorf("opening inventory channel: %w", err))
	}
	defer channel.Close()

	listing, err := r.apps.List(ctx, channel, devicelink.BrowseFilter{ApplicationType: userApplicationType})
	if err != nil {
		return r.skip(artifact, fmt.Errorf("browsing installed applications: %w", err))
	}

	csvPath := filepath.Join(r.caseDir, InventoryFileName)
	out, err := os.OpenFile(csvPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return r.skip(artifact, fmt.Errorf("creating %s: %w", csvPath, err))
	}
	success := false
	defer func() {
		if !success {
			out.Close()
			os.Remove(csvPath)
		}
	}()

	exported, err := appinventory.WriteCSV(out, listing)
	if err != nil {
		return r.skip(artifact, fmt.Errorf("exporting inventory: %w", err))
	}
	if err := out.Close(); err != nil {
		return r.skip(artifact, fmt.Errorf("closing %s: %w", csvPath, err))
	}

	info, err := os.Stat(csvPath)
	if err != nil {
		return r.skip(artifact, fmt.Errorf("stat %s: %w", csvPath, err))
	}
	d, err := digest.File(csvPath)
	if err != nil {
		return r.skip(artifact, fmt.Errorf("hashing %s: %w", csvPath, err))
	}
	success = true

	artifact.Status = manifest.StatusProduced
	artifact.Path = csvPath
	artifact.Size = info.Size()
	artifact.Digest = &d
	artifact.SkippedRecords = listing.Dropped

	r.logger.Info("inventory exported",
		"path", csvPath,
		"applications", exported,
		"dropped", listing.Dropped)
	return artifact
}
