// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/bureau-foundation/acquire/lib/codec"
	"github.com/bureau-foundation/acquire/lib/digest"
)

// FormatVersion is the manifest schema version.
const FormatVersion = 1

// Device identifies the acquired device. Only the UDID is guaranteed;
// the rest is best-effort handshake enrichment.
type Device struct {
	UDID           string `cbor:"udid" json:"udid"`
	Name           string `cbor:"name,omitempty" json:"name,omitempty"`
	ProductVersion string `cbor:"product_version,omitempty" json:"product_version,omitempty"`
}

// Status of one artifact at the end of the run.
type Status string

const (
	StatusProduced Status = "produced"
	StatusSkipped  Status = "skipped"
)

// Artifact is the outcome record for one output. Digest and Size
// describe the plaintext content even when the artifact on disk is
// sealed, so unseal can verify the recovered bytes.
type Artifact struct {
	Name           string         `cbor:"name" json:"name"`
	Status         Status         `cbor:"status" json:"status"`
	Reason         string         `cbor:"reason,omitempty" json:"reason,omitempty"`
	Path           string         `cbor:"path,omitempty" json:"path,omitempty"`
	Size           int64          `cbor:"size,omitempty" json:"size,omitempty"`
	Digest         *digest.Digest `cbor:"digest,omitempty" json:"digest,omitempty"`
	SkippedRecords int            `cbor:"skipped_records,omitempty" json:"skipped_records,omitempty"`
}

// SealParameters describes how the sealing key was provisioned, in
// enough detail to re-derive it. Never holds key bytes.
type SealParameters struct {
	Algorithm  string `cbor:"algorithm" json:"algorithm"`
	KeySource  string `cbor:"key_source" json:"key_source"`
	Salt       []byte `cbor:"salt,omitempty" json:"salt,omitempty"`
	Derivation string `cbor:"derivation,omitempty" json:"derivation,omitempty"`
	EscrowPath string `cbor:"escrow_path,omitempty" json:"escrow_path,omitempty"`
}

// Manifest is the complete record of one acquisition run.
type Manifest struct {
	Version    int             `cbor:"version" json:"version"`
	RunID      string          `cbor:"run_id" json:"run_id"`
	Device     Device          `cbor:"device" json:"device"`
	StartedAt  time.Time       `cbor:"started_at" json:"started_at"`
	FinishedAt time.Time       `cbor:"finished_at" json:"finished_at"`
	Artifacts  []Artifact      `cbor:"artifacts" json:"artifacts"`
	Seal       *SealParameters `cbor:"seal,omitempty" json:"seal,omitempty"`
}

// New starts a manifest for a run beginning now.
func New(device Device, now time.Time) *Manifest {
	return &Manifest{
		Version:   FormatVersion,
		RunID:     uuid.NewString(),
		Device:    device,
		StartedAt: now,
	}
}

// Add appends an artifact record.
func (m *Manifest) Add(artifact Artifact) {
	m.Artifacts = append(m.Artifacts, artifact)
}

// Artifact returns the named artifact record, or nil.
func (m *Manifest) Artifact(name string) *Artifact {
	for i := range m.Artifacts {
		if m.Artifacts[i].Name == name {
			return &m.Artifacts[i]
		}
	}
	return nil
}

// Write encodes the manifest and writes it atomically: a temp file in
// the same directory, renamed over the target.
func Write(path string, m *Manifest) error {
	data, err := codec.Marshal(m)
	if err != nil {
		return fmt.Errorf("manifest: encoding: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".manifest-*")
	if err != nil {
		return fmt.Errorf("manifest: creating temp file: %w", err)
	}
	success := false
	defer func() {
		if !success {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()
	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("manifest: writing %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("manifest: closing %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("manifest: renaming into place: %w", err)
	}
	success = true
	return nil
}

// Read loads and validates a manifest file.
func Read(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("manifest: reading %s: %w", path, err)
	}
	var m Manifest
	if err := codec.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("manifest: decoding %s: %w", path, err)
	}
	if m.Version < 1 || m.Version > FormatVersion {
		return nil, fmt.Errorf("manifest: unsupported version %d in %s", m.Version, path)
	}
	return &m, nil
}

// JSON renders the manifest as indented JSON for human inspection.
func (m *Manifest) JSON() ([]byte, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("manifest: rendering JSON: %w", err)
	}
	return data, nil
}
