// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package staging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"

	"github.com/bureau-foundation/acquire/lib/devicelink"
	"github.com/bureau-foundation/acquire/lib/digest"
)

// chunkSize is the transfer granularity. Each remote read requests at
// most this many bytes; the value is internal tuning, not part of the
// transfer contract.
const chunkSize = 64 * 1024

// TransferKind classifies a failed transfer.
type TransferKind string

const (
	// TransferNotFound: the remote path does not exist.
	TransferNotFound TransferKind = "not-found"
	// TransferPermission: the device denied access to the remote path.
	TransferPermission TransferKind = "permission"
	// TransferIO: anything else, such as device read failures, local
	// write failures, or a severed channel.
	TransferIO TransferKind = "io"
)

// TransferError reports a failed staging transfer. By the time a
// caller sees one, any partial local file has been removed.
type TransferError struct {
	// Kind classifies the failure.
	Kind TransferKind
	// RemotePath is the device path whose transfer failed.
	RemotePath string
	// Err is the underlying cause.
	Err error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("staging: transferring %s (%s): %v", e.RemotePath, e.Kind, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// classify maps a devicelink failure to its transfer kind.
func classify(err error) TransferKind {
	switch {
	case errors.Is(err, devicelink.ErrNotFound):
		return TransferNotFound
	case errors.Is(err, devicelink.ErrPermission):
		return TransferPermission
	default:
		return TransferIO
	}
}

// StagedFile describes a completed transfer.
type StagedFile struct {
	// RemotePath is the source path on the device.
	RemotePath string
	// LocalPath is the staging copy.
	LocalPath string
	// Size is the number of bytes transferred.
	Size int64
	// Digest is the BLAKE3 digest of the staged content, computed
	// during the copy.
	Digest digest.Digest
}

// Remove deletes the local staging copy. Removing an already-removed
// file is a no-op, so cleanup paths can call it unconditionally.
func (f *StagedFile) Remove() error {
	if err := os.Remove(f.LocalPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing staged file %s: %w", f.LocalPath, err)
	}
	return nil
}

// Config configures a Stager.
type Config struct {
	// Logger for transfer progress. Defaults to a discard logger.
	Logger *slog.Logger
}

// Stager copies remote files into staging directories.
type Stager struct {
	logger *slog.Logger
}

// New returns a Stager.
func New(config Config) *Stager {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Stager{logger: logger}
}

// Stage copies the remote file into stagingDir under its base name,
// truncating any previous copy. The staging directory is created if
// needed, private to the owner: staged device data is plaintext until
// sealing.
//
// On failure the partial local file is removed and the returned error
// is a *TransferError.
func (s *Stager) Stage(ctx context.Context, conn devicelink.FileConn, remotePath, stagingDir string) (*StagedFile, error) {
	reader, err := conn.Open(ctx, remotePath)
	if err != nil {
		return nil, &TransferError{Kind: classify(err), RemotePath: remotePath, Err: err}
	}
	defer reader.Close()

	if err := os.MkdirAll(stagingDir, 0o700); err != nil {
		return nil, &TransferError{Kind: TransferIO, RemotePath: remotePath, Err: fmt.Errorf("creating staging directory: %w", err)}
	}

	localPath := filepath.Join(stagingDir, path.Base(remotePath))
	local, err := os.OpenFile(localPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, &TransferError{Kind: TransferIO, RemotePath: remotePath, Err: fmt.Errorf("creating staging file: %w", err)}
	}

	success := false
	defer func() {
		if !success {
			local.Close()
			os.Remove(localPath)
		}
	}()

	hasher := digest.NewHasher()
	written, err := io.CopyBuffer(io.MultiWriter(local, hasher), reader, make([]byte, chunkSize))
	if err != nil {
		return nil, &TransferError{Kind: classify(err), RemotePath: remotePath, Err: err}
	}
	if err := local.Close(); err != nil {
		return nil, &TransferError{Kind: TransferIO, RemotePath: remotePath, Err: fmt.Errorf("closing staging file: %w", err)}
	}
	success = true

	staged := &StagedFile{
		RemotePath: remotePath,
		LocalPath:  localPath,
		Size:       written,
		Digest:     hasher.Sum(),
	}
	s.logger.Info("staged remote file",
		"remote", remotePath,
		"local", localPath,
		"bytes", written,
		"digest", digest.Format(staged.Digest),
	)
	return staged, nil
}
