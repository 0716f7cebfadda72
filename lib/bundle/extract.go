// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bundle

import (
	"archive/tar"
	"bufio"
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Stream compression frame magics. A plain tar file starts with a
// file name, so anything else falls through to the tar reader.
var (
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
	lz4Magic  = []byte{0x04, 0x22, 0x4d, 0x18}
)

// Extract unpacks the bundle at bundlePath into dir, creating it if
// needed. The compression is sniffed from the bundle's leading bytes.
// Entries that would escape dir, or that are not regular files or
// directories, abort the extraction.
func Extract(bundlePath, dir string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	bundle, err := os.Open(bundlePath)
	if err != nil {
		return fmt.Errorf("bundle: opening %s: %w", bundlePath, err)
	}
	defer bundle.Close()

	buffered := bufio.NewReader(bundle)
	stream, compression, err := newDecompressor(buffered)
	if err != nil {
		return fmt.Errorf("bundle: reading %s: %w", bundlePath, err)
	}
	defer stream.Close()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("bundle: creating %s: %w", dir, err)
	}

	archive := tar.NewReader(stream)
	files := 0
	for {
		header, err := archive.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("bundle: reading archive: %w", err)
		}

		name := filepath.FromSlash(header.Name)
		if !filepath.IsLocal(name) {
			return fmt.Errorf("bundle: entry %q escapes the target directory", header.Name)
		}
		target := filepath.Join(dir, name)

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, fs.FileMode(header.Mode)&0o777); err != nil {
				return fmt.Errorf("bundle: creating %s: %w", target, err)
			}

		case tar.TypeReg:
			if err := writeEntry(target, archive, header); err != nil {
				return err
			}
			files++
			logger.Debug("extracted file", "name", header.Name, "bytes", header.Size)

		default:
			return fmt.Errorf("bundle: entry %q has unsupported type %v", header.Name, header.Typeflag)
		}
	}

	logger.Info("extracted bundle",
		"bundle", bundlePath,
		"dir", dir,
		"compression", string(compression),
		"files", files,
	)
	return nil
}

func newDecompressor(buffered *bufio.Reader) (io.ReadCloser, Compression, error) {
	head, err := buffered.Peek(4)
	if err != nil && err != io.EOF {
		return nil, "", err
	}

	switch {
	case bytes.Equal(head, zstdMagic):
		decoder, err := zstd.NewReader(buffered)
		if err != nil {
			return nil, "", fmt.Errorf("initializing zstd: %w", err)
		}
		// IOReadCloser routes Close to the decoder, releasing its
		// worker goroutines.
		return decoder.IOReadCloser(), CompressionZstd, nil
	case bytes.Equal(head, lz4Magic):
		return io.NopCloser(lz4.NewReader(buffered)), CompressionLZ4, nil
	default:
		return io.NopCloser(buffered), CompressionNone, nil
	}
}

func writeEntry(target string, archive *tar.Reader, header *tar.Header) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("bundle: creating parent of %s: %w", target, err)
	}
	mode := fs.FileMode(header.Mode) & 0o777
	if mode == 0 {
		mode = 0o644
	}
	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("bundle: creating %s: %w", target, err)
	}
	if _, err := io.Copy(out, archive); err != nil {
		out.Close()
		return fmt.Errorf("bundle: extracting %s: %w", header.Name, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("bundle: closing %s: %w", target, err)
	}
	if !header.ModTime.IsZero() {
		if err := os.Chtimes(target, header.ModTime, header.ModTime); err != nil {
			return fmt.Errorf("bundle: restoring times on %s: %w", target, err)
		}
	}
	return nil
}
