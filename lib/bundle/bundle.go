// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bundle

import (
	"archive/tar"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/bureau-foundation/acquire/lib/digest"
)

// Compression selects the stream compression applied around the tar
// archive.
type Compression string

const (
	// CompressionNone writes a plain tar file. Appropriate when the
	// bulk of the case directory is sealed ciphertext, which does not
	// compress.
	CompressionNone Compression = "none"

	// CompressionLZ4 wraps the archive in an lz4 frame. Fast with a
	// modest ratio.
	CompressionLZ4 Compression = "lz4"

	// CompressionZstd wraps the archive in a zstd stream at the
	// default level. Better ratios for the text artifacts (CSV,
	// report) in an unsealed case directory.
	CompressionZstd Compression = "zstd"
)

// ParseCompression parses a compression name from configuration.
func ParseCompression(name string) (Compression, error) {
	switch Compression(name) {
	case CompressionNone, CompressionLZ4, CompressionZstd:
		return Compression(name), nil
	default:
		return "", fmt.Errorf("bundle: unknown compression %q", name)
	}
}

// Extension returns the conventional file suffix for a bundle using
// this compression.
func (c Compression) Extension() string {
	switch c {
	case CompressionLZ4:
		return ".tar.lz4"
	case CompressionZstd:
		return ".tar.zst"
	default:
		return ".tar"
	}
}

// Config controls bundle creation.
type Config struct {
	// Compression applied around the archive. Defaults to
	// CompressionNone.
	Compression Compression

	// Logger receives progress events. Defaults to a discard logger.
	Logger *slog.Logger
}

// Info describes a bundle that Create wrote.
type Info struct {
	// Path of the bundle file.
	Path string

	// Compression used.
	Compression Compression

	// Size of the bundle file in bytes.
	Size int64

	// Files is the number of regular files archived.
	Files int

	// Digest of the bundle file bytes.
	Digest digest.Digest
}

// Create archives the contents of dir into a bundle at outPath. Entry
// names are slash-separated paths relative to dir, in lexical order.
// Ownership fields are zeroed; modes and modification times are
// preserved. On any failure the partial bundle file is removed.
func Create(dir, outPath string, cfg Config) (*Info, error) {
	if cfg.Compression == "" {
		cfg.Compression = CompressionNone
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	if err := checkOutsideSource(dir, outPath); err != nil {
		return nil, err
	}

	out, err := os.OpenFile(outPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("bundle: creating %s: %w", outPath, err)
	}
	success := false
	defer func() {
		if !success {
			out.Close()
			os.Remove(outPath)
		}
	}()

	hasher := digest.NewHasher()
	sink := io.MultiWriter(out, hasher)

	compressor, err := newCompressor(sink, cfg.Compression)
	if err != nil {
		return nil, err
	}

	archive := tar.NewWriter(compressor)
	files, err := archiveTree(archive, dir, logger)
	if err != nil {
		return nil, err
	}

	// Close order matters: the tar footer must pass through the
	// compressor, and the compressor's own footer must reach the file
	// before it is closed.
	if err := archive.Close(); err != nil {
		return nil, fmt.Errorf("bundle: finishing archive: %w", err)
	}
	if err := compressor.Close(); err != nil {
		return nil, fmt.Errorf("bundle: finishing compression: %w", err)
	}
	if err := out.Close(); err != nil {
		return nil, fmt.Errorf("bundle: closing %s: %w", outPath, err)
	}
	success = true

	stat, err := os.Stat(outPath)
	if err != nil {
		return nil, fmt.Errorf("bundle: reading bundle size: %w", err)
	}

	info := &Info{
		Path:        outPath,
		Compression: cfg.Compression,
		Size:        stat.Size(),
		Files:       files,
		Digest:      hasher.Sum(),
	}
	logger.Info("bundled case directory",
		"dir", dir,
		"bundle", outPath,
		"compression", string(cfg.Compression),
		"files", files,
		"bytes", info.Size,
	)
	return info, nil
}

// nopWriteCloser adapts the uncompressed path to the compressor
// interface. Closing it must not close the underlying file, whose
// close error Create checks separately.
type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

func newCompressor(sink io.Writer, compression Compression) (io.WriteCloser, error) {
	switch compression {
	case CompressionNone:
		return nopWriteCloser{sink}, nil
	case CompressionLZ4:
		return lz4.NewWriter(sink), nil
	case CompressionZstd:
		encoder, err := zstd.NewWriter(sink, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, fmt.Errorf("bundle: initializing zstd: %w", err)
		}
		return encoder, nil
	default:
		return nil, fmt.Errorf("bundle: unknown compression %q", compression)
	}
}

func archiveTree(archive *tar.Writer, dir string, logger *slog.Logger) (int, error) {
	files := 0
	err := filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("walking %s: %w", path, err)
		}
		relative, err := filepath.Rel(dir, path)
		if err != nil {
			return fmt.Errorf("resolving %s: %w", path, err)
		}
		if relative == "." {
			return nil
		}
		if !entry.Type().IsRegular() && !entry.IsDir() {
			return fmt.Errorf("archiving %s: unsupported file type %v", path, entry.Type())
		}

		stat, err := entry.Info()
		if err != nil {
			return fmt.Errorf("inspecting %s: %w", path, err)
		}
		header, err := tar.FileInfoHeader(stat, "")
		if err != nil {
			return fmt.Errorf("describing %s: %w", path, err)
		}
		header.Name = filepath.ToSlash(relative)
		if entry.IsDir() {
			header.Name += "/"
		}
		header.Uid = 0
		header.Gid = 0
		header.Uname = ""
		header.Gname = ""

		if err := archive.WriteHeader(header); err != nil {
			return fmt.Errorf("writing header for %s: %w", header.Name, err)
		}
		if entry.IsDir() {
			return nil
		}

		source, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("opening %s: %w", path, err)
		}
		defer source.Close()
		if _, err := io.Copy(archive, source); err != nil {
			return fmt.Errorf("archiving %s: %w", path, err)
		}
		files++
		logger.Debug("archived file", "name", header.Name, "bytes", header.Size)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("bundle: %w", err)
	}
	return files, nil
}

// checkOutsideSource rejects an output path inside the directory being
// archived, which would make the walk read the half-written bundle.
func checkOutsideSource(dir, outPath string) error {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("bundle: resolving %s: %w", dir, err)
	}
	absOut, err := filepath.Abs(outPath)
	if err != nil {
		return fmt.Errorf("bundle: resolving %s: %w", outPath, err)
	}
	if absOut == absDir || strings.HasPrefix(absOut, absDir+string(filepath.Separator)) {
		return fmt.Errorf("bundle: output %s is inside source directory %s", outPath, dir)
	}
	return nil
}
