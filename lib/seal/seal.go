// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package seal

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/bureau-foundation/acquire/lib/digest"
	"github.com/bureau-foundation/acquire/lib/secret"
)

const (
	// FormatVersion is written as the first byte of every sealed file.
	FormatVersion = 0x01

	// KeySize is the required key length in bytes (AES-256).
	KeySize = 32

	// headerSize is the sealed container header: one version byte
	// followed by the IV.
	headerSize = 1 + aes.BlockSize

	// chunkSize bounds the streaming buffer. Must be a multiple of
	// the cipher block size.
	chunkSize = 64 * 1024
)

// Operation labels for SealError.Op.
const (
	OpIO     = "io"
	OpCipher = "cipher"
)

// SealError describes a failed seal or unseal operation. Op is OpIO
// for file-system failures and OpCipher for key, entropy, or container
// format failures.
type SealError struct {
	Op   string
	Path string
	Err  error
}

func (e *SealError) Error() string {
	return fmt.Sprintf("seal: %s failure on %s: %v", e.Op, e.Path, e.Err)
}

func (e *SealError) Unwrap() error { return e.Err }

// Artifact describes one completed seal or unseal operation. Size and
// PlaintextDigest always refer to the plaintext side, so a seal and
// the unseal that reverses it report identical values.
type Artifact struct {
	PlaintextPath   string
	SealedPath      string
	Size            int64
	PlaintextDigest digest.Digest
}

// Config configures a Sealer.
type Config struct {
	// Logger receives artifact lifecycle events. Key material is
	// never logged. Defaults to a discard logger.
	Logger *slog.Logger
}

// Sealer seals and unseals artifacts.
type Sealer struct {
	logger *slog.Logger
}

// New constructs a Sealer.
func New(config Config) *Sealer {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Sealer{logger: logger}
}

// checkKey validates the key length. The path is whichever file the
// caller was operating on, for error context.
func checkKey(key *secret.Buffer, path string) error {
	if length := key.Len(); length != KeySize {
		return &SealError{Op: OpCipher, Path: path, Err: fmt.Errorf("sealing key must be %d bytes, got %d", KeySize, length)}
	}
	return nil
}

// Seal encrypts the plaintext file into sealedPath and removes the
// plaintext. On any failure the partial sealed file is removed, the
// plaintext is left intact, and the returned error is a *SealError.
func (s *Sealer) Seal(plaintextPath, sealedPath string, key *secret.Buffer) (*Artifact, error) {
	if err := checkKey(key, sealedPath); err != nil {
		return nil, err
	}

	plaintext, err := os.Open(plaintextPath)
	if err != nil {
		return nil, &SealError{Op: OpIO, Path: plaintextPath, Err: err}
	}
	defer plaintext.Close()

	sealed, err := os.OpenFile(sealedPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, &SealError{Op: OpIO, Path: sealedPath, Err: err}
	}
	success := false
	defer func() {
		if !success {
			sealed.Close()
			os.Remove(sealedPath)
		}
	}()

	blockCipher, err := aes.NewCipher(key.Bytes())
	if err != nil {
		return nil, &SealError{Op: OpCipher, Path: sealedPath, Err: err}
	}
	header := make([]byte, headerSize)
	header[0] = FormatVersion
	iv := header[1:]
	if _, err := rand.Read(iv); err != nil {
		return nil, &SealError{Op: OpCipher, Path: sealedPath, Err: fmt.Errorf("drawing IV: %w", err)}
	}
	if _, err := sealed.Write(header); err != nil {
		return nil, &SealError{Op: OpIO, Path: sealedPath, Err: err}
	}

	size, plaintextDigest, err := encryptStream(cipher.NewCBCEncrypter(blockCipher, iv), plaintext, plaintextPath, sealed, sealedPath)
	if err != nil {
		return nil, err
	}

	// Close before declaring success so write-back failures still
	// trigger cleanup.
	if err := sealed.Close(); err != nil {
		return nil, &SealError{Op: OpIO, Path: sealedPath, Err: err}
	}
	plaintext.Close()
	if err := os.Remove(plaintextPath); err != nil {
		return nil, &SealError{Op: OpIO, Path: plaintextPath, Err: fmt.Errorf("retiring plaintext: %w", err)}
	}
	success = true

	artifact := &Artifact{
		PlaintextPath:   plaintextPath,
		SealedPath:      sealedPath,
		Size:            size,
		PlaintextDigest: plaintextDigest,
	}
	s.logger.Info("sealed artifact",
		"plaintext", plaintextPath,
		"sealed", sealedPath,
		"bytes", size,
		"digest", digest.Format(plaintextDigest),
	)
	return artifact, nil
}

// encryptStream pumps the plaintext through the CBC mode in bounded
// chunks and appends the PKCS#7 terminator block. Returns the
// plaintext byte count and digest.
func encryptStream(mode cipher.BlockMode, plaintext io.Reader, plaintextPath string, sealed io.Writer, sealedPath string) (int64, digest.Digest, error) {
	hasher := digest.NewHasher()
	reader := io.TeeReader(plaintext, hasher)

	// The buffer keeps up to one partial block of unencrypted carry
	// at its front between reads.
	buffer := make([]byte, chunkSize+aes.BlockSize)
	carry := 0
	var size int64
	for {
		n, readErr := reader.Read(buffer[carry : carry+chunkSize])
		size += int64(n)
		total := carry + n
		full := total - total%aes.BlockSize
		if full > 0 {
			mode.CryptBlocks(buffer[:full], buffer[:full])
			if _, err := sealed.Write(buffer[:full]); err != nil {
				return 0, digest.Digest{}, &SealError{Op: OpIO, Path: sealedPath, Err: err}
			}
			copy(buffer, buffer[full:total])
		}
		carry = total - full
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return 0, digest.Digest{}, &SealError{Op: OpIO, Path: plaintextPath, Err: readErr}
		}
	}

	// PKCS#7: always terminate, a full padding block when the
	// plaintext is block-aligned.
	padding := aes.BlockSize - carry
	for i := carry; i < aes.BlockSize; i++ {
		buffer[i] = byte(padding)
	}
	mode.CryptBlocks(buffer[:aes.BlockSize], buffer[:aes.BlockSize])
	if _, err := sealed.Write(buffer[:aes.BlockSize]); err != nil {
		return 0, digest.Digest{}, &SealError{Op: OpIO, Path: sealedPath, Err: err}
	}
	return size, hasher.Sum(), nil
}
