// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package seal

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"fmt"
	"io"
	"os"

	"github.com/bureau-foundation/acquire/lib/digest"
	"github.com/bureau-foundation/acquire/lib/secret"
)

// Unseal decrypts a sealed file into outPath. The sealed file is left
// untouched. On any failure, including a wrong key surfacing as
// corrupt padding, the partial output is removed and the returned
// error is a *SealError.
func (s *Sealer) Unseal(sealedPath, outPath string, key *secret.Buffer) (*Artifact, error) {
	if err := checkKey(key, sealedPath); err != nil {
		return nil, err
	}

	sealed, err := os.Open(sealedPath)
	if err != nil {
		return nil, &SealError{Op: OpIO, Path: sealedPath, Err: err}
	}
	defer sealed.Close()

	header := make([]byte, headerSize)
	if _, err := io.ReadFull(sealed, header); err != nil {
		return nil, &SealError{Op: OpCipher, Path: sealedPath, Err: fmt.Errorf("reading container header: %w", err)}
	}
	if header[0] != FormatVersion {
		return nil, &SealError{Op: OpCipher, Path: sealedPath, Err: fmt.Errorf("unsupported container version 0x%02x", header[0])}
	}
	blockCipher, err := aes.NewCipher(key.Bytes())
	if err != nil {
		return nil, &SealError{Op: OpCipher, Path: sealedPath, Err: err}
	}
	mode := cipher.NewCBCDecrypter(blockCipher, header[1:])

	out, err := os.OpenFile(outPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, &SealError{Op: OpIO, Path: outPath, Err: err}
	}
	success := false
	defer func() {
		if !success {
			out.Close()
			os.Remove(outPath)
		}
	}()

	size, plaintextDigest, err := decryptStream(mode, sealed, sealedPath, out, outPath)
	if err != nil {
		return nil, err
	}
	if err := out.Close(); err != nil {
		return nil, &SealError{Op: OpIO, Path: outPath, Err: err}
	}
	success = true

	artifact := &Artifact{
		PlaintextPath:   outPath,
		SealedPath:      sealedPath,
		Size:            size,
		PlaintextDigest: plaintextDigest,
	}
	s.logger.Info("unsealed artifact",
		"sealed", sealedPath,
		"plaintext", outPath,
		"bytes", size,
		"digest", digest.Format(plaintextDigest),
	)
	return artifact, nil
}

// UnsealBytes decrypts a sealed file entirely in memory and returns
// the plaintext. Nothing is written to disk; callers that must keep
// recovered plaintext off the filesystem use this instead of Unseal.
func (s *Sealer) UnsealBytes(sealedPath string, key *secret.Buffer) ([]byte, error) {
	if err := checkKey(key, sealedPath); err != nil {
		return nil, err
	}

	sealed, err := os.Open(sealedPath)
	if err != nil {
		return nil, &SealError{Op: OpIO, Path: sealedPath, Err: err}
	}
	defer sealed.Close()

	header := make([]byte, headerSize)
	if _, err := io.ReadFull(sealed, header); err != nil {
		return nil, &SealError{Op: OpCipher, Path: sealedPath, Err: fmt.Errorf("reading container header: %w", err)}
	}
	if header[0] != FormatVersion {
		return nil, &SealError{Op: OpCipher, Path: sealedPath, Err: fmt.Errorf("unsupported container version 0x%02x", header[0])}
	}
	blockCipher, err := aes.NewCipher(key.Bytes())
	if err != nil {
		return nil, &SealError{Op: OpCipher, Path: sealedPath, Err: err}
	}
	mode := cipher.NewCBCDecrypter(blockCipher, header[1:])

	var plaintext bytes.Buffer
	size, _, err := decryptStream(mode, sealed, sealedPath, &plaintext, sealedPath)
	if err != nil {
		return nil, err
	}
	s.logger.Info("unsealed artifact in memory",
		"sealed", sealedPath,
		"bytes", size,
	)
	return plaintext.Bytes(), nil
}

// decryptStream pumps the ciphertext through the CBC mode in bounded
// chunks. The final block is held back until the stream ends so its
// PKCS#7 padding can be stripped.
func decryptStream(mode cipher.BlockMode, sealed io.Reader, sealedPath string, out io.Writer, outPath string) (int64, digest.Digest, error) {
	hasher := digest.NewHasher()
	writer := io.MultiWriter(out, hasher)

	buffer := make([]byte, chunkSize)
	var held [aes.BlockSize]byte
	haveHeld := false
	var size int64
	for {
		n, readErr := io.ReadFull(sealed, buffer)
		if n > 0 {
			if n%aes.BlockSize != 0 {
				return 0, digest.Digest{}, &SealError{Op: OpCipher, Path: sealedPath, Err: fmt.Errorf("ciphertext is not block-aligned")}
			}
			mode.CryptBlocks(buffer[:n], buffer[:n])
			if haveHeld {
				if _, err := writer.Write(held[:]); err != nil {
					return 0, digest.Digest{}, &SealError{Op: OpIO, Path: outPath, Err: err}
				}
				size += aes.BlockSize
			}
			if n > aes.BlockSize {
				if _, err := writer.Write(buffer[:n-aes.BlockSize]); err != nil {
					return 0, digest.Digest{}, &SealError{Op: OpIO, Path: outPath, Err: err}
				}
				size += int64(n - aes.BlockSize)
			}
			copy(held[:], buffer[n-aes.BlockSize:n])
			haveHeld = true
		}
		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			break
		}
		if readErr != nil {
			return 0, digest.Digest{}, &SealError{Op: OpIO, Path: sealedPath, Err: readErr}
		}
	}
	if !haveHeld {
		return 0, digest.Digest{}, &SealError{Op: OpCipher, Path: sealedPath, Err: fmt.Errorf("container has no ciphertext")}
	}

	content, err := stripPadding(held[:])
	if err != nil {
		return 0, digest.Digest{}, &SealError{Op: OpCipher, Path: sealedPath, Err: err}
	}
	if len(content) > 0 {
		if _, err := writer.Write(content); err != nil {
			return 0, digest.Digest{}, &SealError{Op: OpIO, Path: outPath, Err: err}
		}
		size += int64(len(content))
	}
	return size, hasher.Sum(), nil
}

// stripPadding validates and removes PKCS#7 padding from the final
// plaintext block. A wrong key almost always surfaces here.
func stripPadding(block []byte) ([]byte, error) {
	padding := int(block[len(block)-1])
	if padding < 1 || padding > aes.BlockSize {
		return nil, fmt.Errorf("corrupt padding")
	}
	for _, b := range block[len(block)-padding:] {
		if int(b) != padding {
			return nil, fmt.Errorf("corrupt padding")
		}
	}
	return block[:len(block)-padding], nil
}
