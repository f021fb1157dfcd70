// Copyright 2026 The Warren Authors
// SPDX-License-Identifier: Apache-2.0

// Package binhash computes SHA256 digests of binaries on disk. The ACP
// proxy records the digest of each launched agent binary in its debug
// log and transcript header so a session can be traced back to the
// exact agent build that produced it.
package binhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// HashFile computes the SHA256 digest of the file at path. The file is
// streamed through the hash function in chunks (via io.Copy) to keep
// memory usage constant regardless of file size.
func HashFile(path string) ([32]byte, error) {
	file, err := os.Open(path)
	if err != nil {
		return [32]byte{}, fmt.Errorf("opening %s for hashing: %w", path, err)
	}
	defer file.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return [32]byte{}, fmt.Errorf("hashing %s: %w", path, err)
	}

	var digest [32]byte
	copy(digest[:], hasher.Sum(nil))
	return digest, nil
}

// FormatDigest returns the hex-encoded string representation of a
// SHA256 digest. This is the canonical format used in transcript
// headers and log output.
func FormatDigest(digest [32]byte) string {
	return hex.EncodeToString(digest[:])
}
