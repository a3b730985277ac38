// Package sha256 provides SHA-256 hashing utilities for archive checksums.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
)

// Digest accumulates a SHA-256 over everything written to it.
type Digest struct {
	h hash.Hash
}

// NewDigest returns an empty Digest.
func NewDigest() *Digest {
	return &Digest{h: sha256.New()}
}

// Write implements io.Writer. It never fails.
func (d *Digest) Write(p []byte) (int, error) {
	return d.h.Write(p)
}

// Hex returns the hex digest of the bytes written so far.
func (d *Digest) Hex() string {
	return hex.EncodeToString(d.h.Sum(nil))
}

// Hash hashes the input and returns a hex digest.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
