// Package sha256 provides the content hasher used to name captured pages.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hasher implements pricing.Hasher with SHA-256.
type Hasher struct{}

// New creates a Hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the lowercase hex digest of data.
func (Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
