// Package sha256 derives fixed-alphabet storage keys from arbitrary strings.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hasher implements article.Hasher using SHA-256.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash hashes the input and returns a hex digest.
func (h *Hasher) Hash(data []byte) (string, error) {
	return h.Key(string(data)), nil
}

// Key returns the hex digest of s. Stores whose key alphabet cannot carry a
// URL use it to address cache entries.
func (*Hasher) Key(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
