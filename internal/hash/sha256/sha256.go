// Package sha256 provides SHA-256 hashing utilities for content
// change tracking.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// DigestHexLen is the length of the truncated hex digest carried in
// check results. 16 hex chars (64 bits) is plenty to detect content
// changes between cycles.
const DigestHexLen = 16

// Hasher hashes normalized page text using SHA-256.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// HashText returns the truncated hex digest of the input text.
// Empty input yields an empty digest, marking "no content fetched".
func (h *Hasher) HashText(text string) string {
	if text == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])[:DigestHexLen]
}
