// Package integrity provides content-hash computation and verification for
// knowledge items. The hash is stored at insert time and re-verified at
// retrieval time to detect tampering.
package integrity

import (
	"crypto/sha256"
	"encoding/hex"
)

// ComputeHash returns the SHA-256 hex digest of content.
func ComputeHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// Verify reports whether content matches the digest stored at insert time.
func Verify(content, storedHash string) bool {
	return ComputeHash(content) == storedHash
}
