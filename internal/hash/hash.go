// Package hash provides content hashing for staleness checks.
//
// Exported plan files record a SHA-256 digest of every original file so a
// later commit can refuse to overwrite content that changed since the plan
// was made.
package hash

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hasher provides an abstraction for content hashing.
type Hasher interface {
	// Sum returns the digest of data.
	Sum(data []byte) string
}

// SHA256Hasher implements Hasher using SHA-256.
type SHA256Hasher struct{}

// NewSHA256Hasher creates a new SHA256Hasher.
func NewSHA256Hasher() *SHA256Hasher {
	return &SHA256Hasher{}
}

// Sum returns the hex-encoded SHA-256 digest of data.
func (h *SHA256Hasher) Sum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Absent is the digest recorded for a file that did not exist.
const Absent = "absent"

// Content returns the digest of data, or Absent when exists is false.
func Content(h Hasher, data []byte, exists bool) string {
	if !exists {
		return Absent
	}
	return h.Sum(data)
}
