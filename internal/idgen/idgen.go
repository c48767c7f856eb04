// Package idgen mints cryptographically random identifiers.
package idgen

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
)

// WithPrefix returns prefix + "_" + 24 hex chars (12 random bytes), the
// ID shape used for assessments, jobs, batches and forecasts. A prefix
// already ending in "_" is not doubled.
func WithPrefix(prefix string) string {
	if prefix != "" && !strings.HasSuffix(prefix, "_") {
		prefix += "_"
	}
	return prefix + Hex(12)
}

// Hex returns a random hex string of numBytes random bytes.
func Hex(numBytes int) string {
	b := make([]byte, numBytes)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return hex.EncodeToString(b)
}
