package credtoken

import (
	"encoding/hex"
	"unicode"

	"golang.org/x/crypto/blake2b"
)

// fingerprintBytes is the digest prefix length kept for logs (16 hex chars).
const fingerprintBytes = 8

// Normalize strips every whitespace rune so that differently formatted
// renderings of the same credentials compare equal.
func Normalize(text []byte) []byte {
	out := make([]byte, 0, len(text))
	for _, r := range string(text) {
		if unicode.IsSpace(r) {
			continue
		}
		out = append(out, string(r)...)
	}
	return out
}

// Equal reports whether two credential texts match after normalization.
func Equal(a, b []byte) bool {
	return string(Normalize(a)) == string(Normalize(b))
}

// Fingerprint returns a short BLAKE2b-256 digest of the normalized text.
// It identifies credentials in logs without exposing key material.
func Fingerprint(text []byte) string {
	if len(text) == 0 {
		return ""
	}
	sum := blake2b.Sum256(Normalize(text))
	return hex.EncodeToString(sum[:fingerprintBytes])
}
