package transport

import (
	"crypto/rand"
	"encoding/hex"
)

// newRequestID returns a random hex id used to correlate bridge replies.
// An empty string is returned if the system RNG fails; callers treat it as an error.
func newRequestID() string {
	b := make([]byte, 10)
	if _, err := rand.Read(b); err != nil {
		return ""
	}
	return hex.EncodeToString(b)
}
