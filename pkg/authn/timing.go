// Package authn implements the per-channel authentication layer: the
// constant-time comparison and HMAC/Ed25519 primitives, and one verifier
// per channel mapping channel-specific credentials to a uniform
// VerificationResult. Verification failure is an expected outcome and is
// reported as data, never as an error.
package authn

import (
	"crypto/subtle"
	"encoding/hex"
)

// SafeEqualHex compares two hex-encoded byte strings in constant time.
// Malformed hex or a length mismatch short-circuits to false.
func SafeEqualHex(aHex, bHex string) bool {
	a, err := hex.DecodeString(aHex)
	if err != nil {
		return false
	}
	b, err := hex.DecodeString(bHex)
	if err != nil {
		return false
	}
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}

// SafeEqual compares two strings in constant time. A length mismatch
// short-circuits to false.
func SafeEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
