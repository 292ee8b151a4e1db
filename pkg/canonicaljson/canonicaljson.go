// Package canonicaljson provides RFC 8785 (JSON Canonicalization Scheme)
// compliant serialization. The canonical form is the exact byte sequence
// that signed-envelope signatures are computed over, so it must be
// deterministic: object keys sorted lexicographically, array order
// preserved, no HTML escaping, no insignificant whitespace.
package canonicaljson

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// Marshal returns the canonical JSON representation of v. Struct values
// are serialized through their json tags first, then transformed into
// canonical form.
func Marshal(v interface{}) ([]byte, error) {
	intermediate, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonicaljson: pre-marshal failed: %w", err)
	}

	canonical, err := jcs.Transform(intermediate)
	if err != nil {
		return nil, fmt.Errorf("canonicaljson: transform failed: %w", err)
	}
	return canonical, nil
}

// MarshalString returns the canonical form as a string.
func MarshalString(v interface{}) (string, error) {
	b, err := Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Hash returns the SHA-256 hex digest of the canonical JSON form of v.
func Hash(v interface{}) (string, error) {
	b, err := Marshal(v)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// HashBytes computes the SHA-256 hash of raw bytes and returns it hex encoded.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
