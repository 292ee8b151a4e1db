package authn

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// HMACSHA256Hex computes the hex-encoded HMAC-SHA256 of payload under secret.
func HMACSHA256Hex(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyHMACSHA256Hex recomputes the digest and compares it against the
// provided hex digest in constant time.
func VerifyHMACSHA256Hex(secret, payload, providedHex string) bool {
	expected := HMACSHA256Hex(secret, payload)
	return SafeEqualHex(expected, strings.ToLower(providedHex))
}
