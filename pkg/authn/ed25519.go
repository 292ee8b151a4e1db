package authn

import (
	"crypto/ed25519"
	"encoding/hex"
)

// VerifyEd25519Hex verifies a detached Ed25519 signature over message
// against a raw 32-byte public key, both hex encoded. Malformed or
// wrong-length inputs fail verification rather than panicking.
func VerifyEd25519Hex(publicKeyHex, message, signatureHex string) bool {
	publicKey, err := hex.DecodeString(publicKeyHex)
	if err != nil || len(publicKey) != ed25519.PublicKeySize {
		return false
	}
	signature, err := hex.DecodeString(signatureHex)
	if err != nil || len(signature) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(publicKey), []byte(message), signature)
}
