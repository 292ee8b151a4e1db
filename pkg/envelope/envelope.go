// Package envelope implements the self-describing signed payload used by
// the decentralized channel, whose transport offers no authenticity
// guarantee of its own. An envelope carries everything needed to verify
// it independently: the sender's Ed25519 public key, scoping identifiers
// (topic, community, chat), a nonce, and a detached signature over the
// canonical JSON form of all other fields.
package envelope

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/openclaw/bridge/pkg/canonicaljson"
)

// Version is the only supported envelope schema version.
const Version = 1

// ContentType restricts the payload media types carried over the
// decentralized channel.
type ContentType string

const (
	ContentTypeText  ContentType = "text/plain"
	ContentTypeAudio ContentType = "audio/ogg"
	ContentTypeJSON  ContentType = "application/json"
)

// Envelope is a version-1 signed payload.
type Envelope struct {
	Version         int         `json:"version"`
	MessageID       string      `json:"messageId"`
	SenderPublicKey string      `json:"senderPublicKey"`
	CommunityID     string      `json:"communityId"`
	ChatID          string      `json:"chatId"`
	Topic           string      `json:"topic"`
	TimestampMs     int64       `json:"timestampMs"`
	Nonce           string      `json:"nonce"`
	ContentType     ContentType `json:"contentType"`
	Payload         string      `json:"payload"`
	Signature       string      `json:"signature"`
}

// Unsigned is the input to Sign. MessageID, TimestampMs and Nonce are
// optional and default to a fresh random id, the current time, and a
// fresh random nonce.
type Unsigned struct {
	MessageID       string
	SenderPublicKey string
	CommunityID     string
	ChatID          string
	Topic           string
	TimestampMs     int64
	Nonce           string
	ContentType     ContentType
	Payload         string
}

// signingPayload is the envelope without its signature; its canonical
// JSON form is the exact byte sequence that gets signed and verified.
type signingPayload struct {
	Version         int         `json:"version"`
	MessageID       string      `json:"messageId"`
	SenderPublicKey string      `json:"senderPublicKey"`
	CommunityID     string      `json:"communityId"`
	ChatID          string      `json:"chatId"`
	Topic           string      `json:"topic"`
	TimestampMs     int64       `json:"timestampMs"`
	Nonce           string      `json:"nonce"`
	ContentType     ContentType `json:"contentType"`
	Payload         string      `json:"payload"`
}

// ErrInvalidKeyLength reports a private key that is neither a 32-byte
// seed nor a 64-byte expanded secret key. This is a configuration error,
// unlike an invalid signature, which is routine transport noise.
var ErrInvalidKeyLength = errors.New("envelope: private key must be a 32-byte seed or 64-byte secret key")

func normalizeHex(value string) string {
	v := strings.TrimSpace(value)
	v = strings.TrimPrefix(v, "0x")
	v = strings.TrimPrefix(v, "0X")
	return strings.ToLower(v)
}

func decodeHex(value string) ([]byte, error) {
	normalized := normalizeHex(value)
	if normalized == "" || len(normalized)%2 != 0 {
		return nil, errors.New("invalid hex value")
	}
	return hex.DecodeString(normalized)
}

// DerivePublicKeyHex derives the hex-encoded Ed25519 public key from a
// private key given either as a 32-byte seed or a 64-byte expanded
// secret key.
func DerivePublicKeyHex(privateKeyHex string) (string, error) {
	keyBytes, err := decodeHex(privateKeyHex)
	if err != nil {
		return "", fmt.Errorf("envelope: decode private key: %w", err)
	}

	switch len(keyBytes) {
	case ed25519.SeedSize:
		private := ed25519.NewKeyFromSeed(keyBytes)
		return hex.EncodeToString(private.Public().(ed25519.PublicKey)), nil
	case ed25519.PrivateKeySize:
		return hex.EncodeToString(keyBytes[ed25519.SeedSize:]), nil
	default:
		return "", ErrInvalidKeyLength
	}
}

func expandPrivateKey(privateKeyHex string) (ed25519.PrivateKey, error) {
	keyBytes, err := decodeHex(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("envelope: decode private key: %w", err)
	}

	switch len(keyBytes) {
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(keyBytes), nil
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(keyBytes), nil
	default:
		return nil, ErrInvalidKeyLength
	}
}

func signingMessage(p signingPayload) (string, error) {
	return canonicaljson.MarshalString(p)
}

func toSigningPayload(u Unsigned) signingPayload {
	p := signingPayload{
		Version:         Version,
		MessageID:       u.MessageID,
		SenderPublicKey: normalizeHex(u.SenderPublicKey),
		CommunityID:     u.CommunityID,
		ChatID:          u.ChatID,
		Topic:           u.Topic,
		TimestampMs:     u.TimestampMs,
		Nonce:           u.Nonce,
		ContentType:     u.ContentType,
		Payload:         u.Payload,
	}
	if p.MessageID == "" {
		p.MessageID = uuid.NewString()
	}
	if p.TimestampMs == 0 {
		p.TimestampMs = time.Now().UnixMilli()
	}
	if p.Nonce == "" {
		p.Nonce = uuid.NewString()
	}
	return p
}

// Sign builds the version-1 signing payload from u, serializes it
// canonically and signs the UTF-8 bytes with the given private key.
func Sign(u Unsigned, privateKeyHex string) (Envelope, error) {
	private, err := expandPrivateKey(privateKeyHex)
	if err != nil {
		return Envelope{}, err
	}

	payload := toSigningPayload(u)
	msg, err := signingMessage(payload)
	if err != nil {
		return Envelope{}, err
	}

	signature := ed25519.Sign(private, []byte(msg))
	return Envelope{
		Version:         payload.Version,
		MessageID:       payload.MessageID,
		SenderPublicKey: payload.SenderPublicKey,
		CommunityID:     payload.CommunityID,
		ChatID:          payload.ChatID,
		Topic:           payload.Topic,
		TimestampMs:     payload.TimestampMs,
		Nonce:           payload.Nonce,
		ContentType:     payload.ContentType,
		Payload:         payload.Payload,
		Signature:       hex.EncodeToString(signature),
	}, nil
}

// VerifyResult is the tagged outcome of a verification. Invalid or
// malformed envelopes are expected transport noise, so failures are data,
// not errors: OK is false and Reason explains why. On success Proof is a
// deterministic hash downstream logic can treat as evidence the signature
// check already happened.
type VerifyResult struct {
	OK     bool
	Proof  string
	Reason string
}

func verifyFailure(reason string) VerifyResult {
	return VerifyResult{OK: false, Reason: reason}
}

// Verify checks a received envelope: version, presence of key and
// signature, and the Ed25519 signature over the recomputed canonical
// signing message.
func Verify(env Envelope) VerifyResult {
	if env.Version != Version {
		return verifyFailure("unsupported payload version")
	}

	publicKeyHex := normalizeHex(env.SenderPublicKey)
	signatureHex := normalizeHex(env.Signature)
	if publicKeyHex == "" || signatureHex == "" {
		return verifyFailure("missing sender key or signature")
	}

	msg, err := signingMessage(signingPayload{
		Version:         env.Version,
		MessageID:       env.MessageID,
		SenderPublicKey: publicKeyHex,
		CommunityID:     env.CommunityID,
		ChatID:          env.ChatID,
		Topic:           env.Topic,
		TimestampMs:     env.TimestampMs,
		Nonce:           env.Nonce,
		ContentType:     env.ContentType,
		Payload:         env.Payload,
	})
	if err != nil {
		return verifyFailure("canonical serialization failed")
	}

	publicKey, err := decodeHex(publicKeyHex)
	if err != nil || len(publicKey) != ed25519.PublicKeySize {
		return verifyFailure("invalid signature")
	}
	signature, err := decodeHex(signatureHex)
	if err != nil || len(signature) != ed25519.SignatureSize {
		return verifyFailure("invalid signature")
	}

	if !ed25519.Verify(ed25519.PublicKey(publicKey), []byte(msg), signature) {
		return verifyFailure("invalid signature")
	}

	return VerifyResult{OK: true, Proof: proof(msg, signatureHex)}
}

func proof(signingMsg, signatureHex string) string {
	h := sha256.New()
	h.Write([]byte(signingMsg))
	h.Write([]byte(":"))
	h.Write([]byte(signatureHex))
	return hex.EncodeToString(h.Sum(nil))
}

// MarshalWire serializes an envelope to its JSON wire form.
func MarshalWire(env Envelope) ([]byte, error) {
	return json.Marshal(env)
}
