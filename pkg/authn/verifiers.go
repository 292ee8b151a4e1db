package authn

import (
	"fmt"
	"strings"

	"github.com/openclaw/bridge/pkg/message"
)

// VerifySlackSignature checks a Slack-style signing-secret signature:
// HMAC-SHA256 over "v0:{timestamp}:{rawBody}" with a "v0="-prefixed hex
// digest header.
func VerifySlackSignature(signingSecret, timestamp, rawBody, signatureHeader string) VerificationResult {
	if timestamp == "" || signatureHeader == "" {
		return Reject("missing Slack signature headers")
	}

	signature := strings.TrimPrefix(signatureHeader, "v0=")
	base := fmt.Sprintf("v0:%s:%s", timestamp, rawBody)
	if !VerifyHMACSHA256Hex(signingSecret, base, signature) {
		return Reject("Slack signature mismatch")
	}

	return VerificationResult{
		Authenticated: true,
		Mechanism:     "slack-signing-secret-hmac-sha256",
		Confidence:    message.ConfidenceHigh,
	}
}

// VerifyWhatsAppSignature checks a Meta X-Hub style webhook signature:
// HMAC-SHA256 over the raw body with a mandatory "sha256=" header prefix.
func VerifyWhatsAppSignature(appSecret, rawBody, signatureHeader string) VerificationResult {
	if !strings.HasPrefix(signatureHeader, "sha256=") {
		return Reject("invalid WhatsApp signature header format")
	}

	signature := strings.TrimPrefix(signatureHeader, "sha256=")
	if !VerifyHMACSHA256Hex(appSecret, rawBody, signature) {
		return Reject("WhatsApp X-Hub signature mismatch")
	}

	return VerificationResult{
		Authenticated: true,
		Mechanism:     "x-hub-signature-256",
		Confidence:    message.ConfidenceHigh,
	}
}

// VerifyTelegramSecretToken checks the shared webhook secret token in
// constant time.
func VerifyTelegramSecretToken(expectedSecret, providedSecret string) VerificationResult {
	if providedSecret == "" {
		return Reject("missing Telegram secret token")
	}

	if !SafeEqual(expectedSecret, providedSecret) {
		return Reject("Telegram webhook secret mismatch")
	}

	return VerificationResult{
		Authenticated: true,
		Mechanism:     "telegram-webhook-secret-token",
		Confidence:    message.ConfidenceMedium,
	}
}

// VerifyDiscordSignature checks a Discord-style Ed25519 interaction
// signature over "{timestamp}{rawBody}".
func VerifyDiscordSignature(publicKeyHex, timestamp, rawBody, signatureHex string) VerificationResult {
	if timestamp == "" || signatureHex == "" {
		return Reject("missing Discord signature headers")
	}

	if !VerifyEd25519Hex(publicKeyHex, timestamp+rawBody, signatureHex) {
		return Reject("Discord Ed25519 verification failed")
	}

	return VerificationResult{
		Authenticated: true,
		Mechanism:     "discord-ed25519",
		Confidence:    message.ConfidenceHigh,
	}
}

// VerifySignalTrustBoundary checks membership in the configured trusted
// peer list. An empty list means open trust on the local RPC boundary.
func VerifySignalTrustBoundary(trustedPeers []string, senderID string) VerificationResult {
	allowed := FoldSet(trustedPeers)
	if len(allowed) > 0 && !FoldContains(allowed, senderID) {
		return Reject("Signal sender not in trusted peers")
	}

	return VerificationResult{
		Authenticated: true,
		Mechanism:     "signal-local-trust-boundary",
		Confidence:    message.ConfidenceMedium,
	}
}

// VerifyEmailAuthResults inspects the upstream authentication-results of
// an inbound mail. When DKIM pass is required the result string must be
// literally "pass"; otherwise the message is accepted at low confidence.
func VerifyEmailAuthResults(requireDKIMPass bool, dkimResult string) VerificationResult {
	if requireDKIMPass && !strings.EqualFold(dkimResult, "pass") {
		return Reject("DKIM result is not pass")
	}

	confidence := message.ConfidenceLow
	if requireDKIMPass {
		confidence = message.ConfidenceMedium
	}
	return VerificationResult{
		Authenticated: true,
		Mechanism:     "email-auth-results-policy",
		Confidence:    confidence,
	}
}

// StatusEnvelopeParams are the inputs to the decentralized channel's
// policy check: the transport layer has already verified the envelope
// signature and produced a proof; this verifier validates scoping and the
// sender allowlist.
type StatusEnvelopeParams struct {
	SenderID            string
	ExpectedTopic       string
	ProvidedTopic       string
	ExpectedCommunityID string
	ProvidedCommunityID string
	ExpectedChatID      string
	ProvidedChatID      string
	SignatureVerified   bool
	SignatureProof      string
	AllowedSenders      []string
}

// VerifyStatusEnvelope accepts a decentralized-channel message only when
// the transport verified its signature, a proof is present, the topic,
// community and chat ids all match configuration exactly, and the sender
// passes the (possibly empty) allowlist.
func VerifyStatusEnvelope(params StatusEnvelopeParams) VerificationResult {
	if !params.SignatureVerified {
		return Reject(fmt.Sprintf("Status signature not verified for sender %s", params.SenderID))
	}

	if params.SignatureProof == "" {
		return Reject("Status signature proof missing")
	}

	if params.ExpectedTopic != params.ProvidedTopic {
		return Reject(fmt.Sprintf("Status topic mismatch: expected %s, got %s", params.ExpectedTopic, params.ProvidedTopic))
	}

	if params.ExpectedCommunityID != params.ProvidedCommunityID {
		return Reject("Status community mismatch")
	}

	if params.ExpectedChatID != params.ProvidedChatID {
		return Reject("Status chat mismatch")
	}

	if len(params.AllowedSenders) > 0 {
		allowed := FoldSet(params.AllowedSenders)
		if !FoldContains(allowed, params.SenderID) {
			return Reject(fmt.Sprintf("Status sender not allowlisted: %s", params.SenderID))
		}
	}

	return VerificationResult{
		Authenticated: true,
		Mechanism:     "waku-signed-payload",
		Confidence:    message.ConfidenceHigh,
	}
}
