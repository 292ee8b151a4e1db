package authn

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclaw/bridge/pkg/message"
)

func TestVerifySlackSignature(t *testing.T) {
	secret := "slack-signing-secret"
	timestamp := "1700000000"
	body := `{"type":"event_callback"}`
	digest := HMACSHA256Hex(secret, fmt.Sprintf("v0:%s:%s", timestamp, body))

	result := VerifySlackSignature(secret, timestamp, body, "v0="+digest)
	require.True(t, result.Authenticated)
	assert.Equal(t, "slack-signing-secret-hmac-sha256", result.Mechanism)
	assert.Equal(t, message.ConfidenceHigh, result.Confidence)
	assert.Empty(t, result.Reason)

	bad := VerifySlackSignature(secret, timestamp, body+"x", "v0="+digest)
	require.False(t, bad.Authenticated)
	assert.Equal(t, "none", bad.Mechanism)
	assert.Equal(t, message.ConfidenceLow, bad.Confidence)
	assert.Equal(t, "Slack signature mismatch", bad.Reason)

	missing := VerifySlackSignature(secret, "", body, "v0="+digest)
	require.False(t, missing.Authenticated)
	assert.Equal(t, "missing Slack signature headers", missing.Reason)
}

func TestVerifyWhatsAppSignature(t *testing.T) {
	secret := "app-secret"
	body := `{"object":"whatsapp_business_account"}`
	digest := HMACSHA256Hex(secret, body)

	result := VerifyWhatsAppSignature(secret, body, "sha256="+digest)
	require.True(t, result.Authenticated)
	assert.Equal(t, "x-hub-signature-256", result.Mechanism)

	// Header without the sha256= prefix is rejected before any HMAC work.
	noPrefix := VerifyWhatsAppSignature(secret, body, digest)
	require.False(t, noPrefix.Authenticated)
	assert.Equal(t, "invalid WhatsApp signature header format", noPrefix.Reason)

	mismatch := VerifyWhatsAppSignature("other", body, "sha256="+digest)
	require.False(t, mismatch.Authenticated)
	assert.Equal(t, "WhatsApp X-Hub signature mismatch", mismatch.Reason)
}

func TestVerifyTelegramSecretToken(t *testing.T) {
	result := VerifyTelegramSecretToken("expected", "expected")
	require.True(t, result.Authenticated)
	assert.Equal(t, "telegram-webhook-secret-token", result.Mechanism)
	assert.Equal(t, message.ConfidenceMedium, result.Confidence)

	empty := VerifyTelegramSecretToken("expected", "")
	require.False(t, empty.Authenticated)
	assert.Equal(t, "missing Telegram secret token", empty.Reason)

	mismatch := VerifyTelegramSecretToken("expected", "provided")
	require.False(t, mismatch.Authenticated)
	assert.Equal(t, "Telegram webhook secret mismatch", mismatch.Reason)
}

func TestVerifyDiscordSignature(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	timestamp := "1700000000"
	body := `{"type":2}`
	sig := ed25519.Sign(priv, []byte(timestamp+body))

	result := VerifyDiscordSignature(hex.EncodeToString(pub), timestamp, body, hex.EncodeToString(sig))
	require.True(t, result.Authenticated)
	assert.Equal(t, "discord-ed25519", result.Mechanism)

	tampered := VerifyDiscordSignature(hex.EncodeToString(pub), timestamp, body+"!", hex.EncodeToString(sig))
	require.False(t, tampered.Authenticated)
	assert.Equal(t, "Discord Ed25519 verification failed", tampered.Reason)

	missing := VerifyDiscordSignature(hex.EncodeToString(pub), "", body, hex.EncodeToString(sig))
	require.False(t, missing.Authenticated)
	assert.Equal(t, "missing Discord signature headers", missing.Reason)
}

func TestVerifySignalTrustBoundary(t *testing.T) {
	// Empty allowlist means open trust.
	open := VerifySignalTrustBoundary(nil, "+15551234567")
	require.True(t, open.Authenticated)
	assert.Equal(t, "signal-local-trust-boundary", open.Mechanism)

	listed := VerifySignalTrustBoundary([]string{"+15551234567"}, "+15551234567")
	require.True(t, listed.Authenticated)

	unlisted := VerifySignalTrustBoundary([]string{"+15551234567"}, "+15559999999")
	require.False(t, unlisted.Authenticated)
	assert.Equal(t, "Signal sender not in trusted peers", unlisted.Reason)
}

func TestVerifyEmailAuthResults(t *testing.T) {
	pass := VerifyEmailAuthResults(true, "pass")
	require.True(t, pass.Authenticated)
	assert.Equal(t, message.ConfidenceMedium, pass.Confidence)

	passUpper := VerifyEmailAuthResults(true, "PASS")
	require.True(t, passUpper.Authenticated)

	fail := VerifyEmailAuthResults(true, "fail")
	require.False(t, fail.Authenticated)
	assert.Equal(t, "DKIM result is not pass", fail.Reason)

	notRequired := VerifyEmailAuthResults(false, "")
	require.True(t, notRequired.Authenticated)
	assert.Equal(t, message.ConfidenceLow, notRequired.Confidence)
}

func TestVerifyStatusEnvelope(t *testing.T) {
	params := StatusEnvelopeParams{
		SenderID:            "abc123",
		ExpectedTopic:       "/openclaw/1/bridge/proto",
		ProvidedTopic:       "/openclaw/1/bridge/proto",
		ExpectedCommunityID: "community-1",
		ProvidedCommunityID: "community-1",
		ExpectedChatID:      "chat-1",
		ProvidedChatID:      "chat-1",
		SignatureVerified:   true,
		SignatureProof:      "proofhash",
	}

	result := VerifyStatusEnvelope(params)
	require.True(t, result.Authenticated)
	assert.Equal(t, "waku-signed-payload", result.Mechanism)
	assert.Equal(t, message.ConfidenceHigh, result.Confidence)

	cases := []struct {
		name   string
		mutate func(*StatusEnvelopeParams)
		reason string
	}{
		{"unverified signature", func(p *StatusEnvelopeParams) { p.SignatureVerified = false }, "Status signature not verified for sender abc123"},
		{"missing proof", func(p *StatusEnvelopeParams) { p.SignatureProof = "" }, "Status signature proof missing"},
		{"topic mismatch", func(p *StatusEnvelopeParams) { p.ProvidedTopic = "/other" }, "Status topic mismatch: expected /openclaw/1/bridge/proto, got /other"},
		{"community mismatch", func(p *StatusEnvelopeParams) { p.ProvidedCommunityID = "other" }, "Status community mismatch"},
		{"chat mismatch", func(p *StatusEnvelopeParams) { p.ProvidedChatID = "other" }, "Status chat mismatch"},
		{"sender not allowlisted", func(p *StatusEnvelopeParams) { p.AllowedSenders = []string{"def456"} }, "Status sender not allowlisted: abc123"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := params
			tc.mutate(&p)
			got := VerifyStatusEnvelope(p)
			require.False(t, got.Authenticated)
			assert.Equal(t, tc.reason, got.Reason)
		})
	}

	// Allowlist matching is case-insensitive.
	p := params
	p.AllowedSenders = []string{"ABC123"}
	require.True(t, VerifyStatusEnvelope(p).Authenticated)
}
