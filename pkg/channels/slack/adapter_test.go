package slack

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclaw/bridge/pkg/authn"
	"github.com/openclaw/bridge/pkg/message"
)

type recordingClient struct {
	posts []string
	err   error
}

func (c *recordingClient) PostMessage(_ context.Context, channel, text string) error {
	if c.err != nil {
		return c.err
	}
	c.posts = append(c.posts, channel+": "+text)
	return nil
}

func signBody(secret, timestamp, body string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "v0:%s:%s", timestamp, body)
	return "v0=" + hex.EncodeToString(mac.Sum(nil))
}

func newTestAdapter(allowed ...string) (*Adapter, *recordingClient) {
	client := &recordingClient{}
	a := NewWithClient(Config{
		SigningSecret:   "secret",
		AllowedChannels: allowed,
	}, client)
	return a, client
}

func collect(a *Adapter) *[]message.RawInbound {
	var got []message.RawInbound
	a.OnMessage(func(raw message.RawInbound) { got = append(got, raw) })
	return &got
}

func TestIngestWebhook_URLVerificationChallenge(t *testing.T) {
	a, _ := newTestAdapter()
	got := collect(a)

	challenge, err := a.IngestWebhook([]byte(`{"type":"url_verification","challenge":"echo-me"}`), nil)
	require.NoError(t, err)
	assert.Equal(t, "echo-me", challenge)
	assert.Empty(t, *got, "handshakes are not messages")
}

func TestIngestWebhook_EmitsMessageEvent(t *testing.T) {
	a, _ := newTestAdapter()
	got := collect(a)

	body := []byte(`{
		"type": "event_callback",
		"event_id": "Ev1",
		"event_time": 1700000000,
		"event": {"type": "message", "user": "U1", "channel": "C1", "text": "hi", "ts": "1700000000.0001"}
	}`)
	challenge, err := a.IngestWebhook(body, map[string]string{
		"x-slack-signature":         "v0=abc",
		"x-slack-request-timestamp": "1700000000",
	})
	require.NoError(t, err)
	assert.Empty(t, challenge)

	require.Len(t, *got, 1)
	raw := (*got)[0]
	assert.Equal(t, "Ev1", raw.ID)
	assert.Equal(t, message.ChannelSlack, raw.Channel)
	assert.Equal(t, "U1", raw.SenderID)
	assert.Equal(t, "C1", raw.ConversationID)
	assert.Equal(t, int64(1700000000000), raw.TimestampMs)
	assert.Equal(t, "1700000000.0001", raw.Nonce)
	assert.Equal(t, "hi", raw.Payload)
	assert.Equal(t, string(body), raw.Metadata["rawBody"])
}

func TestIngestWebhook_DropsBotAndNonMessageEvents(t *testing.T) {
	a, _ := newTestAdapter()
	got := collect(a)

	_, err := a.IngestWebhook([]byte(`{"type":"event_callback","event":{"type":"message","bot_id":"B1","text":"from a bot"}}`), nil)
	require.NoError(t, err)

	_, err = a.IngestWebhook([]byte(`{"type":"event_callback","event":{"type":"reaction_added"}}`), nil)
	require.NoError(t, err)

	_, err = a.IngestWebhook([]byte(`{"type":"event_callback"}`), nil)
	require.NoError(t, err)

	assert.Empty(t, *got)
}

func TestIngestWebhook_MalformedJSON(t *testing.T) {
	a, _ := newTestAdapter()
	_, err := a.IngestWebhook([]byte("not json"), nil)
	require.Error(t, err)
}

func TestVerify(t *testing.T) {
	a, _ := newTestAdapter()
	body := `{"event":{}}`
	timestamp := "1700000000"

	raw := message.RawInbound{
		ConversationID: "C1",
		Headers: map[string]string{
			"x-slack-signature":         signBody("secret", timestamp, body),
			"x-slack-request-timestamp": timestamp,
		},
		Metadata: map[string]string{"rawBody": body},
	}

	result, err := a.Verify(context.Background(), raw)
	require.NoError(t, err)
	assert.True(t, result.Authenticated)
	assert.Equal(t, "slack-signing-secret-hmac-sha256", result.Mechanism)
	assert.Equal(t, message.ConfidenceHigh, result.Confidence)

	raw.Headers["x-slack-signature"] = signBody("wrong", timestamp, body)
	result, err = a.Verify(context.Background(), raw)
	require.NoError(t, err)
	assert.False(t, result.Authenticated)
	assert.Equal(t, "Slack signature mismatch", result.Reason)
}

func TestVerify_ChannelAllowlistDowngrade(t *testing.T) {
	a, _ := newTestAdapter("C-allowed")
	body := "{}"
	timestamp := "1700000000"

	raw := message.RawInbound{
		ConversationID: "C-other",
		Headers: map[string]string{
			"x-slack-signature":         signBody("secret", timestamp, body),
			"x-slack-request-timestamp": timestamp,
		},
		Metadata: map[string]string{"rawBody": body},
	}

	result, err := a.Verify(context.Background(), raw)
	require.NoError(t, err)
	assert.False(t, result.Authenticated)
	assert.Equal(t, "slack-signing-secret-hmac-sha256", result.Mechanism, "mechanism survives the downgrade")
	assert.Equal(t, message.ConfidenceLow, result.Confidence)
	assert.Equal(t, "channel C-other not allowlisted", result.Reason)
}

func TestNormalize_CommandDetection(t *testing.T) {
	a, _ := newTestAdapter()
	raw := message.RawInbound{ID: "m1", SenderID: "U1", ConversationID: "C1", Payload: "/deploy prod"}

	result := authn.VerificationResult{
		Authenticated: true,
		Mechanism:     "slack-signing-secret-hmac-sha256",
		Confidence:    message.ConfidenceHigh,
	}
	canonical, err := a.Normalize(raw, result)
	require.NoError(t, err)
	assert.Equal(t, message.KindCommand, canonical.Kind)
	assert.Equal(t, "deploy", canonical.CommandName)
	assert.Equal(t, []string{"prod"}, canonical.CommandArgs)
	assert.True(t, canonical.CryptographicState.Authenticated)
}

func TestSend(t *testing.T) {
	a, client := newTestAdapter()
	require.NoError(t, a.Send(context.Background(), message.Outbound{
		Channel:        message.ChannelSlack,
		ConversationID: "C1",
		Text:           "[telegram] hi",
	}))
	assert.Equal(t, []string{"C1: [telegram] hi"}, client.posts)
}
