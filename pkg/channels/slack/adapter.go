// Package slack bridges a Slack workspace over its events webhook and
// chat.postMessage API.
package slack

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/openclaw/bridge/pkg/authn"
	"github.com/openclaw/bridge/pkg/channels"
	"github.com/openclaw/bridge/pkg/message"
)

// Config holds the Slack app credentials and the optional channel
// allowlist.
type Config struct {
	SigningSecret   string
	BotToken        string
	AllowedChannels []string
}

// Client posts messages to Slack. The production implementation is
// APIClient; tests inject a double.
type Client interface {
	PostMessage(ctx context.Context, channel, text string) error
}

type eventEnvelope struct {
	Type      string `json:"type"`
	EventID   string `json:"event_id"`
	EventTime int64  `json:"event_time"`
	Challenge string `json:"challenge"`
	Event     *struct {
		Type    string `json:"type"`
		User    string `json:"user"`
		Channel string `json:"channel"`
		Text    string `json:"text"`
		TS      string `json:"ts"`
		BotID   string `json:"bot_id"`
	} `json:"event"`
}

type Adapter struct {
	channels.Emitter
	config Config
	client Client
	pacer  *channels.Pacer
	now    func() time.Time
}

func New(config Config) *Adapter {
	return NewWithClient(config, NewAPIClient(config.BotToken))
}

func NewWithClient(config Config, client Client) *Adapter {
	return &Adapter{
		config: config,
		client: client,
		pacer:  channels.NewPacer(1, 3),
		now:    time.Now,
	}
}

func (a *Adapter) Kind() message.Channel { return message.ChannelSlack }

func (a *Adapter) Start(context.Context) error { return nil }
func (a *Adapter) Stop(context.Context) error  { return nil }

func (a *Adapter) Send(ctx context.Context, out message.Outbound) error {
	if err := a.pacer.Wait(ctx); err != nil {
		return err
	}
	return a.client.PostMessage(ctx, out.ConversationID, out.Text)
}

func (a *Adapter) Verify(_ context.Context, raw message.RawInbound) (authn.VerificationResult, error) {
	result := authn.VerifySlackSignature(
		a.config.SigningSecret,
		raw.Headers["x-slack-request-timestamp"],
		raw.Metadata["rawBody"],
		raw.Headers["x-slack-signature"],
	)
	if !result.Authenticated {
		return result, nil
	}

	if len(a.config.AllowedChannels) > 0 {
		allowed := authn.FoldSet(a.config.AllowedChannels)
		if !authn.FoldContains(allowed, raw.ConversationID) {
			reason := fmt.Sprintf("channel %s not allowlisted", raw.ConversationID)
			return channels.Downgrade(result, reason), nil
		}
	}
	return result, nil
}

func (a *Adapter) Normalize(raw message.RawInbound, result authn.VerificationResult) (message.Canonical, error) {
	return channels.NormalizeTextual(message.ChannelSlack, raw, result), nil
}

// IngestWebhook parses one events-API delivery. It returns the echo
// value for url_verification handshakes and the empty string otherwise.
// Non-message events and bot messages are dropped without emission.
func (a *Adapter) IngestWebhook(rawBody []byte, headers map[string]string) (challenge string, err error) {
	var payload eventEnvelope
	if err := json.Unmarshal(rawBody, &payload); err != nil {
		return "", fmt.Errorf("slack webhook payload: %w", err)
	}

	if payload.Type == "url_verification" {
		return payload.Challenge, nil
	}

	event := payload.Event
	if event == nil || event.Type != "message" || event.BotID != "" {
		return "", nil
	}

	id := payload.EventID
	if id == "" {
		id = strconv.FormatInt(a.now().UnixMilli(), 10)
	}
	timestampMs := a.now().UnixMilli()
	if payload.EventTime > 0 {
		timestampMs = payload.EventTime * 1000
	}
	senderID := event.User
	if senderID == "" {
		senderID = "unknown"
	}
	conversationID := event.Channel
	if conversationID == "" {
		conversationID = "unknown"
	}

	a.Emit(message.RawInbound{
		ID:             id,
		Channel:        message.ChannelSlack,
		SenderID:       senderID,
		ConversationID: conversationID,
		TimestampMs:    timestampMs,
		Nonce:          event.TS,
		Payload:        event.Text,
		ContentType:    "text/plain",
		Headers: map[string]string{
			"x-slack-signature":         headers["x-slack-signature"],
			"x-slack-request-timestamp": headers["x-slack-request-timestamp"],
		},
		Metadata: map[string]string{
			"rawBody": string(rawBody),
		},
	})
	return "", nil
}
