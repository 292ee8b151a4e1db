// Package whatsapp bridges a WhatsApp Business number over the Meta
// graph webhook and messages API.
package whatsapp

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/openclaw/bridge/pkg/authn"
	"github.com/openclaw/bridge/pkg/channels"
	"github.com/openclaw/bridge/pkg/message"
)

type Config struct {
	AppSecret      string
	VerifyToken    string
	AccessToken    string
	PhoneNumberID  string
	AllowedSenders []string
}

type Client interface {
	SendText(ctx context.Context, to, body string) error
}

type webhookPayload struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Messages []struct {
					ID        string `json:"id"`
					From      string `json:"from"`
					Timestamp string `json:"timestamp"`
					Type      string `json:"type"`
					Text      *struct {
						Body string `json:"body"`
					} `json:"text"`
					Audio *struct {
						ID string `json:"id"`
					} `json:"audio"`
				} `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type Adapter struct {
	channels.Emitter
	config Config
	client Client
	pacer  *channels.Pacer
}

func New(config Config) *Adapter {
	return NewWithClient(config, NewAPIClient(config.AccessToken, config.PhoneNumberID))
}

func NewWithClient(config Config, client Client) *Adapter {
	return &Adapter{
		config: config,
		client: client,
		pacer:  channels.NewPacer(1, 3),
	}
}

func (a *Adapter) Kind() message.Channel { return message.ChannelWhatsApp }

func (a *Adapter) Start(context.Context) error { return nil }
func (a *Adapter) Stop(context.Context) error  { return nil }

func (a *Adapter) Send(ctx context.Context, out message.Outbound) error {
	if err := a.pacer.Wait(ctx); err != nil {
		return err
	}
	return a.client.SendText(ctx, out.ConversationID, out.Text)
}

func (a *Adapter) Verify(_ context.Context, raw message.RawInbound) (authn.VerificationResult, error) {
	result := authn.VerifyWhatsAppSignature(
		a.config.AppSecret,
		raw.Metadata["rawBody"],
		raw.Headers["x-hub-signature-256"],
	)
	if !result.Authenticated {
		return result, nil
	}

	if len(a.config.AllowedSenders) > 0 {
		allowed := authn.FoldSet(a.config.AllowedSenders)
		if !authn.FoldContains(allowed, raw.SenderID) {
			reason := fmt.Sprintf("sender %s not allowlisted", raw.SenderID)
			return channels.Downgrade(result, reason), nil
		}
	}
	return result, nil
}

func (a *Adapter) Normalize(raw message.RawInbound, result authn.VerificationResult) (message.Canonical, error) {
	canonical := channels.NormalizeTextual(message.ChannelWhatsApp, raw, result)
	if raw.ContentType == "audio/ogg" {
		canonical.Kind = message.KindAudio
		canonical.Text = ""
		canonical.CommandName = ""
		canonical.CommandArgs = nil
		canonical.AudioURL = raw.Payload
	}
	return canonical, nil
}

// IngestWebhook parses one graph-API delivery and emits the first
// message of the first change, matching the per-message delivery mode
// the webhook subscription is configured for.
func (a *Adapter) IngestWebhook(rawBody []byte, headers map[string]string) error {
	var payload webhookPayload
	if err := json.Unmarshal(rawBody, &payload); err != nil {
		return fmt.Errorf("whatsapp webhook payload: %w", err)
	}

	if len(payload.Entry) == 0 || len(payload.Entry[0].Changes) == 0 {
		return nil
	}
	messages := payload.Entry[0].Changes[0].Value.Messages
	if len(messages) == 0 {
		return nil
	}
	msg := messages[0]

	isAudio := msg.Type == "audio"
	body := ""
	contentType := "text/plain"
	if isAudio {
		contentType = "audio/ogg"
		if msg.Audio != nil {
			body = msg.Audio.ID
		}
	} else if msg.Text != nil {
		body = msg.Text.Body
	}

	timestampMs := int64(0)
	if seconds, err := strconv.ParseInt(msg.Timestamp, 10, 64); err == nil {
		timestampMs = seconds * 1000
	}

	a.Emit(message.RawInbound{
		ID:             msg.ID,
		Channel:        message.ChannelWhatsApp,
		SenderID:       msg.From,
		ConversationID: msg.From,
		TimestampMs:    timestampMs,
		Nonce:          msg.ID,
		Payload:        body,
		ContentType:    contentType,
		Headers: map[string]string{
			"x-hub-signature-256": headers["x-hub-signature-256"],
		},
		Metadata: map[string]string{
			"rawBody": string(rawBody),
		},
	})
	return nil
}

// VerifyWebhookSubscription answers Meta's subscription handshake.
// The challenge is echoed only for a subscribe request carrying the
// configured verify token; otherwise the empty string is returned.
func (a *Adapter) VerifyWebhookSubscription(mode, token, challenge string) string {
	if mode != "subscribe" {
		return ""
	}
	if !authn.SafeEqual(a.config.VerifyToken, token) {
		return ""
	}
	return challenge
}
