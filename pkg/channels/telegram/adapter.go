// Package telegram bridges a Telegram bot over its webhook updates and
// sendMessage API.
package telegram

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
	BotToken           string
	WebhookSecretToken string
	AllowedChatIDs     []string
}

type Client interface {
	SendMessage(ctx context.Context, chatID, text string) error
}

type update struct {
	UpdateID int64 `json:"update_id"`
	Message  *struct {
		MessageID int64           `json:"message_id"`
		Date      int64           `json:"date"`
		Text      string          `json:"text"`
		Caption   string          `json:"caption"`
		Chat      json.RawMessage `json:"chat"`
		From      json.RawMessage `json:"from"`
	} `json:"message"`
}

type party struct {
	ID json.Number `json:"id"`
}

type Adapter struct {
	channels.Emitter
	config Config
	client Client
	pacer  *channels.Pacer
}

func New(config Config) *Adapter {
	return NewWithClient(config, NewAPIClient(config.BotToken))
}

func NewWithClient(config Config, client Client) *Adapter {
	return &Adapter{
		config: config,
		client: client,
		pacer:  channels.NewPacer(1, 3),
	}
}

func (a *Adapter) Kind() message.Channel { return message.ChannelTelegram }

func (a *Adapter) Start(context.Context) error { return nil }
func (a *Adapter) Stop(context.Context) error  { return nil }

func (a *Adapter) Send(ctx context.Context, out message.Outbound) error {
	if err := a.pacer.Wait(ctx); err != nil {
		return err
	}
	return a.client.SendMessage(ctx, out.ConversationID, out.Text)
}

func (a *Adapter) Verify(_ context.Context, raw message.RawInbound) (authn.VerificationResult, error) {
	result := authn.VerifyTelegramSecretToken(
		a.config.WebhookSecretToken,
		raw.Headers["x-telegram-bot-api-secret-token"],
	)
	if !result.Authenticated {
		return result, nil
	}

	if len(a.config.AllowedChatIDs) > 0 {
		allowed := authn.FoldSet(a.config.AllowedChatIDs)
		if !authn.FoldContains(allowed, raw.ConversationID) {
			reason := fmt.Sprintf("chat %s not allowed", raw.ConversationID)
			return channels.Downgrade(result, reason), nil
		}
	}
	return result, nil
}

func (a *Adapter) Normalize(raw message.RawInbound, result authn.VerificationResult) (message.Canonical, error) {
	return channels.NormalizeTextual(message.ChannelTelegram, raw, result), nil
}

// IngestWebhook parses one bot-API update. Updates without a message
// are dropped; the payload is the text, falling back to the media
// caption.
func (a *Adapter) IngestWebhook(rawBody []byte, headers map[string]string) error {
	var u update
	if err := json.Unmarshal(rawBody, &u); err != nil {
		return fmt.Errorf("telegram update payload: %w", err)
	}
	if u.Message == nil {
		return nil
	}

	payload := u.Message.Text
	if payload == "" {
		payload = u.Message.Caption
	}

	chatID := partyID(u.Message.Chat)
	senderID := partyID(u.Message.From)
	if senderID == "" {
		senderID = chatID
	}

	updateID := strconv.FormatInt(u.UpdateID, 10)
	a.Emit(message.RawInbound{
		ID:             updateID,
		Channel:        message.ChannelTelegram,
		SenderID:       senderID,
		ConversationID: chatID,
		TimestampMs:    u.Message.Date * 1000,
		Nonce:          updateID,
		Payload:        payload,
		ContentType:    "text/plain",
		Headers: map[string]string{
			"x-telegram-bot-api-secret-token": headers["x-telegram-bot-api-secret-token"],
		},
		Metadata: map[string]string{
			"rawBody": string(rawBody),
		},
	})
	return nil
}

// partyID extracts the numeric id from a chat or user object.
func partyID(data json.RawMessage) string {
	if len(data) == 0 {
		return ""
	}
	var p party
	if err := json.Unmarshal(data, &p); err != nil {
		return ""
	}
	return p.ID.String()
}
