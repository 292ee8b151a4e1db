// Package discord bridges a Discord application over its interactions
// webhook and channel-message API.
package discord

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/openclaw/bridge/pkg/authn"
	"github.com/openclaw/bridge/pkg/channels"
	"github.com/openclaw/bridge/pkg/message"
)

// Interaction types from the Discord API surface the adapter handles.
const (
	interactionPing    = 1
	interactionCommand = 2
)

type Config struct {
	PublicKeyHex  string
	ApplicationID string
	BotToken      string
	AllowedGuilds []string
}

type Client interface {
	CreateMessage(ctx context.Context, channelID, content string) error
}

type interaction struct {
	ID        string `json:"id"`
	Type      int    `json:"type"`
	GuildID   string `json:"guild_id"`
	ChannelID string `json:"channel_id"`
	Member    *struct {
		User *struct {
			ID string `json:"id"`
		} `json:"user"`
	} `json:"member"`
	User *struct {
		ID string `json:"id"`
	} `json:"user"`
	Data *struct {
		Name    string `json:"name"`
		Options []struct {
			Name  string          `json:"name"`
			Value json.RawMessage `json:"value"`
		} `json:"options"`
	} `json:"data"`
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

func (a *Adapter) Kind() message.Channel { return message.ChannelDiscord }

func (a *Adapter) Start(context.Context) error { return nil }
func (a *Adapter) Stop(context.Context) error  { return nil }

func (a *Adapter) Send(ctx context.Context, out message.Outbound) error {
	if err := a.pacer.Wait(ctx); err != nil {
		return err
	}
	return a.client.CreateMessage(ctx, out.ConversationID, out.Text)
}

func (a *Adapter) Verify(_ context.Context, raw message.RawInbound) (authn.VerificationResult, error) {
	result := authn.VerifyDiscordSignature(
		a.config.PublicKeyHex,
		raw.Headers["x-signature-timestamp"],
		raw.Metadata["rawBody"],
		raw.Headers["x-signature-ed25519"],
	)
	if !result.Authenticated {
		return result, nil
	}

	guildID := raw.Metadata["guildId"]
	if len(a.config.AllowedGuilds) > 0 && guildID != "" {
		allowed := authn.FoldSet(a.config.AllowedGuilds)
		if !authn.FoldContains(allowed, guildID) {
			reason := fmt.Sprintf("guild %s is not allowed", guildID)
			return channels.Downgrade(result, reason), nil
		}
	}
	return result, nil
}

func (a *Adapter) Normalize(raw message.RawInbound, result authn.VerificationResult) (message.Canonical, error) {
	return channels.NormalizeTextual(message.ChannelDiscord, raw, result), nil
}

// IngestInteraction parses one interactions delivery. Type 1 pings are
// answered by the ingress layer; type 2 application commands are
// rendered as a "/name key=value" payload and emitted; everything else
// is dropped.
func (a *Adapter) IngestInteraction(rawBody []byte, headers map[string]string) (isPing bool, err error) {
	var in interaction
	if err := json.Unmarshal(rawBody, &in); err != nil {
		return false, fmt.Errorf("discord interaction payload: %w", err)
	}

	if in.Type == interactionPing {
		return true, nil
	}
	if in.Type != interactionCommand {
		return false, nil
	}

	commandName := "unknown"
	var args []string
	if in.Data != nil {
		if in.Data.Name != "" {
			commandName = in.Data.Name
		}
		for _, opt := range in.Data.Options {
			args = append(args, fmt.Sprintf("%s=%s", opt.Name, optionValue(opt.Value)))
		}
	}
	payload := "/" + commandName
	if len(args) > 0 {
		payload += " " + strings.Join(args, " ")
	}

	senderID := "unknown"
	if in.Member != nil && in.Member.User != nil && in.Member.User.ID != "" {
		senderID = in.Member.User.ID
	} else if in.User != nil && in.User.ID != "" {
		senderID = in.User.ID
	}
	channelID := in.ChannelID
	if channelID == "" {
		channelID = "unknown"
	}

	a.Emit(message.RawInbound{
		ID:             in.ID,
		Channel:        message.ChannelDiscord,
		SenderID:       senderID,
		ConversationID: channelID,
		TimestampMs:    a.now().UnixMilli(),
		Nonce:          in.ID,
		Payload:        payload,
		ContentType:    "application/command",
		Headers: map[string]string{
			"x-signature-ed25519":   headers["x-signature-ed25519"],
			"x-signature-timestamp": headers["x-signature-timestamp"],
		},
		Metadata: map[string]string{
			"rawBody": string(rawBody),
			"guildId": in.GuildID,
		},
	})
	return false, nil
}

// optionValue renders a command option value as text. Discord sends
// strings, numbers, and booleans; strings lose their quotes.
func optionValue(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}
