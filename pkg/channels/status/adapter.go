// Package status bridges a decentralized community chat carried over a
// gossip pub/sub network. Messages travel as signed envelopes; the
// client validates scope and signature before anything reaches the
// bridge, and the adapter re-checks the same facts as its verification
// mechanism.
package status

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/openclaw/bridge/pkg/authn"
	"github.com/openclaw/bridge/pkg/channels"
	"github.com/openclaw/bridge/pkg/message"
)

type Config struct {
	BootstrapNodes []string
	PrivateKeyHex  string
	CommunityID    string
	ChatID         string
	Topic          string
	AllowedSenders []string
}

type Adapter struct {
	channels.Emitter
	config Config
	client *Client
}

func New(config Config, transport Transport, logger *slog.Logger) (*Adapter, error) {
	client, err := NewClient(config, transport, logger)
	if err != nil {
		return nil, err
	}

	a := &Adapter{
		config: config,
		client: client,
	}
	client.OnEnvelope(a.ingestEnvelope)
	return a, nil
}

func (a *Adapter) Kind() message.Channel { return message.ChannelStatus }

func (a *Adapter) Start(ctx context.Context) error { return a.client.Start(ctx) }
func (a *Adapter) Stop(ctx context.Context) error  { return a.client.Stop(ctx) }

func (a *Adapter) Send(ctx context.Context, out message.Outbound) error {
	return a.client.PublishText(ctx, out.Text)
}

func (a *Adapter) Verify(_ context.Context, raw message.RawInbound) (authn.VerificationResult, error) {
	return authn.VerifyStatusEnvelope(authn.StatusEnvelopeParams{
		SenderID:            raw.SenderID,
		ExpectedTopic:       a.config.Topic,
		ProvidedTopic:       raw.Headers["topic"],
		ExpectedCommunityID: a.config.CommunityID,
		ProvidedCommunityID: raw.Metadata["communityId"],
		ExpectedChatID:      a.config.ChatID,
		ProvidedChatID:      raw.ConversationID,
		SignatureVerified:   raw.Metadata["signatureVerifiedByWaku"] == "true",
		SignatureProof:      raw.Metadata["signatureProof"],
		AllowedSenders:      a.config.AllowedSenders,
	}), nil
}

func (a *Adapter) Normalize(raw message.RawInbound, result authn.VerificationResult) (message.Canonical, error) {
	canonical := channels.NormalizeTextual(message.ChannelStatus, raw, result)
	if raw.ContentType == "audio/ogg" {
		canonical.Kind = message.KindAudio
		canonical.Text = ""
		canonical.CommandName = ""
		canonical.CommandArgs = nil
		canonical.AudioURL = raw.Payload
	}
	return canonical, nil
}

// ingestEnvelope maps one validated envelope into the raw inbound
// shape. The transport-verified facts travel in metadata so Verify can
// re-check them against configuration.
func (a *Adapter) ingestEnvelope(env InboundEnvelope) {
	a.Emit(message.RawInbound{
		ID:             env.MessageID,
		Channel:        message.ChannelStatus,
		SenderID:       env.SenderPublicKey,
		ConversationID: env.ChatID,
		TimestampMs:    env.TimestampMs,
		Nonce:          env.Nonce,
		Payload:        env.Payload,
		ContentType:    string(env.ContentType),
		Headers: map[string]string{
			"topic": env.Topic,
		},
		Metadata: map[string]string{
			"communityId":             env.CommunityID,
			"signatureVerifiedByWaku": strconv.FormatBool(env.SignatureVerified),
			"signatureProof":          env.SignatureProof,
		},
	})
}
