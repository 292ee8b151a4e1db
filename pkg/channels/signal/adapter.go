// Package signal bridges a Signal number through a local signal-cli
// RPC daemon. Authenticity rests on the daemon's trust boundary rather
// than per-message cryptography.
package signal

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

type Config struct {
	RPCURL       string
	TrustedPeers []string
}

type Client interface {
	SendMessage(ctx context.Context, recipient, text string) error
}

// InboundEvent is the envelope shape the signal-cli daemon delivers.
type InboundEvent struct {
	Envelope *struct {
		Source      string `json:"source"`
		Timestamp   int64  `json:"timestamp"`
		DataMessage *struct {
			Message string `json:"message"`
		} `json:"dataMessage"`
	} `json:"envelope"`
}

type Adapter struct {
	channels.Emitter
	config Config
	client Client
	now    func() time.Time
}

func New(config Config) *Adapter {
	return NewWithClient(config, NewRPCClient(config.RPCURL))
}

func NewWithClient(config Config, client Client) *Adapter {
	return &Adapter{
		config: config,
		client: client,
		now:    time.Now,
	}
}

func (a *Adapter) Kind() message.Channel { return message.ChannelSignal }

func (a *Adapter) Start(context.Context) error { return nil }
func (a *Adapter) Stop(context.Context) error  { return nil }

func (a *Adapter) Send(ctx context.Context, out message.Outbound) error {
	return a.client.SendMessage(ctx, out.ConversationID, out.Text)
}

func (a *Adapter) Verify(_ context.Context, raw message.RawInbound) (authn.VerificationResult, error) {
	return authn.VerifySignalTrustBoundary(a.config.TrustedPeers, raw.SenderID), nil
}

func (a *Adapter) Normalize(raw message.RawInbound, result authn.VerificationResult) (message.Canonical, error) {
	return channels.NormalizeTextual(message.ChannelSignal, raw, result), nil
}

// IngestEvent emits one daemon event. Events without a source are
// dropped; the message identity is "source-timestamp" since Signal has
// no standalone message id.
func (a *Adapter) IngestEvent(rawBody []byte) error {
	var event InboundEvent
	if err := json.Unmarshal(rawBody, &event); err != nil {
		return fmt.Errorf("signal event payload: %w", err)
	}

	envelope := event.Envelope
	if envelope == nil || envelope.Source == "" {
		return nil
	}

	timestampMs := envelope.Timestamp
	if timestampMs == 0 {
		timestampMs = a.now().UnixMilli()
	}
	text := ""
	if envelope.DataMessage != nil {
		text = envelope.DataMessage.Message
	}

	a.Emit(message.RawInbound{
		ID:             fmt.Sprintf("%s-%d", envelope.Source, timestampMs),
		Channel:        message.ChannelSignal,
		SenderID:       envelope.Source,
		ConversationID: envelope.Source,
		TimestampMs:    timestampMs,
		Nonce:          strconv.FormatInt(timestampMs, 10),
		Payload:        text,
		ContentType:    "text/plain",
		Headers:        map[string]string{},
		Metadata: map[string]string{
			"source": "signal-cli",
		},
	})
	return nil
}
