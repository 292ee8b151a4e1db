package status

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/openclaw/bridge/pkg/envelope"
)

// InboundEnvelope is a fully validated delivery: decoded, scoped to the
// configured topic, community and chat, and signature-verified.
type InboundEnvelope struct {
	envelope.Envelope
	SignatureVerified bool
	SignatureProof    string
}

// Client runs the subscriber side of the decentralized channel over a
// Transport and publishes signed envelopes on the outbound side.
//
// Inbound deliveries pass a strict gauntlet before they reach the
// envelope handler: payload bytes present, transport topic match,
// envelope decode, embedded topic/community/chat match, signature
// verify. A delivery failing any stage is dropped with a warning
// observation, never an error; gossip networks carry foreign traffic
// as a matter of course.
type Client struct {
	config    Config
	transport Transport
	publicKey string
	logger    *slog.Logger

	mu          sync.Mutex
	started     bool
	unsubscribe func() error
	handlers    []func(InboundEnvelope)
	onWarning   func(reason, messageID string)
}

func NewClient(config Config, transport Transport, logger *slog.Logger) (*Client, error) {
	publicKey, err := envelope.DerivePublicKeyHex(config.PrivateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("status client key: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		config:    config,
		transport: transport,
		publicKey: publicKey,
		logger:    logger.With("component", "channels.status"),
	}, nil
}

// PublicKeyHex is the hex Ed25519 public key envelopes are signed
// under.
func (c *Client) PublicKeyHex() string { return c.publicKey }

// OnEnvelope registers a handler for validated inbound envelopes.
// Registration must happen before Start.
func (c *Client) OnEnvelope(handler func(InboundEnvelope)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, handler)
}

// OnWarning registers an observer for dropped deliveries.
func (c *Client) OnWarning(observer func(reason, messageID string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onWarning = observer
}

func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return nil
	}

	if err := c.transport.Start(ctx); err != nil {
		return fmt.Errorf("status transport start: %w", err)
	}
	if err := c.transport.WaitForPeers(ctx); err != nil {
		return fmt.Errorf("status transport peers: %w", err)
	}

	unsubscribe, err := c.transport.Subscribe(ctx, c.config.Topic, c.handleDelivery)
	if err != nil {
		return fmt.Errorf("status transport subscribe: %w", err)
	}
	c.unsubscribe = unsubscribe
	c.started = true
	return nil
}

func (c *Client) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return nil
	}

	if c.unsubscribe != nil {
		if err := c.unsubscribe(); err != nil {
			c.logger.Warn("unsubscribe failed", "error", err)
		}
		c.unsubscribe = nil
	}
	c.started = false
	return c.transport.Stop(ctx)
}

// PublishText signs a text payload under the configured scope and
// publishes the wire envelope.
func (c *Client) PublishText(ctx context.Context, text string) error {
	signed, err := envelope.Sign(envelope.Unsigned{
		SenderPublicKey: c.publicKey,
		CommunityID:     c.config.CommunityID,
		ChatID:          c.config.ChatID,
		Topic:           c.config.Topic,
		ContentType:     envelope.ContentTypeText,
		Payload:         text,
	}, c.config.PrivateKeyHex)
	if err != nil {
		return fmt.Errorf("status sign: %w", err)
	}

	wire, err := envelope.MarshalWire(signed)
	if err != nil {
		return fmt.Errorf("status wire encode: %w", err)
	}
	return c.transport.Publish(ctx, c.config.Topic, wire)
}

func (c *Client) handleDelivery(msg TransportMessage) {
	if len(msg.Payload) == 0 {
		c.warn("missing payload bytes", "")
		return
	}

	if msg.ContentTopic != "" && msg.ContentTopic != c.config.Topic {
		c.warn(fmt.Sprintf("transport topic mismatch: expected %s, got %s", c.config.Topic, msg.ContentTopic), "")
		return
	}

	env, err := envelope.Decode(msg.Payload)
	if err != nil {
		c.warn(fmt.Sprintf("malformed envelope: %v", err), "")
		return
	}

	if env.Topic != c.config.Topic {
		c.warn(fmt.Sprintf("topic mismatch: expected %s, got %s", c.config.Topic, env.Topic), env.MessageID)
		return
	}
	if env.CommunityID != c.config.CommunityID {
		c.warn("community mismatch", env.MessageID)
		return
	}
	if env.ChatID != c.config.ChatID {
		c.warn("chat mismatch", env.MessageID)
		return
	}

	verification := envelope.Verify(env)
	if !verification.OK {
		c.warn(fmt.Sprintf("signature verification failed: %s", verification.Reason), env.MessageID)
		return
	}

	inbound := InboundEnvelope{
		Envelope:          env,
		SignatureVerified: true,
		SignatureProof:    verification.Proof,
	}

	c.mu.Lock()
	handlers := make([]func(InboundEnvelope), len(c.handlers))
	copy(handlers, c.handlers)
	c.mu.Unlock()

	for _, handler := range handlers {
		handler(inbound)
	}
}

func (c *Client) warn(reason, messageID string) {
	c.logger.Warn("delivery dropped", "reason", reason, "message_id", messageID)

	c.mu.Lock()
	observer := c.onWarning
	c.mu.Unlock()
	if observer != nil {
		observer(reason, messageID)
	}
}
