// Package message defines the channel-agnostic data model shared by the
// bridge engine, the policy layer, and every channel adapter. A message
// enters the system as a RawInbound produced by an adapter from its wire
// format, and leaves it as a Canonical handed to the downstream gateway.
package message

// Channel identifies a bridged messaging surface.
type Channel string

const (
	ChannelStatus   Channel = "status"
	ChannelWhatsApp Channel = "whatsapp"
	ChannelTelegram Channel = "telegram"
	ChannelSignal   Channel = "signal"
	ChannelDiscord  Channel = "discord"
	ChannelSlack    Channel = "slack"
	ChannelEmail    Channel = "email"
)

// Kind classifies the content of a canonical message.
type Kind string

const (
	KindText    Kind = "text"
	KindAudio   Kind = "audio"
	KindFile    Kind = "file"
	KindCommand Kind = "command"
)

// Confidence grades the strength of an authentication mechanism. It is
// advisory metadata for observability; policy decisions only inspect the
// authenticated flag.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// RawInbound is an unauthenticated inbound event as parsed by a channel
// adapter. It is immutable once emitted. ID is the channel-native message
// identity; Nonce is the channel's replay-protection token and falls back
// to ID when empty.
type RawInbound struct {
	ID             string            `json:"id"`
	Channel        Channel           `json:"channel"`
	SenderID       string            `json:"senderId"`
	ConversationID string            `json:"conversationId"`
	TimestampMs    int64             `json:"timestampMs"`
	Nonce          string            `json:"nonce,omitempty"`
	Payload        string            `json:"payload"`
	ContentType    string            `json:"contentType"`
	Headers        map[string]string `json:"headers"`
	Metadata       map[string]string `json:"metadata"`
}

// ReplayNonce returns the replay-protection token, falling back to the
// message identity when the channel supplies none.
func (r RawInbound) ReplayNonce() string {
	if r.Nonce != "" {
		return r.Nonce
	}
	return r.ID
}

// CryptographicState carries the verification verdict on a canonical
// message for downstream observability.
type CryptographicState struct {
	Authenticated bool       `json:"authenticated"`
	Mechanism     string     `json:"mechanism"`
	Confidence    Confidence `json:"confidence"`
}

// Canonical is the normalized representation of an inbound message after
// verification. MessageID always equals the originating RawInbound.ID.
type Canonical struct {
	MessageID            string             `json:"messageId"`
	SourceChannel        Channel            `json:"sourceChannel"`
	SourceSenderID       string             `json:"sourceSenderId"`
	SourceConversationID string             `json:"sourceConversationId"`
	CreatedAtMs          int64              `json:"createdAtMs"`
	Kind                 Kind               `json:"kind"`
	Text                 string             `json:"text,omitempty"`
	AudioURL             string             `json:"audioUrl,omitempty"`
	FileURL              string             `json:"fileUrl,omitempty"`
	CommandName          string             `json:"commandName,omitempty"`
	CommandArgs          []string           `json:"commandArgs,omitempty"`
	Metadata             map[string]string  `json:"metadata"`
	CryptographicState   CryptographicState `json:"cryptographicState"`
}

// Outbound is a message forwarded to a target channel during fanout. The
// engine constructs one instance per target with Channel rewritten.
type Outbound struct {
	Channel        Channel           `json:"channel"`
	ConversationID string            `json:"conversationId"`
	Text           string            `json:"text"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}
