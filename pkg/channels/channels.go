// Package channels holds the building blocks shared by every channel
// adapter: inbound message emission, outbound send pacing, command
// parsing, and the common normalization shape. The adapters themselves
// live in subpackages, one per channel.
package channels

import (
	"strings"
	"sync"

	"github.com/openclaw/bridge/pkg/authn"
	"github.com/openclaw/bridge/pkg/message"
)

// Emitter delivers raw inbound messages to registered handlers. Each
// emitted message reaches every handler exactly once. Adapters embed it
// to satisfy the engine's OnMessage contract.
type Emitter struct {
	mu       sync.RWMutex
	handlers []func(message.RawInbound)
}

// OnMessage registers a handler for raw inbound messages.
func (e *Emitter) OnMessage(handler func(raw message.RawInbound)) {
	e.mu.Lock()
	e.handlers = append(e.handlers, handler)
	e.mu.Unlock()
}

// Emit hands a raw inbound message to every registered handler.
func (e *Emitter) Emit(raw message.RawInbound) {
	e.mu.RLock()
	handlers := e.handlers
	e.mu.RUnlock()
	for _, h := range handlers {
		h(raw)
	}
}

// ParseCommand splits a "/name arg arg" payload into its parts. ok is
// false when the payload is not a command.
func ParseCommand(payload string) (name string, args []string, ok bool) {
	if !strings.HasPrefix(payload, "/") {
		return "", nil, false
	}
	parts := strings.Fields(payload[1:])
	if len(parts) == 0 {
		return "", nil, true
	}
	return parts[0], parts[1:], true
}

// NormalizeTextual builds the canonical form shared by text-based
// channels: a "/" payload becomes a command, anything else plain text.
func NormalizeTextual(channel message.Channel, raw message.RawInbound, result authn.VerificationResult) message.Canonical {
	canonical := message.Canonical{
		MessageID:            raw.ID,
		SourceChannel:        channel,
		SourceSenderID:       raw.SenderID,
		SourceConversationID: raw.ConversationID,
		CreatedAtMs:          raw.TimestampMs,
		Kind:                 message.KindText,
		Text:                 raw.Payload,
		Metadata:             raw.Metadata,
		CryptographicState: message.CryptographicState{
			Authenticated: result.Authenticated,
			Mechanism:     result.Mechanism,
			Confidence:    result.Confidence,
		},
	}
	if name, args, ok := ParseCommand(raw.Payload); ok {
		canonical.Kind = message.KindCommand
		canonical.Text = ""
		canonical.CommandName = name
		canonical.CommandArgs = args
	}
	return canonical
}

// Downgrade converts a passing mechanism check into an unauthenticated
// result after a channel-local allowlist rejection. The mechanism name
// is preserved for the audit trail.
func Downgrade(result authn.VerificationResult, reason string) authn.VerificationResult {
	return authn.VerificationResult{
		Authenticated: false,
		Mechanism:     result.Mechanism,
		Confidence:    message.ConfidenceLow,
		Reason:        reason,
	}
}
