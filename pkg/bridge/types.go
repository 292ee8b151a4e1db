// Package bridge implements the security and routing pipeline at the
// center of the system. Every inbound message from every channel passes
// through one Engine before it can reach the downstream gateway or be
// forwarded to another channel.
package bridge

import (
	"context"

	"github.com/openclaw/bridge/pkg/authn"
	"github.com/openclaw/bridge/pkg/message"
)

// Adapter is the contract every channel implementation satisfies. The
// engine drives lifecycle, verification, normalization, and outbound
// sends through this interface and never touches channel wire formats.
type Adapter interface {
	// Kind identifies the channel this adapter serves.
	Kind() message.Channel

	Start(ctx context.Context) error
	Stop(ctx context.Context) error

	// Send delivers an outbound message on this channel. It fails when
	// the underlying channel API rejects delivery.
	Send(ctx context.Context, out message.Outbound) error

	// Verify runs the channel-specific authentication check. A failed
	// check is a normal result, not an error; the error return is for
	// adapter-internal faults only.
	Verify(ctx context.Context, raw message.RawInbound) (authn.VerificationResult, error)

	// Normalize builds the canonical message, carrying the verification
	// verdict into its cryptographic state.
	Normalize(raw message.RawInbound, result authn.VerificationResult) (message.Canonical, error)

	// OnMessage registers the handler invoked once per raw inbound
	// message. Registration happens before Start and is not safe to
	// call while the adapter is running.
	OnMessage(handler func(raw message.RawInbound))
}

// Gateway is the downstream consumer of accepted canonical messages.
type Gateway interface {
	Ingest(ctx context.Context, msg message.Canonical) error
}
