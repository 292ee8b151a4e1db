package status

import "context"

// TransportMessage is one raw delivery from the pub/sub network. The
// content topic is the transport-level routing key and may be empty
// when the underlying node does not report it.
type TransportMessage struct {
	Payload      []byte
	ContentTopic string
}

// Transport abstracts the decentralized pub/sub node. Implementations
// wrap a concrete network client; the bridge only ever drives this
// interface, so tests run against an in-process double.
type Transport interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error

	// WaitForPeers blocks until the node can publish and receive, or
	// the context expires.
	WaitForPeers(ctx context.Context) error

	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe registers a handler for deliveries on topic and
	// returns the matching unsubscribe.
	Subscribe(ctx context.Context, topic string, handler func(TransportMessage)) (func() error, error)
}
