package status

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisTransport carries envelopes over Redis pub/sub. It is the
// self-hosted deployment mode where every bridge node shares one Redis;
// a production gossip deployment swaps in a Transport backed by a real
// pub/sub relay node.
type RedisTransport struct {
	client redis.UniversalClient

	mu      sync.Mutex
	pubsubs []*redis.PubSub
}

func NewRedisTransport(client redis.UniversalClient) *RedisTransport {
	return &RedisTransport{client: client}
}

func (t *RedisTransport) Start(context.Context) error { return nil }

func (t *RedisTransport) Stop(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, pubsub := range t.pubsubs {
		_ = pubsub.Close()
	}
	t.pubsubs = nil
	return nil
}

func (t *RedisTransport) WaitForPeers(ctx context.Context) error {
	if err := t.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis transport ping: %w", err)
	}
	return nil
}

func (t *RedisTransport) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := t.client.Publish(ctx, topic, payload).Err(); err != nil {
		return fmt.Errorf("redis transport publish: %w", err)
	}
	return nil
}

func (t *RedisTransport) Subscribe(ctx context.Context, topic string, handler func(TransportMessage)) (func() error, error) {
	pubsub := t.client.Subscribe(ctx, topic)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis transport subscribe: %w", err)
	}

	t.mu.Lock()
	t.pubsubs = append(t.pubsubs, pubsub)
	t.mu.Unlock()

	go func() {
		for msg := range pubsub.Channel() {
			handler(TransportMessage{
				Payload:      []byte(msg.Payload),
				ContentTopic: msg.Channel,
			})
		}
	}()

	return pubsub.Close, nil
}
