package bus

import (
	"context"
	"sync"
	"time"
)

// InMemory implements Bus with one buffered channel per topic. It is
// intended for tests and single-process local development.
type InMemory struct {
	mu     sync.Mutex
	topics map[string]chan []byte
	closed bool
}

// NewInMemory creates an empty InMemory bus.
func NewInMemory() *InMemory {
	return &InMemory{topics: make(map[string]chan []byte)}
}

func (b *InMemory) channel(topic string) chan []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.topics[topic]
	if !ok {
		ch = make(chan []byte, 1024)
		b.topics[topic] = ch
	}
	return ch
}

func (b *InMemory) Publish(ctx context.Context, topic string, payload []byte) error {
	select {
	case b.channel(topic) <- payload:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *InMemory) Receive(ctx context.Context, topic string, timeout time.Duration) (*Message, error) {
	ch := b.channel(topic)
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case payload := <-ch:
		return &Message{
			Topic:   topic,
			Payload: payload,
			Ack:     func(context.Context) error { return nil },
			Reject: func(ctx context.Context, reason string) error {
				return b.Publish(ctx, topic, payload)
			},
		}, nil
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (b *InMemory) Close() error { return nil }
