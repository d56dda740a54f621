// Package bus adapts the seven inbound/outbound topics of the external
// interface to a message transport, generalizing the task-queue pattern
// this module's Redis-backed FIFO queue uses into a named-topic bus.
package bus

import (
	"context"
	"time"
)

// Message is one payload received from a topic.
type Message struct {
	Topic   string
	Payload []byte

	// Ack acknowledges successful processing. Reject returns the message
	// for retry with a human-readable reason.
	Ack    func(ctx context.Context) error
	Reject func(ctx context.Context, reason string) error
}

// Bus is the Message Bus Adapter: a thin, reliable-delivery publish/
// subscribe surface the Dispatcher and workflow engine depend on instead
// of a concrete transport.
type Bus interface {
	Publish(ctx context.Context, topic string, payload []byte) error

	// Receive blocks up to timeout for the next message on topic. It
	// returns (nil, nil) on timeout with nothing available.
	Receive(ctx context.Context, topic string, timeout time.Duration) (*Message, error)

	Close() error
}
