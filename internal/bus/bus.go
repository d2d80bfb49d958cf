// Package bus provides at-least-once event delivery with per-type
// streams, priority queues, retry with backoff, and a dead-letter
// destination. Two transports implement the same contract: an
// in-process bus and a Redis-backed bus.
package bus

import "context"

// Handler processes one delivered message. Handlers must be idempotent:
// delivery is at-least-once and retries redeliver the same message.
type Handler func(ctx context.Context, msg *Message) error

// Bus is the event transport contract
type Bus interface {
	// Publish appends the message to the per-type stream, notifies
	// subscribers, and enqueues into the priority queue. Transient
	// publish failures are retried; sustained failure returns a
	// transport error.
	Publish(ctx context.Context, msg *Message) error

	// Subscribe registers a handler for an event type. Registration is
	// idempotent by handler identity.
	Subscribe(eventType string, handler Handler)

	// StartConsumers begins delivery to registered handlers
	StartConsumers(ctx context.Context) error

	// Stop drains in-flight deliveries within the configured bound and
	// closes the transport
	Stop(ctx context.Context) error

	// GetStream replays persisted messages for an event type in publish
	// order, starting after sinceID (empty means from the beginning)
	GetStream(ctx context.Context, eventType, sinceID string, count int64) ([]*Message, error)

	// DeadLetter records a message that exhausted its retry budget
	DeadLetter(ctx context.Context, msg *Message, cause error) error
}
