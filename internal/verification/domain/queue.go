package domain

import (
	"context"
	"time"
)

// Queue is the verification transport. Implementations provide at-least-once
// delivery; a message stays claimable until acked.
type Queue interface {
	// Publish makes the message available immediately.
	Publish(ctx context.Context, msg Message) error

	// PublishDelayed makes the message available no earlier than after the
	// given delay. Used for retry backoff so no consumer sleeps holding a
	// message.
	PublishDelayed(ctx context.Context, msg Message, delay time.Duration) error

	// Dequeue claims up to max pending messages for this consumer.
	// Malformed payloads are dropped and acked inside the implementation;
	// they never reach the caller.
	Dequeue(ctx context.Context, max int) ([]Delivery, error)

	// Ack marks the delivery as done. Idempotent.
	Ack(ctx context.Context, d Delivery) error

	// DeadLetter copies the delivery onto the dead-letter stream and acks it.
	DeadLetter(ctx context.Context, d Delivery, reason string) error
}
