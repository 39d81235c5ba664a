package domain

import (
	"context"
	"time"
)

// Message is one delivered bus entry.
type Message struct {
	ID      string
	Topic   string
	Payload []byte
}

// Bus is an ordered, durable, at-least-once pub/sub channel with competing
// consumer groups.
type Bus interface {
	// Publish appends payload to topic and returns its message ID.
	Publish(ctx context.Context, topic string, payload []byte) (string, error)
	// CreateGroup creates a consumer group. Creating an existing group is a no-op.
	CreateGroup(ctx context.Context, topic, group string) error
	// Consume returns up to count messages for consumer within group, waiting
	// at most block for new entries. Within a group each message is delivered
	// to one consumer; unacknowledged messages may be redelivered.
	Consume(ctx context.Context, topic, group, consumer string, count int, block time.Duration) ([]Message, error)
	// Ack marks messages as processed for group.
	Ack(ctx context.Context, topic, group string, ids ...string) error
}
