package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/polyarb/internal/domain"
)

// defaultStreamMaxLen is the approximate maximum length for Redis streams,
// enforced via XADD MAXLEN ~.
const defaultStreamMaxLen int64 = 10000

// StreamBusConfig tunes a StreamBus.
type StreamBusConfig struct {
	MaxLen    int64
	ClaimIdle time.Duration // zero disables XAUTOCLAIM redelivery
}

// StreamBus implements domain.Bus on Redis Streams and consumer groups.
type StreamBus struct {
	rdb       *redis.Client
	maxLen    int64
	claimIdle time.Duration
}

// NewStreamBus creates a StreamBus backed by the given Client.
func NewStreamBus(c *Client, cfg StreamBusConfig) *StreamBus {
	if cfg.MaxLen <= 0 {
		cfg.MaxLen = defaultStreamMaxLen
	}
	return &StreamBus{rdb: c.Underlying(), maxLen: cfg.MaxLen, claimIdle: cfg.ClaimIdle}
}

// Publish appends payload to the stream with XADD MAXLEN ~.
func (sb *StreamBus) Publish(ctx context.Context, topic string, payload []byte) (string, error) {
	args := &redis.XAddArgs{
		Stream: topic,
		MaxLen: sb.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"payload": payload,
		},
	}
	id, err := sb.rdb.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("redis: xadd %s: %w", topic, err)
	}
	return id, nil
}

// CreateGroup runs XGROUP CREATE MKSTREAM from the start of the stream. An
// existing group (BUSYGROUP) is not an error.
func (sb *StreamBus) CreateGroup(ctx context.Context, topic, group string) error {
	err := sb.rdb.XGroupCreateMkStream(ctx, topic, group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("redis: xgroup create %s/%s: %w", topic, group, err)
	}
	return nil
}

// Consume first reclaims entries idle longer than ClaimIdle, then reads new
// entries with XREADGROUP. An expired block returns an empty slice.
func (sb *StreamBus) Consume(ctx context.Context, topic, group, consumer string, count int, block time.Duration) ([]domain.Message, error) {
	if count <= 0 {
		count = 1
	}
	var out []domain.Message

	if sb.claimIdle > 0 {
		claimed, _, err := sb.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   topic,
			Group:    group,
			Consumer: consumer,
			MinIdle:  sb.claimIdle,
			Start:    "0-0",
			Count:    int64(count),
		}).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, sb.wrapGroupErr("xautoclaim", topic, group, err)
		}
		out = sb.appendMessages(ctx, out, topic, group, claimed)
		if len(out) >= count {
			return out, nil
		}
	}

	args := &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{topic, ">"},
		Count:    int64(count - len(out)),
		Block:    -1,
	}
	if block > 0 && len(out) == 0 {
		args.Block = block
	}
	streams, err := sb.rdb.XReadGroup(ctx, args).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return out, nil
		}
		return out, sb.wrapGroupErr("xreadgroup", topic, group, err)
	}
	for _, s := range streams {
		out = sb.appendMessages(ctx, out, topic, group, s.Messages)
	}
	return out, nil
}

// appendMessages converts stream entries. Entries without a payload field
// (trimmed or foreign) are acknowledged and skipped.
func (sb *StreamBus) appendMessages(ctx context.Context, out []domain.Message, topic, group string, msgs []redis.XMessage) []domain.Message {
	var junk []string
	for _, msg := range msgs {
		var data []byte
		switch v := msg.Values["payload"].(type) {
		case string:
			data = []byte(v)
		case []byte:
			data = v
		default:
			junk = append(junk, msg.ID)
			continue
		}
		out = append(out, domain.Message{ID: msg.ID, Topic: topic, Payload: data})
	}
	if len(junk) > 0 {
		_ = sb.rdb.XAck(ctx, topic, group, junk...).Err()
	}
	return out
}

// Ack acknowledges ids with XACK.
func (sb *StreamBus) Ack(ctx context.Context, topic, group string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := sb.rdb.XAck(ctx, topic, group, ids...).Err(); err != nil {
		return fmt.Errorf("redis: xack %s/%s: %w", topic, group, err)
	}
	return nil
}

func (sb *StreamBus) wrapGroupErr(op, topic, group string, err error) error {
	if strings.HasPrefix(err.Error(), "NOGROUP") {
		return fmt.Errorf("redis: %s %s/%s: group %w", op, topic, group, domain.ErrNotFound)
	}
	return fmt.Errorf("redis: %s %s/%s: %w", op, topic, group, err)
}

// Compile-time interface check.
var _ domain.Bus = (*StreamBus)(nil)
