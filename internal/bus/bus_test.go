package bus

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polyarb/internal/domain"
)

func TestNestedPayloadRoundTrip(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBus(MemoryConfig{})
	require.NoError(t, b.CreateGroup(ctx, "t", "g"))

	in := map[string]any{
		"edge":   "0.10",
		"count":  json.Number("3"),
		"nested": map[string]any{"levels": []any{"0.45", "0.55"}, "ok": true},
		"list":   []any{map[string]any{"name": "A", "price": "0.3"}},
	}
	_, err := PublishJSON(ctx, b, "t", in)
	require.NoError(t, err)

	msgs, err := b.Consume(ctx, "t", "g", "c1", 10, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	var out map[string]any
	require.NoError(t, Decode(msgs[0].Payload, &out))
	assert.Equal(t, in, out)
}

func TestCreateGroupIsIdempotent(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBus(MemoryConfig{})
	require.NoError(t, b.CreateGroup(ctx, "t", "g"))
	_, _ = b.Publish(ctx, "t", []byte("1"))
	msgs, _ := b.Consume(ctx, "t", "g", "c", 1, 0)
	require.Len(t, msgs, 1)

	require.NoError(t, b.CreateGroup(ctx, "t", "g"))
	msgs, _ = b.Consume(ctx, "t", "g", "c", 1, 0)
	assert.Empty(t, msgs, "recreating a group must not rewind it")
}

func TestCompetingConsumersAndIndependentGroups(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBus(MemoryConfig{})
	require.NoError(t, b.CreateGroup(ctx, "t", "workers"))
	require.NoError(t, b.CreateGroup(ctx, "t", "audit"))
	for _, p := range []string{"a", "b", "c"} {
		_, err := b.Publish(ctx, "t", []byte(p))
		require.NoError(t, err)
	}

	first, _ := b.Consume(ctx, "t", "workers", "w1", 2, 0)
	second, _ := b.Consume(ctx, "t", "workers", "w2", 2, 0)
	require.Len(t, first, 2)
	require.Len(t, second, 1)
	assert.Equal(t, "a", string(first[0].Payload))
	assert.Equal(t, "c", string(second[0].Payload))

	all, _ := b.Consume(ctx, "t", "audit", "x", 10, 0)
	assert.Len(t, all, 3)
}

func TestUnackedEntriesAreRedeliveredAfterClaimIdle(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	b := NewMemoryBus(MemoryConfig{ClaimIdle: 30 * time.Second, Now: func() time.Time { return now }})
	require.NoError(t, b.CreateGroup(ctx, "t", "g"))
	_, _ = b.Publish(ctx, "t", []byte("x"))
	_, _ = b.Publish(ctx, "t", []byte("y"))

	msgs, _ := b.Consume(ctx, "t", "g", "c1", 2, 0)
	require.Len(t, msgs, 2)
	require.NoError(t, b.Ack(ctx, "t", "g", msgs[1].ID))
	assert.Equal(t, 1, b.Pending("t", "g"))

	msgs, _ = b.Consume(ctx, "t", "g", "c2", 10, 0)
	assert.Empty(t, msgs)

	now = now.Add(31 * time.Second)
	msgs, _ = b.Consume(ctx, "t", "g", "c2", 10, 0)
	require.Len(t, msgs, 1)
	assert.Equal(t, "x", string(msgs[0].Payload))

	require.NoError(t, b.Ack(ctx, "t", "g", msgs[0].ID))
	assert.Zero(t, b.Pending("t", "g"))
}

func TestConsumeBlocksUntilPublish(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBus(MemoryConfig{})
	require.NoError(t, b.CreateGroup(ctx, "t", "g"))

	go func() {
		time.Sleep(20 * time.Millisecond)
		_, _ = b.Publish(ctx, "t", []byte("late"))
	}()
	msgs, err := b.Consume(ctx, "t", "g", "c", 1, 2*time.Second)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "late", string(msgs[0].Payload))

	start := time.Now()
	msgs, err = b.Consume(ctx, "t", "g", "c", 1, 30*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, msgs)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestConsumeHonoursCancellationAndClose(t *testing.T) {
	b := NewMemoryBus(MemoryConfig{})
	require.NoError(t, b.CreateGroup(context.Background(), "t", "g"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := b.Consume(ctx, "t", "g", "c", 1, time.Minute)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, b.Close())
	_, err = b.Publish(context.Background(), "t", []byte("x"))
	require.ErrorIs(t, err, domain.ErrBusClosed)
}

func TestConsumeUnknownGroup(t *testing.T) {
	b := NewMemoryBus(MemoryConfig{})
	_, err := b.Consume(context.Background(), "t", "missing", "c", 1, 0)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMaxLenTrimsOldestEntries(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBus(MemoryConfig{MaxLen: 2})
	require.NoError(t, b.CreateGroup(ctx, "t", "g"))
	for _, p := range []string{"1", "2", "3"} {
		_, _ = b.Publish(ctx, "t", []byte(p))
	}
	assert.Equal(t, 2, b.Len("t"))

	msgs, _ := b.Consume(ctx, "t", "g", "c", 10, 0)
	require.Len(t, msgs, 2)
	assert.Equal(t, "2", string(msgs[0].Payload))
}

func TestTopicHelpers(t *testing.T) {
	assert.Equal(t, "venue.kalshi.prices", PricesTopic("kalshi"))
	assert.Equal(t, "venue.polymarket.elections.multi", MultiTopic("polymarket", "elections"))
	assert.Equal(t, KindPrices, Classify(PricesTopic("kalshi")))
	assert.Equal(t, KindMulti, Classify(MultiTopic("polymarket", "x")))
	assert.Equal(t, KindBooks, Classify(BooksTopic("polymarket")))
	assert.Equal(t, KindOracle, Classify(OracleTopic("binance", "BTCUSDT")))
	assert.Equal(t, KindUnknown, Classify(TopicResults))

	src, sym, ok := ParseOracleTopic("oracle.fred.CPI.YoY")
	require.True(t, ok)
	assert.Equal(t, "fred", src)
	assert.Equal(t, "CPI.YoY", sym)
}
