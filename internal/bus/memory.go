package bus

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/alanyoungcy/polyarb/internal/domain"
)

// MemoryConfig tunes a MemoryBus.
type MemoryConfig struct {
	// MaxLen caps entries retained per topic. Zero keeps everything.
	MaxLen int
	// ClaimIdle is how long a delivered but unacknowledged entry waits before
	// it is handed to the next consumer that reads the group. Zero disables
	// redelivery.
	ClaimIdle time.Duration
	Now       func() time.Time
}

type entry struct {
	id      string
	payload []byte
}

type pendingEntry struct {
	entry
	consumer    string
	deliveredAt time.Time
	deliveries  int
}

type group struct {
	next    int // absolute offset of the next undelivered entry
	pending map[string]*pendingEntry
	order   []string // pending IDs in delivery order
}

type topicLog struct {
	base    int // absolute offset of entries[0]
	seq     int64
	entries []entry
	groups  map[string]*group
}

// MemoryBus is an in-process domain.Bus with consumer groups, pending entry
// lists and idle redelivery, mirroring Redis Streams semantics.
type MemoryBus struct {
	cfg MemoryConfig

	mu     sync.Mutex
	topics map[string]*topicLog
	wake   chan struct{}
	closed bool
}

// NewMemoryBus creates an empty MemoryBus.
func NewMemoryBus(cfg MemoryConfig) *MemoryBus {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &MemoryBus{
		cfg:    cfg,
		topics: make(map[string]*topicLog),
		wake:   make(chan struct{}),
	}
}

func (b *MemoryBus) topic(name string) *topicLog {
	t, ok := b.topics[name]
	if !ok {
		t = &topicLog{groups: make(map[string]*group)}
		b.topics[name] = t
	}
	return t
}

// Publish appends payload to topic and wakes blocked consumers.
func (b *MemoryBus) Publish(ctx context.Context, topic string, payload []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return "", domain.ErrBusClosed
	}

	t := b.topic(topic)
	t.seq++
	id := strconv.FormatInt(b.cfg.Now().UnixMilli(), 10) + "-" + strconv.FormatInt(t.seq, 10)
	data := make([]byte, len(payload))
	copy(data, payload)
	t.entries = append(t.entries, entry{id: id, payload: data})

	if b.cfg.MaxLen > 0 && len(t.entries) > b.cfg.MaxLen {
		drop := len(t.entries) - b.cfg.MaxLen
		t.entries = append([]entry(nil), t.entries[drop:]...)
		t.base += drop
		for _, g := range t.groups {
			if g.next < t.base {
				g.next = t.base
			}
		}
	}

	close(b.wake)
	b.wake = make(chan struct{})
	return id, nil
}

// CreateGroup creates group positioned at the start of the retained log.
func (b *MemoryBus) CreateGroup(_ context.Context, topic, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return domain.ErrBusClosed
	}
	t := b.topic(topic)
	if _, ok := t.groups[name]; ok {
		return nil
	}
	t.groups[name] = &group{next: t.base, pending: make(map[string]*pendingEntry)}
	return nil
}

// Consume claims idle pending entries first, then new entries. When nothing
// is available it waits up to block for a publish.
func (b *MemoryBus) Consume(ctx context.Context, topic, groupName, consumer string, count int, block time.Duration) ([]domain.Message, error) {
	if count <= 0 {
		count = 1
	}
	var deadline <-chan time.Time
	if block > 0 {
		timer := time.NewTimer(block)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return nil, domain.ErrBusClosed
		}
		t, ok := b.topics[topic]
		var g *group
		if ok {
			g = t.groups[groupName]
		}
		if g == nil {
			b.mu.Unlock()
			return nil, fmt.Errorf("bus: consume %s/%s: group %w", topic, groupName, domain.ErrNotFound)
		}
		msgs := b.claimLocked(topic, t, g, consumer, count)
		wake := b.wake
		b.mu.Unlock()

		if len(msgs) > 0 || block <= 0 {
			return msgs, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline:
			return nil, nil
		case <-wake:
		}
	}
}

func (b *MemoryBus) claimLocked(topic string, t *topicLog, g *group, consumer string, count int) []domain.Message {
	now := b.cfg.Now()
	var msgs []domain.Message

	if b.cfg.ClaimIdle > 0 {
		for _, id := range g.order {
			if len(msgs) == count {
				break
			}
			p := g.pending[id]
			if now.Sub(p.deliveredAt) < b.cfg.ClaimIdle {
				continue
			}
			p.consumer = consumer
			p.deliveredAt = now
			p.deliveries++
			msgs = append(msgs, domain.Message{ID: p.id, Topic: topic, Payload: p.payload})
		}
	}

	for len(msgs) < count && g.next < t.base+len(t.entries) {
		e := t.entries[g.next-t.base]
		g.next++
		g.pending[e.id] = &pendingEntry{entry: e, consumer: consumer, deliveredAt: now, deliveries: 1}
		g.order = append(g.order, e.id)
		msgs = append(msgs, domain.Message{ID: e.id, Topic: topic, Payload: e.payload})
	}
	return msgs
}

// Ack removes ids from the group's pending list. Unknown IDs are ignored.
func (b *MemoryBus) Ack(_ context.Context, topic, groupName string, ids ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.topics[topic]
	if !ok {
		return nil
	}
	g, ok := t.groups[groupName]
	if !ok {
		return nil
	}
	for _, id := range ids {
		delete(g.pending, id)
	}
	kept := g.order[:0]
	for _, id := range g.order {
		if _, ok := g.pending[id]; ok {
			kept = append(kept, id)
		}
	}
	g.order = kept
	return nil
}

// Pending returns the number of delivered, unacknowledged entries in a group.
func (b *MemoryBus) Pending(topic, groupName string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.topics[topic]
	if !ok {
		return 0
	}
	if g, ok := t.groups[groupName]; ok {
		return len(g.pending)
	}
	return 0
}

// Len returns the number of retained entries in topic.
func (b *MemoryBus) Len(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if t, ok := b.topics[topic]; ok {
		return len(t.entries)
	}
	return 0
}

// Close wakes blocked consumers and rejects further calls.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.wake)
	}
	return nil
}

var _ domain.Bus = (*MemoryBus)(nil)
